package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/adhocore/gronx"
	"github.com/hashicorp/go-hclog"
	"gopkg.in/yaml.v3"
)

// Source types.
const (
	SourceAniList = "anilist"
	SourceFeed    = "feed"
)

// ConfigError reports an invalid setting. Retrying with the same
// configuration cannot succeed.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Config is the root configuration.
type Config struct {
	Database      DatabaseConfig      `yaml:"database"`
	Source        SourceConfig        `yaml:"source"`
	Sync          SyncConfig          `yaml:"sync"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Fallback      FallbackConfig      `yaml:"fallback"`
	Presenters    PresentersConfig    `yaml:"presenters"`
	Server        ServerConfig        `yaml:"server"`
	Log           LogConfig           `yaml:"log"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SourceConfig selects and configures the remote schedule source.
type SourceConfig struct {
	Type    string        `yaml:"type"` // "anilist" or "feed"
	AniList AniListConfig `yaml:"anilist"`
	Feed    FeedConfig    `yaml:"feed"`
	Exclude ExcludeConfig `yaml:"exclude"`
}

// ExcludeConfig lists airings that are never cached.
type ExcludeConfig struct {
	Formats  []string `yaml:"formats"`
	Genres   []string `yaml:"genres"`
	Keywords []string `yaml:"keywords"`
}

// AniListConfig for the AniList GraphQL source.
type AniListConfig struct {
	Endpoint     string `yaml:"endpoint"`
	PerPage      int    `yaml:"per_page"`
	IncludeAdult bool   `yaml:"include_adult"`
}

// FeedConfig for the paged feed source. The URL template may contain
// {page}, {start} and {end}.
type FeedConfig struct {
	URLTemplate string `yaml:"url_template"`
	PageSize    int    `yaml:"page_size"`
}

// SyncConfig configures the background schedule sync.
type SyncConfig struct {
	Interval   string `yaml:"interval"`
	WindowDays int    `yaml:"window_days"`
	MaxPages   int    `yaml:"max_pages"`
}

// ParseInterval returns the sync interval as time.Duration.
func (s SyncConfig) ParseInterval() time.Duration {
	d, err := time.ParseDuration(s.Interval)
	if err != nil {
		return time.Hour
	}
	return d
}

// NotificationsConfig configures the notification loop.
type NotificationsConfig struct {
	Enabled      bool   `yaml:"enabled"`
	PollInterval string `yaml:"poll_interval"`
	LockTimeout  string `yaml:"lock_timeout"`
}

// ParsePollInterval returns the poll interval as time.Duration.
func (n NotificationsConfig) ParsePollInterval() time.Duration {
	d, err := time.ParseDuration(n.PollInterval)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// ParseLockTimeout returns the single-flight lock timeout as time.Duration.
func (n NotificationsConfig) ParseLockTimeout() time.Duration {
	d, err := time.ParseDuration(n.LockTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// FallbackConfig configures the periodic job and the boot alarm.
type FallbackConfig struct {
	PeriodicCron   string `yaml:"periodic_cron"`
	BootAlarmDelay string `yaml:"boot_alarm_delay"`
}

// ParseBootAlarmDelay returns the boot alarm delay as time.Duration.
func (f FallbackConfig) ParseBootAlarmDelay() time.Duration {
	d, err := time.ParseDuration(f.BootAlarmDelay)
	if err != nil {
		return time.Minute
	}
	return d
}

// PresentersConfig configures notification destinations.
type PresentersConfig struct {
	Console ConsoleConfig `yaml:"console"`
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
	Webhook WebhookConfig `yaml:"webhook"`
}

// ConsoleConfig for printing notifications to stdout.
type ConsoleConfig struct {
	Enabled bool `yaml:"enabled"`
}

// SlackConfig for Slack webhook notifications.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// DiscordConfig for Discord webhook notifications.
type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookConfig for generic webhook notifications.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LogConfig configures the root logger.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./aniwatcher.db"},
		Source: SourceConfig{
			Type:    SourceAniList,
			AniList: AniListConfig{PerPage: 50},
			Feed:    FeedConfig{PageSize: 50},
		},
		Sync: SyncConfig{
			Interval:   "1h",
			WindowDays: 7,
			MaxPages:   50,
		},
		Notifications: NotificationsConfig{
			Enabled:      true,
			PollInterval: "5m",
			LockTimeout:  "30s",
		},
		Fallback: FallbackConfig{
			PeriodicCron:   "*/15 * * * *",
			BootAlarmDelay: "1m",
		},
		Presenters: PresentersConfig{
			Console: ConsoleConfig{Enabled: true},
		},
		Server: ServerConfig{Port: 8080},
		Log:    LogConfig{Level: "info"},
	}
}

// Load reads configuration from a YAML file, applies env var overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &ConfigError{Field: path, Err: fmt.Errorf("read config: %w", err)}
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &ConfigError{Field: path, Err: fmt.Errorf("parse yaml: %w", err)}
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("ANIWATCHER_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("ANIWATCHER_SOURCE"); v != "" {
		cfg.Source.Type = v
	}
	if v := os.Getenv("ANIWATCHER_ANILIST_ENDPOINT"); v != "" {
		cfg.Source.AniList.Endpoint = v
	}
	if v := os.Getenv("ANIWATCHER_FEED_URL"); v != "" {
		cfg.Source.Feed.URLTemplate = v
	}
	if v := os.Getenv("ANIWATCHER_NOTIFICATIONS_ENABLED"); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return &ConfigError{Field: "ANIWATCHER_NOTIFICATIONS_ENABLED", Err: err}
		}
		cfg.Notifications.Enabled = on
	}
	if v := os.Getenv("ANIWATCHER_POLL_INTERVAL"); v != "" {
		cfg.Notifications.PollInterval = v
	}
	if v := os.Getenv("ANIWATCHER_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Presenters.Slack.WebhookURL = v
		cfg.Presenters.Slack.Enabled = true
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Presenters.Discord.WebhookURL = v
		cfg.Presenters.Discord.Enabled = true
	}
	if v := os.Getenv("ANIWATCHER_WEBHOOK_URL"); v != "" {
		cfg.Presenters.Webhook.URL = v
		cfg.Presenters.Webhook.Enabled = true
	}
	if v := os.Getenv("ANIWATCHER_WEBHOOK_SECRET"); v != "" {
		cfg.Presenters.Webhook.Secret = v
	}
	return nil
}

// Validate reports every invalid setting, joined.
func (c *Config) Validate() error {
	var errs []error
	bad := func(field string, err error) {
		errs = append(errs, &ConfigError{Field: field, Err: err})
	}
	positive := func(field, v string) {
		d, err := time.ParseDuration(v)
		switch {
		case err != nil:
			bad(field, err)
		case d <= 0:
			bad(field, fmt.Errorf("must be positive, got %s", v))
		}
	}

	if c.Database.Path == "" {
		bad("database.path", errors.New("required"))
	}

	switch c.Source.Type {
	case SourceAniList:
	case SourceFeed:
		if c.Source.Feed.URLTemplate == "" {
			bad("source.feed.url_template", errors.New("required for the feed source"))
		}
	default:
		bad("source.type", fmt.Errorf("unknown source %q", c.Source.Type))
	}

	positive("sync.interval", c.Sync.Interval)
	if c.Sync.WindowDays <= 0 {
		bad("sync.window_days", fmt.Errorf("must be positive, got %d", c.Sync.WindowDays))
	}
	if c.Sync.MaxPages < 0 {
		bad("sync.max_pages", fmt.Errorf("must not be negative, got %d", c.Sync.MaxPages))
	}

	positive("notifications.poll_interval", c.Notifications.PollInterval)
	positive("notifications.lock_timeout", c.Notifications.LockTimeout)

	if !gronx.IsValid(c.Fallback.PeriodicCron) {
		bad("fallback.periodic_cron", fmt.Errorf("invalid cron expression %q", c.Fallback.PeriodicCron))
	}
	positive("fallback.boot_alarm_delay", c.Fallback.BootAlarmDelay)

	if c.Presenters.Slack.Enabled && c.Presenters.Slack.WebhookURL == "" {
		bad("presenters.slack.webhook_url", errors.New("required when slack is enabled"))
	}
	if c.Presenters.Discord.Enabled && c.Presenters.Discord.WebhookURL == "" {
		bad("presenters.discord.webhook_url", errors.New("required when discord is enabled"))
	}
	if c.Presenters.Webhook.Enabled && c.Presenters.Webhook.URL == "" {
		bad("presenters.webhook.url", errors.New("required when webhook is enabled"))
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		bad("server.port", fmt.Errorf("out of range: %d", c.Server.Port))
	}
	if hclog.LevelFromString(c.Log.Level) == hclog.NoLevel {
		bad("log.level", fmt.Errorf("unknown level %q", c.Log.Level))
	}

	return errors.Join(errs...)
}
