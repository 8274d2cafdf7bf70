package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/iskorsukov/aniwatcher/internal/config"
	"github.com/iskorsukov/aniwatcher/internal/engine"
	"github.com/iskorsukov/aniwatcher/internal/metrics"
	"github.com/iskorsukov/aniwatcher/internal/store"
	"github.com/iskorsukov/aniwatcher/internal/syncer"
	"github.com/iskorsukov/aniwatcher/internal/trigger"
	"github.com/iskorsukov/aniwatcher/pkg/notify"
	"github.com/iskorsukov/aniwatcher/pkg/server"
	"github.com/iskorsukov/aniwatcher/pkg/source"
)

// exitError carries a trigger result out of cobra as a process exit status.
type exitError struct {
	code   int
	result trigger.Result
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit %d (%s)", e.code, e.result)
}

func exitWith(r trigger.Result) error {
	if r == trigger.Success {
		return nil
	}
	return &exitError{code: r.ExitCode(), result: r}
}

// app holds what every command needs: configuration, a logger and the store.
type app struct {
	cfg  *config.Config
	snap *config.Snapshot
	log  hclog.Logger
	db   *store.SQLiteStore
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}
	return ""
}

func newLogger(cfg *config.Config) hclog.Logger {
	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:       "aniwatcher",
		Level:      hclog.LevelFromString(level),
		JSONFormat: cfg.Log.JSON,
		Output:     os.Stderr,
	})
}

func openApp() (*app, error) {
	path := configPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := newLogger(cfg)

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &app{
		cfg:  cfg,
		snap: config.NewSnapshot(path, cfg),
		log:  log,
		db:   db,
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

func buildSource(cfg *config.Config) source.ScheduleSource {
	var src source.ScheduleSource
	if cfg.Source.Type == config.SourceFeed {
		src = source.NewFeedSource(cfg.Source.Feed.URLTemplate, cfg.Source.Feed.PageSize)
	} else {
		src = source.NewAniList(cfg.Source.AniList.Endpoint, cfg.Source.AniList.PerPage, cfg.Source.AniList.IncludeAdult)
	}
	ex := cfg.Source.Exclude
	return source.Filtered(src, source.NewFilter(ex.Formats, ex.Genres, ex.Keywords))
}

func buildSyncer(a *app) *syncer.Syncer {
	return syncer.New(buildSource(a.cfg), a.db, a.cfg.Sync.MaxPages, a.log)
}

func buildManager(cfg *config.Config, console io.Writer, log hclog.Logger) *notify.Manager {
	var notifiers []notify.Notifier

	p := cfg.Presenters
	if p.Console.Enabled {
		notifiers = append(notifiers, notify.NewConsole(console))
	}
	if p.Slack.Enabled && p.Slack.WebhookURL != "" {
		notifiers = append(notifiers, notify.NewSlack(p.Slack.WebhookURL))
	}
	if p.Discord.Enabled && p.Discord.WebhookURL != "" {
		notifiers = append(notifiers, notify.NewDiscord(p.Discord.WebhookURL))
	}
	if p.Webhook.Enabled && p.Webhook.URL != "" {
		notifiers = append(notifiers, notify.NewWebhook(p.Webhook.URL, p.Webhook.Secret))
	}

	return notify.NewManager(notifiers, log)
}

func buildEngine(a *app, presenter notify.Presenter) *engine.Engine {
	return engine.New(a.snap, a.db, presenter, engine.Options{
		PollInterval: a.cfg.Notifications.ParsePollInterval(),
		LockTimeout:  a.cfg.Notifications.ParseLockTimeout(),
		Logger:       a.log,
	})
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runSync(days int) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if days <= 0 {
		days = a.cfg.Sync.WindowDays
	}
	ctx, cancel := signalContext()
	defer cancel()

	start, end := syncer.Window(time.Now(), days)
	res, err := buildSyncer(a).Sync(ctx, start, end)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "synced %d episodes of %d media from %s (%d pages, %s)\n",
		res.Episodes, res.Media, res.Source, res.Pages, res.Duration.Round(time.Millisecond))
	return nil
}

func runJob() error {
	a, err := openApp()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return exitWith(trigger.Classify(err))
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	eng := buildEngine(a, buildManager(a.cfg, os.Stdout, a.log))
	return exitWith(trigger.NewPeriodicJob(eng, a.snap, a.log).Run(ctx))
}

func runBoot(noDelay bool) error {
	a, err := openApp()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return exitWith(trigger.Classify(err))
	}
	defer a.Close()

	if !a.snap.NotificationsEnabled() {
		a.log.Info("notifications disabled, nothing to do at boot")
		return nil
	}

	ctx, cancel := signalContext()
	defer cancel()

	if !noDelay {
		delay := a.cfg.Fallback.ParseBootAlarmDelay()
		a.log.Info("boot alarm armed", "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return exitWith(trigger.Retry)
		}
	}

	eng := buildEngine(a, buildManager(a.cfg, os.Stdout, a.log))
	job := trigger.NewPeriodicJob(eng, a.snap, a.log)
	boot := trigger.NewBootReceiver(nil, job, eng, a.snap, trigger.BootOptions{}, a.log)
	return exitWith(boot.Fire(ctx))
}

func runFollow(args []string, follow bool) error {
	ids := make([]int64, len(args))
	for i, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid media id %q", arg)
		}
		ids[i] = id
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	for _, id := range ids {
		if follow {
			err = a.db.Follow(ctx, id)
		} else {
			err = a.db.Unfollow(ctx, id)
		}
		if err != nil {
			return err
		}

		title := fmt.Sprintf("media %d", id)
		if m, err := a.db.GetMedia(ctx, id); err == nil {
			title = m.DisplayTitle()
		}
		if follow {
			fmt.Printf("following %s\n", title)
		} else {
			fmt.Printf("unfollowed %s\n", title)
		}
	}
	return nil
}

func runFollows(jsonOutput bool) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	follows, err := a.db.ListFollows(context.Background())
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(follows)
	}
	if len(follows) == 0 {
		fmt.Println("not following anything (try: aniwatcher follow <media-id>)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MEDIA\tTITLE\tSINCE")
	for _, f := range follows {
		title := f.Title
		if title == "" {
			title = "(not in cached schedule)"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\n", f.MediaID, title, time.Unix(f.CreatedAt, 0).Format(time.DateOnly))
	}
	return w.Flush()
}

func runSchedule(jsonOutput, followed bool, days, limit int) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	now := time.Now()
	opts := store.ScheduleOpts{Since: now.Unix(), FollowedOnly: followed, Limit: limit}
	if days > 0 {
		opts.Until = now.AddDate(0, 0, days).Unix()
	}

	entries, err := a.db.ListSchedule(context.Background(), opts)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(entries)
	}
	if len(entries) == 0 {
		fmt.Println("no upcoming episodes (try syncing first: aniwatcher sync)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "AIRS\tEP\tMEDIA\tTITLE\tFOLLOWED")
	for _, e := range entries {
		mark := ""
		if e.Followed {
			mark = "*"
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n",
			e.Episode.AirTime().Local().Format("Mon 02 Jan 15:04"),
			e.Episode.Number, e.Media.ID, e.Media.DisplayTitle(), mark)
	}
	return w.Flush()
}

func runPending(jsonOutput bool) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	pending, err := a.db.PendingFollowed(context.Background(), time.Now().Unix())
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(pending)
	}
	if len(pending) == 0 {
		fmt.Println("nothing pending")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "AIRED\tEP\tTITLE")
	for _, p := range pending {
		fmt.Fprintf(w, "%s\t%d\t%s\n",
			p.Episode.AirTime().Local().Format(time.DateTime), p.Episode.Number, p.Media.DisplayTitle())
	}
	return w.Flush()
}

func runNotifications(jsonOutput, markRead bool, limit int) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	if markRead {
		n, err := a.db.MarkAllRead(ctx, time.Now())
		if err != nil {
			return err
		}
		if err := buildManager(a.cfg, io.Discard, a.log).ClearAll(ctx); err != nil {
			a.log.Warn("clear notifications failed", "error", err)
		}
		fmt.Fprintf(os.Stderr, "marked %d notifications read\n", n)
	}

	notifications, err := a.db.ListNotifications(ctx, limit)
	if err != nil {
		return err
	}
	unread, err := a.db.UnreadCount(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(map[string]any{"data": notifications, "unread": unread})
	}

	fmt.Printf("%d unread\n", unread)
	if len(notifications) == 0 {
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FIRED\tEP\tTITLE\tREAD")
	for _, n := range notifications {
		read := ""
		if n.Read {
			read = "yes"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
			time.UnixMilli(n.Record.FiredAt).Format(time.DateTime),
			n.Airing.Episode.Number, n.Airing.Media.DisplayTitle(), read)
	}
	return w.Flush()
}

func runServe(port int) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	metrics.Init()
	if port == 0 {
		port = a.cfg.Server.Port
	}

	ctx, cancel := signalContext()
	defer cancel()

	srv := server.New(a.db, buildSyncer(a), buildManager(a.cfg, os.Stdout, a.log), server.Options{
		Port:       port,
		WindowDays: a.cfg.Sync.WindowDays,
		Logger:     a.log,
	})
	return srv.ListenAndServe(ctx)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
