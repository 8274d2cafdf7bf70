package config

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"
)

const reloadDebounce = 250 * time.Millisecond

// Snapshot holds the current configuration and swaps it atomically when the
// file on disk changes. Readers always see a complete, validated Config.
type Snapshot struct {
	path string
	cur  atomic.Pointer[Config]

	mu       sync.Mutex
	onChange []func(old, cur *Config)
}

// NewSnapshot wraps an already loaded configuration. path is re-read on
// Reload; an empty path means there is no file to reload from.
func NewSnapshot(path string, cfg *Config) *Snapshot {
	s := &Snapshot{path: path}
	s.cur.Store(cfg)
	return s
}

// Current returns the active configuration. Callers must not modify it.
func (s *Snapshot) Current() *Config {
	return s.cur.Load()
}

// NotificationsEnabled reports the current notifications.enabled setting.
func (s *Snapshot) NotificationsEnabled() bool {
	return s.cur.Load().Notifications.Enabled
}

// OnChange registers fn to run after every successful reload.
func (s *Snapshot) OnChange(fn func(old, cur *Config)) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

// Reload reads the file again. An invalid file leaves the current
// configuration in place.
func (s *Snapshot) Reload() error {
	if s.path == "" {
		return nil
	}
	cfg, err := Load(s.path)
	if err != nil {
		return fmt.Errorf("reload config: %w", err)
	}
	old := s.cur.Swap(cfg)

	s.mu.Lock()
	hooks := slices.Clone(s.onChange)
	s.mu.Unlock()
	for _, fn := range hooks {
		fn(old, cfg)
	}
	return nil
}

// Watch reloads the configuration whenever the file changes, until ctx is
// done. The parent directory is watched because editors commonly replace
// files by rename.
func (s *Snapshot) Watch(ctx context.Context, log hclog.Logger) error {
	if s.path == "" {
		return nil
	}
	if log == nil {
		log = hclog.NewNullLogger()
	}
	log = log.Named("config")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	base := filepath.Base(s.path)
	log.Debug("watching config", "path", s.path)

	reload := func() {
		if err := s.Reload(); err != nil {
			log.Error("config reload failed, keeping previous", "error", err)
			return
		}
		log.Info("config reloaded", "path", s.path)
	}

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error("config watcher error", "error", err)
		}
	}
}
