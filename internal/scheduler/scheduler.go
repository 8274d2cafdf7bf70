package scheduler

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/iskorsukov/aniwatcher/internal/syncer"
)

// Syncer replaces the cached schedule with a remote window.
type Syncer interface {
	Sync(ctx context.Context, windowStart, windowEnd time.Time) (syncer.Result, error)
}

// Scheduler keeps the cached schedule fresh by syncing on an interval.
type Scheduler struct {
	syncer     Syncer
	interval   time.Duration
	windowDays int
	now        func() time.Time
	log        hclog.Logger
}

// New creates a new scheduler.
func New(s Syncer, interval time.Duration, windowDays int, log hclog.Logger) *Scheduler {
	if interval == 0 {
		interval = time.Hour
	}
	if windowDays == 0 {
		windowDays = 7
	}
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Scheduler{
		syncer:     s,
		interval:   interval,
		windowDays: windowDays,
		now:        time.Now,
		log:        log.Named("scheduler"),
	}
}

// Run syncs immediately and then on every tick. Blocks until ctx is
// cancelled. A failed sync leaves the previous cache in place and is tried
// again on the next tick.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("running", "interval", s.interval, "window_days", s.windowDays)
	s.SyncNow(ctx)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("stopped")
			return ctx.Err()
		case <-ticker.C:
			s.SyncNow(ctx)
		}
	}
}

// SyncNow runs one sync of the configured window.
func (s *Scheduler) SyncNow(ctx context.Context) (syncer.Result, error) {
	start, end := syncer.Window(s.now(), s.windowDays)
	res, err := s.syncer.Sync(ctx, start, end)
	if err != nil {
		s.log.Warn("sync failed, keeping cached schedule", "error", err)
		return res, err
	}
	return res, nil
}
