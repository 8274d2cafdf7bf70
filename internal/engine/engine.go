// Package engine presents aired episodes of followed media and records that
// they were presented. One reconciliation pass runs at a time, whether it was
// started by the poll loop or by a fallback trigger.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/iskorsukov/aniwatcher/internal/metrics"
	"github.com/iskorsukov/aniwatcher/pkg/notify"
	"github.com/iskorsukov/aniwatcher/pkg/source"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultPollInterval = 5 * time.Minute
	DefaultLockTimeout  = 30 * time.Second
)

// ErrPassInFlight is returned when another pass held the lock for longer
// than the configured lock timeout.
var ErrPassInFlight = errors.New("reconciliation pass already in flight")

// State is the loop state.
type State int32

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

// Config is the read-only view of configuration the engine samples at loop
// start and at each iteration boundary.
type Config interface {
	NotificationsEnabled() bool
}

// Store is the part of the store a pass reads and writes.
type Store interface {
	PendingFollowed(ctx context.Context, now int64) ([]source.Airing, error)
	MarkNotified(ctx context.Context, episodeID int64, firedAt time.Time) error
}

// Options tune an Engine. Zero values use the defaults.
type Options struct {
	PollInterval time.Duration
	LockTimeout  time.Duration
	Now          func() time.Time
	Logger       hclog.Logger
}

// PassResult summarizes one reconciliation pass.
type PassResult struct {
	ID       string        `json:"id"`
	Trigger  string        `json:"trigger"`
	Pending  int           `json:"pending"`
	Fired    int           `json:"fired"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// Engine owns the poll loop and the single-flight lock.
type Engine struct {
	cfg       Config
	store     Store
	presenter notify.Presenter

	pollInterval time.Duration
	lockTimeout  time.Duration
	now          func() time.Time
	log          hclog.Logger

	sem *semaphore.Weighted

	mu    sync.Mutex
	state State
	stop  chan struct{}
	done  chan struct{}
}

// New creates an idle engine.
func New(cfg Config, store Store, presenter notify.Presenter, opts Options) *Engine {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}
	return &Engine{
		cfg:          cfg,
		store:        store,
		presenter:    presenter,
		pollInterval: opts.PollInterval,
		lockTimeout:  opts.LockTimeout,
		now:          opts.Now,
		log:          opts.Logger.Named("engine"),
		sem:          semaphore.NewWeighted(1),
	}
}

// State reports whether the loop is running.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Start moves the engine from Idle to Running and starts the loop. It
// returns false without doing anything when notifications are disabled or
// the loop is already running. The loop stops when ctx is done, on Stop, or
// when configuration reports notifications disabled.
func (e *Engine) Start(ctx context.Context) bool {
	if !e.cfg.NotificationsEnabled() {
		e.log.Debug("notifications disabled, not starting")
		return false
	}

	e.mu.Lock()
	if e.state == Running {
		e.mu.Unlock()
		return false
	}
	e.state = Running
	stop := make(chan struct{})
	done := make(chan struct{})
	e.stop, e.done = stop, done
	e.mu.Unlock()

	e.log.Info("loop started", "poll_interval", e.pollInterval)
	go e.loop(ctx, stop, done)
	return true
}

// Stop asks the loop to exit. A pass in progress finishes first; the loop
// checks for the request only between iterations.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stop != nil {
		close(e.stop)
		e.stop = nil
	}
}

// Wait blocks until the current loop, if any, has returned to Idle.
func (e *Engine) Wait() {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (e *Engine) loop(ctx context.Context, stop, done chan struct{}) {
	defer func() {
		e.mu.Lock()
		e.idle(done)
		e.mu.Unlock()
		close(done)
		e.log.Info("loop stopped")
	}()

	ctx = WithTrigger(ctx, TriggerLoop)
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-timer.C:
		}

		if !e.cfg.NotificationsEnabled() && e.leaveIfDisabled(done) {
			e.log.Info("notifications disabled, leaving loop")
			return
		}

		res, err := e.RunOnce(ctx)
		switch {
		case errors.Is(err, ErrPassInFlight):
			e.log.Debug("pass skipped, another one is in flight")
		case err != nil:
			e.log.Error("pass failed", "pass", res.ID, "error", err)
		}

		timer.Reset(e.pollInterval)
	}
}

// leaveIfDisabled moves the loop to Idle if notifications are still
// disabled while e.mu is held. A concurrent re-enable then either keeps this
// loop running or finds it Idle and starts a new one.
func (e *Engine) leaveIfDisabled(done chan struct{}) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cfg.NotificationsEnabled() {
		return false
	}
	e.idle(done)
	return true
}

// idle resets the state owned by the loop generation that closes done.
// The caller holds e.mu.
func (e *Engine) idle(done chan struct{}) {
	if e.done != done {
		return
	}
	e.state = Idle
	e.stop = nil
}

// RunOnce performs a single reconciliation pass. It waits up to the lock
// timeout for a pass already in flight and then gives up with
// ErrPassInFlight. A failure to present one episode leaves it pending and
// the pass moves on; a failure to record a presented episode aborts the pass.
func (e *Engine) RunOnce(ctx context.Context) (PassResult, error) {
	trigger := TriggerFrom(ctx)
	if err := e.acquire(ctx); err != nil {
		metrics.PassRuns.WithLabelValues(trigger, "busy").Inc()
		return PassResult{Trigger: trigger}, err
	}
	defer e.sem.Release(1)

	res, err := e.pass(ctx, trigger)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.PassRuns.WithLabelValues(trigger, outcome).Inc()
	metrics.PassDuration.Observe(res.Duration.Seconds())
	return res, err
}

func (e *Engine) acquire(ctx context.Context) error {
	if e.sem.TryAcquire(1) {
		return nil
	}
	lockCtx, cancel := context.WithTimeout(ctx, e.lockTimeout)
	defer cancel()
	if err := e.sem.Acquire(lockCtx, 1); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("acquire pass lock: %w", ctx.Err())
		}
		return ErrPassInFlight
	}
	return nil
}

func (e *Engine) pass(ctx context.Context, trigger string) (PassResult, error) {
	start := time.Now()
	res := PassResult{ID: uuid.NewString(), Trigger: trigger}
	log := e.log.With("pass", res.ID, "trigger", trigger)

	pending, err := e.store.PendingFollowed(ctx, e.now().Unix())
	if err != nil {
		res.Duration = time.Since(start)
		return res, fmt.Errorf("load pending episodes: %w", err)
	}
	res.Pending = len(pending)

	// Present and mark run detached from cancellation so Stop or shutdown
	// never splits a pair.
	pairCtx := context.WithoutCancel(ctx)

	var fired []source.Airing
	for _, a := range pending {
		if err := e.presenter.Present(pairCtx, a); err != nil {
			res.Failed++
			metrics.PresentFailures.Inc()
			log.Warn("present failed", "episode", a.Episode.ID, "title", a.Media.DisplayTitle(), "error", err)
			continue
		}
		if err := e.store.MarkNotified(pairCtx, a.Episode.ID, e.now()); err != nil {
			res.Duration = time.Since(start)
			return res, fmt.Errorf("mark episode %d notified: %w", a.Episode.ID, err)
		}
		res.Fired++
		metrics.NotificationsFired.Inc()
		fired = append(fired, a)
		log.Info("notified", "episode", a.Episode.ID, "number", a.Episode.Number, "title", a.Media.DisplayTitle())
	}

	if len(fired) > 1 {
		if err := e.presenter.PresentSummary(pairCtx, fired); err != nil {
			log.Warn("present summary failed", "count", len(fired), "error", err)
		}
	}

	res.Duration = time.Since(start)
	if res.Pending > 0 {
		log.Info("pass complete", "pending", res.Pending, "fired", res.Fired, "failed", res.Failed, "duration", res.Duration)
	}
	return res, nil
}
