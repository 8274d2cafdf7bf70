package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/iskorsukov/aniwatcher/internal/config"
	"github.com/iskorsukov/aniwatcher/internal/engine"
)

// BootOptions configure the boot receiver. Zero values use the defaults.
type BootOptions struct {
	PeriodicCron string
	AlarmDelay   time.Duration
	Now          func() time.Time
}

// BootReceiver handles host boot. It registers the periodic job again and,
// when notifications are enabled, arms a one-shot alarm that runs a pass
// before the first periodic tick.
type BootReceiver struct {
	sched  Registrar
	job    *PeriodicJob
	runner Runner
	cfg    Config
	cron   string
	delay  time.Duration
	now    func() time.Time
	log    hclog.Logger
}

// NewBootReceiver creates the boot entry point.
func NewBootReceiver(sched Registrar, job *PeriodicJob, runner Runner, cfg Config, opts BootOptions, log hclog.Logger) *BootReceiver {
	if opts.PeriodicCron == "" {
		opts.PeriodicCron = DefaultPeriodicCron
	}
	if opts.AlarmDelay <= 0 {
		opts.AlarmDelay = DefaultBootAlarmDelay
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &BootReceiver{
		sched:  sched,
		job:    job,
		runner: runner,
		cfg:    cfg,
		cron:   opts.PeriodicCron,
		delay:  opts.AlarmDelay,
		now:    opts.Now,
		log:    log.Named("boot"),
	}
}

// OnBoot registers the triggers. Callbacks inherit ctx, so cancelling it
// cancels any pass they start.
func (b *BootReceiver) OnBoot(ctx context.Context) Result {
	err := b.sched.SchedulePeriodic(PeriodicJobName, b.cron, func(time.Time) {
		b.job.Run(ctx)
	})
	if err != nil {
		b.log.Error("cannot register periodic job", "cron", b.cron, "error", err)
		return Classify(&config.ConfigError{Field: "fallback.periodic_cron", Err: fmt.Errorf("register periodic job: %w", err)})
	}
	b.log.Info("periodic job registered", "cron", b.cron)

	if !b.cfg.NotificationsEnabled() {
		b.log.Info("notifications disabled, boot alarm not armed")
		return Success
	}

	at := b.now().Add(b.delay)
	b.sched.Schedule(BootAlarmName, at, func(time.Time) {
		b.Fire(ctx)
	})
	b.log.Info("boot alarm armed", "at", at)
	return Success
}

// Fire runs the pass the boot alarm stands for.
func (b *BootReceiver) Fire(ctx context.Context) Result {
	return runPass(ctx, b.runner, engine.TriggerBoot, b.log)
}
