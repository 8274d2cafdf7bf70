// Package trigger holds the two fallback entry points that run a single
// reconciliation pass when the daemon loop may not be alive: a periodic job
// and a one-shot alarm registered at boot. Neither calls the other; both go
// through the engine's single-flight pass.
package trigger

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/iskorsukov/aniwatcher/internal/config"
	"github.com/iskorsukov/aniwatcher/internal/engine"
)

// Names under which the triggers register with the host scheduler.
const (
	PeriodicJobName = "aniwatcher.periodic"
	BootAlarmName   = "aniwatcher.boot"
)

const (
	DefaultPeriodicCron   = "*/15 * * * *"
	DefaultBootAlarmDelay = time.Minute
)

// Result is what a trigger reports back to the host scheduler.
type Result int

const (
	Success Result = iota
	Retry
	Failure
)

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case Retry:
		return "retry"
	default:
		return "failure"
	}
}

// ExitCode maps a result to a process exit status: 0, EX_TEMPFAIL (75) or 1.
func (r Result) ExitCode() int {
	switch r {
	case Success:
		return 0
	case Retry:
		return 75
	default:
		return 1
	}
}

// Classify maps a pass error to a result. Configuration errors cannot be
// fixed by trying again; everything else can.
func Classify(err error) Result {
	if err == nil {
		return Success
	}
	var cfgErr *config.ConfigError
	if errors.As(err, &cfgErr) {
		return Failure
	}
	return Retry
}

// Runner runs one reconciliation pass.
type Runner interface {
	RunOnce(ctx context.Context) (engine.PassResult, error)
}

// Config is sampled each time a trigger fires.
type Config interface {
	NotificationsEnabled() bool
}

// Registrar is the host scheduler the boot receiver registers with.
type Registrar interface {
	Schedule(name string, at time.Time, fn func(time.Time))
	SchedulePeriodic(name, cronExpr string, fn func(time.Time)) error
}

func runPass(ctx context.Context, runner Runner, trigger string, log hclog.Logger) Result {
	res, err := runner.RunOnce(engine.WithTrigger(ctx, trigger))
	r := Classify(err)
	switch r {
	case Success:
		log.Debug("pass done", "pass", res.ID, "fired", res.Fired, "failed", res.Failed)
	case Retry:
		log.Warn("pass will be retried", "error", err)
	default:
		log.Error("pass failed", "error", err)
	}
	return r
}
