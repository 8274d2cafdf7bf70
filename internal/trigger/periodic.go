package trigger

import (
	"context"

	"github.com/hashicorp/go-hclog"
	"github.com/iskorsukov/aniwatcher/internal/engine"
)

// PeriodicJob runs one pass each time the host scheduler invokes it.
type PeriodicJob struct {
	runner Runner
	cfg    Config
	log    hclog.Logger
}

// NewPeriodicJob creates the periodic job entry point.
func NewPeriodicJob(runner Runner, cfg Config, log hclog.Logger) *PeriodicJob {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &PeriodicJob{runner: runner, cfg: cfg, log: log.Named("periodic")}
}

// Run performs a single pass. With notifications disabled there is nothing
// to do and the job reports success.
func (j *PeriodicJob) Run(ctx context.Context) Result {
	if !j.cfg.NotificationsEnabled() {
		j.log.Debug("notifications disabled, skipping")
		return Success
	}
	return runPass(ctx, j.runner, engine.TriggerPeriodic, j.log)
}
