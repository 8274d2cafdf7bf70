package engine

import "context"

// Trigger names label which entry point started a pass.
const (
	TriggerLoop     = "loop"
	TriggerPeriodic = "periodic"
	TriggerBoot     = "boot"
	TriggerManual   = "manual"
)

type triggerKey struct{}

// WithTrigger tags ctx with the name of the entry point starting a pass.
func WithTrigger(ctx context.Context, trigger string) context.Context {
	return context.WithValue(ctx, triggerKey{}, trigger)
}

// TriggerFrom returns the trigger set by WithTrigger, or TriggerManual.
func TriggerFrom(ctx context.Context) string {
	if t, ok := ctx.Value(triggerKey{}).(string); ok && t != "" {
		return t
	}
	return TriggerManual
}
