// Package reporter implements the Progress Reporter (spec §4.6): the sole
// sanctioned channel through which a handler mutates task state during
// execution. Grounded on
// original_source/MakerMatrix/tasks/base_task.py's update_progress/
// update_step/log_info/log_error, translated from mixin methods on BaseTask
// into a struct handed to handlers, and on control_plane/reconciler.go's
// store-write-then-best-effort-publish ordering.
package reporter

import (
	"context"

	"github.com/makermatrix/taskctl/internal/eventbus"
	"github.com/makermatrix/taskctl/internal/observability"
	"github.com/makermatrix/taskctl/internal/store"
	"github.com/makermatrix/taskctl/internal/task"
)

// Reporter is constructed fresh by the Scheduler for each execution context
// and passed into the handler. It tracks the highest progress value observed
// in the current attempt to enforce monotonic non-decrease (§4.6).
type Reporter struct {
	ctx      context.Context
	taskID   string
	store    store.Store
	bus      *eventbus.Bus
	maxSeen  int
}

// New constructs a Reporter scoped to one execution attempt.
func New(ctx context.Context, taskID string, st store.Store, bus *eventbus.Bus) *Reporter {
	return &Reporter{ctx: ctx, taskID: taskID, store: st, bus: bus}
}

// Progress clamps pct to [0,100], enforces monotonic non-decrease within the
// current attempt, writes through the Store, and publishes a TaskUpdate.
func (r *Reporter) Progress(pct int, step string) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	if pct < r.maxSeen {
		pct = r.maxSeen
	}
	r.maxSeen = pct

	patch := task.Patch{Progress: &pct}
	if step != "" {
		patch.CurrentStep = &step
	}
	r.writeThrough(patch)
}

// Step updates current_step only.
func (r *Reporter) Step(s string) {
	r.writeThrough(task.Patch{CurrentStep: &s})
}

// Log publishes a TaskLog and writes to the host's structured log, per
// §4.6. level is one of "info", "warn", "error".
func (r *Reporter) Log(level string, message string) {
	component := "task=" + r.taskID
	switch level {
	case "warn":
		observability.Warnf(component, "%s", message)
	case "error":
		observability.Errorf(component, "%s", message)
	default:
		observability.Infof(component, "%s", message)
	}
	r.bus.PublishTaskLog(eventbus.TaskLog{
		TaskID:  r.taskID,
		Level:   eventbus.Level(level),
		Message: message,
	})
}

func (r *Reporter) writeThrough(patch task.Patch) {
	updated, err := r.store.Update(r.ctx, r.taskID, patch)
	if err != nil {
		// Store errors during handler-initiated updates are logged and
		// surfaced, never silently dropped, per §7 StoreError.
		observability.Errorf("reporter", "task=%s store update failed: %v", r.taskID, err)
		return
	}
	// Best-effort publish: failure to notify a subscriber MUST NOT fail the
	// originating Store write, which has already succeeded above (§4.4).
	r.bus.PublishTaskUpdate(updated.Snapshot())
}
