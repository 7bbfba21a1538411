// Package handler implements the Handler Contract (spec §4.7) and the
// concrete handlers for every §6.1 task type. Grounded throughout on
// original_source/MakerMatrix/tasks/base_task.py's BaseTask abstract class.
package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/makermatrix/taskctl/internal/task"
)

// BaseHandler is embedded by every concrete handler. It provides the
// context-aware Sleep and input-validation helpers the original's BaseTask
// exposes as instance methods (update_progress/update_step/log_info/
// log_error live on reporter.Reporter instead, since Go has no implicit
// self to thread through).
type BaseHandler struct{}

// Sleep suspends for d or until ctx is cancelled, whichever comes first —
// the cooperative-cancellation-aware replacement for the original's
// blocking asyncio.sleep (§9 redesign note on coroutine-only primitives).
func (BaseHandler) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ValidateInput checks that every key in required is present in t.Input,
// mirroring BaseTask.validate_input_data.
func (BaseHandler) ValidateInput(t task.Task, required ...string) error {
	for _, key := range required {
		if _, ok := t.Input[key]; !ok {
			return fmt.Errorf("%s: missing required input field %q", t.Type, key)
		}
	}
	return nil
}
