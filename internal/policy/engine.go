package policy

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/makermatrix/taskctl/internal/eventbus"
	"github.com/makermatrix/taskctl/internal/observability"
	"github.com/makermatrix/taskctl/internal/store"
	"github.com/makermatrix/taskctl/internal/task"
)

// Decision is the explicit allow/deny result threaded through Evaluate,
// replacing the original's exceptions-used-for-control-flow pattern per the
// §9 redesign note.
type Decision struct {
	Allowed bool
	Reason  string
}

// Engine evaluates submission requests against Table in the fixed order
// required by §4.3. Grounded on
// original_source/MakerMatrix/services/system/task_security_service.py's
// validate_task_creation.
type Engine struct {
	store store.Store
	bus   *eventbus.Bus

	// handlerTimeout resolves the per-type timeout used to compute the
	// concurrency max_age guard (§4.3.3): handler_timeout * small multiplier.
	handlerTimeout func(task.Type) time.Duration
}

// NewEngine constructs an Engine. handlerTimeout may be nil, in which case a
// default of 300s (§6.6) is assumed for every type.
func NewEngine(st store.Store, bus *eventbus.Bus, handlerTimeout func(task.Type) time.Duration) *Engine {
	if handlerTimeout == nil {
		handlerTimeout = func(task.Type) time.Duration { return 300 * time.Second }
	}
	return &Engine{store: st, bus: bus, handlerTimeout: handlerTimeout}
}

// Evaluate runs the five fixed checks in order and always emits an audit
// event, per §4.3's closing sentence.
func (e *Engine) Evaluate(ctx context.Context, actor task.Actor, req task.SubmitRequest) (Decision, error) {
	decision, err := e.evaluate(ctx, actor, req)
	if err != nil {
		return Decision{}, err
	}
	observability.PolicyDecisions.WithLabelValues(string(req.Type), strconv.FormatBool(decision.Allowed)).Inc()
	e.bus.PublishAudit(eventbus.PolicyAudit{
		Actor:   actor.UserID,
		Type:    req.Type,
		Allowed: decision.Allowed,
		Reason:  decision.Reason,
	})
	return decision, nil
}

func (e *Engine) evaluate(ctx context.Context, actor task.Actor, req task.SubmitRequest) (Decision, error) {
	pol, ok := Lookup(req.Type)
	if !ok {
		return Decision{Allowed: false, Reason: fmt.Sprintf("no security policy defined for task type: %s", req.Type)}, nil
	}

	// 1. Capability check.
	var missing []string
	for _, cap := range pol.RequiredCapabilities {
		if !actor.HasCapability(cap) {
			missing = append(missing, cap)
		}
	}
	if len(missing) > 0 {
		return Decision{Allowed: false, Reason: fmt.Sprintf("insufficient permissions. missing: %s", joinComma(missing))}, nil
	}

	// 2. Rate limits (admin exempt).
	if !actor.IsAdmin() && (pol.RateLimitPerHour > 0 || pol.RateLimitPerDay > 0) {
		now := time.Now().UTC()
		if pol.RateLimitPerHour > 0 {
			hourAgo := now.Add(-time.Hour)
			n, err := e.store.CountSince(ctx, actor.UserID, req.Type, hourAgo)
			if err != nil {
				return Decision{}, fmt.Errorf("policy: count_since hour: %w", err)
			}
			if n >= pol.RateLimitPerHour {
				return Decision{Allowed: false, Reason: fmt.Sprintf(
					"hourly rate limit exceeded (%d/%d). try again in %d minutes.",
					n, pol.RateLimitPerHour, 60-now.Minute())}, nil
			}
		}
		if pol.RateLimitPerDay > 0 {
			dayAgo := now.Add(-24 * time.Hour)
			n, err := e.store.CountSince(ctx, actor.UserID, req.Type, dayAgo)
			if err != nil {
				return Decision{}, fmt.Errorf("policy: count_since day: %w", err)
			}
			if n >= pol.RateLimitPerDay {
				return Decision{Allowed: false, Reason: fmt.Sprintf(
					"daily rate limit exceeded (%d/%d). try again tomorrow.",
					n, pol.RateLimitPerDay)}, nil
			}
		}
	}

	// 3. Concurrency.
	maxAge := 2 * e.handlerTimeout(req.Type)
	n, err := e.store.CountActive(ctx, actor.UserID, req.Type, &maxAge)
	if err != nil {
		return Decision{}, fmt.Errorf("policy: count_active: %w", err)
	}
	if n >= pol.MaxConcurrentPerUser {
		return Decision{Allowed: false, Reason: fmt.Sprintf(
			"too many concurrent %s tasks (%d/%d). wait for existing tasks to complete.",
			req.Type, n, pol.MaxConcurrentPerUser)}, nil
	}

	// 4. Resource caps.
	if d := checkResourceLimits(req, pol); !d.Allowed {
		return d, nil
	}

	// 5. Approval.
	if pol.RequiresApproval {
		// No approval store is specified by spec.md; absence is always a
		// denial per §4.3.5.
		return Decision{Allowed: false, Reason: "approval pending"}, nil
	}

	return Decision{Allowed: true}, nil
}

func checkResourceLimits(req task.SubmitRequest, pol Policy) Decision {
	if len(pol.ResourceLimits) == 0 {
		return Decision{Allowed: true}
	}
	input := req.Input

	if maxParts, ok := pol.ResourceLimits["max_parts"]; ok {
		partCount := 0
		if ids, ok := input["part_ids"].([]any); ok {
			partCount = len(ids)
		} else if _, ok := input["part_id"]; ok {
			partCount = 1
		}
		if partCount > maxParts {
			return Decision{Allowed: false, Reason: fmt.Sprintf(
				"too many parts requested (%d). maximum allowed: %d", partCount, maxParts)}
		}
	}

	if maxBatch, ok := pol.ResourceLimits["batch_size"]; ok {
		batchSize := 1
		if v, ok := input["batch_size"].(float64); ok {
			batchSize = int(v)
		}
		if batchSize > maxBatch {
			return Decision{Allowed: false, Reason: fmt.Sprintf(
				"batch size too large (%d). maximum allowed: %d", batchSize, maxBatch)}
		}
	}

	if maxCaps, ok := pol.ResourceLimits["max_capabilities"]; ok {
		caps := 0
		if c, ok := input["capabilities"].([]any); ok {
			caps = len(c)
		}
		if caps > maxCaps {
			return Decision{Allowed: false, Reason: fmt.Sprintf(
				"too many capabilities requested (%d). maximum allowed: %d", caps, maxCaps)}
		}
	}

	return Decision{Allowed: true}
}

func joinComma(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}
