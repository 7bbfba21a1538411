// Package service implements the Task Service Façade (spec §4.9): the one
// entry point that wraps the Store, the Policy Engine, the Scheduler, the
// Event Bus and the Registry behind the seven operations named in §6.2/§6.5.
// Grounded on control_plane/main.go's composition style (one struct holding
// every collaborator, thin methods that just sequence calls to them) and on
// original_source/MakerMatrix/services/system/task_service.py's
// submit/get/list/cancel/retry surface.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/go-playground/validator/v10"

	"github.com/makermatrix/taskctl/internal/eventbus"
	"github.com/makermatrix/taskctl/internal/observability"
	"github.com/makermatrix/taskctl/internal/policy"
	"github.com/makermatrix/taskctl/internal/registry"
	"github.com/makermatrix/taskctl/internal/scheduler"
	"github.com/makermatrix/taskctl/internal/store"
	"github.com/makermatrix/taskctl/internal/task"
)

var validate = validator.New()

// Service is the Task Service Façade. It is the only component external
// callers (the REST/websocket adapter, the Recurring Scheduler) ever touch;
// the Store, Policy Engine and Scheduler are otherwise unreachable from
// outside this package, per §3's "Ownership" table.
type Service struct {
	store     store.Store
	policy    *policy.Engine
	dispatch  *scheduler.Dispatcher
	bus       *eventbus.Bus
	registry  *registry.Registry
	defaultTO int // default timeout_seconds when a request omits it

	breaker *gobreaker.CircuitBreaker
}

// Options configures the admission circuit breaker guarding Store writes.
type Options struct {
	DefaultTimeoutSeconds int

	// BreakerMaxRequests/Interval/Timeout/ConsecutiveFailures tune the
	// gobreaker.Settings. Zero values fall back to the defaults below.
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

func (o Options) withDefaults() Options {
	if o.DefaultTimeoutSeconds <= 0 {
		o.DefaultTimeoutSeconds = 300
	}
	if o.ConsecutiveFailures == 0 {
		o.ConsecutiveFailures = 5
	}
	if o.OpenTimeout <= 0 {
		o.OpenTimeout = 30 * time.Second
	}
	return o
}

// New constructs a Service. The circuit breaker wraps Store.Create — not the
// dispatch loop — guarding the one write path that can be stormed by a
// client, per §5's "no artificial cap on in-flight dispatch count".
// Relocated from the teacher's scheduler/circuit_breaker.go (a hand-rolled
// queue-depth breaker with no referent in this spec) to
// github.com/sony/gobreaker, grounded via jordigilh-kubernaut's go.mod.
func New(st store.Store, pol *policy.Engine, disp *scheduler.Dispatcher, bus *eventbus.Bus, reg *registry.Registry, opts Options) *Service {
	opts = opts.withDefaults()
	settings := gobreaker.Settings{
		Name:        "task-submit",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.ConsecutiveFailures
		},
	}
	return &Service{
		store:     st,
		policy:    pol,
		dispatch:  disp,
		bus:       bus,
		registry:  reg,
		defaultTO: opts.DefaultTimeoutSeconds,
		breaker:   gobreaker.NewCircuitBreaker(settings),
	}
}

// Submit validates req's shape, evaluates it against the Policy Engine,
// creates the row through the admission breaker, and returns its snapshot.
// §6.2.
func (s *Service) Submit(ctx context.Context, req task.SubmitRequest, actor task.Actor) (task.Task, error) {
	if req.TimeoutSeconds != nil && *req.TimeoutSeconds == 0 {
		observability.TasksSubmitted.WithLabelValues(string(req.Type), "invalid").Inc()
		return task.Task{}, fmt.Errorf("%w: timeout_seconds must be non-zero when provided", task.ErrStoreError)
	}
	if err := validate.Struct(req); err != nil {
		observability.TasksSubmitted.WithLabelValues(string(req.Type), "invalid").Inc()
		return task.Task{}, fmt.Errorf("submit: invalid request: %w", err)
	}

	decision, err := s.policy.Evaluate(ctx, actor, req)
	if err != nil {
		return task.Task{}, fmt.Errorf("submit: policy evaluation: %w", err)
	}
	if !decision.Allowed {
		observability.TasksSubmitted.WithLabelValues(string(req.Type), "policy_denied").Inc()
		return task.Task{}, task.NewPolicyDenied(decision.Reason)
	}

	priority, _ := task.ParsePriority(req.Priority)

	t := &task.Task{
		ID:                uuid.NewString(),
		Type:              req.Type,
		Name:              req.Name,
		Description:       req.Description,
		Status:            task.StatusPending,
		Priority:          priority,
		Input:             req.Input,
		MaxRetries:        intOr(req.MaxRetries, 3),
		TimeoutSeconds:    intOr(req.TimeoutSeconds, s.defaultTO),
		ScheduledAt:       req.ScheduledAt,
		CreatedByUserID:   actor.UserID,
		RelatedEntityType: req.RelatedEntityType,
		RelatedEntityID:   req.RelatedEntityID,
		ParentTaskID:      req.ParentTaskID,
		DependsOnTaskIDs:  req.DependsOnTaskIDs,
	}

	_, err = s.breaker.Execute(func() (any, error) {
		return nil, s.store.Create(ctx, t)
	})
	if err != nil {
		observability.TasksSubmitted.WithLabelValues(string(req.Type), "store_error").Inc()
		return task.Task{}, fmt.Errorf("submit: store create: %w", err)
	}

	observability.TasksSubmitted.WithLabelValues(string(req.Type), "accepted").Inc()
	s.bus.PublishTaskUpdate(t.Snapshot())
	return *t, nil
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

// Get returns the current snapshot of id, §6.5.
func (s *Service) Get(ctx context.Context, id string) (task.Task, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return task.Task{}, err
	}
	return *t, nil
}

// List returns tasks matching filter, §6.5.
func (s *Service) List(ctx context.Context, filter store.Filter) ([]task.Task, error) {
	return s.store.List(ctx, filter)
}

// externallyPatchable is the set of fields a caller may set via Update,
// §4.9: status, progress, current_step, result, error_message.
type UpdateRequest struct {
	Status       *task.Status
	Progress     *int
	CurrentStep  *string
	Result       map[string]any
	ErrorMessage *string
}

// Update applies an externally-initiated patch. Status transitions are
// validated by the Store against the §3 invariant-1 graph; this method adds
// no further business rule beyond narrowing which fields may be set.
func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (task.Task, error) {
	patch := task.Patch{
		Status:       req.Status,
		Progress:     req.Progress,
		CurrentStep:  req.CurrentStep,
		Result:       req.Result,
		ErrorMessage: req.ErrorMessage,
	}
	updated, err := s.store.Update(ctx, id, patch)
	if err != nil {
		return task.Task{}, err
	}
	s.bus.PublishTaskUpdate(updated.Snapshot())
	return *updated, nil
}

// Cancel delegates to the Scheduler, the sole owner of in-flight execution
// handles (§3 "Ownership").
func (s *Service) Cancel(ctx context.Context, id string) (bool, error) {
	return s.dispatch.Cancel(ctx, id)
}

// Retry resets a Failed task back to Pending iff retry_count < max_retries,
// §6.5. The Store's Update applies the reset fields (clearing
// error_message/started_at/completed_at, zeroing progress, incrementing
// retry_count) whenever it observes a Failed->Pending transition; Retry's
// only job is to enforce the precondition before attempting it.
func (s *Service) Retry(ctx context.Context, id string) (task.Task, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return task.Task{}, err
	}
	if t.Status != task.StatusFailed {
		return task.Task{}, fmt.Errorf("%w: retry requires status=failed, got %s", task.ErrIllegalTransition, t.Status)
	}
	if t.RetryCount >= t.MaxRetries {
		return task.Task{}, fmt.Errorf("%w: retry_count (%d) has reached max_retries (%d)", task.ErrIllegalTransition, t.RetryCount, t.MaxRetries)
	}

	pending := task.StatusPending
	updated, err := s.store.Update(ctx, id, task.Patch{Status: &pending})
	if err != nil {
		return task.Task{}, err
	}
	s.bus.PublishTaskUpdate(updated.Snapshot())
	return *updated, nil
}

// Delete removes a terminal task, §6.5.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

// StartWorker/StopWorker are idempotent wrappers over the Scheduler's
// dispatch loop, §4.9.
func (s *Service) StartWorker(ctx context.Context) {
	s.dispatch.Start(ctx)
}

func (s *Service) StopWorker(ctx context.Context) error {
	return s.dispatch.Stop(ctx)
}

// IsWorkerActive reports whether the dispatch loop is currently running.
func (s *Service) IsWorkerActive() bool {
	return s.dispatch.IsActive()
}

// ListHandlers exposes the Registry's metadata listing, used by the
// `GET /tasks/types` convenience endpoint.
func (s *Service) ListHandlers() []registry.Info {
	return s.registry.List()
}

// SetBackupConfig/GetBackupConfig pass through to the Store's singleton row;
// the Façade is the only legal writer of configuration the Recurring
// Scheduler reads, §3.
func (s *Service) SetBackupConfig(ctx context.Context, cfg store.BackupConfig) error {
	return s.store.SetBackupConfig(ctx, cfg)
}

func (s *Service) GetBackupConfig(ctx context.Context) (*store.BackupConfig, error) {
	return s.store.GetBackupConfig(ctx)
}

// Subscribe exposes the Event Bus to the External Interface Adapter for the
// websocket stream, §6.3.
func (s *Service) Subscribe(ctx context.Context) *eventbus.Subscription {
	return s.bus.Subscribe(ctx)
}
