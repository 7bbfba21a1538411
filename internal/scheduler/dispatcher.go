package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/makermatrix/taskctl/internal/eventbus"
	"github.com/makermatrix/taskctl/internal/observability"
	"github.com/makermatrix/taskctl/internal/registry"
	"github.com/makermatrix/taskctl/internal/reporter"
	"github.com/makermatrix/taskctl/internal/store"
	"github.com/makermatrix/taskctl/internal/task"
)

// Config carries the environment-derived tunables named in §6.6.
type Config struct {
	TickPeriod     time.Duration // default 1s
	ErrorBackoff   time.Duration // default 5s
	DefaultTimeout time.Duration // default 300s, used when a task omits timeout_seconds
	StaleGuardMin  time.Duration // floor for the stale-task guard, default 1h
	ReapInterval   time.Duration // how often the staleness reaper runs, default 5m
	CancelGrace    time.Duration // §5 grace window past a task's timeout before a non-cooperative handler is force-marked Cancelled, default 5s
}

// DefaultConfig matches §6.6's literal values.
func DefaultConfig() Config {
	return Config{
		TickPeriod:     time.Second,
		ErrorBackoff:   5 * time.Second,
		DefaultTimeout: 300 * time.Second,
		StaleGuardMin:  time.Hour,
		ReapInterval:   5 * time.Minute,
		CancelGrace:    5 * time.Second,
	}
}

type inFlightEntry struct {
	cancel  context.CancelFunc
	done    chan struct{}
	timeout time.Duration
}

// Dispatcher is the Scheduler of §4.5: a single long-lived loop plus one
// concurrent execution context per running task. Grounded on
// control_plane/scheduler/scheduler.go's worker()/processNextTask() shape.
// The in-flight map is guarded by its own lock per §5 ("no other component
// reads/writes it").
type Dispatcher struct {
	store    store.Store
	registry *registry.Registry
	bus      *eventbus.Bus
	queue    *ThreadSafeQueue
	cfg      Config

	mu       sync.Mutex
	inFlight map[string]*inFlightEntry
	active   bool

	loopDone chan struct{}
}

// New constructs a Dispatcher. The queue is owned by the Dispatcher alone.
func New(st store.Store, reg *registry.Registry, bus *eventbus.Bus, cfg Config) *Dispatcher {
	return &Dispatcher{
		store:    st,
		registry: reg,
		bus:      bus,
		queue:    NewQueue(),
		cfg:      cfg,
		inFlight: make(map[string]*inFlightEntry),
	}
}

// Start begins the dispatch loop. Idempotent: calling it while already
// active is a no-op, matching the Façade's idempotent start_worker/
// stop_worker controls (§4.9).
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.active {
		d.mu.Unlock()
		return
	}
	d.active = true
	d.loopDone = make(chan struct{})
	d.mu.Unlock()

	go d.loop(ctx)
	go d.reapLoop(ctx)
}

// IsActive reports whether the dispatch loop is currently running.
func (d *Dispatcher) IsActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer close(d.loopDone)

	ticker := time.NewTicker(d.cfg.TickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !d.IsActive() {
				return
			}
			if err := d.tick(ctx); err != nil {
				observability.Errorf("scheduler", "dispatch tick failed: %v", err)
				time.Sleep(d.cfg.ErrorBackoff)
			}
		}
	}
}

// tick runs one iteration of the dispatch loop: fetch ready_to_run, filter
// already-in-flight and dependency-blocked survivors, launch the rest.
func (d *Dispatcher) tick(ctx context.Context) error {
	start := time.Now()
	defer func() { observability.DispatchLoopDuration.Observe(time.Since(start).Seconds()) }()

	ready, err := d.store.ReadyToRun(ctx)
	if err != nil {
		return fmt.Errorf("ready_to_run: %w", err)
	}

	for _, t := range ready {
		if d.isInFlight(t.ID) {
			continue
		}
		ok, err := d.dependenciesSatisfied(ctx, t)
		if err != nil {
			observability.Warnf("scheduler", "dependency check failed for task %s: %v", t.ID, err)
			continue
		}
		if !ok {
			continue // a Pending task with any non-Completed dependency is never dispatched, §8 invariant 7
		}
		d.queue.Push(t)
	}

	// Drain the queue in priority order. §5 forbids an artificial cap on
	// in-flight count, so every survivor launches this tick.
	for {
		t, ok := d.queue.Pop()
		if !ok {
			break
		}
		if d.isInFlight(t.ID) {
			continue // may have been launched by a prior tick's late finisher
		}
		d.launch(ctx, t)
	}
	observability.QueueDepth.Set(float64(d.queue.Len()))
	return nil
}

func (d *Dispatcher) dependenciesSatisfied(ctx context.Context, t task.Task) (bool, error) {
	for _, depID := range t.DependsOnTaskIDs {
		dep, err := d.store.Get(ctx, depID)
		if errors.Is(err, task.ErrNotFound) {
			return false, nil // missing dependency: never dispatch
		}
		if err != nil {
			return false, err
		}
		if dep.Status != task.StatusCompleted {
			return false, nil
		}
	}
	return true, nil
}

func (d *Dispatcher) isInFlight(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.inFlight[id]
	return ok
}

func (d *Dispatcher) launch(ctx context.Context, t task.Task) {
	execCtx, cancel := context.WithCancel(ctx)
	timeout := d.cfg.DefaultTimeout
	if t.TimeoutSeconds > 0 {
		timeout = time.Duration(t.TimeoutSeconds) * time.Second
	}
	entry := &inFlightEntry{cancel: cancel, done: make(chan struct{}), timeout: timeout}

	d.mu.Lock()
	d.inFlight[t.ID] = entry
	d.mu.Unlock()
	observability.InFlight.Inc()

	go func() {
		defer close(entry.done)
		defer observability.InFlight.Dec()
		defer func() {
			d.mu.Lock()
			delete(d.inFlight, t.ID)
			d.mu.Unlock()
		}()
		defer func() {
			if r := recover(); r != nil {
				observability.Errorf("scheduler", "panic executing task %s: %v", t.ID, r)
				errMsg := fmt.Sprintf("handler panicked: %v", r)
				d.finish(context.Background(), t.ID, task.StatusFailed, &errMsg, nil)
			}
		}()
		d.execute(execCtx, t)
	}()
}

// execute runs a single execution context, §4.5 "Execution context".
func (d *Dispatcher) execute(execCtx context.Context, t task.Task) {
	runStart := time.Now()
	defer func() { observability.TaskRuntime.WithLabelValues(string(t.Type)).Observe(time.Since(runStart).Seconds()) }()

	status := task.StatusRunning
	updated, err := d.store.Update(execCtx, t.ID, task.Patch{Status: &status})
	if err != nil {
		observability.Errorf("scheduler", "pending->running transition failed for %s: %v", t.ID, err)
		return
	}
	d.bus.PublishTaskUpdate(updated.Snapshot())

	h, ok := d.registry.Lookup(t.Type)
	if !ok {
		msg := fmt.Sprintf("no handler registered for type %q", t.Type)
		d.finish(context.Background(), t.ID, task.StatusFailed, &msg, nil)
		return
	}

	timeout := d.cfg.DefaultTimeout
	if t.TimeoutSeconds > 0 {
		timeout = time.Duration(t.TimeoutSeconds) * time.Second
	}
	timeoutCtx, cancelTimeout := context.WithTimeout(execCtx, timeout)
	defer cancelTimeout()

	rep := reporter.New(timeoutCtx, t.ID, d.store, d.bus)
	result, err := h.Execute(timeoutCtx, *updated, rep)

	if execCtx.Err() != nil {
		// Externally cancelled (Cancel() or Stop() is already writing the
		// Cancelled transition); this goroutine must not also write a
		// terminal state, cooperative cancellation's ownership rule.
		return
	}

	if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
		msg := fmt.Sprintf("timed out after %d", int(timeout.Seconds()))
		d.finish(context.Background(), t.ID, task.StatusFailed, &msg, nil)
		return
	}
	if err != nil {
		msg := err.Error()
		d.finish(context.Background(), t.ID, task.StatusFailed, &msg, nil)
		return
	}
	d.finish(context.Background(), t.ID, task.StatusCompleted, nil, result)
}

func (d *Dispatcher) finish(ctx context.Context, id string, status task.Status, errMsg *string, result map[string]any) {
	patch := task.Patch{Status: &status}
	if errMsg != nil {
		patch.ErrorMessage = errMsg
	}
	if status == task.StatusCompleted {
		hundred := 100
		patch.Progress = &hundred
		if result != nil {
			patch.Result = result
		}
	}
	updated, err := d.store.Update(ctx, id, patch)
	if err != nil {
		observability.Errorf("scheduler", "terminal transition to %s failed for %s: %v", status, id, err)
		return
	}
	observability.TasksCompleted.WithLabelValues(string(updated.Type), string(status)).Inc()
	d.bus.PublishTaskUpdate(updated.Snapshot())
}

// Cancel removes id's execution context (if any) and cancels it, then
// transitions the row to Cancelled with current_step="cancelled by user".
// Returns false if the task was not in a cancellable state.
func (d *Dispatcher) Cancel(ctx context.Context, id string) (bool, error) {
	d.mu.Lock()
	entry, ok := d.inFlight[id]
	if ok {
		delete(d.inFlight, id)
	}
	d.mu.Unlock()

	if ok {
		entry.cancel()
		grace := entry.timeout + d.cfg.CancelGrace
		select {
		case <-entry.done:
		case <-time.After(grace):
			// §5: handler never observed ctx.Done() within timeout_seconds+grace.
			// Force the row Cancelled anyway; the goroutine's eventual late
			// write will hit an illegal-transition error out of a terminal
			// status and be ignored, per §5's "in-process references may
			// still complete later and are ignored".
			observability.Warnf("scheduler", "task %s did not observe cancellation within %s, forcing Cancelled at the Store", id, grace)
		}
	}

	status := task.StatusCancelled
	step := "cancelled by user"
	updated, err := d.store.Update(ctx, id, task.Patch{Status: &status, CurrentStep: &step})
	if errors.Is(err, task.ErrIllegalTransition) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	d.bus.PublishTaskUpdate(updated.Snapshot())
	return true, nil
}

// Stop cancels every in-flight execution context and transitions each row
// to Cancelled with reason "worker shutdown" before returning, §4.5
// "Shutdown". Concurrent cancellation/drain uses errgroup, grounded in the
// teacher's own indirect dependency on golang.org/x/sync and
// cklxx-elephant.ai's direct use of it for draining background work.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	d.active = false
	entries := make(map[string]*inFlightEntry, len(d.inFlight))
	for id, e := range d.inFlight {
		entries[id] = e
	}
	d.inFlight = make(map[string]*inFlightEntry)
	d.mu.Unlock()

	var g errgroup.Group
	for id, entry := range entries {
		id, entry := id, entry
		g.Go(func() error {
			entry.cancel()
			grace := entry.timeout + d.cfg.CancelGrace
			select {
			case <-entry.done:
			case <-time.After(grace):
				observability.Warnf("scheduler", "task %s did not observe cancellation within %s, forcing Cancelled at the Store", id, grace)
			}
			status := task.StatusCancelled
			step := "worker shutdown"
			updated, err := d.store.Update(ctx, id, task.Patch{Status: &status, CurrentStep: &step})
			if errors.Is(err, task.ErrIllegalTransition) {
				return nil // already terminal, nothing to do
			}
			if err != nil {
				return err
			}
			d.bus.PublishTaskUpdate(updated.Snapshot())
			return nil
		})
	}
	return g.Wait()
}

// reapLoop periodically invokes MarkStale for every task type, enforcing
// the stale-task guard of §6.6 (2x handler timeout, floor of 1h).
func (d *Dispatcher) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.reapOnce(ctx)
		}
	}
}

func (d *Dispatcher) reapOnce(ctx context.Context) {
	maxAge := d.cfg.StaleGuardMin
	if twice := 2 * d.cfg.DefaultTimeout; twice > maxAge {
		maxAge = twice
	}
	for _, typ := range task.AllTypes {
		reaped, err := d.store.MarkStale(ctx, typ, maxAge, "reaped: exceeded stale-task guard")
		if err != nil {
			observability.Errorf("scheduler", "mark_stale failed for %s: %v", typ, err)
			continue
		}
		if len(reaped) > 0 {
			observability.StaleTasksReaped.WithLabelValues(string(typ)).Add(float64(len(reaped)))
		}
		for _, t := range reaped {
			d.bus.PublishTaskUpdate(t.Snapshot())
		}
	}
}
