package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/makermatrix/taskctl/internal/eventbus"
	"github.com/makermatrix/taskctl/internal/policy"
	"github.com/makermatrix/taskctl/internal/registry"
	"github.com/makermatrix/taskctl/internal/scheduler"
	"github.com/makermatrix/taskctl/internal/store"
	"github.com/makermatrix/taskctl/internal/task"
)

func newTestService(t *testing.T) (*Service, *store.MemoryStore, *eventbus.Bus) {
	t.Helper()
	st := store.NewMemoryStore()
	bus := eventbus.New()
	t.Cleanup(bus.Stop)
	reg := registry.New()
	pol := policy.NewEngine(st, bus, nil)
	disp := scheduler.New(st, reg, bus, scheduler.DefaultConfig())
	return New(st, pol, disp, bus, reg, Options{}), st, bus
}

func adminActor() task.Actor {
	return task.Actor{UserID: "admin1", Capabilities: map[string]bool{
		"parts:write": true, "tasks:user": true, "admin": true,
	}}
}

func TestSubmitAccepted(t *testing.T) {
	s, st, _ := newTestService(t)
	req := task.SubmitRequest{
		Type:  task.TypePartEnrichment,
		Name:  "enrich R1",
		Input: map[string]any{"part_id": "R1"},
	}
	got, err := s.Submit(context.Background(), req, adminActor())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got.Status != task.StatusPending {
		t.Errorf("status = %s, want pending", got.Status)
	}
	if got.MaxRetries != 3 {
		t.Errorf("max_retries default = %d, want 3", got.MaxRetries)
	}

	stored, err := st.Get(context.Background(), got.ID)
	if err != nil {
		t.Fatalf("get from store: %v", err)
	}
	if stored.ID != got.ID {
		t.Error("task was not persisted to the store")
	}
}

func TestSubmitRejectsZeroTimeout(t *testing.T) {
	s, _, _ := newTestService(t)
	zero := 0
	req := task.SubmitRequest{Type: task.TypePartEnrichment, Name: "x", TimeoutSeconds: &zero}
	_, err := s.Submit(context.Background(), req, adminActor())
	if err == nil {
		t.Fatal("expected an error for zero timeout_seconds")
	}
}

func TestSubmitRejectsMissingRequiredFields(t *testing.T) {
	s, _, _ := newTestService(t)
	req := task.SubmitRequest{} // missing Type and Name
	_, err := s.Submit(context.Background(), req, adminActor())
	if err == nil {
		t.Fatal("expected validation error for missing required fields")
	}
}

func TestSubmitDeniedByPolicyReturnsPolicyDeniedError(t *testing.T) {
	s, _, _ := newTestService(t)
	req := task.SubmitRequest{Type: task.TypePartEnrichment, Name: "x"} // no capabilities on actor
	_, err := s.Submit(context.Background(), req, task.Actor{UserID: "u1"})
	if err == nil {
		t.Fatal("expected a policy denial")
	}
	var denied *task.PolicyDeniedError
	if !errors.As(err, &denied) {
		t.Errorf("expected *task.PolicyDeniedError, got %T: %v", err, err)
	}
}

func TestGetReturnsSubmittedTask(t *testing.T) {
	s, _, _ := newTestService(t)
	req := task.SubmitRequest{Type: task.TypePartEnrichment, Name: "x", Input: map[string]any{"part_id": "R1"}}
	created, err := s.Submit(context.Background(), req, adminActor())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	got, err := s.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != created.ID {
		t.Errorf("got id %s, want %s", got.ID, created.ID)
	}
}

func TestGetNotFound(t *testing.T) {
	s, _, _ := newTestService(t)
	_, err := s.Get(context.Background(), "does-not-exist")
	if !errors.Is(err, task.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListFiltersByStatus(t *testing.T) {
	s, st, _ := newTestService(t)
	req := task.SubmitRequest{Type: task.TypePartEnrichment, Name: "x", Input: map[string]any{"part_id": "R1"}}
	created, err := s.Submit(context.Background(), req, adminActor())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	_ = st // store already holds the task via Submit

	got, err := s.List(context.Background(), store.Filter{Statuses: []task.Status{created.Status}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != created.ID {
		t.Errorf("list = %+v, want exactly the submitted task", got)
	}
}

func TestUpdateAppliesNarrowPatch(t *testing.T) {
	s, _, _ := newTestService(t)
	req := task.SubmitRequest{Type: task.TypePartEnrichment, Name: "x", Input: map[string]any{"part_id": "R1"}}
	created, err := s.Submit(context.Background(), req, adminActor())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	running := task.StatusRunning
	updated, err := s.Update(context.Background(), created.ID, UpdateRequest{Status: &running})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Status != task.StatusRunning {
		t.Errorf("status = %s, want running", updated.Status)
	}
}

func TestRetryRequiresFailedStatus(t *testing.T) {
	s, _, _ := newTestService(t)
	req := task.SubmitRequest{Type: task.TypePartEnrichment, Name: "x", Input: map[string]any{"part_id": "R1"}}
	created, err := s.Submit(context.Background(), req, adminActor())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	_, err = s.Retry(context.Background(), created.ID)
	if !errors.Is(err, task.ErrIllegalTransition) {
		t.Errorf("expected ErrIllegalTransition retrying a pending task, got %v", err)
	}
}

func TestRetrySucceedsFromFailed(t *testing.T) {
	s, st, _ := newTestService(t)
	req := task.SubmitRequest{Type: task.TypePartEnrichment, Name: "x", Input: map[string]any{"part_id": "R1"}}
	created, err := s.Submit(context.Background(), req, adminActor())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	running := task.StatusRunning
	if _, err := st.Update(context.Background(), created.ID, task.Patch{Status: &running}); err != nil {
		t.Fatalf("drive to running: %v", err)
	}
	failed := task.StatusFailed
	errMsg := "boom"
	if _, err := st.Update(context.Background(), created.ID, task.Patch{Status: &failed, ErrorMessage: &errMsg}); err != nil {
		t.Fatalf("drive to failed: %v", err)
	}

	retried, err := s.Retry(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retried.Status != task.StatusPending {
		t.Errorf("status = %s, want pending", retried.Status)
	}
	if retried.RetryCount != 1 {
		t.Errorf("retry_count = %d, want 1", retried.RetryCount)
	}
}

func TestRetryRejectsWhenExhausted(t *testing.T) {
	s, st, _ := newTestService(t)
	one := 1
	req := task.SubmitRequest{Type: task.TypePartEnrichment, Name: "x", Input: map[string]any{"part_id": "R1"}, MaxRetries: &one}
	created, err := s.Submit(context.Background(), req, adminActor())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	running := task.StatusRunning
	failed := task.StatusFailed
	for i := 0; i < 1; i++ {
		if _, err := st.Update(context.Background(), created.ID, task.Patch{Status: &running}); err != nil {
			t.Fatalf("drive to running: %v", err)
		}
		if _, err := st.Update(context.Background(), created.ID, task.Patch{Status: &failed}); err != nil {
			t.Fatalf("drive to failed: %v", err)
		}
		if _, err := s.Retry(context.Background(), created.ID); err != nil {
			t.Fatalf("retry %d: %v", i, err)
		}
	}

	// retry_count is now 1, equal to max_retries=1; drive to failed again
	// and confirm the exhausted-retries guard rejects it.
	if _, err := st.Update(context.Background(), created.ID, task.Patch{Status: &running}); err != nil {
		t.Fatalf("drive to running: %v", err)
	}
	if _, err := st.Update(context.Background(), created.ID, task.Patch{Status: &failed}); err != nil {
		t.Fatalf("drive to failed: %v", err)
	}
	if _, err := s.Retry(context.Background(), created.ID); !errors.Is(err, task.ErrIllegalTransition) {
		t.Errorf("expected ErrIllegalTransition once retries are exhausted, got %v", err)
	}
}

func TestDeleteRejectsNonTerminal(t *testing.T) {
	s, _, _ := newTestService(t)
	req := task.SubmitRequest{Type: task.TypePartEnrichment, Name: "x", Input: map[string]any{"part_id": "R1"}}
	created, err := s.Submit(context.Background(), req, adminActor())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := s.Delete(context.Background(), created.ID); err == nil {
		t.Fatal("expected delete of a pending task to be rejected")
	}
}

func TestStartStopWorkerIdempotent(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.StartWorker(ctx)
	s.StartWorker(ctx)
	if !s.IsWorkerActive() {
		t.Fatal("expected worker to be active after StartWorker")
	}
	if err := s.StopWorker(context.Background()); err != nil {
		t.Fatalf("stop worker: %v", err)
	}
	if s.IsWorkerActive() {
		t.Error("expected worker to be inactive after StopWorker")
	}
}

func TestListHandlersEmptyByDefault(t *testing.T) {
	s, _, _ := newTestService(t)
	if got := s.ListHandlers(); len(got) != 0 {
		t.Errorf("expected no registered handlers in a fresh service, got %+v", got)
	}
}

func TestBackupConfigRoundTrip(t *testing.T) {
	s, _, _ := newTestService(t)
	cfg := store.BackupConfig{ScheduleEnabled: true, ScheduleType: "nightly", CronExpression: "0 2 * * *", RetentionCount: 14}
	if err := s.SetBackupConfig(context.Background(), cfg); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := s.GetBackupConfig(context.Background())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CronExpression != cfg.CronExpression || got.RetentionCount != cfg.RetentionCount {
		t.Errorf("got = %+v, want %+v", got, cfg)
	}
}

func TestSubscribeReceivesPublishedEvents(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := s.Subscribe(ctx)

	req := task.SubmitRequest{Type: task.TypePartEnrichment, Name: "x", Input: map[string]any{"part_id": "R1"}}
	if _, err := s.Submit(context.Background(), req, adminActor()); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// The bus delivers asynchronously, and the Policy Engine's audit event
	// is published before the task update.
	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-sub.C:
			if ev.Kind == eventbus.KindAudit {
				continue
			}
			if ev.Kind != eventbus.KindTaskUpdate {
				t.Errorf("unexpected event kind %v", ev.Kind)
			}
			return
		case <-deadline:
			t.Fatal("expected submit to publish a task-update event")
		}
	}
}
