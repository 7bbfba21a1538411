package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/makermatrix/taskctl/internal/task"
)

func mustCreate(t *testing.T, s *MemoryStore, tk task.Task) task.Task {
	t.Helper()
	cp := tk
	if err := s.Create(context.Background(), &cp); err != nil {
		t.Fatalf("create: %v", err)
	}
	return cp
}

func TestMemoryStoreCreateAssignsDefaults(t *testing.T) {
	s := NewMemoryStore()
	tk := task.Task{Type: task.TypePartEnrichment, Name: "x"}
	created := mustCreate(t, s, tk)

	if created.ID == "" {
		t.Error("expected generated ID")
	}
	if created.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
	if created.Status != task.StatusPending {
		t.Errorf("status = %s, want pending", created.Status)
	}
}

func TestMemoryStoreGetNotFound(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, task.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreUpdateIllegalTransition(t *testing.T) {
	s := NewMemoryStore()
	created := mustCreate(t, s, task.Task{Type: task.TypePartEnrichment})

	completed := task.StatusCompleted
	_, err := s.Update(context.Background(), created.ID, task.Patch{Status: &completed})
	var illegal *task.IllegalTransitionError
	if !errors.As(err, &illegal) {
		t.Fatalf("err = %v, want IllegalTransitionError", err)
	}
	if illegal.From != task.StatusPending || illegal.To != task.StatusCompleted {
		t.Errorf("illegal = %+v", illegal)
	}
}

func TestMemoryStoreUpdatePendingToRunningSetsStartedAt(t *testing.T) {
	s := NewMemoryStore()
	created := mustCreate(t, s, task.Task{Type: task.TypePartEnrichment})

	running := task.StatusRunning
	updated, err := s.Update(context.Background(), created.ID, task.Patch{Status: &running})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.StartedAt == nil {
		t.Error("expected StartedAt to be set on pending->running")
	}
	if updated.CurrentStep != "starting" {
		t.Errorf("current_step = %q, want starting", updated.CurrentStep)
	}
}

func TestMemoryStoreUpdateTerminalSetsCompletedAt(t *testing.T) {
	s := NewMemoryStore()
	created := mustCreate(t, s, task.Task{Type: task.TypePartEnrichment})
	running := task.StatusRunning
	if _, err := s.Update(context.Background(), created.ID, task.Patch{Status: &running}); err != nil {
		t.Fatalf("update to running: %v", err)
	}

	failed := task.StatusFailed
	updated, err := s.Update(context.Background(), created.ID, task.Patch{Status: &failed})
	if err != nil {
		t.Fatalf("update to failed: %v", err)
	}
	if updated.CompletedAt == nil {
		t.Error("expected CompletedAt to be set on terminal transition")
	}
}

func TestMemoryStoreRetryResetsFields(t *testing.T) {
	s := NewMemoryStore()
	created := mustCreate(t, s, task.Task{Type: task.TypePartEnrichment, MaxRetries: 3})

	running := task.StatusRunning
	if _, err := s.Update(context.Background(), created.ID, task.Patch{Status: &running}); err != nil {
		t.Fatalf("update to running: %v", err)
	}
	progress := 50
	if _, err := s.Update(context.Background(), created.ID, task.Patch{Progress: &progress}); err != nil {
		t.Fatalf("update progress: %v", err)
	}
	failed := task.StatusFailed
	errMsg := "boom"
	if _, err := s.Update(context.Background(), created.ID, task.Patch{Status: &failed, ErrorMessage: &errMsg}); err != nil {
		t.Fatalf("update to failed: %v", err)
	}

	pending := task.StatusPending
	retried, err := s.Update(context.Background(), created.ID, task.Patch{Status: &pending})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retried.Progress != 0 {
		t.Errorf("progress = %d, want 0 after retry reset", retried.Progress)
	}
	if retried.ErrorMessage != "" {
		t.Errorf("error_message = %q, want empty after retry reset", retried.ErrorMessage)
	}
	if retried.RetryCount != 1 {
		t.Errorf("retry_count = %d, want 1", retried.RetryCount)
	}
	if retried.StartedAt != nil || retried.CompletedAt != nil {
		t.Error("expected StartedAt/CompletedAt cleared after retry reset")
	}
}

func TestMemoryStoreProgressMonotonicNonDecrease(t *testing.T) {
	s := NewMemoryStore()
	created := mustCreate(t, s, task.Task{Type: task.TypePartEnrichment})

	p80 := 80
	if _, err := s.Update(context.Background(), created.ID, task.Patch{Progress: &p80}); err != nil {
		t.Fatalf("update: %v", err)
	}
	p20 := 20
	updated, err := s.Update(context.Background(), created.ID, task.Patch{Progress: &p20})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Progress != 80 {
		t.Errorf("progress = %d, want 80 (monotonic non-decrease)", updated.Progress)
	}
}

func TestMemoryStoreProgressClamped(t *testing.T) {
	s := NewMemoryStore()
	created := mustCreate(t, s, task.Task{Type: task.TypePartEnrichment})

	over := 150
	updated, err := s.Update(context.Background(), created.ID, task.Patch{Progress: &over})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Progress != 100 {
		t.Errorf("progress = %d, want clamped to 100", updated.Progress)
	}
}

func TestMemoryStoreDeleteRejectsNonTerminal(t *testing.T) {
	s := NewMemoryStore()
	created := mustCreate(t, s, task.Task{Type: task.TypePartEnrichment})

	if err := s.Delete(context.Background(), created.ID); !errors.Is(err, task.ErrIllegalTransition) {
		t.Errorf("err = %v, want ErrIllegalTransition", err)
	}
}

func TestMemoryStoreDeleteAllowsTerminal(t *testing.T) {
	s := NewMemoryStore()
	created := mustCreate(t, s, task.Task{Type: task.TypePartEnrichment})
	cancelled := task.StatusCancelled
	if _, err := s.Update(context.Background(), created.ID, task.Patch{Status: &cancelled}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := s.Delete(context.Background(), created.ID); err != nil {
		t.Errorf("delete: %v", err)
	}
	if _, err := s.Get(context.Background(), created.ID); !errors.Is(err, task.ErrNotFound) {
		t.Error("expected task to be gone after delete")
	}
}

func TestMemoryStoreReadyToRunOrdering(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()

	low := mustCreate(t, s, task.Task{Type: task.TypePartEnrichment, Priority: task.PriorityLow, CreatedAt: now})
	urgentLater := mustCreate(t, s, task.Task{Type: task.TypePartEnrichment, Priority: task.PriorityUrgent, CreatedAt: now.Add(time.Second)})
	urgentEarlier := mustCreate(t, s, task.Task{Type: task.TypePartEnrichment, Priority: task.PriorityUrgent, CreatedAt: now.Add(-time.Second)})
	_ = low

	ready, err := s.ReadyToRun(context.Background())
	if err != nil {
		t.Fatalf("ready_to_run: %v", err)
	}
	if len(ready) != 3 {
		t.Fatalf("len(ready) = %d, want 3", len(ready))
	}
	if ready[0].ID != urgentEarlier.ID || ready[1].ID != urgentLater.ID {
		t.Errorf("ordering wrong: got %v", []string{ready[0].ID, ready[1].ID, ready[2].ID})
	}
}

func TestMemoryStoreReadyToRunExcludesFutureScheduled(t *testing.T) {
	s := NewMemoryStore()
	future := time.Now().UTC().Add(time.Hour)
	mustCreate(t, s, task.Task{Type: task.TypePartEnrichment, ScheduledAt: &future})

	ready, err := s.ReadyToRun(context.Background())
	if err != nil {
		t.Fatalf("ready_to_run: %v", err)
	}
	if len(ready) != 0 {
		t.Errorf("expected future-scheduled task excluded, got %d", len(ready))
	}
}

func TestMemoryStoreCountActiveExcludesStale(t *testing.T) {
	s := NewMemoryStore()
	old := time.Now().UTC().Add(-2 * time.Hour)
	mustCreate(t, s, task.Task{Type: task.TypePartEnrichment, CreatedByUserID: "u1", CreatedAt: old})

	maxAge := time.Hour
	n, err := s.CountActive(context.Background(), "u1", task.TypePartEnrichment, &maxAge)
	if err != nil {
		t.Fatalf("count_active: %v", err)
	}
	if n != 0 {
		t.Errorf("n = %d, want 0 (stale task excluded)", n)
	}
}

func TestMemoryStoreMarkStale(t *testing.T) {
	s := NewMemoryStore()
	old := time.Now().UTC().Add(-2 * time.Hour)
	created := mustCreate(t, s, task.Task{Type: task.TypePartEnrichment, CreatedAt: old})

	reaped, err := s.MarkStale(context.Background(), task.TypePartEnrichment, time.Hour, "reaped")
	if err != nil {
		t.Fatalf("mark_stale: %v", err)
	}
	if len(reaped) != 1 || reaped[0].ID != created.ID {
		t.Fatalf("reaped = %+v", reaped)
	}
	got, err := s.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != task.StatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
}

func TestMemoryStoreBackupConfigRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	cfg := BackupConfig{ScheduleEnabled: true, ScheduleType: "nightly", RetentionCount: 5}
	if err := s.SetBackupConfig(context.Background(), cfg); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := s.GetBackupConfig(context.Background())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ScheduleType != "nightly" || got.RetentionCount != 5 {
		t.Errorf("got = %+v", got)
	}
}
