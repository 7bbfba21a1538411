package recurring

import (
	"context"
	"sync"
	"testing"

	"github.com/makermatrix/taskctl/internal/store"
	"github.com/makermatrix/taskctl/internal/task"
)

type fakeSubmitter struct {
	mu     sync.Mutex
	reqs   []task.SubmitRequest
	actors []task.Actor
	fail   bool
}

func (f *fakeSubmitter) Submit(ctx context.Context, req task.SubmitRequest, actor task.Actor) (task.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return task.Task{}, context.DeadlineExceeded
	}
	f.reqs = append(f.reqs, req)
	f.actors = append(f.actors, actor)
	return task.Task{Type: req.Type}, nil
}

func (f *fakeSubmitter) calls() []task.SubmitRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]task.SubmitRequest, len(f.reqs))
	copy(out, f.reqs)
	return out
}

func TestScheduleSpecDefaultsToNightly(t *testing.T) {
	spec, err := scheduleSpec(store.BackupConfig{})
	if err != nil {
		t.Fatalf("scheduleSpec: %v", err)
	}
	if spec != nightlySpec {
		t.Errorf("spec = %q, want %q", spec, nightlySpec)
	}
}

func TestScheduleSpecWeekly(t *testing.T) {
	spec, err := scheduleSpec(store.BackupConfig{ScheduleType: "weekly"})
	if err != nil {
		t.Fatalf("scheduleSpec: %v", err)
	}
	if spec != weeklySpec {
		t.Errorf("spec = %q, want %q", spec, weeklySpec)
	}
}

func TestScheduleSpecCustomRequiresCronExpression(t *testing.T) {
	_, err := scheduleSpec(store.BackupConfig{ScheduleType: "custom"})
	if err == nil {
		t.Fatal("expected an error when schedule_type=custom but cron_expression is empty")
	}
}

func TestScheduleSpecCustomRejectsInvalidExpression(t *testing.T) {
	_, err := scheduleSpec(store.BackupConfig{ScheduleType: "custom", CronExpression: "not a cron expr"})
	if err == nil {
		t.Fatal("expected an error for an invalid cron_expression")
	}
}

func TestScheduleSpecCustomAcceptsValidExpression(t *testing.T) {
	spec, err := scheduleSpec(store.BackupConfig{ScheduleType: "custom", CronExpression: "*/15 * * * *"})
	if err != nil {
		t.Fatalf("scheduleSpec: %v", err)
	}
	if spec != "*/15 * * * *" {
		t.Errorf("spec = %q", spec)
	}
}

func TestScheduleSpecRejectsUnknownType(t *testing.T) {
	_, err := scheduleSpec(store.BackupConfig{ScheduleType: "quarterly"})
	if err == nil {
		t.Fatal("expected an error for an unrecognized schedule_type")
	}
}

func TestFireBackupSubmitsWithSystemActorAndHighPriority(t *testing.T) {
	st := store.NewMemoryStore()
	if err := st.SetBackupConfig(context.Background(), store.BackupConfig{
		ScheduleEnabled: true, RetentionCount: 10,
	}); err != nil {
		t.Fatalf("set backup config: %v", err)
	}
	sub := &fakeSubmitter{}
	c := New(st, sub)

	c.fireBackup(context.Background())

	calls := sub.calls()
	if len(calls) != 1 {
		t.Fatalf("expected exactly one submit call, got %d", len(calls))
	}
	if calls[0].Type != task.TypeBackupScheduled || calls[0].Priority != "high" {
		t.Errorf("unexpected request: %+v", calls[0])
	}
	if calls[0].Input["retention_count"] != 10 {
		t.Errorf("retention_count = %v, want 10", calls[0].Input["retention_count"])
	}
	if !sub.actors[0].HasCapability("system") {
		t.Errorf("actor = %+v, want the system capability", sub.actors[0])
	}
}

func TestFireBackupOmitsPasswordWhenEncryptionRequiredButUnset(t *testing.T) {
	st := store.NewMemoryStore()
	if err := st.SetBackupConfig(context.Background(), store.BackupConfig{
		ScheduleEnabled: true, EncryptionRequired: true,
	}); err != nil {
		t.Fatalf("set backup config: %v", err)
	}
	sub := &fakeSubmitter{}
	c := New(st, sub)

	c.fireBackup(context.Background())

	calls := sub.calls()
	if len(calls) != 1 {
		t.Fatalf("expected exactly one submit call, got %d", len(calls))
	}
	if _, ok := calls[0].Input["encryption_password"]; ok {
		t.Error("expected no encryption_password in input when none is configured")
	}
}

func TestFireRetentionSubmitsBackupRetentionTask(t *testing.T) {
	st := store.NewMemoryStore()
	sub := &fakeSubmitter{}
	c := New(st, sub)

	c.fireRetention(context.Background())

	calls := sub.calls()
	if len(calls) != 1 || calls[0].Type != task.TypeBackupRetention {
		t.Errorf("unexpected calls: %+v", calls)
	}
}

func TestStartInstallsRetentionAlwaysAndBackupOnlyWhenEnabled(t *testing.T) {
	st := store.NewMemoryStore()
	sub := &fakeSubmitter{}
	c := New(st, sub)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()

	if c.hasBackup {
		t.Error("expected no backup job installed when BackupConfig is unset")
	}
	if len(c.cron.Entries()) != 1 {
		t.Errorf("expected exactly one cron entry (retention only), got %d", len(c.cron.Entries()))
	}
}

func TestReloadInstallsBackupJobAfterConfigEnabled(t *testing.T) {
	st := store.NewMemoryStore()
	sub := &fakeSubmitter{}
	c := New(st, sub)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()

	if err := st.SetBackupConfig(context.Background(), store.BackupConfig{ScheduleEnabled: true}); err != nil {
		t.Fatalf("set backup config: %v", err)
	}
	if err := c.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !c.hasBackup {
		t.Error("expected backup job to be installed after enabling it")
	}
	if len(c.cron.Entries()) != 2 {
		t.Errorf("expected retention + backup entries, got %d", len(c.cron.Entries()))
	}
}

func TestReloadReplacesRatherThanDuplicatesBackupJob(t *testing.T) {
	st := store.NewMemoryStore()
	sub := &fakeSubmitter{}
	c := New(st, sub)

	if err := st.SetBackupConfig(context.Background(), store.BackupConfig{ScheduleEnabled: true, ScheduleType: "nightly"}); err != nil {
		t.Fatalf("set backup config: %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()

	if err := st.SetBackupConfig(context.Background(), store.BackupConfig{ScheduleEnabled: true, ScheduleType: "weekly"}); err != nil {
		t.Fatalf("set backup config: %v", err)
	}
	if err := c.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}

	// retention + exactly one (replaced) backup entry, never two backup entries.
	if len(c.cron.Entries()) != 2 {
		t.Errorf("expected 2 entries after reload, got %d", len(c.cron.Entries()))
	}
}
