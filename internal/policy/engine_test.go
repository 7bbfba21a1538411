package policy

import (
	"context"
	"testing"
	"time"

	"github.com/makermatrix/taskctl/internal/eventbus"
	"github.com/makermatrix/taskctl/internal/store"
	"github.com/makermatrix/taskctl/internal/task"
)

func newTestEngine(t *testing.T) (*Engine, *store.MemoryStore, *eventbus.Bus) {
	t.Helper()
	st := store.NewMemoryStore()
	bus := eventbus.New()
	t.Cleanup(bus.Stop)
	return NewEngine(st, bus, nil), st, bus
}

func TestEvaluateDeniesMissingCapability(t *testing.T) {
	e, _, _ := newTestEngine(t)
	actor := task.Actor{UserID: "u1"}
	req := task.SubmitRequest{Type: task.TypePartEnrichment, Name: "x"}

	d, err := e.Evaluate(context.Background(), actor, req)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected denial for missing capabilities")
	}
}

func TestEvaluateAllowsWithCapabilities(t *testing.T) {
	e, _, _ := newTestEngine(t)
	actor := task.Actor{UserID: "u1", Capabilities: map[string]bool{"parts:write": true, "tasks:user": true}}
	req := task.SubmitRequest{Type: task.TypePartEnrichment, Name: "x", Input: map[string]any{"part_id": "R1"}}

	d, err := e.Evaluate(context.Background(), actor, req)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !d.Allowed {
		t.Fatalf("expected allow, got deny: %s", d.Reason)
	}
}

func TestEvaluateUnknownTypeDenied(t *testing.T) {
	e, _, _ := newTestEngine(t)
	actor := task.Actor{UserID: "u1"}
	req := task.SubmitRequest{Type: task.Type("nonexistent"), Name: "x"}

	d, err := e.Evaluate(context.Background(), actor, req)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected denial for unknown type")
	}
}

func TestEvaluateHourlyRateLimit(t *testing.T) {
	e, st, _ := newTestEngine(t)
	actor := task.Actor{UserID: "u1", Capabilities: map[string]bool{"parts:write": true, "tasks:user": true}}

	// fetch_datasheet's RateLimitPerHour is 20.
	for i := 0; i < 20; i++ {
		tk := task.Task{Type: task.TypeFetchDatasheet, CreatedByUserID: "u1", CreatedAt: time.Now().UTC()}
		if err := st.Create(context.Background(), &tk); err != nil {
			t.Fatalf("seed create: %v", err)
		}
	}

	req := task.SubmitRequest{Type: task.TypeFetchDatasheet, Name: "x", Input: map[string]any{"part_id": "R1"}}
	d, err := e.Evaluate(context.Background(), actor, req)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected hourly rate limit denial")
	}
}

func TestEvaluateAdminExemptFromRateLimit(t *testing.T) {
	e, st, _ := newTestEngine(t)
	actor := task.Actor{UserID: "u1", Capabilities: map[string]bool{"parts:write": true, "tasks:user": true, "admin": true}}

	// Completed seeds count toward the rate windows but not toward the
	// concurrency check, which applies to admins too.
	for i := 0; i < 20; i++ {
		tk := task.Task{Type: task.TypeFetchDatasheet, CreatedByUserID: "u1", Status: task.StatusCompleted, CreatedAt: time.Now().UTC()}
		if err := st.Create(context.Background(), &tk); err != nil {
			t.Fatalf("seed create: %v", err)
		}
	}

	req := task.SubmitRequest{Type: task.TypeFetchDatasheet, Name: "x", Input: map[string]any{"part_id": "R1"}}
	d, err := e.Evaluate(context.Background(), actor, req)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !d.Allowed {
		t.Fatalf("expected admin exemption, got deny: %s", d.Reason)
	}
}

func TestEvaluateConcurrencyLimit(t *testing.T) {
	e, st, _ := newTestEngine(t)
	actor := task.Actor{UserID: "u1", Capabilities: map[string]bool{"reports:generate": true, "tasks:user": true}}

	// report_generation's MaxConcurrentPerUser is 2.
	for i := 0; i < 2; i++ {
		tk := task.Task{Type: task.TypeReportGeneration, CreatedByUserID: "u1", Status: task.StatusRunning, CreatedAt: time.Now().UTC()}
		if err := st.Create(context.Background(), &tk); err != nil {
			t.Fatalf("seed create: %v", err)
		}
	}

	req := task.SubmitRequest{Type: task.TypeReportGeneration, Name: "x"}
	d, err := e.Evaluate(context.Background(), actor, req)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected concurrency limit denial")
	}
}

func TestEvaluateResourceLimitMaxParts(t *testing.T) {
	e, _, _ := newTestEngine(t)
	actor := task.Actor{UserID: "u1", Capabilities: map[string]bool{"parts:write": true, "tasks:user": true}}

	req := task.SubmitRequest{
		Type: task.TypePartEnrichment, Name: "x",
		Input: map[string]any{"part_ids": []any{"R1", "R2"}}, // max_parts=1
	}
	d, err := e.Evaluate(context.Background(), actor, req)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected resource-limit denial for too many parts")
	}
}

func TestEvaluateRequiresApprovalAlwaysDenied(t *testing.T) {
	e, _, _ := newTestEngine(t)
	// Inject an approval-required policy row without touching the real table.
	Table[task.Type("__approval_test__")] = Policy{
		Type: task.Type("__approval_test__"), RequiresApproval: true, MaxConcurrentPerUser: 1,
	}
	t.Cleanup(func() { delete(Table, task.Type("__approval_test__")) })

	actor := task.Actor{UserID: "u1"}
	req := task.SubmitRequest{Type: task.Type("__approval_test__"), Name: "x"}
	d, err := e.Evaluate(context.Background(), actor, req)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected approval-required denial")
	}
	if d.Reason != "approval pending" {
		t.Errorf("reason = %q, want %q", d.Reason, "approval pending")
	}
}

func TestTableCoversEveryTaskType(t *testing.T) {
	for _, typ := range task.AllTypes {
		if _, ok := Lookup(typ); !ok {
			t.Errorf("no policy row for task type %q", typ)
		}
	}
}
