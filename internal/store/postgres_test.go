package store

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/makermatrix/taskctl/internal/task"
)

// fakeRow stands in for pgx.Row/pgx.Rows (both satisfy the row interface),
// letting scanTaskRows be exercised without a live pgxpool.Pool.
type fakeRow struct {
	values []any
}

func (f fakeRow) Scan(dest ...any) error {
	for i, d := range dest {
		switch v := d.(type) {
		case *string:
			*v = f.values[i].(string)
		case *int:
			*v = f.values[i].(int)
		case *[]byte:
			*v = f.values[i].([]byte)
		case *time.Time:
			*v = f.values[i].(time.Time)
		case **time.Time:
			*v = f.values[i].(*time.Time)
		}
	}
	return nil
}

func TestScanTaskRows(t *testing.T) {
	now := time.Now().UTC()
	inputJSON, _ := json.Marshal(map[string]any{"part_id": "R1"})
	dependsJSON, _ := json.Marshal([]string{"dep1"})

	row := fakeRow{values: []any{
		"task-1", "part_enrichment", "name", "desc", "pending", int(task.PriorityHigh),
		10, "fetching",
		inputJSON, []byte("null"), "",
		3, 0, 300,
		now, (*time.Time)(nil), (*time.Time)(nil), (*time.Time)(nil), "user-1",
		"part", "R1", "", dependsJSON, 4,
	}}

	got, priority, version, err := scanTaskRows(row)
	if err != nil {
		t.Fatalf("scanTaskRows: %v", err)
	}
	if got.ID != "task-1" || got.Type != task.TypePartEnrichment || got.Status != task.StatusPending {
		t.Errorf("got = %+v", got)
	}
	if priority != int(task.PriorityHigh) {
		t.Errorf("priority = %d, want %d", priority, int(task.PriorityHigh))
	}
	if version != 4 {
		t.Errorf("version = %d, want 4", version)
	}
	if got.Input["part_id"] != "R1" {
		t.Errorf("input = %+v", got.Input)
	}
	if len(got.DependsOnTaskIDs) != 1 || got.DependsOnTaskIDs[0] != "dep1" {
		t.Errorf("depends_on = %+v", got.DependsOnTaskIDs)
	}
}

func TestStatusStringsAndTypeStrings(t *testing.T) {
	ss := statusStrings([]task.Status{task.StatusPending, task.StatusFailed})
	if len(ss) != 2 || ss[0] != "pending" || ss[1] != "failed" {
		t.Errorf("statusStrings = %v", ss)
	}
	ts := typeStrings([]task.Type{task.TypeBackupCreation})
	if len(ts) != 1 || ts[0] != "backup_creation" {
		t.Errorf("typeStrings = %v", ts)
	}
}

func TestContainsPriority(t *testing.T) {
	want := []task.Priority{task.PriorityHigh, task.PriorityUrgent}
	if !containsPriority(want, int(task.PriorityHigh)) {
		t.Error("expected PriorityHigh to match")
	}
	if containsPriority(want, int(task.PriorityLow)) {
		t.Error("did not expect PriorityLow to match")
	}
}
