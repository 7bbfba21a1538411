package scheduler

import (
	"testing"
	"time"

	"github.com/makermatrix/taskctl/internal/task"
)

func TestQueuePopOrderingPriorityThenCreatedAt(t *testing.T) {
	q := NewQueue()
	now := time.Now().UTC()

	q.Push(task.Task{ID: "low", Priority: task.PriorityLow, CreatedAt: now})
	q.Push(task.Task{ID: "urgent-later", Priority: task.PriorityUrgent, CreatedAt: now.Add(time.Second)})
	q.Push(task.Task{ID: "urgent-earlier", Priority: task.PriorityUrgent, CreatedAt: now.Add(-time.Second)})
	q.Push(task.Task{ID: "normal", Priority: task.PriorityNormal, CreatedAt: now})

	want := []string{"urgent-earlier", "urgent-later", "normal", "low"}
	for _, id := range want {
		got, ok := q.Pop()
		if !ok {
			t.Fatalf("expected another item, queue empty")
		}
		if got.ID != id {
			t.Errorf("pop order: got %s, want %s", got.ID, id)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Error("expected queue to be empty")
	}
}

func TestQueueLen(t *testing.T) {
	q := NewQueue()
	if q.Len() != 0 {
		t.Fatalf("len = %d, want 0", q.Len())
	}
	q.Push(task.Task{ID: "a"})
	q.Push(task.Task{ID: "b"})
	if q.Len() != 2 {
		t.Errorf("len = %d, want 2", q.Len())
	}
	q.Pop()
	if q.Len() != 1 {
		t.Errorf("len = %d, want 1", q.Len())
	}
}

func TestQueuePushDelayed(t *testing.T) {
	q := NewQueue()
	q.PushDelayed(task.Task{ID: "delayed"}, 20*time.Millisecond)
	if q.Len() != 0 {
		t.Fatalf("expected delayed push to not appear immediately")
	}
	time.Sleep(100 * time.Millisecond)
	if q.Len() != 1 {
		t.Errorf("expected delayed push to appear after delay, len = %d", q.Len())
	}
}
