package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/makermatrix/taskctl/internal/task"
)

func TestPublishTaskUpdateDeliversToSubscriber(t *testing.T) {
	b := New()
	defer b.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := b.Subscribe(ctx)

	snap := task.Task{ID: "t1"}.Snapshot()
	b.PublishTaskUpdate(snap)

	select {
	case ev := <-sub.C:
		if ev.Kind != KindTaskUpdate || ev.Task.ID != "t1" {
			t.Errorf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSubscribeClosesWithContext(t *testing.T) {
	b := New()
	defer b.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	sub := b.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-sub.C:
		if ok {
			t.Fatal("expected channel to be closed after context cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscription channel to close")
	}
}

func TestPublishDropsSlowSubscriberRatherThanBlocking(t *testing.T) {
	b := New()
	defer b.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := b.Subscribe(ctx)

	// Flood well past the bounded per-subscriber buffer without ever
	// draining sub.C; the bus must not block the publisher.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBufferSize*4; i++ {
			b.PublishTaskUpdate(task.Task{ID: "flood"}.Snapshot())
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publisher appears to be blocked by a slow subscriber")
	}
}

func TestPublishAuditDefaultsTimestamp(t *testing.T) {
	b := New()
	defer b.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := b.Subscribe(ctx)

	b.PublishAudit(PolicyAudit{Actor: "u1", Allowed: true})

	select {
	case ev := <-sub.C:
		if ev.Kind != KindAudit || ev.Audit.Ts.IsZero() {
			t.Errorf("expected timestamped audit event, got %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for audit event")
	}
}
