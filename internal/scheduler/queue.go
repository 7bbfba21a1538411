// Package scheduler implements the Scheduler/Dispatcher (spec §4.5): a
// single long-lived dispatch loop plus one concurrent execution context per
// running task. Grounded throughout on control_plane/scheduler/scheduler.go,
// queue.go and limiter.go.
package scheduler

import (
	"container/heap"
	"sync"
	"time"

	"github.com/makermatrix/taskctl/internal/task"
)

// readyItem is one heap entry: a candidate task plus its heap index for
// container/heap bookkeeping.
type readyItem struct {
	task  task.Task
	index int
}

// priorityHeap orders by priority desc, then created_at asc — a strict
// two-key sort, not an aging curve. The teacher's queue.go adds an
// anti-starvation aging term to Less(); that term is deliberately dropped
// here because §4.5's ordering guarantee ("dispatch order matches priority
// desc, then creation time asc") is exactly a two-key sort and aging would
// violate it (see DESIGN.md "Adaptations"). The container/heap mechanism and
// the ThreadSafeQueue wrapper are kept as-is.
type priorityHeap []*readyItem

func (h priorityHeap) Len() int { return len(h) }

func (h priorityHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority > h[j].task.Priority
	}
	return h[i].task.CreatedAt.Before(h[j].task.CreatedAt)
}

func (h priorityHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *priorityHeap) Push(x any) {
	item := x.(*readyItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// ThreadSafeQueue wraps priorityHeap with a mutex, matching the teacher's
// ThreadSafeQueue in control_plane/scheduler/queue.go.
type ThreadSafeQueue struct {
	mu sync.Mutex
	h  priorityHeap
}

// NewQueue constructs an empty queue.
func NewQueue() *ThreadSafeQueue {
	q := &ThreadSafeQueue{}
	heap.Init(&q.h)
	return q
}

// Push adds t to the queue.
func (q *ThreadSafeQueue) Push(t task.Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	heap.Push(&q.h, &readyItem{task: t})
}

// Pop removes and returns the highest-priority, oldest-created task. ok is
// false if the queue is empty.
func (q *ThreadSafeQueue) Pop() (task.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.h.Len() == 0 {
		return task.Task{}, false
	}
	item := heap.Pop(&q.h).(*readyItem)
	return item.task, true
}

// Len reports the current queue depth.
func (q *ThreadSafeQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.Len()
}

// PushDelayed re-enqueues t after d without blocking the caller. The
// Dispatcher does not call it: a task held back by an incomplete dependency
// is simply found again by a later tick's ReadyToRun().
func (q *ThreadSafeQueue) PushDelayed(t task.Task, d time.Duration) {
	time.AfterFunc(d, func() { q.Push(t) })
}
