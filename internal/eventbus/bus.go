// Package eventbus implements the Event Bus (spec §4.4): a broadcast channel
// of TaskUpdate/TaskLog/PolicyAudit events, fanning out to N subscribers with
// bounded per-subscriber buffers. Grounded on control_plane/ws_hub.go's
// MetricsHub register/unregister/broadcast channel pattern.
package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/makermatrix/taskctl/internal/task"
)

// Kind distinguishes the frame shapes carried over the bus and the wire
// (§6.3).
type Kind string

const (
	KindTaskUpdate Kind = "update"
	KindTaskLog    Kind = "log"
	KindAudit      Kind = "audit"
)

// Level is the severity of a TaskLog frame.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event is the envelope published on the bus. Exactly one of Task/Log/Audit
// is populated, selected by Kind.
type Event struct {
	Kind Kind
	Task *task.Snapshot
	Log  *TaskLog
	Audit *PolicyAudit
}

// TaskLog is a structured log line scoped to one task, §4.4.
type TaskLog struct {
	TaskID  string
	Level   Level
	Message string
	Step    string
	Ts      time.Time
}

// PolicyAudit is emitted by the Policy Engine for every Allow/Deny outcome,
// §4.3.
type PolicyAudit struct {
	Actor   string
	Type    task.Type
	Allowed bool
	Reason  string
	Ts      time.Time
}

// subscriberBufferSize bounds each subscriber's channel; a slow subscriber is
// dropped rather than allowed to backpressure the publisher (§4.4).
const subscriberBufferSize = 64

// Subscription is a live feed of events, owned exclusively by the Event Bus
// per §3 "Ownership".
type Subscription struct {
	C <-chan Event

	bus *Bus
	ch  chan Event
}

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.bus.unregister <- s.ch
}

// Bus is the in-process pub/sub hub. Grounded on MetricsHub's
// register/unregister/broadcast channel trio, generalized from websocket
// connections to typed event channels.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}

	register   chan chan Event
	unregister chan chan Event
	publish    chan Event

	relay Relay // optional cross-process mirror, nil by default

	done chan struct{}
}

// Relay mirrors published events to an external transport (e.g. Redis
// Pub/Sub) so a second API replica's subscribers can also observe them. Not
// required by spec.md (Non-goals exclude distributed scheduling); purely
// ambient enrichment, off by default.
type Relay interface {
	Publish(ctx context.Context, ev Event)
}

// New constructs a Bus and starts its broadcast loop. Call Stop to release
// the goroutine.
func New() *Bus {
	b := &Bus{
		subscribers: make(map[chan Event]struct{}),
		register:    make(chan chan Event),
		unregister:  make(chan chan Event),
		publish:     make(chan Event, 256),
		done:        make(chan struct{}),
	}
	go b.run()
	return b
}

// SetRelay installs an optional cross-process mirror. Not safe to call
// concurrently with Publish.
func (b *Bus) SetRelay(r Relay) {
	b.relay = r
}

func (b *Bus) run() {
	for {
		select {
		case ch := <-b.register:
			b.mu.Lock()
			b.subscribers[ch] = struct{}{}
			b.mu.Unlock()
		case ch := <-b.unregister:
			b.mu.Lock()
			if _, ok := b.subscribers[ch]; ok {
				delete(b.subscribers, ch)
				close(ch)
			}
			b.mu.Unlock()
		case ev := <-b.publish:
			b.mu.RLock()
			for ch := range b.subscribers {
				select {
				case ch <- ev:
				default:
					// Buffer full: drop this subscriber rather than
					// backpressure the producer, per §4.4.
					go func(ch chan Event) { b.unregister <- ch }(ch)
				}
			}
			b.mu.RUnlock()
			if b.relay != nil {
				b.relay.Publish(context.Background(), ev)
			}
		case <-b.done:
			b.mu.Lock()
			for ch := range b.subscribers {
				close(ch)
			}
			b.subscribers = nil
			b.mu.Unlock()
			return
		}
	}
}

// Publish is best-effort and non-blocking on the caller: publication never
// fails the originating Store write (§4.4).
func (b *Bus) Publish(ev Event) {
	select {
	case b.publish <- ev:
	default:
		// Internal publish queue saturated; drop rather than block the
		// writer. This mirrors the teacher's own "best-effort, non-critical"
		// policy for publishEventAsync in control_plane/reconciler.go.
	}
}

// Subscribe registers a new bounded-buffer subscriber. The subscription is
// automatically closed when ctx is done.
func (b *Bus) Subscribe(ctx context.Context) *Subscription {
	ch := make(chan Event, subscriberBufferSize)
	b.register <- ch
	sub := &Subscription{C: ch, bus: b, ch: ch}
	go func() {
		<-ctx.Done()
		sub.Close()
	}()
	return sub
}

// Stop tears down the broadcast loop and closes every subscriber channel.
func (b *Bus) Stop() {
	close(b.done)
}

// PublishTaskUpdate is a convenience wrapper used throughout the Reporter
// and Scheduler.
func (b *Bus) PublishTaskUpdate(snap task.Snapshot) {
	b.Publish(Event{Kind: KindTaskUpdate, Task: &snap})
}

// PublishTaskLog is a convenience wrapper used by the Reporter.
func (b *Bus) PublishTaskLog(l TaskLog) {
	if l.Ts.IsZero() {
		l.Ts = time.Now().UTC()
	}
	b.Publish(Event{Kind: KindTaskLog, Log: &l})
}

// PublishAudit is used by the Policy Engine for every Allow/Deny outcome.
func (b *Bus) PublishAudit(a PolicyAudit) {
	if a.Ts.IsZero() {
		a.Ts = time.Now().UTC()
	}
	b.Publish(Event{Kind: KindAudit, Audit: &a})
}
