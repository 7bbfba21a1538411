package eventbus

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/makermatrix/taskctl/internal/observability"
)

// RedisRelay mirrors every published event onto a Redis Pub/Sub channel.
// Grounded on control_plane/streaming/logger.go's Publisher stub (the
// teacher leaves a real backend for this interface as future work; here it
// is filled in with the teacher's own other dependency, go-redis, rather
// than introducing a messaging library the pack doesn't carry) and
// control_plane/store/redis.go's client construction.
//
// Not required by spec.md — a single-process deployment never needs it —
// but it lets a second API replica's websocket clients observe the same
// task lifecycle frames, which is a natural extension of the same Bus
// abstraction.
type RedisRelay struct {
	client  *redis.Client
	channel string
}

// NewRedisRelay constructs a relay publishing onto channel.
func NewRedisRelay(client *redis.Client, channel string) *RedisRelay {
	return &RedisRelay{client: client, channel: channel}
}

type wireEvent struct {
	Kind  Kind   `json:"kind"`
	Task  any    `json:"task,omitempty"`
	Log   any    `json:"log,omitempty"`
	Audit any    `json:"audit,omitempty"`
}

// Publish mirrors ev onto Redis. Failures are logged and swallowed — exactly
// the "best-effort, never fail the originating write" policy §4.4 requires
// of the primary in-process fan-out, extended here to the relay too.
func (r *RedisRelay) Publish(ctx context.Context, ev Event) {
	w := wireEvent{Kind: ev.Kind}
	switch ev.Kind {
	case KindTaskUpdate:
		w.Task = ev.Task
	case KindTaskLog:
		w.Log = ev.Log
	case KindAudit:
		w.Audit = ev.Audit
	}

	payload, err := json.Marshal(w)
	if err != nil {
		observability.Errorf("eventbus", "relay marshal failed: %v", err)
		return
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		observability.Errorf("eventbus", "relay publish failed: %v", err)
	}
}
