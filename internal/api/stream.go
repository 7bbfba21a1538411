package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/makermatrix/taskctl/internal/eventbus"
	"github.com/makermatrix/taskctl/internal/observability"
)

// upgrader matches control_plane/api_stream.go's permissive CheckOrigin: CORS is
// already enforced at the HTTP layer by middleware.CORS, so the websocket
// upgrade itself doesn't re-check origin.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const writeWait = 10 * time.Second

// wireFrame is the newline-delimited JSON frame shape of §6.3: exactly one
// of TaskUpdate or TaskLog fields populated per kind.
type wireFrame struct {
	Kind    string           `json:"kind"`
	Task    json.RawMessage  `json:"task,omitempty"`
	TaskID  string           `json:"task_id,omitempty"`
	Level   string           `json:"level,omitempty"`
	Step    string           `json:"step,omitempty"`
	Message string           `json:"message,omitempty"`
	Ts      *time.Time       `json:"ts,omitempty"`
}

// handleStream upgrades to a websocket and pushes every TaskUpdate and
// TaskLog publication on the Event Bus as a newline-delimited JSON frame
// until the client disconnects; PolicyAudit events are not forwarded.
// Client authenticates once at connect (the Auth middleware already ran);
// thereafter the server only pushes, per §6.3.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		observability.Errorf("api", "websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sub := s.svc.Subscribe(r.Context())
	defer sub.Close()

	for ev := range sub.C {
		if ev.Kind != eventbus.KindTaskUpdate && ev.Kind != eventbus.KindTaskLog {
			continue
		}
		frame, err := toFrame(ev)
		if err != nil {
			observability.Errorf("api", "encode frame: %v", err)
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(frame); err != nil {
			return // client gone; Subscription.Close runs via defer
		}
	}
}

func toFrame(ev eventbus.Event) (wireFrame, error) {
	switch ev.Kind {
	case eventbus.KindTaskUpdate:
		raw, err := json.Marshal(ev.Task)
		if err != nil {
			return wireFrame{}, err
		}
		return wireFrame{Kind: "update", Task: raw}, nil
	case eventbus.KindTaskLog:
		ts := ev.Log.Ts
		return wireFrame{
			Kind:    "log",
			TaskID:  ev.Log.TaskID,
			Level:   string(ev.Log.Level),
			Step:    ev.Log.Step,
			Message: ev.Log.Message,
			Ts:      &ts,
		}, nil
	default:
		// Audit frames are not part of the external subscription contract
		// (§6.3 names only TaskUpdate/TaskLog); handleStream skips them
		// before calling toFrame, so they stay server-side.
		return wireFrame{Kind: string(ev.Kind)}, nil
	}
}
