// Package api implements the External Interface Adapter (spec §6, C10):
// the REST + websocket seam over the Task Service Façade. Per §2 this layer
// "is not part of the core logic but specified at its seam" — it only
// translates HTTP/JSON into Façade calls and Façade results back into
// HTTP/JSON. Grounded on control_plane/api.go's single-struct-of-routes
// shape, rebuilt on go-chi/chi/v5 (jordigilh-kubernaut go.mod) in place of
// the teacher's manual strings.Split(r.URL.Path, "/") parsing, since this
// spec's path-param surface (/tasks/{id}, /tasks/{id}/cancel, .../retry) is
// exactly what chi's router exists for.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/makermatrix/taskctl/internal/api/middleware"
	"github.com/makermatrix/taskctl/internal/scheduler"
	"github.com/makermatrix/taskctl/internal/service"
	"github.com/makermatrix/taskctl/internal/store"
	"github.com/makermatrix/taskctl/internal/task"
)

// Server bundles the Façade behind an http.Handler.
type Server struct {
	svc *service.Service
}

// NewServer constructs the adapter. resolve authenticates a bearer token
// into an Actor (see middleware.CapabilityResolver); allowedOrigins
// configures CORS.
func NewServer(svc *service.Service, resolve middleware.CapabilityResolver, allowedOrigins []string) http.Handler {
	s := &Server{svc: svc}
	submitLimiter := scheduler.NewRateLimiter(5, 10)

	r := chi.NewRouter()
	r.Use(middleware.CORS(allowedOrigins))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(resolve))

		r.Route("/tasks", func(r chi.Router) {
			r.With(middleware.IngressLimit(submitLimiter)).Post("/", s.handleSubmit)
			r.Get("/", s.handleList)
			r.Get("/types", s.handleListTypes)
			r.Get("/stream", s.handleStream)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGet)
				r.Patch("/", s.handleUpdate)
				r.Delete("/", s.handleDelete)
				r.Post("/cancel", s.handleCancel)
				r.Post("/retry", s.handleRetry)
			})
		})
	})

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "worker_active": s.svc.IsWorkerActive()})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req task.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	actor, _ := middleware.ActorFromContext(r.Context())

	t, err := s.svc.Submit(r.Context(), req, actor)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t.Snapshot())
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, err := s.svc.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t.Snapshot())
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.Filter{
		UserID:            q.Get("user_id"),
		RelatedEntityType: q.Get("related_entity_type"),
		RelatedEntityID:   q.Get("related_entity_id"),
		OrderBy:           q.Get("order_by"),
		Desc:              q.Get("desc") == "true",
	}
	for _, v := range q["status"] {
		filter.Statuses = append(filter.Statuses, task.Status(v))
	}
	for _, v := range q["type"] {
		filter.Types = append(filter.Types, task.Type(v))
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	tasks, err := s.svc.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	snaps := make([]task.Snapshot, len(tasks))
	for i, t := range tasks {
		snaps[i] = t.Snapshot()
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) handleListTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.ListHandlers())
}

// updatePayload is the PATCH /tasks/{id} wire body, restricted to the
// externally-patchable field set of §4.9.
type updatePayload struct {
	Status       *task.Status   `json:"status,omitempty"`
	Progress     *int           `json:"progress,omitempty"`
	CurrentStep  *string        `json:"current_step,omitempty"`
	Result       map[string]any `json:"result,omitempty"`
	ErrorMessage *string        `json:"error_message,omitempty"`
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body updatePayload
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	t, err := s.svc.Update(r.Context(), id, service.UpdateRequest{
		Status:       body.Status,
		Progress:     body.Progress,
		CurrentStep:  body.CurrentStep,
		Result:       body.Result,
		ErrorMessage: body.ErrorMessage,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t.Snapshot())
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.svc.Delete(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ok, err := s.svc.Cancel(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": ok})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, err := s.svc.Retry(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeServiceError maps the §7 error taxonomy to HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, task.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, task.ErrPolicyDenied):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, task.ErrIllegalTransition):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
