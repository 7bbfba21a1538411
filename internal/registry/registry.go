// Package registry implements the Handler Registry (spec §4.2): a mapping
// from task-type to a single handler instance, populated by explicit
// registration at program start rather than a directory scan (§9 redesign
// note on dynamic module discovery).
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/makermatrix/taskctl/internal/task"
)

// Handler is the §4.7 handler contract.
type Handler interface {
	Type() task.Type
	Name() string
	Description() string
	Execute(ctx context.Context, t task.Task, reporter Reporter) (map[string]any, error)
}

// Reporter is the narrow surface handlers call through, satisfied by
// *reporter.Reporter. Declared here (rather than imported) to avoid a
// registry -> reporter -> registry import cycle; reporter.Reporter
// structurally implements this interface.
type Reporter interface {
	Progress(pct int, step string)
	Step(s string)
	Log(level string, message string)
}

// Info is the metadata list() exposes, §4.2.
type Info struct {
	Type        task.Type
	Name        string
	Description string
}

// Registry is a one-shot, process-wide singleton map from type to handler.
// Handlers MUST be safe to invoke concurrently for different tasks (§4.2);
// the Registry itself only guards the map, not handler internals.
type Registry struct {
	mu       sync.RWMutex
	handlers map[task.Type]Handler
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{handlers: make(map[task.Type]Handler)}
}

// Register installs h under h.Type(). Registration is one-shot: calling it
// twice for the same type is a programmer error and panics, matching the
// teacher's fail-fast style for startup wiring mistakes (control_plane/main.go
// exits on construction errors rather than silently overwriting state).
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[h.Type()]; exists {
		panic(fmt.Sprintf("registry: handler for type %q already registered", h.Type()))
	}
	r.handlers[h.Type()] = h
}

// Lookup returns the handler for typ, if any.
func (r *Registry) Lookup(typ task.Type) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[typ]
	return h, ok
}

// List returns metadata for every registered handler, sorted by type for
// deterministic output.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.handlers))
	for _, h := range r.handlers {
		out = append(out, Info{Type: h.Type(), Name: h.Name(), Description: h.Description()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}
