package handlers

import (
	"sort"
	"sync"

	"github.com/alexsaulik/promptfolio/pkg/schema"
)

// Registry is the concrete thread-safe HandlerRegistry, keyed by step kind.
type Registry struct {
	mu       sync.RWMutex
	handlers map[schema.StepKind]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[schema.StepKind]Handler),
	}
}

// Register adds a handler. Returns error on an unknown or duplicate kind.
func (r *Registry) Register(h Handler) error {
	if h == nil {
		return schema.NewError(schema.ErrCodeValidation, "handler is nil")
	}
	kind := h.Kind()
	if !kind.Valid() {
		return schema.NewErrorf(schema.ErrCodeValidation, "unknown step kind %q", kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[kind]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "handler for %q already registered", kind)
	}
	r.handlers[kind] = h
	return nil
}

// Get retrieves the handler for kind.
func (r *Registry) Get(kind schema.StepKind) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[kind]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeHandlerUnavailable, "no handler registered for %q", kind)
	}
	return h, nil
}

// List returns info for all registered handlers, sorted by kind.
func (r *Registry) List() []HandlerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]HandlerInfo, 0, len(r.handlers))
	for _, h := range r.handlers {
		infos = append(infos, HandlerInfo{Kind: h.Kind(), Description: h.Description()})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Kind < infos[j].Kind
	})
	return infos
}

// Has checks if a handler is registered for kind.
func (r *Registry) Has(kind schema.StepKind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[kind]
	return ok
}

var _ HandlerRegistry = (*Registry)(nil)
