package memory

import (
	"sync"

	"assessment-attempt-service/internal/session"
)

// ViewRegistry is an in-memory implementation of session.Registry.
type ViewRegistry struct {
	mu    sync.RWMutex
	views map[string]map[*session.Controller]struct{}
}

func NewViewRegistry() *ViewRegistry {
	return &ViewRegistry{
		views: make(map[string]map[*session.Controller]struct{}),
	}
}

func (r *ViewRegistry) Register(attemptID string, c *session.Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.views[attemptID]
	if !ok {
		set = make(map[*session.Controller]struct{})
		r.views[attemptID] = set
	}
	set[c] = struct{}{}
}

func (r *ViewRegistry) Unregister(attemptID string, c *session.Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.views[attemptID]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(r.views, attemptID)
	}
}

func (r *ViewRegistry) Peers(attemptID string) []*session.Controller {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.views[attemptID]
	out := make([]*session.Controller, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}
