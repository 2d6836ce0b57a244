package redis

import (
	"context"
	"sync"
	"time"

	"assessment-attempt-service/internal/session"
	"github.com/redis/go-redis/v9"
)

// ViewRegistry is a Redis-aware implementation of session.Registry.
// Controllers live in a local map; Redis carries a liveness marker per
// attempt with open views so other instances and operators can see them.
type ViewRegistry struct {
	client *redis.Client
	ttl    time.Duration
	mu     sync.RWMutex
	views  map[string]map[*session.Controller]struct{}
}

func NewViewRegistry(client *redis.Client, ttl time.Duration) *ViewRegistry {
	return &ViewRegistry{
		client: client,
		ttl:    ttl,
		views:  make(map[string]map[*session.Controller]struct{}),
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
	// best-effort liveness marker
	_ = r.client.Set(context.Background(), r.key(attemptID), len(set), r.ttl).Err()
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
		_ = r.client.Del(context.Background(), r.key(attemptID)).Err()
		return
	}
	_ = r.client.Set(context.Background(), r.key(attemptID), len(set), r.ttl).Err()
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

func (r *ViewRegistry) key(attemptID string) string {
	return "attempt:views:" + attemptID
}
