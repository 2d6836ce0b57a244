package session

import "assessment-attempt-service/internal/domain"

// Registry tracks the open views of each attempt.
type Registry interface {
	Register(attemptID string, c *Controller)
	Unregister(attemptID string, c *Controller)
	Peers(attemptID string) []*Controller
}

// FreezePeers disarms every other open view of a submitted attempt.
func FreezePeers(r Registry, attempt domain.Attempt, from *Controller) {
	for _, peer := range r.Peers(attempt.ID) {
		if peer != from {
			peer.Disarm(attempt)
		}
	}
}
