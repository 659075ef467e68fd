// Package registry provides the process-wide session registry mapping a
// client name to its outbound transport handle. It lets a window flush
// reach a client other than the one that opened the subscription.
package registry

import (
	"sync"

	"github.com/thinkerajay/event-streamer-service/errors"
)

// Sender is the outbound transport handle owned by one client session.
// Send delivers one named event with a JSON-marshalable payload.
type Sender interface {
	Send(eventName string, payload any) error
}

// Registry maps client names to transport handles. Reads are frequent
// (every aggregation flush), writes happen only on session start and
// disconnect, so a reader-writer lock is sufficient.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Sender
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		sessions: make(map[string]Sender),
	}
}

// Register binds a client name to a transport handle. A second
// registration under the same name overwrites the first: reconnecting
// clients reclaim their name, and the latest handle wins.
func (r *Registry) Register(clientName string, handle Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[clientName] = handle
}

// Unregister removes a client's handle, but only while the name still
// maps to handle. A session closing after the client reconnected under
// the same name must not evict the newer handle. Removing an absent name
// is a no-op.
func (r *Registry) Unregister(clientName string, handle Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[clientName] == handle {
		delete(r.sessions, clientName)
	}
}

// Lookup returns the handle registered for clientName. Callers must treat
// ErrUnknownClient as fatal to the current flush only, never to the process.
func (r *Registry) Lookup(clientName string) (Sender, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handle, ok := r.sessions[clientName]
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrUnknownClient,
			"Registry", "Lookup", clientName)
	}
	return handle, nil
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
