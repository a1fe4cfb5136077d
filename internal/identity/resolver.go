// Package identity reconciles anonymous and identified actor references onto
// one event stream.
package identity

import (
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/outlithq/outlit-go/internal/event"
)

// Ref is how callers name an actor. Email wins over UserID; an empty ref means
// the client's own anonymous session.
type Ref struct {
	AnonymousID string
	Email       string
	UserID      string
}

// Key picks the strongest identifier present on the ref itself.
func (r Ref) Key() string {
	if email := strings.TrimSpace(r.Email); email != "" {
		return email
	}
	if id := strings.TrimSpace(r.UserID); id != "" {
		return id
	}
	return ""
}

// Resolver maps actor refs to stable actor keys. The anonymous-to-identified
// merge is one-directional: once an anonymous ID is identified it never
// reverts, though re-identifying with a different key overwrites the mapping.
type Resolver struct {
	mu          sync.RWMutex
	anonymousID string
	identified  map[string]string           // anonymous ID -> identified key
	traits      map[string]event.Properties // identified key -> traits
}

// NewResolver generates a fresh session-scoped anonymous ID.
func NewResolver() *Resolver {
	return &Resolver{
		anonymousID: "anon_" + uuid.NewString(),
		identified:  make(map[string]string),
		traits:      make(map[string]event.Properties),
	}
}

// AnonymousID returns the client's own anonymous identifier.
func (r *Resolver) AnonymousID() string {
	return r.anonymousID
}

// Resolve returns the actor key events for ref should be attributed to.
func (r *Resolver) Resolve(ref Ref) string {
	if key := ref.Key(); key != "" {
		return key
	}

	anonID := strings.TrimSpace(ref.AnonymousID)
	if anonID == "" {
		anonID = r.anonymousID
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if key, ok := r.identified[anonID]; ok {
		return key
	}
	return anonID
}

// Identify binds anonID (or the session's own anonymous ID when empty) to key.
// Previously queued anonymous events are not rewritten; only events enqueued
// after this call carry the identified key.
func (r *Resolver) Identify(anonID, key string, traits event.Properties) {
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}
	anonID = strings.TrimSpace(anonID)
	if anonID == "" {
		anonID = r.anonymousID
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.identified[anonID] = key
	if len(traits) > 0 {
		merged := make(event.Properties, len(traits))
		for k, v := range r.traits[key] {
			merged[k] = v
		}
		for k, v := range traits {
			merged[k] = v
		}
		r.traits[key] = merged
	}
}

// Traits returns the accumulated traits for an identified key.
func (r *Resolver) Traits(key string) event.Properties {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.traits[key]
}
