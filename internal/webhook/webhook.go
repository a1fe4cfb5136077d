// Package webhook defines the billing webhook model and the provider adapter
// registry. Adapters verify signatures at the boundary and parse provider
// payloads into the canonical Event consumed by the lifecycle state machine.
package webhook

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/outlithq/outlit-go/internal/event"
)

var (
	ErrInvalidSignature   = errors.New("invalid webhook signature")
	ErrInvalidPayload     = errors.New("invalid webhook payload")
	ErrEventIgnored       = errors.New("webhook event ignored")
	ErrUnknownProvider    = errors.New("unknown webhook provider")
	ErrUnresolvedIdentity = errors.New("webhook customer has no resolvable email")
)

// Event is a canonical billing notification. Externally supplied; never
// mutated by the core. OccurredAt is the authoritative business timestamp,
// distinct from delivery time.
type Event struct {
	ID         string
	Type       string
	OccurredAt time.Time
	CustomerID string
	Email      string
	Properties event.Properties
}

// Adapter verifies and parses one provider's payloads.
type Adapter interface {
	Provider() string
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*Event, error)
}

// Registry looks up adapters by provider name.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	registry := &Registry{adapters: map[string]Adapter{}}
	for _, adapter := range adapters {
		if adapter == nil {
			continue
		}
		provider := strings.ToLower(strings.TrimSpace(adapter.Provider()))
		if provider == "" {
			continue
		}
		registry.adapters[provider] = adapter
	}
	return registry
}

func (r *Registry) Get(provider string) (Adapter, error) {
	if r == nil {
		return nil, ErrUnknownProvider
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	adapter, ok := r.adapters[provider]
	if !ok {
		return nil, ErrUnknownProvider
	}
	return adapter, nil
}
