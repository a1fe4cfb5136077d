// Package event defines the canonical tracking event model shared by the
// capture pipeline and the delivery transport.
package event

import (
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Properties is an open bag of scalar/JSON-compatible values attached to an event.
type Properties map[string]any

// ConsentState records the actor's consent at capture time.
type ConsentState string

const (
	ConsentUnknown ConsentState = "unknown"
	ConsentGranted ConsentState = "granted"
	ConsentDenied  ConsentState = "denied"
)

// Event is a single tracked occurrence. Immutable once created.
type Event struct {
	ID         string       `json:"id"`
	ActorKey   string       `json:"actor_key"`
	Name       string       `json:"event_name"`
	Properties Properties   `json:"properties,omitempty"`
	OccurredAt time.Time    `json:"occurred_at"`
	Consent    ConsentState `json:"consent_state"`
}

// New builds an event with a generated ID. OccurredAt is the enqueue time.
func New(actorKey, name string, props Properties, at time.Time, consent ConsentState) Event {
	return Event{
		ID:         uuid.NewString(),
		ActorKey:   actorKey,
		Name:       name,
		Properties: props,
		OccurredAt: at.UTC(),
		Consent:    consent,
	}
}

// Batch is an ordered, size-bounded group of events assembled for one delivery
// attempt. Events keep enqueue order.
type Batch struct {
	ID     string  `json:"batch_id"`
	Events []Event `json:"events"`
}

// NewBatch assigns a ULID so delivery attempts are correlatable in logs.
func NewBatch(events []Event) Batch {
	return Batch{ID: ulid.Make().String(), Events: events}
}
