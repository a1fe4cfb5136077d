package outlit

import (
	"errors"

	"github.com/outlithq/outlit-go/internal/clock"
	"github.com/outlithq/outlit-go/internal/consent"
	"github.com/outlithq/outlit-go/internal/delivery"
	"github.com/outlithq/outlit-go/internal/event"
	"github.com/outlithq/outlit-go/internal/flusher"
	"github.com/outlithq/outlit-go/internal/identity"
	"github.com/outlithq/outlit-go/internal/lifecycle"
	"github.com/outlithq/outlit-go/internal/webhook"
)

// Aliases exposing the stable surface of the internal packages, so callers can
// name property bags, implement stores, or plug in transports without
// importing internals.
type (
	// Properties is an open bag of scalar/JSON-compatible event properties.
	Properties = event.Properties
	// Event is a captured tracking event.
	Event = event.Event
	// Batch is one delivery attempt's worth of events.
	Batch = event.Batch
	// Transport delivers batches to the collection endpoint.
	Transport = delivery.Transport
	// Clock abstracts wall-clock access for tests.
	Clock = clock.Clock
	// Ref names an actor: an anonymous session ID, an email, or a user ID.
	Ref = identity.Ref

	// ConsentState is an actor's consent state.
	ConsentState = consent.State
	// ConsentRecord is a stored consent decision.
	ConsentRecord = consent.Record
	// ConsentStore persists consent records; implementations may be backed by
	// external storage for multi-instance deployments.
	ConsentStore = consent.Store

	// LifecycleState is a customer's billing lifecycle stage.
	LifecycleState = lifecycle.State
	// Customer is a billing customer's lifecycle record.
	Customer = lifecycle.Customer
	// CustomerStore persists customer lifecycle records.
	CustomerStore = lifecycle.Store

	// WebhookEvent is a canonical billing webhook notification.
	WebhookEvent = webhook.Event
	// WebhookAdapter verifies and parses one billing provider's payloads.
	WebhookAdapter = webhook.Adapter
)

// Consent states.
const (
	ConsentUnknown = consent.StateUnknown
	ConsentGranted = consent.StateGranted
	ConsentDenied  = consent.StateDenied
)

// Lifecycle states.
const (
	LifecycleNone     = lifecycle.StateNone
	LifecycleTrialing = lifecycle.StateTrialing
	LifecyclePaid     = lifecycle.StatePaid
	LifecycleChurned  = lifecycle.StateChurned
)

// Construction-time errors.
var (
	// ErrMissingAPIKey is returned by New when no API key is configured.
	ErrMissingAPIKey = errors.New("outlit: missing API key")
)

// Runtime sentinels, matched with errors.Is.
var (
	// ErrClosed is returned by webhook ingestion after Shutdown.
	ErrClosed = errors.New("outlit: client closed")
	// ErrInvalidSignature rejects a webhook at the boundary without mutation.
	ErrInvalidSignature = webhook.ErrInvalidSignature
	// ErrEventIgnored marks webhook types outside the lifecycle table.
	ErrEventIgnored = webhook.ErrEventIgnored
	// ErrUnresolvedIdentity marks a webhook without a resolvable email.
	ErrUnresolvedIdentity = webhook.ErrUnresolvedIdentity
	// ErrUnknownProvider marks a webhook for an unconfigured provider.
	ErrUnknownProvider = webhook.ErrUnknownProvider
	// ErrDuplicateWebhook marks an already-applied webhook delivery.
	ErrDuplicateWebhook = lifecycle.ErrDuplicateEvent
	// ErrStaleWebhook marks a webhook older than the last applied transition.
	ErrStaleWebhook = lifecycle.ErrStaleEvent
	// ErrDeliveryFailed marks a batch that exhausted its delivery retries.
	ErrDeliveryFailed = delivery.ErrDeliveryFailed
	// ErrFlushIncomplete reports that a final flush left events undelivered.
	ErrFlushIncomplete = flusher.ErrFlushIncomplete
)
