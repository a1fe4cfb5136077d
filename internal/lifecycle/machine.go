// Package lifecycle derives customer subscription lifecycle state from billing
// webhooks, idempotently and tolerant of out-of-order delivery.
package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/outlithq/outlit-go/internal/clock"
	"github.com/outlithq/outlit-go/internal/event"
	"github.com/outlithq/outlit-go/internal/webhook"
	"github.com/outlithq/outlit-go/pkg/telemetry"
	"go.uber.org/zap"
)

var (
	// ErrDuplicateEvent marks an already-applied webhook (same delivery ID).
	ErrDuplicateEvent = errors.New("duplicate webhook event")
	// ErrStaleEvent marks a webhook older than the customer's last transition.
	ErrStaleEvent = errors.New("stale webhook event")
)

// State is a customer's billing lifecycle stage.
type State string

const (
	StateNone     State = "none"
	StateTrialing State = "trialing"
	StatePaid     State = "paid"
	StateChurned  State = "churned"
)

// Customer is the lifecycle record keyed by the external billing customer ID.
type Customer struct {
	StripeCustomerID string
	Email            string
	State            State
	LastTransitionAt time.Time
	LastEventID      string
}

// Store persists lifecycle records by stripe customer ID.
type Store interface {
	Get(ctx context.Context, stripeCustomerID string) (Customer, bool, error)
	Put(ctx context.Context, customer Customer) error
}

// Sink receives the tracking event synthesized for an applied transition, so
// lifecycle changes flow through the same delivery pipeline as user events.
type Sink func(actorKey, name string, props event.Properties)

// Transition maps a webhook type to a target state and the tracking event it
// synthesizes. New webhook types extend the table without touching the
// machine's guard logic.
type Transition struct {
	Target    State
	EventName string
}

// DefaultTransitions covers the Stripe subscription lifecycle.
func DefaultTransitions() map[string]Transition {
	return map[string]Transition{
		"customer.subscription.created": {Target: StateTrialing, EventName: "customer_trialing"},
		"customer.subscription.updated": {Target: StatePaid, EventName: "customer_paid"},
		"customer.subscription.deleted": {Target: StateChurned, EventName: "customer_churned"},
		"invoice.payment_succeeded":     {Target: StatePaid, EventName: "payment_succeeded"},
	}
}

// Machine applies webhook events to customer lifecycle records. Transitions
// for one customer are serialized; different customers proceed in parallel.
type Machine struct {
	store       Store
	sink        Sink
	transitions map[string]Transition
	clock       clock.Clock
	log         *zap.Logger
	metrics     *telemetry.Metrics

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewMachine builds a machine over store with the default transition table.
func NewMachine(store Store, sink Sink, clk clock.Clock, logger *zap.Logger, metrics *telemetry.Metrics) *Machine {
	return &Machine{
		store:       store,
		sink:        sink,
		transitions: DefaultTransitions(),
		clock:       clk,
		log:         logger.Named("lifecycle"),
		metrics:     metrics,
		locks:       make(map[string]*sync.Mutex),
	}
}

// Apply runs the transition rule for one webhook event. Duplicate and stale
// deliveries are no-ops surfaced as sentinel errors for metrics; neither
// mutates state.
func (m *Machine) Apply(ctx context.Context, evt webhook.Event) error {
	if evt.CustomerID == "" {
		return webhook.ErrInvalidPayload
	}
	if evt.Email == "" {
		// No customer record is ever created without an identity.
		m.metrics.WebhookEvent("stripe", "unresolved")
		m.log.Warn("webhook missing customer email", zap.String("event_id", evt.ID))
		return webhook.ErrUnresolvedIdentity
	}

	lock := m.customerLock(evt.CustomerID)
	lock.Lock()
	defer lock.Unlock()

	customer, found, err := m.store.Get(ctx, evt.CustomerID)
	if err != nil {
		return err
	}
	if !found {
		customer = Customer{
			StripeCustomerID: evt.CustomerID,
			State:            StateNone,
		}
	}

	if evt.ID == customer.LastEventID {
		m.metrics.WebhookEvent("stripe", "duplicate")
		return ErrDuplicateEvent
	}
	if evt.OccurredAt.Before(customer.LastTransitionAt) {
		m.metrics.WebhookEvent("stripe", "stale")
		m.log.Info("stale webhook rejected",
			zap.String("event_id", evt.ID),
			zap.String("customer", evt.CustomerID),
			zap.Time("occurred_at", evt.OccurredAt),
			zap.Time("last_transition_at", customer.LastTransitionAt),
		)
		return ErrStaleEvent
	}

	transition, ok := m.transitions[evt.Type]
	if !ok {
		m.metrics.WebhookEvent("stripe", "ignored")
		return webhook.ErrEventIgnored
	}

	// Churned is terminal: re-entering the lifecycle needs a strictly newer
	// business timestamp, not merely a non-older one.
	if customer.State == StateChurned && transition.Target != StateChurned &&
		!evt.OccurredAt.After(customer.LastTransitionAt) {
		m.metrics.WebhookEvent("stripe", "stale")
		return ErrStaleEvent
	}

	customer.Email = evt.Email
	customer.State = transition.Target
	customer.LastTransitionAt = evt.OccurredAt
	customer.LastEventID = evt.ID
	if err := m.store.Put(ctx, customer); err != nil {
		return err
	}

	m.metrics.WebhookEvent("stripe", "applied")
	m.log.Info("lifecycle transition applied",
		zap.String("customer", evt.CustomerID),
		zap.String("state", string(transition.Target)),
		zap.String("event", transition.EventName),
	)

	if m.sink != nil {
		props := make(event.Properties, len(evt.Properties)+1)
		for k, v := range evt.Properties {
			props[k] = v
		}
		props["stripe_customer_id"] = evt.CustomerID
		m.sink(evt.Email, transition.EventName, props)
	}
	return nil
}

// Lookup returns the current lifecycle record for a billing customer.
func (m *Machine) Lookup(ctx context.Context, stripeCustomerID string) (Customer, bool, error) {
	return m.store.Get(ctx, stripeCustomerID)
}

// EmailFor looks up the known email for a billing customer, for adapters that
// need to resolve identity from prior transitions.
func (m *Machine) EmailFor(ctx context.Context, stripeCustomerID string) (string, error) {
	customer, found, err := m.store.Get(ctx, stripeCustomerID)
	if err != nil {
		return "", err
	}
	if !found || customer.Email == "" {
		return "", webhook.ErrUnresolvedIdentity
	}
	return customer.Email, nil
}

func (m *Machine) customerLock(customerID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[customerID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[customerID] = lock
	}
	return lock
}

// MemoryStore is the in-process Store used by single-instance clients.
type MemoryStore struct {
	mu        sync.RWMutex
	customers map[string]Customer
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{customers: make(map[string]Customer)}
}

func (s *MemoryStore) Get(_ context.Context, stripeCustomerID string) (Customer, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	customer, ok := s.customers[stripeCustomerID]
	return customer, ok, nil
}

func (s *MemoryStore) Put(_ context.Context, customer Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[customer.StripeCustomerID] = customer
	return nil
}
