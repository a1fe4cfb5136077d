package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/outlithq/outlit-go/internal/clock"
	"github.com/outlithq/outlit-go/internal/event"
	"github.com/outlithq/outlit-go/internal/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type capturedEvent struct {
	actorKey string
	name     string
	props    event.Properties
}

type sinkRecorder struct {
	mu     sync.Mutex
	events []capturedEvent
}

func (r *sinkRecorder) sink(actorKey, name string, props event.Properties) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, capturedEvent{actorKey: actorKey, name: name, props: props})
}

func (r *sinkRecorder) all() []capturedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]capturedEvent, len(r.events))
	copy(out, r.events)
	return out
}

func newMachine(t *testing.T) (*Machine, *MemoryStore, *sinkRecorder) {
	t.Helper()
	store := NewMemoryStore()
	recorder := &sinkRecorder{}
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	return NewMachine(store, recorder.sink, clk, zap.NewNop(), nil), store, recorder
}

func whEvent(id, eventType string, occurredAt time.Time) webhook.Event {
	return webhook.Event{
		ID:         id,
		Type:       eventType,
		OccurredAt: occurredAt,
		CustomerID: "cus_42",
		Email:      "user@example.com",
		Properties: event.Properties{"plan": "pro_monthly"},
	}
}

func TestSubscriptionCreatedStartsTrial(t *testing.T) {
	m, store, recorder := newMachine(t)
	at := time.Unix(100, 0).UTC()

	require.NoError(t, m.Apply(context.Background(), whEvent("evt_1", "customer.subscription.created", at)))

	customer, found, err := store.Get(context.Background(), "cus_42")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, StateTrialing, customer.State)
	assert.Equal(t, at, customer.LastTransitionAt)
	assert.Equal(t, "evt_1", customer.LastEventID)
	assert.Equal(t, "user@example.com", customer.Email)

	events := recorder.all()
	require.Len(t, events, 1)
	assert.Equal(t, "customer_trialing", events[0].name)
	assert.Equal(t, "user@example.com", events[0].actorKey)
	assert.Equal(t, "cus_42", events[0].props["stripe_customer_id"])
}

func TestDuplicateDeliveryAppliesOnce(t *testing.T) {
	m, store, recorder := newMachine(t)
	evt := whEvent("evt_1", "customer.subscription.created", time.Unix(100, 0).UTC())

	require.NoError(t, m.Apply(context.Background(), evt))
	err := m.Apply(context.Background(), evt)
	require.ErrorIs(t, err, ErrDuplicateEvent)

	customer, _, _ := store.Get(context.Background(), "cus_42")
	assert.Equal(t, StateTrialing, customer.State)
	assert.Len(t, recorder.all(), 1)
}

func TestStaleDeliveryNeverTransitions(t *testing.T) {
	m, store, recorder := newMachine(t)

	// subscription.created at t=100 arrives first.
	require.NoError(t, m.Apply(context.Background(), whEvent("evt_1", "customer.subscription.created", time.Unix(100, 0).UTC())))

	// subscription.deleted at t=50 arrives late; state stays trialing and no
	// churn event is synthesized.
	err := m.Apply(context.Background(), whEvent("evt_2", "customer.subscription.deleted", time.Unix(50, 0).UTC()))
	require.ErrorIs(t, err, ErrStaleEvent)

	customer, _, _ := store.Get(context.Background(), "cus_42")
	assert.Equal(t, StateTrialing, customer.State)
	for _, captured := range recorder.all() {
		assert.NotEqual(t, "customer_churned", captured.name)
	}
}

func TestInvoicePaymentUpgradesTrialToPaid(t *testing.T) {
	m, store, recorder := newMachine(t)
	require.NoError(t, m.Apply(context.Background(), whEvent("evt_1", "customer.subscription.created", time.Unix(100, 0).UTC())))

	invoice := webhook.Event{
		ID:         "evt_2",
		Type:       "invoice.payment_succeeded",
		OccurredAt: time.Unix(200, 0).UTC(),
		CustomerID: "cus_42",
		Email:      "user@example.com",
		Properties: event.Properties{"amount": 49.0, "currency": "usd"},
	}
	require.NoError(t, m.Apply(context.Background(), invoice))

	customer, _, _ := store.Get(context.Background(), "cus_42")
	assert.Equal(t, StatePaid, customer.State)

	events := recorder.all()
	require.Len(t, events, 2)
	assert.Equal(t, "payment_succeeded", events[1].name)
	assert.Equal(t, 49.0, events[1].props["amount"])
	assert.Equal(t, "usd", events[1].props["currency"])
}

func TestRenewalSelfLoopAdvancesTimestamp(t *testing.T) {
	m, store, _ := newMachine(t)
	require.NoError(t, m.Apply(context.Background(), whEvent("evt_1", "customer.subscription.updated", time.Unix(100, 0).UTC())))
	require.NoError(t, m.Apply(context.Background(), whEvent("evt_2", "invoice.payment_succeeded", time.Unix(200, 0).UTC())))

	customer, _, _ := store.Get(context.Background(), "cus_42")
	assert.Equal(t, StatePaid, customer.State)
	assert.Equal(t, time.Unix(200, 0).UTC(), customer.LastTransitionAt)
	assert.Equal(t, "evt_2", customer.LastEventID)
}

func TestChurnedIsTerminalWithoutNewerTimestamp(t *testing.T) {
	m, store, _ := newMachine(t)
	at := time.Unix(100, 0).UTC()
	require.NoError(t, m.Apply(context.Background(), whEvent("evt_1", "customer.subscription.deleted", at)))

	// Same business timestamp cannot restart the lifecycle after churn.
	err := m.Apply(context.Background(), whEvent("evt_2", "customer.subscription.created", at))
	require.ErrorIs(t, err, ErrStaleEvent)

	// A strictly newer event starts a fresh lifecycle.
	require.NoError(t, m.Apply(context.Background(), whEvent("evt_3", "customer.subscription.created", at.Add(time.Second))))
	customer, _, _ := store.Get(context.Background(), "cus_42")
	assert.Equal(t, StateTrialing, customer.State)
}

func TestMissingEmailDiscardsWithoutRecord(t *testing.T) {
	m, store, recorder := newMachine(t)
	evt := whEvent("evt_1", "customer.subscription.created", time.Unix(100, 0).UTC())
	evt.Email = ""

	err := m.Apply(context.Background(), evt)
	require.ErrorIs(t, err, webhook.ErrUnresolvedIdentity)

	_, found, _ := store.Get(context.Background(), "cus_42")
	assert.False(t, found)
	assert.Empty(t, recorder.all())
}

func TestUnknownTypeIgnored(t *testing.T) {
	m, _, recorder := newMachine(t)

	err := m.Apply(context.Background(), whEvent("evt_1", "charge.refunded", time.Unix(100, 0).UTC()))
	require.ErrorIs(t, err, webhook.ErrEventIgnored)
	assert.Empty(t, recorder.all())
}

func TestConcurrentWebhooksSerializePerCustomer(t *testing.T) {
	m, store, _ := newMachine(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			evt := whEvent("evt_same", "customer.subscription.created", time.Unix(100, 0).UTC())
			_ = m.Apply(context.Background(), evt)
		}(i)
	}
	wg.Wait()

	customer, found, err := store.Get(context.Background(), "cus_42")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, StateTrialing, customer.State)
	assert.Equal(t, "evt_same", customer.LastEventID)
}

func TestEmailForResolvesKnownCustomer(t *testing.T) {
	m, _, _ := newMachine(t)
	require.NoError(t, m.Apply(context.Background(), whEvent("evt_1", "customer.subscription.created", time.Unix(100, 0).UTC())))

	email, err := m.EmailFor(context.Background(), "cus_42")
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", email)

	_, err = m.EmailFor(context.Background(), "cus_unknown")
	require.ErrorIs(t, err, webhook.ErrUnresolvedIdentity)
}

type storeMock struct {
	mock.Mock
}

func (m *storeMock) Get(ctx context.Context, stripeCustomerID string) (Customer, bool, error) {
	args := m.Called(ctx, stripeCustomerID)
	return args.Get(0).(Customer), args.Bool(1), args.Error(2)
}

func (m *storeMock) Put(ctx context.Context, customer Customer) error {
	args := m.Called(ctx, customer)
	return args.Error(0)
}

func TestStoreGetErrorPropagates(t *testing.T) {
	store := &storeMock{}
	store.On("Get", mock.Anything, "cus_42").Return(Customer{}, false, errors.New("connection reset"))

	recorder := &sinkRecorder{}
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	m := NewMachine(store, recorder.sink, clk, zap.NewNop(), nil)

	err := m.Apply(context.Background(), whEvent("evt_1", "customer.subscription.created", time.Unix(100, 0).UTC()))
	require.EqualError(t, err, "connection reset")
	assert.Empty(t, recorder.all())
	store.AssertExpectations(t)
}

func TestStorePutErrorSuppressesSink(t *testing.T) {
	store := &storeMock{}
	store.On("Get", mock.Anything, "cus_42").Return(Customer{}, false, nil)
	store.On("Put", mock.Anything, mock.AnythingOfType("lifecycle.Customer")).Return(errors.New("write failed"))

	recorder := &sinkRecorder{}
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	m := NewMachine(store, recorder.sink, clk, zap.NewNop(), nil)

	err := m.Apply(context.Background(), whEvent("evt_1", "customer.subscription.created", time.Unix(100, 0).UTC()))
	require.EqualError(t, err, "write failed")
	assert.Empty(t, recorder.all())
	store.AssertExpectations(t)
}
