package outlit

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/outlithq/outlit-go/internal/clock"
	"github.com/outlithq/outlit-go/internal/consent"
	"github.com/outlithq/outlit-go/internal/delivery"
	"github.com/outlithq/outlit-go/internal/event"
	"github.com/outlithq/outlit-go/internal/flusher"
	"github.com/outlithq/outlit-go/internal/identity"
	"github.com/outlithq/outlit-go/internal/lifecycle"
	"github.com/outlithq/outlit-go/internal/queue"
	"github.com/outlithq/outlit-go/internal/webhook"
	"github.com/outlithq/outlit-go/internal/webhook/stripe"
	"github.com/outlithq/outlit-go/pkg/telemetry"
	"go.uber.org/zap"
)

// Client is the analytics client. Construct one per process with New and share
// it across call sites; all methods are safe for concurrent use.
type Client struct {
	opts     Options
	log      *zap.Logger
	clock    clock.Clock
	metrics  *telemetry.Metrics
	gate     *consent.Gate
	resolver *identity.Resolver
	queue    *queue.Queue
	flusher  *flusher.Flusher
	machine  *lifecycle.Machine
	webhooks *webhook.Registry

	closed atomic.Bool
}

// New builds and starts a client. The only fatal condition is a missing API
// key with no custom Transport; every failure after construction is absorbed.
func New(opts Options) (*Client, error) {
	opts = opts.withDefaults()
	if opts.APIKey == "" && opts.Transport == nil {
		return nil, ErrMissingAPIKey
	}

	c := &Client{
		opts:     opts,
		log:      opts.Logger.Named("outlit"),
		metrics:  telemetry.NewMetrics(opts.Registerer),
		resolver: identity.NewResolver(),
	}

	c.clock = opts.Clock
	if c.clock == nil {
		c.clock = clock.NewSystemClock()
	}

	consentStore := opts.ConsentStore
	if consentStore == nil {
		consentStore = consent.NewMemoryStore()
	}
	c.gate = consent.NewGate(consentStore, c.clock, c.log, opts.ConsentDefault, opts.BootstrapEvents)

	c.queue = queue.New(opts.QueueCapacity, c.metrics)

	transport := opts.Transport
	if transport == nil {
		transport = delivery.NewHTTPTransport(opts.Endpoint, opts.APIKey, opts.Timeout, opts.MaxRetries, c.log, c.metrics)
	}
	c.flusher = flusher.New(c.queue, transport, opts.FlushInterval, opts.Timeout, opts.MaxBatchSize, c.log, c.metrics)
	c.flusher.Start()

	customerStore := opts.CustomerStore
	if customerStore == nil {
		customerStore = lifecycle.NewMemoryStore()
	}
	// Lifecycle events come from verified billing webhooks, not from the
	// actor's browser session, so they skip the consent gate.
	c.machine = lifecycle.NewMachine(customerStore, c.enqueue, c.clock, c.log, c.metrics)

	adapters := opts.WebhookAdapters
	if opts.StripeWebhookSecret != "" {
		adapters = append([]webhook.Adapter{stripe.New(opts.StripeWebhookSecret, c.machine.EmailFor)}, adapters...)
	}
	c.webhooks = webhook.NewRegistry(adapters...)

	return c, nil
}

// Track captures an event for the client's current actor, which is the
// session's anonymous identity until Identify binds it to a user. Fire and
// forget: consent denial, overflow, and delivery failure never surface here.
func (c *Client) Track(name string, props Properties) {
	c.TrackUser(Ref{}, name, props)
}

// TrackUser captures an event attributed to an explicit actor reference.
func (c *Client) TrackUser(ref Ref, name string, props Properties) {
	if c.closed.Load() {
		return
	}
	actorKey := c.resolver.Resolve(ref)
	ctx := context.Background()
	if !c.gate.Allow(ctx, actorKey, name) {
		c.metrics.EventCaptured("consent_denied")
		c.log.Debug("event dropped by consent gate",
			zap.String("event", name),
			zap.String("actor", actorKey),
		)
		return
	}
	c.enqueue(actorKey, name, props)
}

// enqueue is the post-gate capture path shared by user events and the
// lifecycle machine's synthesized events.
func (c *Client) enqueue(actorKey, name string, props event.Properties) {
	if c.closed.Load() {
		return
	}
	state := c.gate.StateOf(context.Background(), actorKey)
	ev := event.New(actorKey, name, props, c.clock.Now(), state)
	if !c.queue.Enqueue(ev) {
		return
	}
	c.metrics.EventCaptured("accepted")

	depth := c.queue.Len()
	c.metrics.SetQueueDepth(depth)
	if depth >= c.opts.MaxBatchSize {
		c.flusher.Notify()
	}
}

// Identify binds the actor's anonymous session to an identified key (email
// preferred over user ID) and records traits. Events enqueued after this call
// carry the identified key; already-queued anonymous events are not rewritten.
func (c *Client) Identify(ref Ref, traits Properties) {
	if c.closed.Load() {
		return
	}
	key := ref.Key()
	if key == "" {
		return
	}
	c.resolver.Identify(ref.AnonymousID, key, traits)
	c.log.Debug("actor identified", zap.String("actor", key))
}

// AnonymousID returns the session's anonymous actor identifier.
func (c *Client) AnonymousID() string {
	return c.resolver.AnonymousID()
}

// Flush drains the queue and waits for delivery, bounded by ctx. Returns true
// when every queued event was delivered.
func (c *Client) Flush(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	return c.flusher.Flush(ctx)
}

// Shutdown performs one final flush and marks the client terminal. Track calls
// after Shutdown are no-ops. Returns ErrFlushIncomplete when events were left
// undelivered, or the ctx error when the bound elapsed first.
func (c *Client) Shutdown(ctx context.Context) error {
	if c.closed.Swap(true) {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	err := c.flusher.Shutdown(ctx)
	if err != nil {
		c.log.Warn("shutdown flush incomplete", zap.Error(err))
	}
	return err
}

// HandleWebhook verifies, parses, and applies one billing webhook delivery.
// The returned error maps to an ingress response: ErrInvalidSignature must be
// rejected with 4xx without retrying state, while ErrDuplicateWebhook,
// ErrStaleWebhook, and ErrEventIgnored are safe to acknowledge.
func (c *Client) HandleWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	evt, err := c.ParseWebhook(ctx, provider, payload, headers)
	if err != nil {
		return err
	}
	return c.ApplyWebhook(ctx, *evt)
}

// ParseWebhook verifies the delivery's signature and parses it into a
// canonical webhook event without applying it. Callers that coordinate
// application across replicas parse first, take their lock, then call
// ApplyWebhook.
func (c *Client) ParseWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (*WebhookEvent, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	adapter, err := c.webhooks.Get(provider)
	if err != nil {
		return nil, err
	}
	if err := adapter.Verify(ctx, payload, headers); err != nil {
		c.metrics.WebhookEvent(adapter.Provider(), "rejected")
		c.log.Warn("webhook signature rejected",
			zap.String("provider", adapter.Provider()),
			zap.Error(err),
		)
		return nil, err
	}
	evt, err := adapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, webhook.ErrEventIgnored) {
			c.metrics.WebhookEvent(adapter.Provider(), "ignored")
			return nil, err
		}
		c.metrics.WebhookEvent(adapter.Provider(), "unparseable")
		return nil, err
	}
	return evt, nil
}

// ApplyWebhook runs a parsed webhook event through the lifecycle machine.
func (c *Client) ApplyWebhook(ctx context.Context, evt WebhookEvent) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.machine.Apply(ctx, evt)
}

// CustomerState reports the current lifecycle record for a billing customer.
func (c *Client) CustomerState(ctx context.Context, stripeCustomerID string) (Customer, bool, error) {
	return c.machine.Lookup(ctx, stripeCustomerID)
}
