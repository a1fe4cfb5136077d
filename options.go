package outlit

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Defaults mirror the published client configuration.
const (
	DefaultEndpoint      = "https://api.outlit.io/v1/events"
	DefaultFlushInterval = 10 * time.Second
	DefaultMaxBatchSize  = 100
	DefaultTimeout       = 10 * time.Second
	DefaultMaxRetries    = 3
	DefaultQueueCapacity = 1000
)

// Options configures a Client. Zero values fall back to the defaults above;
// only APIKey is required (unless a custom Transport is supplied).
type Options struct {
	// APIKey authenticates against the collection endpoint.
	APIKey string
	// Endpoint overrides the collection endpoint URL.
	Endpoint string

	// FlushInterval is the wall-clock batching cadence.
	FlushInterval time.Duration
	// MaxBatchSize caps events per delivery and is the queue-length trigger.
	MaxBatchSize int
	// Timeout bounds each delivery attempt and each flush cycle.
	Timeout time.Duration
	// MaxRetries caps delivery attempts per batch beyond the first.
	MaxRetries int
	// QueueCapacity bounds the in-memory queue; overflow drops the oldest.
	QueueCapacity int

	// ConsentDefault is assumed for actors with no consent record. The zero
	// value is ConsentUnknown, which fails closed.
	ConsentDefault ConsentState
	// BootstrapEvents bypass the consent gate (the consent banner itself).
	BootstrapEvents []string

	// StripeWebhookSecret enables the built-in Stripe webhook adapter.
	StripeWebhookSecret string
	// WebhookAdapters adds further billing providers.
	WebhookAdapters []WebhookAdapter

	// Logger receives pipeline diagnostics. Defaults to a no-op logger.
	Logger *zap.Logger
	// Registerer receives pipeline metrics. Nil leaves them unregistered.
	Registerer prometheus.Registerer
	// Clock is overridable for tests.
	Clock Clock
	// Transport overrides the HTTP delivery transport.
	Transport Transport
	// ConsentStore overrides the in-memory consent table.
	ConsentStore ConsentStore
	// CustomerStore overrides the in-memory customer table.
	CustomerStore CustomerStore
}

func (o Options) withDefaults() Options {
	o.APIKey = strings.TrimSpace(o.APIKey)
	if o.Endpoint == "" {
		o.Endpoint = DefaultEndpoint
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = DefaultFlushInterval
	}
	if o.MaxBatchSize <= 0 {
		o.MaxBatchSize = DefaultMaxBatchSize
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = DefaultQueueCapacity
	}
	if o.ConsentDefault == "" {
		o.ConsentDefault = ConsentUnknown
	}
	if len(o.BootstrapEvents) == 0 {
		o.BootstrapEvents = []string{"consent_banner_shown"}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}
