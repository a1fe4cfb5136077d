// Package delivery posts event batches to the Outlit collection endpoint.
package delivery

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"net/http"
	"time"

	"github.com/outlithq/outlit-go/internal/event"
	"github.com/outlithq/outlit-go/pkg/telemetry"
	"go.uber.org/zap"
)

// ErrDeliveryFailed marks a batch that could not be delivered after retries.
var ErrDeliveryFailed = errors.New("delivery failed")

// Transport delivers one batch. Implementations must be safe for use from the
// single flusher goroutine and respect ctx cancellation.
type Transport interface {
	Deliver(ctx context.Context, batch event.Batch) error
}

// HTTPTransport posts batches as a JSON array of events with the API key as a
// bearer token. Non-2xx responses, network errors, and timeouts are retried
// with exponential backoff and jitter up to maxRetries.
type HTTPTransport struct {
	client     *http.Client
	endpoint   string
	apiKey     string
	maxRetries int
	log        *zap.Logger
	metrics    *telemetry.Metrics
}

// NewHTTPTransport builds the production transport. timeout bounds each
// delivery attempt.
func NewHTTPTransport(endpoint, apiKey string, timeout time.Duration, maxRetries int, logger *zap.Logger, metrics *telemetry.Metrics) *HTTPTransport {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &HTTPTransport{
		client:     &http.Client{Timeout: timeout},
		endpoint:   endpoint,
		apiKey:     apiKey,
		maxRetries: maxRetries,
		log:        logger.Named("delivery"),
		metrics:    metrics,
	}
}

func (t *HTTPTransport) Deliver(ctx context.Context, batch event.Batch) error {
	payload, err := json.Marshal(batch.Events)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		if attempt > 0 {
			t.metrics.DeliveryRetried()
			if err := sleepWithBackoff(ctx, attempt); err != nil {
				return err
			}
		}

		lastErr = t.post(ctx, batch.ID, payload)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		t.log.Warn("batch delivery attempt failed",
			zap.String("batch_id", batch.ID),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr),
		)
	}

	return fmt.Errorf("%w: %v", ErrDeliveryFailed, lastErr)
}

func (t *HTTPTransport) post(ctx context.Context, batchID string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("X-Batch-Id", batchID)

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// sleepWithBackoff waits base * 2^(attempt-1) plus jitter, or returns early if
// ctx is done.
func sleepWithBackoff(ctx context.Context, attempt int) error {
	backoff := time.Duration(math.Pow(2, float64(attempt-1))) * 100 * time.Millisecond
	jitter := time.Duration(0)
	if n, err := rand.Int(rand.Reader, big.NewInt(50)); err == nil {
		jitter = time.Duration(n.Int64()) * time.Millisecond
	}

	timer := time.NewTimer(backoff + jitter)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
