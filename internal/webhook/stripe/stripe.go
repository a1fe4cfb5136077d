// Package stripe adapts Stripe billing webhooks into canonical webhook events.
package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/outlithq/outlit-go/internal/event"
	"github.com/outlithq/outlit-go/internal/webhook"
)

// EmailLookup resolves a customer email when the payload itself carries none,
// mirroring the customers.retrieve round-trip a Stripe integration performs.
type EmailLookup func(ctx context.Context, customerID string) (string, error)

// Adapter verifies Stripe-Signature headers and parses subscription and
// invoice events.
type Adapter struct {
	webhookSecret string
	lookup        EmailLookup
	tolerance     time.Duration
}

// New builds a Stripe adapter. lookup may be nil when payloads always carry
// customer_email.
func New(webhookSecret string, lookup EmailLookup) *Adapter {
	return &Adapter{
		webhookSecret: strings.TrimSpace(webhookSecret),
		lookup:        lookup,
		tolerance:     5 * time.Minute,
	}
}

func (a *Adapter) Provider() string { return "stripe" }

// Verify checks the v1 HMAC-SHA256 signature over "<timestamp>.<payload>".
func (a *Adapter) Verify(_ context.Context, payload []byte, headers http.Header) error {
	if a.webhookSecret == "" {
		return webhook.ErrInvalidSignature
	}
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return webhook.ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return webhook.ErrInvalidSignature
	}

	if a.tolerance > 0 {
		signedAt, _ := strconv.ParseInt(timestamp, 10, 64)
		if age := time.Since(time.Unix(signedAt, 0)); age > a.tolerance || age < -a.tolerance {
			return webhook.ErrInvalidSignature
		}
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return webhook.ErrInvalidSignature
}

// Parse maps the Stripe event types the lifecycle machine consumes. Everything
// else is ErrEventIgnored.
func (a *Adapter) Parse(ctx context.Context, payload []byte) (*webhook.Event, error) {
	var evt stripeEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, webhook.ErrInvalidPayload
	}
	if strings.TrimSpace(evt.ID) == "" {
		return nil, webhook.ErrInvalidPayload
	}

	switch strings.TrimSpace(evt.Type) {
	case "customer.subscription.created":
		return a.parseSubscription(ctx, evt, event.Properties{})
	case "customer.subscription.updated":
		return a.parseSubscriptionUpdated(ctx, evt)
	case "customer.subscription.deleted":
		return a.parseSubscriptionDeleted(ctx, evt)
	case "invoice.payment_succeeded":
		return a.parseInvoice(ctx, evt)
	default:
		return nil, webhook.ErrEventIgnored
	}
}

func (a *Adapter) parseSubscription(ctx context.Context, evt stripeEvent, props event.Properties) (*webhook.Event, error) {
	var sub stripeSubscription
	if err := json.Unmarshal(evt.Data.Object, &sub); err != nil {
		return nil, webhook.ErrInvalidPayload
	}

	props["plan"] = sub.plan()
	if sub.TrialEnd > 0 {
		props["trial_ends"] = time.Unix(sub.TrialEnd, 0).UTC().Format(time.RFC3339)
	}

	return a.build(ctx, evt, sub.Customer, sub.CustomerEmail, props)
}

func (a *Adapter) parseSubscriptionUpdated(ctx context.Context, evt stripeEvent) (*webhook.Event, error) {
	var sub stripeSubscription
	if err := json.Unmarshal(evt.Data.Object, &sub); err != nil {
		return nil, webhook.ErrInvalidPayload
	}
	// Only the transition to an active subscription is interesting; pauses,
	// trial updates, and pending cancellations stay out of the lifecycle.
	if sub.Status != "active" {
		return nil, webhook.ErrEventIgnored
	}

	props := event.Properties{"plan": sub.plan()}
	if amount := sub.unitAmount(); amount > 0 {
		props["mrr"] = float64(amount) / 100
	}
	return a.build(ctx, evt, sub.Customer, sub.CustomerEmail, props)
}

func (a *Adapter) parseSubscriptionDeleted(ctx context.Context, evt stripeEvent) (*webhook.Event, error) {
	var sub stripeSubscription
	if err := json.Unmarshal(evt.Data.Object, &sub); err != nil {
		return nil, webhook.ErrInvalidPayload
	}

	props := event.Properties{}
	if reason := sub.CancellationDetails.Reason; reason != "" {
		props["reason"] = reason
	}
	return a.build(ctx, evt, sub.Customer, sub.CustomerEmail, props)
}

func (a *Adapter) parseInvoice(ctx context.Context, evt stripeEvent) (*webhook.Event, error) {
	var inv stripeInvoice
	if err := json.Unmarshal(evt.Data.Object, &inv); err != nil {
		return nil, webhook.ErrInvalidPayload
	}

	props := event.Properties{
		"amount":   float64(inv.AmountPaid) / 100,
		"currency": inv.Currency,
	}
	if inv.ID != "" {
		props["invoice_id"] = inv.ID
	}
	return a.build(ctx, evt, inv.Customer, inv.CustomerEmail, props)
}

func (a *Adapter) build(ctx context.Context, evt stripeEvent, customerID, email string, props event.Properties) (*webhook.Event, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, webhook.ErrInvalidPayload
	}

	email = strings.TrimSpace(email)
	if email == "" && a.lookup != nil {
		resolved, err := a.lookup(ctx, customerID)
		if err == nil {
			email = strings.TrimSpace(resolved)
		}
	}
	if email == "" {
		return nil, webhook.ErrUnresolvedIdentity
	}

	return &webhook.Event{
		ID:         evt.ID,
		Type:       strings.TrimSpace(evt.Type),
		OccurredAt: time.Unix(evt.Created, 0).UTC(),
		CustomerID: customerID,
		Email:      email,
		Properties: props,
	}, nil
}

// parseSignatureHeader splits "t=...,v1=...,v1=..." into its parts.
func parseSignatureHeader(header string) (string, []string, error) {
	var timestamp string
	var signatures []string

	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}

	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("malformed signature header")
	}
	if _, err := strconv.ParseInt(timestamp, 10, 64); err != nil {
		return "", nil, errors.New("malformed signature timestamp")
	}
	return timestamp, signatures, nil
}

type stripeEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type stripeSubscription struct {
	ID            string `json:"id"`
	Customer      string `json:"customer"`
	CustomerEmail string `json:"customer_email"`
	Status        string `json:"status"`
	TrialEnd      int64  `json:"trial_end"`
	Items         struct {
		Data []struct {
			Price struct {
				LookupKey  string `json:"lookup_key"`
				UnitAmount int64  `json:"unit_amount"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
	CancellationDetails struct {
		Reason string `json:"reason"`
	} `json:"cancellation_details"`
}

func (s stripeSubscription) plan() string {
	if len(s.Items.Data) == 0 {
		return ""
	}
	return s.Items.Data[0].Price.LookupKey
}

func (s stripeSubscription) unitAmount() int64 {
	if len(s.Items.Data) == 0 {
		return 0
	}
	return s.Items.Data[0].Price.UnitAmount
}

type stripeInvoice struct {
	ID            string `json:"id"`
	Customer      string `json:"customer"`
	CustomerEmail string `json:"customer_email"`
	AmountPaid    int64  `json:"amount_paid"`
	Currency      string `json:"currency"`
}
