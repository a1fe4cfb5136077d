package outlit

import "context"

// UserParams identifies the user a namespace call refers to. Email wins over
// UserID; leaving both empty targets the session's current actor.
type UserParams struct {
	Email      string
	UserID     string
	Properties Properties
}

// CustomerParams identifies the billing customer a namespace call refers to.
type CustomerParams struct {
	Email            string
	StripeCustomerID string
	Properties       Properties
}

// UserNamespace groups user milestone events.
type UserNamespace struct {
	client *Client
}

// User returns the user milestone namespace.
func (c *Client) User() UserNamespace {
	return UserNamespace{client: c}
}

// Activate records the user's activation milestone and identifies the session
// when an email or user ID is supplied.
func (n UserNamespace) Activate(params UserParams) {
	ref := Ref{Email: params.Email, UserID: params.UserID}
	if ref.Key() != "" {
		n.client.Identify(ref, params.Properties)
	}
	n.client.TrackUser(ref, "user_activated", params.Properties)
}

// Signup records the user's signup milestone, identifying the session the same
// way Activate does.
func (n UserNamespace) Signup(params UserParams) {
	ref := Ref{Email: params.Email, UserID: params.UserID}
	if ref.Key() != "" {
		n.client.Identify(ref, params.Properties)
	}
	n.client.TrackUser(ref, "user_signed_up", params.Properties)
}

// CustomerNamespace groups customer lifecycle milestone events reported from
// application code rather than derived from billing webhooks. Both paths feed
// the same queue with the same event names.
type CustomerNamespace struct {
	client *Client
}

// Customer returns the customer milestone namespace.
func (c *Client) Customer() CustomerNamespace {
	return CustomerNamespace{client: c}
}

// Trialing records the start of a customer's trial.
func (n CustomerNamespace) Trialing(params CustomerParams) {
	n.track("customer_trialing", params)
}

// Paid records a customer's conversion to a paid subscription.
func (n CustomerNamespace) Paid(params CustomerParams) {
	n.track("customer_paid", params)
}

// Churned records a customer's cancellation.
func (n CustomerNamespace) Churned(params CustomerParams) {
	n.track("customer_churned", params)
}

func (n CustomerNamespace) track(name string, params CustomerParams) {
	props := params.Properties
	if params.StripeCustomerID != "" {
		merged := make(Properties, len(props)+1)
		for k, v := range props {
			merged[k] = v
		}
		merged["stripe_customer_id"] = params.StripeCustomerID
		props = merged
	}
	n.client.TrackUser(Ref{Email: params.Email}, name, props)
}

// ConsentNamespace groups consent controls. An empty actor key targets the
// session's current actor.
type ConsentNamespace struct {
	client *Client
}

// Consent returns the consent control namespace.
func (c *Client) Consent() ConsentNamespace {
	return ConsentNamespace{client: c}
}

// Enable grants consent. Idempotent and immediately visible; events dropped
// before consent are not replayed.
func (n ConsentNamespace) Enable(ctx context.Context, actorKey string) error {
	return n.client.gate.Enable(ctx, n.resolve(actorKey))
}

// Disable revokes consent. Idempotent and immediately visible.
func (n ConsentNamespace) Disable(ctx context.Context, actorKey string) error {
	return n.client.gate.Disable(ctx, n.resolve(actorKey))
}

// Enabled reports the actor's effective consent.
func (n ConsentNamespace) Enabled(ctx context.Context, actorKey string) bool {
	return n.client.gate.Enabled(ctx, n.resolve(actorKey))
}

func (n ConsentNamespace) resolve(actorKey string) string {
	if actorKey != "" {
		return actorKey
	}
	return n.client.resolver.Resolve(Ref{})
}
