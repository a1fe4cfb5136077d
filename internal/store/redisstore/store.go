// Package redisstore backs the customer and consent tables with Redis and
// provides the cross-replica webhook lock.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/outlithq/outlit-go/internal/consent"
	"github.com/outlithq/outlit-go/internal/lifecycle"
	redis "github.com/redis/go-redis/v9"
)

const (
	customerKeyPrefix = "outlit:customer:"
	consentKeyPrefix  = "outlit:consent:"
)

// Store implements lifecycle.Store and consent.Store over Redis.
type Store struct {
	client *redis.Client
}

func New(client *redis.Client) *Store {
	return &Store{client: client}
}

// Customers exposes the lifecycle.Store view.
func (s *Store) Customers() *CustomerStore { return &CustomerStore{client: s.client} }

// Consent exposes the consent.Store view.
func (s *Store) Consent() *ConsentStore { return &ConsentStore{client: s.client} }

type customerRow struct {
	StripeCustomerID string    `json:"stripe_customer_id"`
	Email            string    `json:"email"`
	State            string    `json:"state"`
	LastTransitionAt time.Time `json:"last_transition_at"`
	LastEventID      string    `json:"last_event_id"`
}

// CustomerStore persists lifecycle records as JSON values.
type CustomerStore struct {
	client *redis.Client
}

func (cs *CustomerStore) Get(ctx context.Context, stripeCustomerID string) (lifecycle.Customer, bool, error) {
	raw, err := cs.client.Get(ctx, customerKeyPrefix+stripeCustomerID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return lifecycle.Customer{}, false, nil
		}
		return lifecycle.Customer{}, false, err
	}

	var row customerRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return lifecycle.Customer{}, false, err
	}
	return lifecycle.Customer{
		StripeCustomerID: row.StripeCustomerID,
		Email:            row.Email,
		State:            lifecycle.State(row.State),
		LastTransitionAt: row.LastTransitionAt,
		LastEventID:      row.LastEventID,
	}, true, nil
}

func (cs *CustomerStore) Put(ctx context.Context, customer lifecycle.Customer) error {
	raw, err := json.Marshal(customerRow{
		StripeCustomerID: customer.StripeCustomerID,
		Email:            customer.Email,
		State:            string(customer.State),
		LastTransitionAt: customer.LastTransitionAt,
		LastEventID:      customer.LastEventID,
	})
	if err != nil {
		return err
	}
	return cs.client.Set(ctx, customerKeyPrefix+customer.StripeCustomerID, raw, 0).Err()
}

type consentRow struct {
	ActorKey  string    `json:"actor_key"`
	State     string    `json:"state"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConsentStore persists consent records as JSON values.
type ConsentStore struct {
	client *redis.Client
}

func (cs *ConsentStore) Get(ctx context.Context, actorKey string) (consent.Record, bool, error) {
	raw, err := cs.client.Get(ctx, consentKeyPrefix+actorKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return consent.Record{}, false, nil
		}
		return consent.Record{}, false, err
	}

	var row consentRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return consent.Record{}, false, err
	}
	return consent.Record{
		ActorKey:  row.ActorKey,
		State:     consent.State(row.State),
		UpdatedAt: row.UpdatedAt,
	}, true, nil
}

func (cs *ConsentStore) Put(ctx context.Context, record consent.Record) error {
	raw, err := json.Marshal(consentRow{
		ActorKey:  record.ActorKey,
		State:     string(record.State),
		UpdatedAt: record.UpdatedAt,
	})
	if err != nil {
		return err
	}
	return cs.client.Set(ctx, consentKeyPrefix+record.ActorKey, raw, 0).Err()
}
