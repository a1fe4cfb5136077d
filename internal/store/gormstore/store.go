// Package gormstore backs the customer and consent tables with a relational
// database for multi-instance deployments.
package gormstore

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/outlithq/outlit-go/internal/consent"
	"github.com/outlithq/outlit-go/internal/lifecycle"
	"go.uber.org/fx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Module provides the gorm-backed store. Binding it to the lifecycle and
// consent interfaces is left to the composition root, which may prefer
// another backend.
var Module = fx.Options(
	fx.Provide(Dialect),
	fx.Provide(Open),
	fx.Provide(NewStore),
)

// Store implements both lifecycle.Store and consent.Store over one database.
type Store struct {
	db   *gorm.DB
	node *snowflake.Node
}

// NewStore migrates the two tables and returns the store.
func NewStore(db *gorm.DB, node *snowflake.Node) (*Store, error) {
	if err := db.AutoMigrate(&CustomerRecord{}, &ConsentRecord{}); err != nil {
		return nil, err
	}
	return &Store{db: db, node: node}, nil
}

// Customers exposes the lifecycle.Store view.
func (s *Store) Customers() *CustomerStore { return &CustomerStore{store: s} }

// Consent exposes the consent.Store view.
func (s *Store) Consent() *ConsentStore { return &ConsentStore{store: s} }

// CustomerStore persists lifecycle records keyed by stripe customer ID.
type CustomerStore struct {
	store *Store
}

func (cs *CustomerStore) Get(ctx context.Context, stripeCustomerID string) (lifecycle.Customer, bool, error) {
	var record CustomerRecord
	err := cs.store.db.WithContext(ctx).
		Where("stripe_customer_id = ?", stripeCustomerID).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return lifecycle.Customer{}, false, nil
		}
		return lifecycle.Customer{}, false, err
	}

	return lifecycle.Customer{
		StripeCustomerID: record.StripeCustomerID,
		Email:            record.Email,
		State:            lifecycle.State(record.State),
		LastTransitionAt: record.LastTransitionAt,
		LastEventID:      record.LastEventID,
	}, true, nil
}

func (cs *CustomerStore) Put(ctx context.Context, customer lifecycle.Customer) error {
	record := CustomerRecord{
		ID:               cs.store.node.Generate(),
		StripeCustomerID: customer.StripeCustomerID,
		Email:            customer.Email,
		State:            string(customer.State),
		LastTransitionAt: customer.LastTransitionAt,
		LastEventID:      customer.LastEventID,
	}

	return cs.store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "stripe_customer_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"email", "state", "last_transition_at", "last_event_id", "updated_at",
			}),
		}).
		Create(&record).Error
}

// ConsentStore persists consent records keyed by actor.
type ConsentStore struct {
	store *Store
}

func (cs *ConsentStore) Get(ctx context.Context, actorKey string) (consent.Record, bool, error) {
	var record ConsentRecord
	err := cs.store.db.WithContext(ctx).
		Where("actor_key = ?", actorKey).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return consent.Record{}, false, nil
		}
		return consent.Record{}, false, err
	}

	return consent.Record{
		ActorKey:  record.ActorKey,
		State:     consent.State(record.State),
		UpdatedAt: record.UpdatedAt,
	}, true, nil
}

func (cs *ConsentStore) Put(ctx context.Context, record consent.Record) error {
	row := ConsentRecord{
		ID:        cs.store.node.Generate(),
		ActorKey:  record.ActorKey,
		State:     string(record.State),
		UpdatedAt: record.UpdatedAt,
	}

	return cs.store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "actor_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"state", "updated_at"}),
		}).
		Create(&row).Error
}
