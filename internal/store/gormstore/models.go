package gormstore

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// CustomerRecord persists a customer's lifecycle state.
type CustomerRecord struct {
	ID               snowflake.ID      `gorm:"primaryKey"`
	StripeCustomerID string            `gorm:"type:text;not null;uniqueIndex"`
	Email            string            `gorm:"type:text;not null"`
	State            string            `gorm:"type:text;not null"`
	LastTransitionAt time.Time         `gorm:"not null"`
	LastEventID      string            `gorm:"type:text;not null"`
	Metadata         datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt        time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (CustomerRecord) TableName() string { return "customers" }

// ConsentRecord persists one actor's consent decision.
type ConsentRecord struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	ActorKey  string       `gorm:"type:text;not null;uniqueIndex"`
	State     string       `gorm:"type:text;not null"`
	UpdatedAt time.Time    `gorm:"not null"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (ConsentRecord) TableName() string { return "consent_records" }
