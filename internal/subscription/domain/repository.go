package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, sub *Subscription) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	// FindByTenantAndStatus returns the newest row of tenantID in one of statuses.
	FindByTenantAndStatus(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, statuses ...SubscriptionStatus) (*Subscription, error)
	ListByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]Subscription, error)
	// UpdateStatus moves id from one of from to to and returns the affected row count.
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from []SubscriptionStatus, to SubscriptionStatus, fields map[string]any) (int64, error)
	UpdateReason(ctx context.Context, db *gorm.DB, id snowflake.ID, status SubscriptionStatus, reason string) (int64, error)
	LinkTransaction(ctx context.Context, db *gorm.DB, id, transactionID snowflake.ID) error
	// Reschedule moves a Scheduled row's period and returns the affected row count.
	Reschedule(ctx context.Context, db *gorm.DB, id snowflake.ID, start, end time.Time) (int64, error)
	ListExpiring(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Subscription, error)
	ListPromotable(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Subscription, error)
}
