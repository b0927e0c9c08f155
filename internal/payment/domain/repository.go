package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type TransactionRepository interface {
	Insert(ctx context.Context, db *gorm.DB, txn *Transaction) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Transaction, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Transaction, error)
	FindPurchaseByOrderID(ctx context.Context, db *gorm.DB, orderID string) (*Transaction, error)
	FindPurchaseByOrderIDForUpdate(ctx context.Context, db *gorm.DB, orderID string) (*Transaction, error)
	FindPurchaseBySubscription(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) (*Transaction, error)
	FindLatestPurchaseByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*Transaction, error)
	FindRefundByParent(ctx context.Context, db *gorm.DB, parentID snowflake.ID) (*Transaction, error)
	FindByParentAndType(ctx context.Context, db *gorm.DB, parentID snowflake.ID, txnType TransactionType) (*Transaction, error)
	ListByParentAndType(ctx context.Context, db *gorm.DB, parentID snowflake.ID, txnType TransactionType) ([]Transaction, error)
	// ListBySubscriptionAndType returns rows oldest first.
	ListBySubscriptionAndType(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, txnType TransactionType) ([]Transaction, error)
	ListRefundsByPayment(ctx context.Context, db *gorm.DB, paymentID string) ([]Transaction, error)
	ListByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]Transaction, error)
	ListByTypeAndStatus(ctx context.Context, db *gorm.DB, txnType TransactionType, status TransactionStatus, limit int) ([]Transaction, error)
	// UpdateStatus moves id from one of from to to and returns the affected row count.
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from []TransactionStatus, to TransactionStatus, fields map[string]any) (int64, error)
}

type EventRepository interface {
	Insert(ctx context.Context, db *gorm.DB, record *EventRecord) error
	FindByProviderEventID(ctx context.Context, db *gorm.DB, provider, eventID string) (*EventRecord, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, outcome string, errMsg *string, at time.Time) error
	DeleteProcessedBefore(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) (int64, error)
}
