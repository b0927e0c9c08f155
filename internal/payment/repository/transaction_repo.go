package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/crmbilling/internal/payment/domain"
	"github.com/railzwaylabs/crmbilling/pkg/db"
	"gorm.io/gorm"
)

type transactionRepo struct{}

func NewTransactionRepository() domain.TransactionRepository {
	return &transactionRepo{}
}

func (r *transactionRepo) Insert(ctx context.Context, conn *gorm.DB, txn *domain.Transaction) error {
	if txn == nil {
		return gorm.ErrInvalidData
	}
	return conn.WithContext(ctx).Create(txn).Error
}

func (r *transactionRepo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Transaction, error) {
	return firstTransaction(conn.WithContext(ctx).Where("id = ?", id))
}

func (r *transactionRepo) FindByIDForUpdate(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Transaction, error) {
	return firstTransaction(db.ForUpdate(conn.WithContext(ctx)).Where("id = ?", id))
}

func (r *transactionRepo) FindPurchaseByOrderID(ctx context.Context, conn *gorm.DB, orderID string) (*domain.Transaction, error) {
	return firstTransaction(conn.WithContext(ctx).
		Where("order_id = ? AND type IN ?", orderID, domain.PurchaseTypes))
}

func (r *transactionRepo) FindPurchaseByOrderIDForUpdate(ctx context.Context, conn *gorm.DB, orderID string) (*domain.Transaction, error) {
	return firstTransaction(db.ForUpdate(conn.WithContext(ctx)).
		Where("order_id = ? AND type IN ?", orderID, domain.PurchaseTypes))
}

func (r *transactionRepo) FindPurchaseBySubscription(ctx context.Context, conn *gorm.DB, subscriptionID snowflake.ID) (*domain.Transaction, error) {
	return firstTransaction(conn.WithContext(ctx).
		Where("subscription_id = ? AND type IN ? AND status = ?", subscriptionID, domain.PurchaseTypes, domain.TransactionStatusSuccess).
		Order("created_at DESC, id DESC"))
}

func (r *transactionRepo) FindLatestPurchaseByTenant(ctx context.Context, conn *gorm.DB, tenantID snowflake.ID) (*domain.Transaction, error) {
	return firstTransaction(conn.WithContext(ctx).
		Where("tenant_id = ? AND type IN ? AND status = ?", tenantID, domain.PurchaseTypes, domain.TransactionStatusSuccess).
		Where("payment_id IS NOT NULL").
		Order("created_at DESC, id DESC"))
}

func (r *transactionRepo) FindRefundByParent(ctx context.Context, conn *gorm.DB, parentID snowflake.ID) (*domain.Transaction, error) {
	return firstTransaction(conn.WithContext(ctx).
		Where("parent_transaction_id = ? AND type = ?", parentID, domain.TransactionTypeRefund))
}

func (r *transactionRepo) FindByParentAndType(ctx context.Context, conn *gorm.DB, parentID snowflake.ID, txnType domain.TransactionType) (*domain.Transaction, error) {
	return firstTransaction(conn.WithContext(ctx).
		Where("parent_transaction_id = ? AND type = ?", parentID, txnType).
		Order("created_at ASC, id ASC"))
}

func (r *transactionRepo) ListByParentAndType(ctx context.Context, conn *gorm.DB, parentID snowflake.ID, txnType domain.TransactionType) ([]domain.Transaction, error) {
	var items []domain.Transaction
	err := conn.WithContext(ctx).
		Where("parent_transaction_id = ? AND type = ?", parentID, txnType).
		Order("created_at ASC, id ASC").
		Find(&items).Error
	return items, err
}

func (r *transactionRepo) ListBySubscriptionAndType(ctx context.Context, conn *gorm.DB, subscriptionID snowflake.ID, txnType domain.TransactionType) ([]domain.Transaction, error) {
	var items []domain.Transaction
	err := conn.WithContext(ctx).
		Where("subscription_id = ? AND type = ?", subscriptionID, txnType).
		Order("created_at ASC, id ASC").
		Find(&items).Error
	return items, err
}

func (r *transactionRepo) ListRefundsByPayment(ctx context.Context, conn *gorm.DB, paymentID string) ([]domain.Transaction, error) {
	var items []domain.Transaction
	err := conn.WithContext(ctx).
		Where("payment_id = ? AND type = ? AND status = ?", paymentID, domain.TransactionTypeRefund, domain.TransactionStatusSuccess).
		Find(&items).Error
	return items, err
}

func (r *transactionRepo) ListByTenant(ctx context.Context, conn *gorm.DB, tenantID snowflake.ID) ([]domain.Transaction, error) {
	var items []domain.Transaction
	err := conn.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC, id DESC").
		Find(&items).Error
	return items, err
}

func (r *transactionRepo) ListByTypeAndStatus(ctx context.Context, conn *gorm.DB, txnType domain.TransactionType, status domain.TransactionStatus, limit int) ([]domain.Transaction, error) {
	var items []domain.Transaction
	stmt := conn.WithContext(ctx).
		Where("type = ? AND status = ?", txnType, status).
		Order("created_at ASC, id ASC")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	err := stmt.Find(&items).Error
	return items, err
}

func (r *transactionRepo) UpdateStatus(ctx context.Context, conn *gorm.DB, id snowflake.ID, from []domain.TransactionStatus, to domain.TransactionStatus, fields map[string]any) (int64, error) {
	if len(from) == 0 {
		return 0, errors.New("update transaction status requires source statuses")
	}
	updates := map[string]any{
		"status":     to,
		"updated_at": time.Now().UTC(),
	}
	for k, v := range fields {
		updates[k] = v
	}
	result := conn.WithContext(ctx).Model(&domain.Transaction{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	return result.RowsAffected, result.Error
}

func firstTransaction(stmt *gorm.DB) (*domain.Transaction, error) {
	var txn domain.Transaction
	if err := stmt.Limit(1).Find(&txn).Error; err != nil {
		return nil, err
	}
	if txn.ID == 0 {
		return nil, nil
	}
	return &txn, nil
}
