package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/crmbilling/internal/subscription/domain"
	"github.com/railzwaylabs/crmbilling/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, sub *domain.Subscription) error {
	if sub == nil {
		return gorm.ErrInvalidData
	}
	return conn.WithContext(ctx).Create(sub).Error
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Subscription, error) {
	return first(conn.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) FindByIDForUpdate(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Subscription, error) {
	return first(db.ForUpdate(conn.WithContext(ctx)).Where("id = ?", id))
}

func (r *repo) FindByTenantAndStatus(ctx context.Context, conn *gorm.DB, tenantID snowflake.ID, statuses ...domain.SubscriptionStatus) (*domain.Subscription, error) {
	stmt := db.ForUpdate(conn.WithContext(ctx)).Where("tenant_id = ?", tenantID)
	if len(statuses) > 0 {
		stmt = stmt.Where("status IN ?", statuses)
	}
	return first(stmt.Order("created_at DESC, id DESC"))
}

func (r *repo) ListByTenant(ctx context.Context, conn *gorm.DB, tenantID snowflake.ID) ([]domain.Subscription, error) {
	var items []domain.Subscription
	err := conn.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC, id DESC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// UpdateStatus never touches a Cancelled row, whatever from says.
func (r *repo) UpdateStatus(ctx context.Context, conn *gorm.DB, id snowflake.ID, from []domain.SubscriptionStatus, to domain.SubscriptionStatus, fields map[string]any) (int64, error) {
	updates := map[string]any{
		"status":     to,
		"updated_at": time.Now().UTC(),
	}
	for k, v := range fields {
		updates[k] = v
	}

	result := conn.WithContext(ctx).Model(&domain.Subscription{}).
		Where("id = ?", id).
		Where("status IN ?", from).
		Where("status <> ?", domain.SubscriptionStatusCancelled).
		Updates(updates)
	return result.RowsAffected, result.Error
}

func (r *repo) UpdateReason(ctx context.Context, conn *gorm.DB, id snowflake.ID, status domain.SubscriptionStatus, reason string) (int64, error) {
	result := conn.WithContext(ctx).Model(&domain.Subscription{}).
		Where("id = ? AND status = ?", id, status).
		Updates(map[string]any{
			"cancellation_reason": reason,
			"updated_at":          time.Now().UTC(),
		})
	return result.RowsAffected, result.Error
}

func (r *repo) LinkTransaction(ctx context.Context, conn *gorm.DB, id, transactionID snowflake.ID) error {
	return conn.WithContext(ctx).Model(&domain.Subscription{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"payment_transaction_id": transactionID,
			"updated_at":             time.Now().UTC(),
		}).Error
}

func (r *repo) Reschedule(ctx context.Context, conn *gorm.DB, id snowflake.ID, start, end time.Time) (int64, error) {
	result := conn.WithContext(ctx).Model(&domain.Subscription{}).
		Where("id = ? AND status = ?", id, domain.SubscriptionStatusScheduled).
		Updates(map[string]any{
			"start_date": start,
			"end_date":   end,
			"updated_at": time.Now().UTC(),
		})
	return result.RowsAffected, result.Error
}

func (r *repo) ListExpiring(ctx context.Context, conn *gorm.DB, now time.Time, limit int) ([]domain.Subscription, error) {
	var items []domain.Subscription
	err := conn.WithContext(ctx).
		Where("status IN ?", []domain.SubscriptionStatus{domain.SubscriptionStatusActive, domain.SubscriptionStatusTrial}).
		Where("end_date <= ?", now).
		Order("end_date ASC, id ASC").
		Limit(limit).
		Find(&items).Error
	return items, err
}

func (r *repo) ListPromotable(ctx context.Context, conn *gorm.DB, now time.Time, limit int) ([]domain.Subscription, error) {
	var items []domain.Subscription
	err := conn.WithContext(ctx).
		Where("status = ?", domain.SubscriptionStatusScheduled).
		Where("start_date <= ?", now).
		Order("start_date ASC, id ASC").
		Limit(limit).
		Find(&items).Error
	return items, err
}

func first(stmt *gorm.DB) (*domain.Subscription, error) {
	var sub domain.Subscription
	if err := stmt.Limit(1).Find(&sub).Error; err != nil {
		return nil, err
	}
	if sub.ID == 0 {
		return nil, nil
	}
	return &sub, nil
}
