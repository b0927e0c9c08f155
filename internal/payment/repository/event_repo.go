package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/railzwaylabs/crmbilling/internal/payment/domain"
	"gorm.io/gorm"
)

type eventRepo struct{}

func NewEventRepository() domain.EventRepository {
	return &eventRepo{}
}

func (r *eventRepo) Insert(ctx context.Context, db *gorm.DB, record *domain.EventRecord) error {
	if record == nil {
		return gorm.ErrInvalidData
	}
	return db.WithContext(ctx).Create(record).Error
}

func (r *eventRepo) FindByProviderEventID(ctx context.Context, db *gorm.DB, provider, eventID string) (*domain.EventRecord, error) {
	var record domain.EventRecord
	err := db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", provider, eventID).
		Limit(1).
		Find(&record).Error
	if err != nil {
		return nil, err
	}
	if record.ID == 0 {
		return nil, nil
	}
	return &record, nil
}

func (r *eventRepo) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, outcome string, errMsg *string, at time.Time) error {
	return db.WithContext(ctx).Model(&domain.EventRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"processed_at": at,
			"outcome":      outcome,
			"error":        errMsg,
		}).Error
}

// DeleteProcessedBefore removes processed events received before cutoff.
// Unprocessed events are kept for investigation regardless of age.
func (r *eventRepo) DeleteProcessedBefore(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) (int64, error) {
	sub := db.Model(&domain.EventRecord{}).
		Select("id").
		Where("received_at < ? AND processed_at IS NOT NULL", cutoff).
		Order("received_at ASC").
		Limit(limit)
	result := db.WithContext(ctx).
		Where("id IN (?)", sub).
		Delete(&domain.EventRecord{})
	return result.RowsAffected, result.Error
}
