package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Plan, error)
	FindByCode(ctx context.Context, db *gorm.DB, code string) (*Plan, error)
	List(ctx context.Context, db *gorm.DB, includeRetired bool) ([]Plan, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status Status) (int64, error)
	Upsert(ctx context.Context, db *gorm.DB, plan *Plan) error
}
