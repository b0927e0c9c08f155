// Package testutil builds throwaway SQLite databases carrying the full
// schema and the default plan catalog.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/railzwaylabs/crmbilling/internal/config"
	"github.com/railzwaylabs/crmbilling/internal/migration"
	plandomain "github.com/railzwaylabs/crmbilling/internal/plan/domain"
	"github.com/railzwaylabs/crmbilling/pkg/db"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Config returns the defaults Load would produce with no config file.
func Config() config.Config {
	return config.Config{
		AppName: "crmbilling-test",
		AppEnv:  config.EnvDevelopment,
		Database: config.DatabaseConfig{
			Driver: "sqlite",
		},
		Gateway: config.GatewayConfig{
			Provider: "sandbox",
			Timeout:  time.Second,
		},
		Billing: config.BillingConfig{
			Currency:             "INR",
			TrialDays:            14,
			BaselineAmount:       999,
			BaselinePeriodDays:   30,
			AmountTolerance:      1,
			RefundWindowDays:     7,
			WebhookRetentionDays: 90,
		},
		Plans: config.DefaultPlans(),
	}
}

func Node(t testing.TB) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return node
}

// NewDB opens a private in-memory database and migrates it.
func NewDB(t testing.TB, node *snowflake.Node) *gorm.DB {
	t.Helper()

	conn, err := db.Open(config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    "file:" + uuid.NewString() + "?mode=memory&cache=shared",
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	require.NoError(t, migration.Run(context.Background(), conn, config.DefaultPlans(), node, zap.NewNop()))
	return conn
}

// Plan loads a seeded plan by code ("starter", "growth", "enterprise").
func Plan(t testing.TB, conn *gorm.DB, code string) *plandomain.Plan {
	t.Helper()
	var plan plandomain.Plan
	require.NoError(t, conn.Where("code = ?", code).First(&plan).Error)
	return &plan
}

// Date is midnight UTC on the given day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
