package migration

import (
	"fmt"

	paymentdomain "github.com/railzwaylabs/crmbilling/internal/payment/domain"
	plandomain "github.com/railzwaylabs/crmbilling/internal/plan/domain"
	subscriptiondomain "github.com/railzwaylabs/crmbilling/internal/subscription/domain"
	tenantdomain "github.com/railzwaylabs/crmbilling/internal/tenant/domain"
	"gorm.io/gorm"
)

const sqliteBootstrapTable = `
CREATE TABLE IF NOT EXISTS system_bootstrap_state (
    id              BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (id),
    status          TEXT NOT NULL,
    schema_version  TEXT NOT NULL,
    checksum        TEXT,
    activated_at    DATETIME,
    created_at      DATETIME NOT NULL
)`

// sqliteIndexes mirror the partial unique indexes of the PostgreSQL schema.
var sqliteIndexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_subscriptions_tenant_entitled ON subscriptions (tenant_id) WHERE status IN ('Active', 'Trial')`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_subscriptions_tenant_scheduled ON subscriptions (tenant_id) WHERE status = 'Scheduled'`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_transactions_purchase_order ON transactions (order_id) WHERE order_id IS NOT NULL AND type IN ('Payment', 'Upgrade_existing', 'Upgrade_immediate', 'Upgrade_scheduled', 'Scheduled Payment')`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_transactions_refund_parent ON transactions (parent_transaction_id) WHERE type = 'Refund'`,
}

// ApplySQLiteSchema creates the schema on SQLite for local runs and tests.
func ApplySQLiteSchema(conn *gorm.DB) error {
	err := conn.AutoMigrate(
		&tenantdomain.Tenant{},
		&plandomain.Plan{},
		&subscriptiondomain.Subscription{},
		&paymentdomain.Transaction{},
		&paymentdomain.EventRecord{},
	)
	if err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	if err := conn.Exec(sqliteBootstrapTable).Error; err != nil {
		return fmt.Errorf("create bootstrap state: %w", err)
	}
	for _, stmt := range sqliteIndexes {
		if err := conn.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}
