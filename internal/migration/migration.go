package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/railzwaylabs/crmbilling/internal/config"
	"github.com/railzwaylabs/crmbilling/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Run brings the schema to the embedded version, seeds the plan catalog and
// activates the bootstrap state that the schema gate checks. PostgreSQL goes
// through golang-migrate under an advisory lock; SQLite gets the equivalent
// schema from the gorm models.
func Run(ctx context.Context, conn *gorm.DB, plans []config.PlanSeed, genID *snowflake.Node, log *zap.Logger) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if log == nil {
		log = zap.NewNop()
	}

	fp, err := currentFingerprint()
	if err != nil {
		return err
	}

	if db.IsPostgres(conn) {
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		unlock, err := acquireAdvisoryLock(ctx, sqlDB)
		if err != nil {
			return err
		}
		defer func() {
			_ = unlock(context.Background())
		}()

		if err := migratePostgres(sqlDB, fp.Version); err != nil {
			return err
		}
	} else {
		if err := ApplySQLiteSchema(conn); err != nil {
			return err
		}
	}

	seeded, err := seedPlanCatalog(ctx, conn, plans, genID)
	if err != nil {
		return err
	}

	if err := activateSystemBootstrapState(ctx, conn, fp); err != nil {
		return err
	}

	log.Info("schema ready",
		zap.Uint("version", fp.Version),
		zap.String("dialect", conn.Dialector.Name()),
		zap.Int("plans_seeded", seeded),
	)
	return nil
}

func migratePostgres(sqlDB *sql.DB, latest uint) error {
	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}
	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if _, err := ensureNotDirty(migrator); err != nil {
		return err
	}
	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	current, err := ensureNotDirty(migrator)
	if err != nil {
		return err
	}
	if current != latest {
		return fmt.Errorf("schema version mismatch after migrate: got %d want %d", current, latest)
	}
	return nil
}

func ensureNotDirty(migrator *migrate.Migrate) (uint, error) {
	version, dirty, err := migrator.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, nil
		}
		return 0, fmt.Errorf("read migration version: %w", err)
	}
	if dirty {
		return 0, fmt.Errorf("database migrations are dirty at version %d", version)
	}
	return version, nil
}

const bootstrapStatusActive = "active"

func activateSystemBootstrapState(ctx context.Context, conn *gorm.DB, fp Fingerprint) error {
	now := time.Now().UTC()
	err := conn.WithContext(ctx).Exec(`
		INSERT INTO system_bootstrap_state (id, status, schema_version, checksum, activated_at, created_at)
		VALUES (TRUE, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET status = excluded.status,
		    schema_version = excluded.schema_version,
		    checksum = excluded.checksum,
		    activated_at = excluded.activated_at
	`, bootstrapStatusActive, fp.VersionString(), fp.Checksum, now, now).Error
	if err != nil {
		return fmt.Errorf("activate system bootstrap state: %w", err)
	}
	return nil
}
