package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/railzwaylabs/crmbilling/internal/config"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestIsDuplicateKey(t *testing.T) {
	require.False(t, IsDuplicateKey(nil))
	require.False(t, IsDuplicateKey(errors.New("connection reset")))
	require.True(t, IsDuplicateKey(gorm.ErrDuplicatedKey))
	require.True(t, IsDuplicateKey(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	require.False(t, IsDuplicateKey(&pgconn.PgError{Code: "23503"}))
	require.True(t, IsDuplicateKey(errors.New("constraint failed: UNIQUE constraint failed: subscriptions.tenant_id (2067)")))
}

func TestOpenSQLite(t *testing.T) {
	conn, err := Open(configFor("sqlite", "file:"+t.Name()+"?mode=memory&cache=shared"))
	require.NoError(t, err)
	require.False(t, IsPostgres(conn))

	_, err = Open(configFor("mysql", ""))
	require.Error(t, err)
}

func configFor(driver, dsn string) config.DatabaseConfig {
	return config.DatabaseConfig{Driver: driver, DSN: dsn}
}
