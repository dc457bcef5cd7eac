package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	require.False(t, IsDuplicateKeyErr(nil))
	require.False(t, IsDuplicateKeyErr(errors.New("connection reset")))
	require.True(t, IsDuplicateKeyErr(gorm.ErrDuplicatedKey))
	require.True(t, IsDuplicateKeyErr(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	require.True(t, IsDuplicateKeyErr(errors.New("Error 1062: Duplicate entry")))
	require.True(t, IsDuplicateKeyErr(errors.New("UNIQUE constraint failed: manufacturers.name")))
}

func TestDialectRejectsUnknownType(t *testing.T) {
	_, err := Dialect(Config{Type: "oracle"})
	require.Error(t, err)

	d, err := Dialect(Config{Type: "sqlite", SQLitePath: "file::memory:"})
	require.NoError(t, err)
	require.Equal(t, "sqlite", d.Name())
}

func TestWithSearchPathNoopOnSQLite(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		return WithSearchPath(tx, "tenant_a")
	}))
}
