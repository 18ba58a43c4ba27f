package catalog

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/require"
)

func TestSQLiteDSN(t *testing.T) {
	require.Equal(t, "lib.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", sqliteDSN("lib.db"))
	require.Equal(t, "file:lib.db?mode=rwc&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", sqliteDSN("file:lib.db?mode=rwc"))
	require.Equal(t, "lib.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", sqliteDSN("lib.db?_pragma=foreign_keys(1)"))
}

func TestMySQLDSNParsesTimesAsUTC(t *testing.T) {
	dsn, err := mysqlDSN("lib:secret@tcp(db:3306)/library?loc=Local&charset=utf8mb4")
	require.NoError(t, err)

	cfg, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	require.True(t, cfg.ParseTime)
	require.Equal(t, time.UTC, cfg.Loc)
	require.Equal(t, "db:3306", cfg.Addr)
	require.Equal(t, "library", cfg.DBName)

	_, err = mysqlDSN("no-slash-here")
	require.ErrorContains(t, err, "invalid mysql dsn")
}

func TestForUpdate(t *testing.T) {
	require.Equal(t, " FOR UPDATE", (&DB{Dialect: MySQL}).ForUpdate())
	require.Empty(t, (&DB{Dialect: SQLite}).ForUpdate())
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "postgres", "")
	require.ErrorContains(t, err, "unsupported database driver")
}

func TestIsUniqueViolation(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, "sqlite", filepath.Join(t.TempDir(), "lib.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	insert := `INSERT INTO users (name, email, created_at) VALUES ('a', 'a@example.com', ?)`
	_, err = db.ExecContext(ctx, insert, Now())
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, insert, Now())
	require.True(t, IsUniqueViolation(fmt.Errorf("wrapped: %w", err)))

	require.True(t, IsUniqueViolation(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}))
	require.False(t, IsUniqueViolation(&mysql.MySQLError{Number: 1452}))
	require.False(t, IsUniqueViolation(errors.New("boom")))
	require.False(t, IsUniqueViolation(nil))
}

func TestRunInTxRollsBack(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, "", filepath.Join(t.TempDir(), "lib.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.Equal(t, SQLite, db.Dialect)

	boom := errors.New("boom")
	err = db.RunInTx(ctx, func(ctx context.Context, tx DBTX) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO books (title, created_at) VALUES ('Dune', ?)`, Now())
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM books`).Scan(&n))
	require.Zero(t, n)
}
