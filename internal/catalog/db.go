package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Dialect selects the SQL flavor of the backing database.
type Dialect string

const (
	SQLite Dialect = "sqlite"
	MySQL  Dialect = "mysql"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB is the catalog database shared by the book store and the lending
// ledger.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// Open connects to the database and creates the schema.
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	d := Dialect(strings.ToLower(driver))
	var (
		conn *sql.DB
		err  error
	)
	switch d {
	case SQLite, "":
		d = SQLite
		conn, err = sql.Open("sqlite", sqliteDSN(dsn))
		if err == nil {
			// one writer; transactions queue instead of failing with SQLITE_BUSY
			conn.SetMaxOpenConns(1)
		}
	case MySQL:
		dsn, err = mysqlDSN(dsn)
		if err != nil {
			return nil, err
		}
		conn, err = sql.Open("mysql", dsn)
		if err == nil {
			conn.SetMaxOpenConns(20)
			conn.SetMaxIdleConns(5)
			conn.SetConnMaxLifetime(30 * time.Minute)
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		closeErr := conn.Close()
		return nil, errors.Join(fmt.Errorf("failed to connect to database: %w", err), closeErr)
	}

	db := &DB{DB: conn, Dialect: d}
	if err := db.migrate(ctx); err != nil {
		closeErr := conn.Close()
		return nil, errors.Join(err, closeErr)
	}
	slog.Debug("Catalog database ready", "driver", d)
	return db, nil
}

// sqliteDSN adds the pragmas every connection needs.
func sqliteDSN(dsn string) string {
	if dsn == "" {
		dsn = "librarian.db"
	}
	pragmas := []string{"_pragma=busy_timeout(5000)", "_pragma=foreign_keys(1)"}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	for _, p := range pragmas {
		if !strings.Contains(dsn, p) {
			dsn += sep + p
			sep = "&"
		}
	}
	return dsn
}

// mysqlDSN makes DATETIME columns scan into time.Time in UTC, which every
// row scanner in this module relies on.
func mysqlDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN(), nil
}

// ForUpdate returns the row-lock suffix for SELECTs inside a transaction.
// SQLite serializes writers on its single connection and has no such clause.
func (db *DB) ForUpdate() string {
	if db.Dialect == MySQL {
		return " FOR UPDATE"
	}
	return ""
}

func (db *DB) migrate(ctx context.Context) error {
	stmts := sqliteSchema
	if db.Dialect == MySQL {
		stmts = mysqlSchema
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// RunInTx runs fn in a transaction, committing when it returns nil.
func (db *DB) RunInTx(ctx context.Context, fn func(ctx context.Context, tx DBTX) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// IsUniqueViolation reports whether err came from a unique index.
func IsUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// Now returns the timestamp the store writes: UTC, whole seconds, so stored
// values compare correctly as text in SQLite.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}
