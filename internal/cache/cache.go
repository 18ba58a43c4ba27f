// Package cache stores responses from the external lookup services in a
// local SQLite database so repeated identifications of the same cover don't
// spend API quota.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/viper"
	_ "modernc.org/sqlite"
)

const (
	// DefaultCacheTTL is the default time-to-live for cached entries (30 days)
	DefaultCacheTTL = 720 * time.Hour
	// NegativeCacheTTL is the TTL for "not found" responses (7 days)
	NegativeCacheTTL = 168 * time.Hour
)

// FetchFunc fetches a value from an external source on a cache miss.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// CacheDB manages the SQLite database connection for caching
type CacheDB struct {
	db   *sql.DB
	mu   sync.RWMutex
	path string
}

var (
	globalCache     *CacheDB
	globalCacheOnce sync.Once
	globalCacheErr  error
)

// ResetGlobalCache closes the current global cache so the next call to
// GetGlobalCache opens a fresh one.
func ResetGlobalCache() error {
	var err error
	if globalCache != nil {
		err = globalCache.Close()
	}
	globalCache = nil
	globalCacheErr = nil
	globalCacheOnce = sync.Once{}
	return err
}

// GetGlobalCache returns the shared cache opened from cache.dbfile.
func GetGlobalCache() (*CacheDB, error) {
	globalCacheOnce.Do(func() {
		dbPath := viper.GetString("cache.dbfile")
		if dbPath == "" {
			dbPath = "./cache.db"
		}
		globalCache, globalCacheErr = Open(dbPath)
	})
	return globalCache, globalCacheErr
}

// Open opens the cache database and creates every cache table.
func Open(dbPath string) (*CacheDB, error) {
	c, err := NewCacheDB(dbPath)
	if err != nil {
		return nil, err
	}
	for table := range ValidCacheTableNames {
		if err := c.CreateTable(tableSchema(table)); err != nil {
			return nil, errors.Join(fmt.Errorf("failed to create cache table %s: %w", table, err), c.Close())
		}
	}
	return c, nil
}

// NewCacheDB opens the database connection without creating tables.
func NewCacheDB(dbPath string) (*CacheDB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	if err := db.Ping(); err != nil {
		closeErr := db.Close()
		return nil, errors.Join(fmt.Errorf("failed to connect to cache database: %w", err), closeErr)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		closeErr := db.Close()
		return nil, errors.Join(fmt.Errorf("failed to configure cache database: %w", err), closeErr)
	}

	return &CacheDB{db: db, path: dbPath}, nil
}

// CreateTable executes a schema statement.
func (c *CacheDB) CreateTable(schema string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	return nil
}

// Close closes the database connection
func (c *CacheDB) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Path returns the database file path.
func (c *CacheDB) Path() string {
	return c.path
}

// Get returns the cached value for key when it exists and has not expired.
// Entries stored without their own TTL expire after defaultTTL.
func (c *CacheDB) Get(tableName, key string, defaultTTL time.Duration) (string, bool, error) {
	if err := validateTableName(tableName); err != nil {
		return "", false, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	query := fmt.Sprintf(`SELECT data, ttl_seconds, cached_at FROM %s WHERE cache_key = ?`, tableName)

	var (
		data       string
		ttlSeconds int64
		cachedAt   time.Time
	)
	err := c.db.QueryRow(query, key).Scan(&data, &ttlSeconds, &cachedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query cache: %w", err)
	}

	ttl := defaultTTL
	if ttlSeconds > 0 {
		ttl = time.Duration(ttlSeconds) * time.Second
	}
	if age := time.Now().UTC().Sub(cachedAt); age > ttl {
		slog.Debug("Cache expired", "table", tableName, "key", key, "age", age)
		return "", false, nil
	}

	return data, true, nil
}

// Set stores a value. A ttl of zero means the entry follows the default TTL.
func (c *CacheDB) Set(tableName, key, data string, ttl time.Duration) error {
	if err := validateTableName(tableName); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	query := fmt.Sprintf(`
		INSERT OR REPLACE INTO %s (cache_key, data, ttl_seconds, cached_at)
		VALUES (?, ?, ?, ?)
	`, tableName)

	if _, err := c.db.Exec(query, key, data, int64(ttl/time.Second), time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}
	return nil
}

// ClearExpired removes entries older than defaultTTL from the table and
// returns the number removed. Entries with their own TTL are judged against
// it.
func (c *CacheDB) ClearExpired(tableName string, defaultTTL time.Duration) (int64, error) {
	if err := validateTableName(tableName); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.db.Query(fmt.Sprintf(`SELECT cache_key, ttl_seconds, cached_at FROM %s`, tableName))
	if err != nil {
		return 0, fmt.Errorf("failed to scan cache: %w", err)
	}

	now := time.Now().UTC()
	var expired []string
	for rows.Next() {
		var (
			key        string
			ttlSeconds int64
			cachedAt   time.Time
		)
		if err := rows.Scan(&key, &ttlSeconds, &cachedAt); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("failed to scan cache row: %w", err)
		}
		ttl := defaultTTL
		if ttlSeconds > 0 {
			ttl = time.Duration(ttlSeconds) * time.Second
		}
		if now.Sub(cachedAt) > ttl {
			expired = append(expired, key)
		}
	}
	if err := errors.Join(rows.Err(), rows.Close()); err != nil {
		return 0, fmt.Errorf("failed to scan cache: %w", err)
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE cache_key = ?`, tableName)
	for _, key := range expired {
		if _, err := c.db.Exec(query, key); err != nil {
			return 0, fmt.Errorf("failed to clear expired cache: %w", err)
		}
	}

	if len(expired) > 0 {
		slog.Info("Cleared expired cache entries", "table", tableName, "count", len(expired))
	}
	return int64(len(expired)), nil
}

// InvalidateSource deletes every entry in the table and returns the number
// of rows removed.
func (c *CacheDB) InvalidateSource(tableName string) (int64, error) {
	if err := validateTableName(tableName); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	result, err := c.db.Exec(fmt.Sprintf("DELETE FROM %s", tableName))
	if err != nil {
		return 0, fmt.Errorf("failed to delete cache entries: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	slog.Debug("Cache table cleared", "table", tableName, "rows_deleted", rows)
	return rows, nil
}

// SelectNegativeCacheTTL returns a TTL selector that keeps "not found"
// results for NegativeCacheTTL and everything else for the default TTL.
func SelectNegativeCacheTTL[T any](isNotFound func(T) bool) func(T) time.Duration {
	return func(result T) time.Duration {
		if isNotFound(result) {
			return NegativeCacheTTL
		}
		return 0
	}
}

// Policy controls how a fetched value is stored.
type Policy[T any] struct {
	// ShouldCache skips storing when it returns false. Nil caches everything.
	ShouldCache func(T) bool
	// TTL picks a per-entry TTL. Nil or a zero result uses the default.
	TTL func(T) time.Duration
}

// GetOrFetch returns the cached value for key or calls fetch and caches the
// result. The bool reports whether the value came from the cache. Cache
// failures never fail the lookup; they are logged and the fetch result is
// returned as-is.
func GetOrFetch[T any](ctx context.Context, tableName, cacheKey string, fetch FetchFunc[T]) (T, bool, error) {
	return GetOrFetchWithPolicy(ctx, tableName, cacheKey, fetch, Policy[T]{})
}

// GetOrFetchWithTTL is GetOrFetch with a per-result TTL selector, typically
// SelectNegativeCacheTTL.
func GetOrFetchWithTTL[T any](ctx context.Context, tableName, cacheKey string, fetch FetchFunc[T], ttl func(T) time.Duration) (T, bool, error) {
	return GetOrFetchWithPolicy(ctx, tableName, cacheKey, fetch, Policy[T]{TTL: ttl})
}

// GetOrFetchWithPolicy is the general form of GetOrFetch.
func GetOrFetchWithPolicy[T any](ctx context.Context, tableName, cacheKey string, fetch FetchFunc[T], policy Policy[T]) (T, bool, error) {
	var zero T

	c, err := GetGlobalCache()
	if err != nil {
		slog.Warn("Failed to initialize cache, fetching directly", "error", err)
		v, err := fetch(ctx)
		return v, false, err
	}

	defaultTTL := configuredTTL()

	if cached, ok, err := c.Get(tableName, cacheKey, defaultTTL); err == nil && ok {
		var result T
		if err := json.Unmarshal([]byte(cached), &result); err == nil {
			slog.Debug("Cache hit", "table", tableName, "key", cacheKey)
			return result, true, nil
		}
		slog.Warn("Failed to unmarshal cached data, will refetch", "table", tableName, "key", cacheKey, "error", err)
	}

	slog.Debug("Cache miss, fetching data", "table", tableName, "key", cacheKey)
	data, err := fetch(ctx)
	if err != nil {
		return zero, false, fmt.Errorf("failed to fetch data: %w", err)
	}

	if policy.ShouldCache != nil && !policy.ShouldCache(data) {
		slog.Debug("Skipping cache store per policy", "table", tableName, "key", cacheKey)
		return data, false, nil
	}

	var ttl time.Duration
	if policy.TTL != nil {
		ttl = policy.TTL(data)
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		slog.Warn("Failed to marshal data for caching", "table", tableName, "key", cacheKey, "error", err)
		return data, false, nil
	}
	if err := c.Set(tableName, cacheKey, string(jsonData), ttl); err != nil {
		slog.Warn("Failed to cache data", "table", tableName, "key", cacheKey, "error", err)
	}

	return data, false, nil
}

func configuredTTL() time.Duration {
	ttlStr := viper.GetString("cache.ttl")
	if ttlStr == "" {
		return DefaultCacheTTL
	}
	ttl, err := time.ParseDuration(ttlStr)
	if err != nil {
		slog.Warn("Invalid cache TTL, using default", "ttl", ttlStr, "error", err)
		return DefaultCacheTTL
	}
	return ttl
}
