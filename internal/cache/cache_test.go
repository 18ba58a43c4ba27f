package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

type testPayload struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func setupTestCache(t *testing.T) *CacheDB {
	t.Helper()

	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.Set("cache.ttl", "1h")

	c, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	return c
}

func withGlobalCache(t *testing.T, c *CacheDB) {
	t.Helper()

	oldCache, oldErr := globalCache, globalCacheErr
	globalCache, globalCacheErr = c, nil
	globalCacheOnce = sync.Once{}
	globalCacheOnce.Do(func() {})

	t.Cleanup(func() {
		globalCache, globalCacheErr = oldCache, oldErr
		globalCacheOnce = sync.Once{}
	})
}

func (c *CacheDB) has(tableName, key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var one int
	err := c.db.QueryRow("SELECT 1 FROM "+tableName+" WHERE cache_key = ? LIMIT 1", key).Scan(&one)
	return err == nil
}

func setCachedAt(t *testing.T, c *CacheDB, tableName, key string, at time.Time) {
	t.Helper()
	_, err := c.db.Exec("UPDATE "+tableName+" SET cached_at = ? WHERE cache_key = ?", at.UTC(), key)
	require.NoError(t, err)
}

func TestOpenCreatesAllTables(t *testing.T) {
	c := setupTestCache(t)

	for table := range ValidCacheTableNames {
		require.NoError(t, c.Set(table, "k", "v", 0), table)
		require.True(t, c.has(table, "k"), table)
	}
}

func TestGetSet(t *testing.T) {
	c := setupTestCache(t)

	require.NoError(t, c.Set(GoogleBooksTable, "9780143039433", `{"title":"x"}`, 0))

	data, ok, err := c.Get(GoogleBooksTable, "9780143039433", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{"title":"x"}`, data)

	_, ok, err = c.Get(GoogleBooksTable, "missing", time.Hour)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGetExpired(t *testing.T) {
	c := setupTestCache(t)

	require.NoError(t, c.Set(OpenLibraryTable, "k", "v", 0))
	setCachedAt(t, c, OpenLibraryTable, "k", time.Now().Add(-2*time.Hour))

	_, ok, err := c.Get(OpenLibraryTable, "k", time.Hour)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPerEntryTTLOverridesDefault(t *testing.T) {
	c := setupTestCache(t)

	require.NoError(t, c.Set(ISBNdbTable, "short", "v", time.Minute))
	setCachedAt(t, c, ISBNdbTable, "short", time.Now().Add(-5*time.Minute))

	_, ok, err := c.Get(ISBNdbTable, "short", 24*time.Hour)
	require.NoError(t, err)
	require.False(t, ok, "entry should expire by its own TTL")

	require.NoError(t, c.Set(ISBNdbTable, "long", "v", 48*time.Hour))
	setCachedAt(t, c, ISBNdbTable, "long", time.Now().Add(-30*time.Hour))

	_, ok, err = c.Get(ISBNdbTable, "long", 24*time.Hour)
	require.NoError(t, err)
	require.True(t, ok, "entry should outlive the default TTL")
}

func TestInvalidTableName(t *testing.T) {
	c := setupTestCache(t)

	require.Error(t, c.Set("users; DROP TABLE x", "k", "v", 0))
	_, _, err := c.Get("nope_cache", "k", time.Hour)
	require.Error(t, err)
	_, err = c.InvalidateSource("nope_cache")
	require.ErrorContains(t, err, "invalid cache table name")
	require.False(t, c.has("nope_cache", "k"))
}

func TestClearExpired(t *testing.T) {
	c := setupTestCache(t)

	require.NoError(t, c.Set(VisionTable, "old", "v", 0))
	require.NoError(t, c.Set(VisionTable, "fresh", "v", 0))
	setCachedAt(t, c, VisionTable, "old", time.Now().Add(-3*time.Hour))

	n, err := c.ClearExpired(VisionTable, time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	require.False(t, c.has(VisionTable, "old"))
	require.True(t, c.has(VisionTable, "fresh"))
}

func TestInvalidateSource(t *testing.T) {
	c := setupTestCache(t)

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, c.Set(ScrapeTable, k, "v", 0))
	}
	require.NoError(t, c.Set(VisionTable, "a", "v", 0))

	n, err := c.InvalidateSource(ScrapeTable)
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
	require.True(t, c.has(VisionTable, "a"), "other tables untouched")

	n, err = c.InvalidateSource(ScrapeTable)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestSourcesMapToValidTables(t *testing.T) {
	for source, table := range Sources {
		require.True(t, ValidCacheTableNames[table], source)
	}
}

func TestGetOrFetch_MissThenHit(t *testing.T) {
	c := setupTestCache(t)
	withGlobalCache(t, c)

	calls := 0
	fetch := func(context.Context) (testPayload, error) {
		calls++
		return testPayload{ID: 7, Name: "Dune"}, nil
	}

	got, fromCache, err := GetOrFetch(context.Background(), GoogleBooksTable, "dune", fetch)
	require.NoError(t, err)
	require.False(t, fromCache)
	require.Equal(t, testPayload{ID: 7, Name: "Dune"}, got)

	got, fromCache, err = GetOrFetch(context.Background(), GoogleBooksTable, "dune", fetch)
	require.NoError(t, err)
	require.True(t, fromCache)
	require.Equal(t, "Dune", got.Name)
	require.Equal(t, 1, calls)
}

func TestGetOrFetch_RespectsConfiguredTTL(t *testing.T) {
	c := setupTestCache(t)
	withGlobalCache(t, c)

	require.NoError(t, c.Set(GoogleBooksTable, "k", `{"id":1,"name":"stale"}`, 0))
	setCachedAt(t, c, GoogleBooksTable, "k", time.Now().Add(-2*time.Hour))

	got, fromCache, err := GetOrFetch(context.Background(), GoogleBooksTable, "k", func(context.Context) (testPayload, error) {
		return testPayload{ID: 2, Name: "fresh"}, nil
	})
	require.NoError(t, err)
	require.False(t, fromCache)
	require.Equal(t, "fresh", got.Name)
}

func TestGetOrFetch_FetchErrorIsNotCached(t *testing.T) {
	c := setupTestCache(t)
	withGlobalCache(t, c)

	boom := errors.New("boom")
	_, _, err := GetOrFetch(context.Background(), GoogleBooksTable, "k", func(context.Context) (testPayload, error) {
		return testPayload{}, boom
	})
	require.ErrorIs(t, err, boom)
	require.False(t, c.has(GoogleBooksTable, "k"))
}

func TestGetOrFetch_PassesContext(t *testing.T) {
	c := setupTestCache(t)
	withGlobalCache(t, c)

	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "marker")

	got, _, err := GetOrFetch(ctx, ScrapeTable, "k", func(ctx context.Context) (string, error) {
		v, _ := ctx.Value(key{}).(string)
		return v, nil
	})
	require.NoError(t, err)
	require.Equal(t, "marker", got)
}

func TestGetOrFetchWithPolicy_SkipCaching(t *testing.T) {
	c := setupTestCache(t)
	withGlobalCache(t, c)

	policy := Policy[*testPayload]{ShouldCache: func(p *testPayload) bool { return p != nil }}

	got, _, err := GetOrFetchWithPolicy(context.Background(), VisionTable, "nil", func(context.Context) (*testPayload, error) {
		return nil, nil
	}, policy)
	require.NoError(t, err)
	require.Nil(t, got)
	require.False(t, c.has(VisionTable, "nil"))

	_, _, err = GetOrFetchWithPolicy(context.Background(), VisionTable, "set", func(context.Context) (*testPayload, error) {
		return &testPayload{ID: 1}, nil
	}, policy)
	require.NoError(t, err)
	require.True(t, c.has(VisionTable, "set"))
}

type lookupResult struct {
	Name     string `json:"name"`
	NotFound bool   `json:"not_found"`
}

func TestGetOrFetchWithTTL_NegativeCaching(t *testing.T) {
	c := setupTestCache(t)
	withGlobalCache(t, c)
	viper.Set("cache.ttl", "720h")

	selector := SelectNegativeCacheTTL(func(r lookupResult) bool { return r.NotFound })

	_, _, err := GetOrFetchWithTTL(context.Background(), OpenLibraryTable, "missing", func(context.Context) (lookupResult, error) {
		return lookupResult{NotFound: true}, nil
	}, selector)
	require.NoError(t, err)

	// older than the negative TTL but well within the default
	setCachedAt(t, c, OpenLibraryTable, "missing", time.Now().Add(-NegativeCacheTTL-time.Hour))

	calls := 0
	got, fromCache, err := GetOrFetchWithTTL(context.Background(), OpenLibraryTable, "missing", func(context.Context) (lookupResult, error) {
		calls++
		return lookupResult{Name: "found now"}, nil
	}, selector)
	require.NoError(t, err)
	require.False(t, fromCache)
	require.Equal(t, 1, calls)
	require.Equal(t, "found now", got.Name)
}

func TestSelectNegativeCacheTTL(t *testing.T) {
	selector := SelectNegativeCacheTTL(func(r lookupResult) bool { return r.NotFound })

	require.Equal(t, NegativeCacheTTL, selector(lookupResult{NotFound: true}))
	require.Zero(t, selector(lookupResult{Name: "x"}))
}

func TestConfiguredTTL(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	require.Equal(t, DefaultCacheTTL, configuredTTL())

	viper.Set("cache.ttl", "2h")
	require.Equal(t, 2*time.Hour, configuredTTL())

	viper.Set("cache.ttl", "bogus")
	require.Equal(t, DefaultCacheTTL, configuredTTL())
}

func TestGetGlobalCacheUsesConfiguredPath(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	require.NoError(t, ResetGlobalCache())
	t.Cleanup(func() { _ = ResetGlobalCache() })

	path := filepath.Join(t.TempDir(), "global.db")
	viper.Set("cache.dbfile", path)

	c, err := GetGlobalCache()
	require.NoError(t, err)
	require.Equal(t, path, c.Path())

	again, err := GetGlobalCache()
	require.NoError(t, err)
	require.Same(t, c, again)
}

func TestGetOrFetch_FetchesDirectlyWhenCacheUnavailable(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	require.NoError(t, ResetGlobalCache())
	t.Cleanup(func() { _ = ResetGlobalCache() })

	notADir := filepath.Join(t.TempDir(), "plain-file")
	require.NoError(t, os.WriteFile(notADir, []byte("x"), 0o644))
	viper.Set("cache.dbfile", filepath.Join(notADir, "cache.db"))
	_, err := GetGlobalCache()
	require.Error(t, err)

	calls := 0
	got, cached, err := GetOrFetch(context.Background(), GoogleBooksTable, "isbn:1", func(context.Context) (testPayload, error) {
		calls++
		return testPayload{ID: 1, Name: "Dune"}, nil
	})
	require.NoError(t, err)
	require.False(t, cached)
	require.Equal(t, "Dune", got.Name)

	_, _, err = GetOrFetch(context.Background(), GoogleBooksTable, "isbn:1", func(context.Context) (testPayload, error) {
		calls++
		return testPayload{}, errors.New("upstream down")
	})
	require.ErrorContains(t, err, "upstream down")
	require.Equal(t, 2, calls)
}
