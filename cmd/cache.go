package cmd

import (
	"fmt"
	"sort"

	"github.com/lepinkainen/librarian/internal/cache"
	"github.com/spf13/viper"
)

// CacheCmd groups the lookup cache commands.
type CacheCmd struct {
	Invalidate CacheInvalidateCmd `cmd:"" help:"Drop every cached response of one source"`
	Prune      CachePruneCmd      `cmd:"" help:"Delete expired entries from every cache table"`
}

type CacheInvalidateCmd struct {
	Source string `arg:"" enum:"googlebooks,openlibrary,isbndb,vision,scrape" help:"Source to invalidate (googlebooks, openlibrary, isbndb, vision, scrape)"`
}

func (c *CacheInvalidateCmd) Run() error {
	db, err := cache.GetGlobalCache()
	if err != nil {
		return err
	}
	n, err := db.InvalidateSource(cache.Sources[c.Source])
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Removed %d cached %s entries\n", n, c.Source)
	return nil
}

type CachePruneCmd struct{}

func (c *CachePruneCmd) Run() error {
	db, err := cache.GetGlobalCache()
	if err != nil {
		return err
	}
	ttl := viper.GetDuration("cache.ttl")
	if ttl <= 0 {
		ttl = cache.DefaultCacheTTL
	}

	names := make([]string, 0, len(cache.Sources))
	for name := range cache.Sources {
		names = append(names, name)
	}
	sort.Strings(names)

	var total int64
	for _, name := range names {
		n, err := db.ClearExpired(cache.Sources[name], ttl)
		if err != nil {
			return err
		}
		total += n
	}
	fmt.Fprintf(stdout, "Removed %d expired cache entries from %s\n", total, db.Path())
	return nil
}
