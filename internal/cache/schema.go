package cache

import "fmt"

// Cache table names. Every table shares the same layout so GetOrFetch can
// serve any source.
const (
	GoogleBooksTable = "googlebooks_cache"
	OpenLibraryTable = "openlibrary_cache"
	ISBNdbTable      = "isbndb_cache"
	VisionTable      = "vision_cache"
	ScrapeTable      = "scrape_cache"
)

// Sources maps the user-facing source name (as given to `cache invalidate`)
// to its table.
var Sources = map[string]string{
	"googlebooks": GoogleBooksTable,
	"openlibrary": OpenLibraryTable,
	"isbndb":      ISBNdbTable,
	"vision":      VisionTable,
	"scrape":      ScrapeTable,
}

// ValidCacheTableNames is the whitelist of table names that may be
// interpolated into queries.
var ValidCacheTableNames = map[string]bool{
	GoogleBooksTable: true,
	OpenLibraryTable: true,
	ISBNdbTable:      true,
	VisionTable:      true,
	ScrapeTable:      true,
}

// tableSchema returns the DDL for a cache table. ttl_seconds of 0 means the
// entry uses the configured default TTL.
func tableSchema(table string) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	cache_key TEXT PRIMARY KEY NOT NULL,
	data TEXT NOT NULL,
	ttl_seconds INTEGER NOT NULL DEFAULT 0,
	cached_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_%[1]s_cached_at ON %[1]s(cached_at);
`, table)
}

func validateTableName(tableName string) error {
	if !ValidCacheTableNames[tableName] {
		return fmt.Errorf("invalid cache table name: %s", tableName)
	}
	return nil
}
