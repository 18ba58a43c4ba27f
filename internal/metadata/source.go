package metadata

import (
	"context"
	"errors"
)

var (
	// ErrInvalidISBN is returned when the provided ISBN is empty or malformed.
	ErrInvalidISBN = errors.New("invalid ISBN")
	// ErrEmptyQuery is returned for a title/author lookup without a title.
	ErrEmptyQuery = errors.New("empty title query")
)

// Source is an external bibliographic catalog.
//
// Both lookups return nil, nil when the catalog has no matching record so a
// Chain can move on to the next source. A non-nil error means the source
// itself failed.
type Source interface {
	Name() string
	LookupByISBN(ctx context.Context, isbn string) (*Book, error)
	LookupByTitleAuthor(ctx context.Context, title, author string) (*Book, error)
}

// Searcher is implemented by sources that can return several candidates for
// a free-text query.
type Searcher interface {
	Search(ctx context.Context, query Query, limit int) ([]Book, error)
}

// Query is partial book information used to look up candidates. A non-empty
// ISBN overrides title and author.
type Query struct {
	Title  string
	Author string
	ISBN   string
}

// IsEmpty reports whether the query has nothing to search on.
func (q Query) IsEmpty() bool {
	return q.Title == "" && q.Author == "" && q.ISBN == ""
}
