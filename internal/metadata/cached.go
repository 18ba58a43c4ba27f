package metadata

import (
	"context"

	"github.com/lepinkainen/librarian/internal/cache"
)

// cachedResult wraps a lookup so "not found" can be cached too.
type cachedResult struct {
	Book     *Book `json:"book"`
	NotFound bool  `json:"not_found"`
}

type cachedList struct {
	Books []Book `json:"books"`
}

func (c *client) lookup(ctx context.Context, table, key string, fetch func(context.Context) (*Book, error)) (*Book, error) {
	wrapped := func(ctx context.Context) (*cachedResult, error) {
		b, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		return &cachedResult{Book: b, NotFound: b == nil}, nil
	}

	var (
		res *cachedResult
		err error
	)
	if c.useCache {
		res, _, err = cache.GetOrFetchWithTTL(ctx, table, key, wrapped, cache.SelectNegativeCacheTTL(func(r *cachedResult) bool {
			return r.NotFound
		}))
	} else {
		res, err = wrapped(ctx)
	}
	if err != nil {
		return nil, err
	}
	if res == nil || res.NotFound {
		return nil, nil
	}
	return res.Book.Clone(), nil
}

func (c *client) search(ctx context.Context, table, key string, fetch func(context.Context) ([]Book, error)) ([]Book, error) {
	wrapped := func(ctx context.Context) (cachedList, error) {
		books, err := fetch(ctx)
		return cachedList{Books: books}, err
	}
	if !c.useCache {
		res, err := wrapped(ctx)
		return res.Books, err
	}
	res, _, err := cache.GetOrFetchWithPolicy(ctx, table, key, wrapped, cache.Policy[cachedList]{
		ShouldCache: func(l cachedList) bool { return len(l.Books) > 0 },
	})
	return res.Books, err
}
