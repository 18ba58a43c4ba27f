package metadata

import (
	"context"
	"errors"
	"log/slog"
)

// Chain queries sources in order. By default the first source that returns a
// book wins; with merging enabled every source is asked and the results are
// merged in source order.
type Chain struct {
	sources []Source
	merge   bool
	merger  *PriorityMerger
}

var _ Source = (*Chain)(nil)

// NewChain creates a chain over sources, skipping nil entries.
func NewChain(sources ...Source) *Chain {
	c := &Chain{merger: NewPriorityMerger()}
	for _, s := range sources {
		if s != nil {
			c.sources = append(c.sources, s)
		}
	}
	return c
}

// WithMerge returns a copy of the chain that merges every source's answer.
func (c *Chain) WithMerge(enabled bool) *Chain {
	clone := *c
	clone.merge = enabled
	return &clone
}

// Name returns "chain".
func (c *Chain) Name() string {
	return "chain"
}

// Sources returns the sources in query order.
func (c *Chain) Sources() []Source {
	return c.sources
}

// LookupByISBN asks each source for isbn.
func (c *Chain) LookupByISBN(ctx context.Context, code string) (*Book, error) {
	return c.run(ctx, "isbn", func(s Source) (*Book, error) {
		return s.LookupByISBN(ctx, code)
	})
}

// LookupByTitleAuthor asks each source for title and author.
func (c *Chain) LookupByTitleAuthor(ctx context.Context, title, author string) (*Book, error) {
	return c.run(ctx, "title", func(s Source) (*Book, error) {
		return s.LookupByTitleAuthor(ctx, title, author)
	})
}

// Search uses the first source that supports multi-result search.
func (c *Chain) Search(ctx context.Context, query Query, limit int) ([]Book, error) {
	for _, s := range c.sources {
		if searcher, ok := s.(Searcher); ok {
			return searcher.Search(ctx, query, limit)
		}
	}
	if query.ISBN != "" {
		b, err := c.LookupByISBN(ctx, query.ISBN)
		if err != nil || b == nil {
			return nil, err
		}
		return []Book{*b}, nil
	}
	b, err := c.LookupByTitleAuthor(ctx, query.Title, query.Author)
	if err != nil || b == nil {
		return nil, err
	}
	return []Book{*b}, nil
}

// run returns an error only when every source failed. Sources that report
// "not found" are not failures.
func (c *Chain) run(ctx context.Context, kind string, call func(Source) (*Book, error)) (*Book, error) {
	var (
		errs    []error
		results []Result
	)
	for i, s := range c.sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, err := call(s)
		if err != nil {
			if errors.Is(err, ErrInvalidISBN) || errors.Is(err, ErrEmptyQuery) {
				return nil, err
			}
			slog.Warn("Metadata source failed", "source", s.Name(), "lookup", kind, "error", err)
			errs = append(errs, err)
			continue
		}
		if b == nil {
			slog.Debug("Metadata source had no match", "source", s.Name(), "lookup", kind)
			continue
		}
		if !c.merge {
			return b, nil
		}
		results = append(results, Result{Book: b, Source: s.Name(), Priority: i})
	}

	if merged := c.merger.Merge(results); merged != nil {
		return merged, nil
	}
	if len(errs) > 0 && len(errs) == len(c.sources) {
		return nil, errors.Join(errs...)
	}
	return nil, nil
}
