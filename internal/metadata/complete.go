package metadata

import (
	"context"
)

// Complete looks up the best match for partial and returns it with every
// non-empty field of partial laid over it. It returns nil, nil when nothing
// matched.
func Complete(ctx context.Context, s Searcher, partial Book) (*Book, error) {
	q := Query{Title: partial.Title, Author: partial.Author, ISBN: partial.ISBN}
	if q.IsEmpty() {
		return nil, ErrEmptyQuery
	}

	candidates, err := s.Search(ctx, q, 1)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	completed := partial.Clone()
	completed.Fill(&candidates[0])
	if completed.Source == "" {
		completed.Source = candidates[0].Source
	}
	return completed, nil
}
