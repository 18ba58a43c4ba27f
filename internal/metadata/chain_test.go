package metadata

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	name  string
	book  *Book
	err   error
	calls int
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) LookupByISBN(context.Context, string) (*Book, error) {
	f.calls++
	return f.book.Clone(), f.err
}

func (f *fakeSource) LookupByTitleAuthor(context.Context, string, string) (*Book, error) {
	f.calls++
	return f.book.Clone(), f.err
}

func TestChainFirstMatchWins(t *testing.T) {
	miss := &fakeSource{name: "miss"}
	hit := &fakeSource{name: "hit", book: &Book{Title: "Dune"}}
	later := &fakeSource{name: "later", book: &Book{Title: "Other"}}

	b, err := NewChain(miss, hit, later).LookupByISBN(context.Background(), "9780441013593")
	require.NoError(t, err)
	require.Equal(t, "Dune", b.Title)
	require.Equal(t, 1, miss.calls)
	require.Zero(t, later.calls)
}

func TestChainSkipsFailingSource(t *testing.T) {
	broken := &fakeSource{name: "broken", err: errors.New("timeout")}
	hit := &fakeSource{name: "hit", book: &Book{Title: "Dune"}}

	b, err := NewChain(broken, hit).LookupByTitleAuthor(context.Background(), "Dune", "")
	require.NoError(t, err)
	require.Equal(t, "Dune", b.Title)
}

func TestChainAllFailed(t *testing.T) {
	a := &fakeSource{name: "a", err: errors.New("a down")}
	b := &fakeSource{name: "b", err: errors.New("b down")}

	_, err := NewChain(a, b).LookupByISBN(context.Background(), "9780441013593")
	require.ErrorContains(t, err, "a down")
	require.ErrorContains(t, err, "b down")
}

func TestChainNotFoundWhenSomeSourcesMiss(t *testing.T) {
	a := &fakeSource{name: "a", err: errors.New("a down")}
	b := &fakeSource{name: "b"}

	got, err := NewChain(a, b).LookupByISBN(context.Background(), "9780441013593")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestChainStopsOnInvalidInput(t *testing.T) {
	a := &fakeSource{name: "a", err: ErrInvalidISBN}
	b := &fakeSource{name: "b", book: &Book{Title: "x"}}

	_, err := NewChain(a, b).LookupByISBN(context.Background(), "")
	require.ErrorIs(t, err, ErrInvalidISBN)
	require.Zero(t, b.calls)
}

func TestChainMerge(t *testing.T) {
	primary := &fakeSource{name: "Google Books", book: &Book{Title: "Dune", Author: "Frank Herbert", Categories: "Fiction"}}
	secondary := &fakeSource{name: "OpenLibrary", book: &Book{Title: "Dune (ignored)", PageCount: 604, Categories: "fiction, Space"}}

	b, err := NewChain(primary, secondary).WithMerge(true).LookupByISBN(context.Background(), "9780441013593")
	require.NoError(t, err)
	require.Equal(t, "Dune", b.Title)
	require.Equal(t, 604, b.PageCount)
	require.Equal(t, "Fiction, Space", b.Categories)
	require.Equal(t, "Google Books+OpenLibrary", b.Source)
	require.Equal(t, 1, secondary.calls)
}

func TestChainSearchFallsBackToLookup(t *testing.T) {
	hit := &fakeSource{name: "hit", book: &Book{Title: "Dune"}}

	books, err := NewChain(hit).Search(context.Background(), Query{Title: "Dune"}, 5)
	require.NoError(t, err)
	require.Len(t, books, 1)
}

func TestNewChainSkipsNil(t *testing.T) {
	c := NewChain(nil, &fakeSource{name: "a"})
	require.Len(t, c.Sources(), 1)
}

func TestPriorityMergerOrdersByPriority(t *testing.T) {
	m := NewPriorityMerger()

	require.Nil(t, m.Merge(nil))
	require.Nil(t, m.Merge([]Result{{Source: "empty"}}))

	rating := 4.0
	merged := m.Merge([]Result{
		{Book: &Book{Title: "Low", Publisher: "Ace"}, Source: "low", Priority: 2},
		{Book: &Book{Title: "High", Rating: &rating}, Source: "high", Priority: 0},
	})
	require.Equal(t, "High", merged.Title)
	require.Equal(t, "Ace", merged.Publisher)
	require.Equal(t, 4.0, *merged.Rating)
	require.Equal(t, "high+low", merged.Source)
}

func TestNormalize(t *testing.T) {
	b := Normalize(Volume{
		Title:      "  Dune ",
		Authors:    []string{"Frank Herbert", "", "Brian Herbert"},
		ISBN13:     "978-0-441-01359-3",
		ISBN10:     "0441013597",
		Categories: []string{"Fiction", " "},
		Thumbnail:  "http://img/thumb",
	}, "test")

	require.Equal(t, "Dune", b.Title)
	require.Equal(t, "Frank Herbert, Brian Herbert", b.Author)
	require.Equal(t, "9780441013593", b.ISBN)
	require.Equal(t, "Fiction", b.Categories)
	require.Equal(t, "https://img/thumb", b.CoverImage)
	require.Equal(t, "https://img/thumb", b.ThumbnailImage)
	require.Nil(t, b.Rating)

	only10 := Normalize(Volume{Title: "x", ISBN10: "0-441-01359-7"}, "test")
	require.Equal(t, "0441013597", only10.ISBN)

	malformed := Normalize(Volume{Title: "x", ISBN13: "12345"}, "test")
	require.Empty(t, malformed.ISBN)
}

func TestBookFillKeepsExistingValues(t *testing.T) {
	b := &Book{Title: "Mine", Publisher: " "}
	b.Fill(&Book{Title: "Theirs", Publisher: "Ace", PageCount: 10})

	require.Equal(t, "Mine", b.Title)
	require.Equal(t, "Ace", b.Publisher)
	require.Equal(t, 10, b.PageCount)
}

type fakeSearcher struct {
	got   Query
	books []Book
}

func (f *fakeSearcher) Search(_ context.Context, q Query, _ int) ([]Book, error) {
	f.got = q
	return f.books, nil
}

func TestCompleteUserFieldsWin(t *testing.T) {
	s := &fakeSearcher{books: []Book{{Title: "Dune", Author: "Frank Herbert", Publisher: "Ace", ISBN: "9780441013593", Source: "Google Books"}}}

	got, err := Complete(context.Background(), s, Book{Title: "Dune", Publisher: "My Edition"})
	require.NoError(t, err)
	require.Equal(t, "My Edition", got.Publisher)
	require.Equal(t, "Frank Herbert", got.Author)
	require.Equal(t, "9780441013593", got.ISBN)
	require.Equal(t, "Google Books", got.Source)
	require.Equal(t, "Dune", s.got.Title)
}

func TestCompleteNoMatchAndEmptyQuery(t *testing.T) {
	s := &fakeSearcher{}

	got, err := Complete(context.Background(), s, Book{Title: "Nothing"})
	require.NoError(t, err)
	require.Nil(t, got)

	_, err = Complete(context.Background(), s, Book{Publisher: "only"})
	require.ErrorIs(t, err, ErrEmptyQuery)
}
