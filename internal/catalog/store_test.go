package catalog_test

import (
	"context"
	"testing"

	"github.com/lepinkainen/librarian/internal/catalog"
	"github.com/lepinkainen/librarian/internal/metadata"
	"github.com/lepinkainen/librarian/internal/testutil"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func newStore(t *testing.T) *catalog.Store {
	t.Helper()
	return testutil.NewCatalog(t, testutil.NewTestEnv(t))
}

func TestAddBookRejectsDuplicateISBN(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	first, err := store.AddBook(ctx, catalog.Book{Title: "The Grapes of Wrath", ISBN: ptr("9780143039433")})
	require.NoError(t, err)
	require.Equal(t, catalog.StatusAvailable, first.Status)

	// the same cover identified again, ISBN written with hyphens this time
	_, err = store.AddBook(ctx, catalog.Book{Title: "The Grapes of Wrath", ISBN: ptr("978-0-14-303943-3")})
	require.ErrorIs(t, err, catalog.ErrDuplicate)

	matches, err := store.SearchBooks(ctx, "9780143039433")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, first.ID, matches[0].ID)
}

func TestIsDuplicateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	dup, err := store.IsDuplicate(ctx, "9780441013593")
	require.NoError(t, err)
	require.False(t, dup)

	testutil.AddBook(t, store, "Dune", "9780441013593")

	for range 3 {
		dup, err = store.IsDuplicate(ctx, "978 0 441 01359 3")
		require.NoError(t, err)
		require.True(t, dup)
	}

	dup, err = store.IsDuplicate(ctx, "")
	require.NoError(t, err)
	require.False(t, dup)
}

func TestBooksWithoutISBNNeverCollide(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	a, err := store.AddBook(ctx, catalog.Book{Title: "Untitled zine"})
	require.NoError(t, err)
	b, err := store.AddBook(ctx, catalog.Book{Title: "Untitled zine", ISBN: ptr("  ")})
	require.NoError(t, err)

	require.NotEqual(t, a.ID, b.ID)
	require.Nil(t, b.ISBN)
}

func TestAddBookValidation(t *testing.T) {
	store := newStore(t)

	_, err := store.AddBook(context.Background(), catalog.Book{Title: "   "})
	require.ErrorIs(t, err, catalog.ErrInvalid)

	_, err = store.AddBook(context.Background(), catalog.Book{Title: "Dune", PageCount: -1})
	require.ErrorIs(t, err, catalog.ErrInvalid)
}

func TestGetBookRoundTripsNullableFields(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	owner := testutil.AddUser(t, store, "ada", false)

	added, err := store.AddBook(ctx, catalog.Book{
		Title:      "Dune",
		Author:     "Frank Herbert",
		ISBN:       ptr("9780441013593"),
		PageCount:  412,
		Categories: "Fiction, Science Fiction",
		ExternalID: ptr("B00B7NPRY8"),
		Rating:     ptr(4.3),
		OwnerID:    &owner.ID,
	})
	require.NoError(t, err)

	got, err := store.GetBook(ctx, added.ID)
	require.NoError(t, err)
	require.Equal(t, "Frank Herbert", got.Author)
	require.Equal(t, 412, got.PageCount)
	require.Equal(t, "B00B7NPRY8", *got.ExternalID)
	require.InDelta(t, 4.3, *got.Rating, 0.001)
	require.Equal(t, owner.ID, *got.OwnerID)
	require.True(t, added.CreatedAt.Equal(got.CreatedAt))

	_, err = store.GetBook(ctx, 9999)
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestListBooksNewestFirstWithPaging(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	for _, title := range []string{"First", "Second", "Third"} {
		testutil.AddBook(t, store, title, "")
	}

	page, err := store.ListBooks(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, "Third", page[0].Title)
	require.Equal(t, "Second", page[1].Title)

	page, err = store.ListBooks(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, "First", page[0].Title)
}

func TestSearchAndCategory(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	_, err := store.AddBook(ctx, catalog.Book{Title: "Dune", Author: "Frank Herbert", Categories: "Science Fiction"})
	require.NoError(t, err)
	_, err = store.AddBook(ctx, catalog.Book{Title: "Cien años de soledad", Author: "Gabriel García Márquez", Categories: "Fiction"})
	require.NoError(t, err)
	_, err = store.AddBook(ctx, catalog.Book{Title: "100% Recycled", Categories: "Crafts"})
	require.NoError(t, err)

	found, err := store.SearchBooks(ctx, "herbert")
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, "Dune", found[0].Title)

	found, err = store.SearchBooks(ctx, "100%")
	require.NoError(t, err)
	require.Len(t, found, 1, "wildcards in the query are literal")

	found, err = store.SearchBooks(ctx, "  ")
	require.NoError(t, err)
	require.Empty(t, found)

	fiction, err := store.BooksByCategory(ctx, "Fiction")
	require.NoError(t, err)
	require.Len(t, fiction, 2)
}

func TestUpdateBookPartial(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	dune := testutil.AddBook(t, store, "Dune", "9780441013593")
	other := testutil.AddBook(t, store, "Emma", "9780141439587")

	updated, err := store.UpdateBook(ctx, dune.ID, catalog.BookUpdate{
		Author:    ptr("Frank Herbert"),
		PageCount: ptr(896),
	})
	require.NoError(t, err)
	require.Equal(t, "Dune", updated.Title)
	require.Equal(t, "Frank Herbert", updated.Author)
	require.Equal(t, 896, updated.PageCount)

	_, err = store.UpdateBook(ctx, other.ID, catalog.BookUpdate{ISBN: ptr("978-0-441-01359-3")})
	require.ErrorIs(t, err, catalog.ErrDuplicate)

	_, err = store.UpdateBook(ctx, dune.ID, catalog.BookUpdate{Title: ptr("")})
	require.ErrorIs(t, err, catalog.ErrInvalid)

	_, err = store.UpdateBook(ctx, 9999, catalog.BookUpdate{})
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestDeleteBookReturnsRow(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	b, err := store.AddBook(ctx, catalog.Book{Title: "Dune", CoverImage: "/uploads/cover-1.jpg"})
	require.NoError(t, err)

	deleted, err := store.DeleteBook(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, "/uploads/cover-1.jpg", deleted.CoverImage)

	_, err = store.DeleteBook(ctx, b.ID)
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	st, err := store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, catalog.Stats{}, st)

	testutil.AddBook(t, store, "Dune", "")
	_, err = store.AddBook(ctx, catalog.Book{Title: "Emma", Status: catalog.StatusBorrowed})
	require.NoError(t, err)

	st, err = store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, catalog.Stats{Total: 2, Borrowed: 1, Available: 1}, st)
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	u, err := store.CreateUser(ctx, catalog.User{Name: "Ada", Email: " Ada@Example.com ", PasswordHash: "$2a$10$abc"})
	require.NoError(t, err)
	require.True(t, u.Enabled)
	require.Equal(t, "ada@example.com", u.Email)

	_, err = store.CreateUser(ctx, catalog.User{Name: "Other Ada", Email: "ada@example.com"})
	require.ErrorIs(t, err, catalog.ErrEmailTaken)

	_, err = store.CreateUser(ctx, catalog.User{Name: "", Email: "x@example.com"})
	require.ErrorIs(t, err, catalog.ErrInvalid)

	require.NoError(t, store.SetUserEnabled(ctx, u.ID, false))
	got, err := store.GetUser(ctx, u.ID)
	require.NoError(t, err)
	require.False(t, got.Enabled)
	require.Equal(t, "$2a$10$abc", got.PasswordHash)

	require.ErrorIs(t, store.SetUserEnabled(ctx, 9999, true), catalog.ErrNotFound)

	testutil.AddUser(t, store, "bob", false)
	users, err := store.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	require.Equal(t, "Ada", users[0].Name)
}

func TestBookFromMetadata(t *testing.T) {
	rating := 4.1
	b := catalog.BookFromMetadata(&metadata.Book{
		Title:      "Dune",
		ISBN:       "9780441013593",
		ExternalID: "",
		Rating:     &rating,
	})

	require.Equal(t, "Dune", b.Title)
	require.Equal(t, "9780441013593", *b.ISBN)
	require.Nil(t, b.ExternalID)
	require.InDelta(t, 4.1, *b.Rating, 0.001)
	require.Equal(t, catalog.Book{}, catalog.BookFromMetadata(nil))
}
