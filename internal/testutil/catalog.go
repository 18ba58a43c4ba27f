package testutil

import (
	"context"
	"testing"

	"github.com/lepinkainen/librarian/internal/catalog"
)

// NewCatalog opens a fresh SQLite catalog inside env and closes it when the
// test completes.
func NewCatalog(t *testing.T, env *TestEnv) *catalog.Store {
	t.Helper()

	db, err := catalog.Open(context.Background(), "sqlite", env.Path("catalog.db"))
	if err != nil {
		t.Fatalf("failed to open catalog: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return catalog.NewStore(db)
}

// AddUser stores a user with the given name, deriving the email from it.
func AddUser(t *testing.T, store *catalog.Store, name string, admin bool) *catalog.User {
	t.Helper()

	u, err := store.CreateUser(context.Background(), catalog.User{
		Name:    name,
		Email:   name + "@example.com",
		IsAdmin: admin,
	})
	if err != nil {
		t.Fatalf("failed to add user %q: %v", name, err)
	}
	return u
}

// AddBook stores a book with the given title and optional ISBN.
func AddBook(t *testing.T, store *catalog.Store, title, isbn string) *catalog.Book {
	t.Helper()

	b := catalog.Book{Title: title}
	if isbn != "" {
		b.ISBN = &isbn
	}
	added, err := store.AddBook(context.Background(), b)
	if err != nil {
		t.Fatalf("failed to add book %q: %v", title, err)
	}
	return added
}
