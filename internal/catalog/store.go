// Package catalog stores books and users in SQLite or MySQL.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lepinkainen/librarian/internal/isbn"
)

const bookColumns = `id, title, author, isbn, publisher, published_date, description, page_count,
	categories, language, cover_image, thumbnail_image, external_id, rating, status, owner_id, created_at`

// Store is the book and user repository.
type Store struct {
	db *DB
}

// NewStore wraps an open database.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying database for packages that share its
// transactions.
func (s *Store) DB() *DB {
	return s.db
}

// IsDuplicate reports whether a book with the same normalized ISBN is
// already stored. An empty ISBN is never a duplicate.
func (s *Store) IsDuplicate(ctx context.Context, code string) (bool, error) {
	code = isbn.Normalize(code)
	if code == "" {
		return false, nil
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM books WHERE isbn = ?`, code).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check for duplicate ISBN: %w", err)
	}
	return n > 0, nil
}

// AddBook inserts b and returns the stored row. A book whose ISBN is already
// in the catalog is rejected with ErrDuplicate, whether the advisory check
// or the unique index catches it.
func (s *Store) AddBook(ctx context.Context, b Book) (*Book, error) {
	if err := b.normalize(); err != nil {
		return nil, err
	}
	if b.ISBN != nil {
		dup, err := s.IsDuplicate(ctx, *b.ISBN)
		if err != nil {
			return nil, err
		}
		if dup {
			return nil, ErrDuplicate
		}
	}
	b.CreatedAt = Now()

	res, err := s.db.ExecContext(ctx, `INSERT INTO books (title, author, isbn, publisher, published_date,
		description, page_count, categories, language, cover_image, thumbnail_image, external_id,
		rating, status, owner_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.Title, b.Author, b.ISBN, b.Publisher, b.PublishedDate, b.Description, b.PageCount,
		b.Categories, b.Language, b.CoverImage, b.ThumbnailImage, b.ExternalID, b.Rating,
		b.Status, b.OwnerID, b.CreatedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("failed to insert book: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read book id: %w", err)
	}
	b.ID = id
	slog.Debug("Book added", "book_id", id, "title", b.Title, "isbn", deref(b.ISBN))
	return &b, nil
}

// GetBook returns the book with id or ErrNotFound.
func (s *Store) GetBook(ctx context.Context, id int64) (*Book, error) {
	return GetBookTx(ctx, s.db, id)
}

// GetBookTx reads a book through q, letting the lending ledger read inside
// its own transaction.
func GetBookTx(ctx context.Context, q DBTX, id int64) (*Book, error) {
	row := q.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books WHERE id = ?`, id)
	b, err := scanBook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("book %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get book: %w", err)
	}
	return b, nil
}

// ListBooks returns books newest first.
func (s *Store) ListBooks(ctx context.Context, limit, offset int) ([]Book, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.queryBooks(ctx, `SELECT `+bookColumns+` FROM books
		ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset)
}

// SearchBooks matches q against title, author, ISBN and categories.
func (s *Store) SearchBooks(ctx context.Context, q string) ([]Book, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return []Book{}, nil
	}
	like := "%" + escapeLike(q) + "%"
	return s.queryBooks(ctx, `SELECT `+bookColumns+` FROM books
		WHERE title LIKE ? ESCAPE '!' OR author LIKE ? ESCAPE '!'
			OR isbn LIKE ? ESCAPE '!' OR categories LIKE ? ESCAPE '!'
		ORDER BY title`, like, like, like, like)
}

// BooksByCategory returns books whose categories mention category.
func (s *Store) BooksByCategory(ctx context.Context, category string) ([]Book, error) {
	like := "%" + escapeLike(strings.TrimSpace(category)) + "%"
	return s.queryBooks(ctx, `SELECT `+bookColumns+` FROM books
		WHERE categories LIKE ? ESCAPE '!' ORDER BY title`, like)
}

// UpdateBook applies u to the book and returns the result. Changing the ISBN
// to one another book carries fails with ErrDuplicate.
func (s *Store) UpdateBook(ctx context.Context, id int64, u BookUpdate) (*Book, error) {
	var updated *Book
	err := s.db.RunInTx(ctx, func(ctx context.Context, tx DBTX) error {
		b, err := GetBookTx(ctx, tx, id)
		if err != nil {
			return err
		}
		u.apply(b)
		if err := b.normalize(); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE books SET title = ?, author = ?, isbn = ?, publisher = ?,
			published_date = ?, description = ?, page_count = ?, categories = ?, language = ?,
			cover_image = ?, thumbnail_image = ?, rating = ? WHERE id = ?`,
			b.Title, b.Author, b.ISBN, b.Publisher, b.PublishedDate, b.Description, b.PageCount,
			b.Categories, b.Language, b.CoverImage, b.ThumbnailImage, b.Rating, id)
		if err != nil {
			if IsUniqueViolation(err) {
				return ErrDuplicate
			}
			return fmt.Errorf("failed to update book: %w", err)
		}
		updated = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteBook removes the book and its borrowing history, returning the
// deleted row so callers can clean up its images.
func (s *Store) DeleteBook(ctx context.Context, id int64) (*Book, error) {
	var deleted *Book
	err := s.db.RunInTx(ctx, func(ctx context.Context, tx DBTX) error {
		b, err := GetBookTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM borrowing_records WHERE book_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete borrowing records: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM books WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete book: %w", err)
		}
		deleted = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.Debug("Book deleted", "book_id", id)
	return deleted, nil
}

// Stats counts books by status.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN status = 'borrowed' THEN 1 ELSE 0 END), 0)
		FROM books`).Scan(&st.Total, &st.Borrowed)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count books: %w", err)
	}
	st.Available = st.Total - st.Borrowed
	return st, nil
}

func (s *Store) queryBooks(ctx context.Context, query string, args ...any) ([]Book, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query books: %w", err)
	}
	defer func() { _ = rows.Close() }()

	books := []Book{}
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan book: %w", err)
		}
		books = append(books, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read books: %w", err)
	}
	return books, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBook(row scanner) (*Book, error) {
	var (
		b         Book
		code, ext sql.NullString
		rating    sql.NullFloat64
		owner     sql.NullInt64
	)
	err := row.Scan(&b.ID, &b.Title, &b.Author, &code, &b.Publisher, &b.PublishedDate,
		&b.Description, &b.PageCount, &b.Categories, &b.Language, &b.CoverImage,
		&b.ThumbnailImage, &ext, &rating, &b.Status, &owner, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	if code.Valid {
		b.ISBN = &code.String
	}
	if ext.Valid {
		b.ExternalID = &ext.String
	}
	if rating.Valid {
		b.Rating = &rating.Float64
	}
	if owner.Valid {
		b.OwnerID = &owner.Int64
	}
	b.CreatedAt = b.CreatedAt.UTC()
	return &b, nil
}

// '!' is the LIKE escape character in every query above.
var likeEscaper = strings.NewReplacer(`!`, `!!`, `%`, `!%`, `_`, `!_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
