// Package lending tracks who holds which book. Every transition updates the
// book status and the borrowing record in one transaction.
package lending

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lepinkainen/librarian/internal/catalog"
)

const DefaultDueDays = 14

// Record status values.
const (
	StatusBorrowed = "borrowed"
	StatusReturned = "returned"
)

var (
	// ErrConflict means the book is not in a state that allows the transition.
	ErrConflict = errors.New("conflict")
	// ErrNotFound is shared with the catalog so either package's check works.
	ErrNotFound = catalog.ErrNotFound
	// ErrInvalid rejects malformed requests such as a negative loan length.
	ErrInvalid = errors.New("invalid loan request")
)

// Record is one loan of one book.
type Record struct {
	ID         int64      `json:"id"`
	BookID     int64      `json:"book_id"`
	UserID     int64      `json:"user_id"`
	BorrowedAt time.Time  `json:"borrowed_at"`
	DueAt      time.Time  `json:"due_at"`
	ReturnedAt *time.Time `json:"returned_at"`
	Status     string     `json:"status"`
}

// Overdue reports whether the loan is open past its due time.
func (r Record) Overdue(now time.Time) bool {
	return r.Status == StatusBorrowed && now.After(r.DueAt)
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return catalog.Now() }

// Ledger runs borrow and return transitions against the catalog database.
type Ledger struct {
	db             *catalog.DB
	clock          Clock
	defaultDueDays int
}

type Option func(*Ledger)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

// WithDefaultDueDays sets the loan length used when a caller passes zero.
func WithDefaultDueDays(days int) Option {
	return func(l *Ledger) {
		if days > 0 {
			l.defaultDueDays = days
		}
	}
}

func New(db *catalog.DB, opts ...Option) *Ledger {
	l := &Ledger{db: db, clock: realClock{}, defaultDueDays: DefaultDueDays}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Borrow lends an available book to an enabled user for dueDays days.
// Owners cannot borrow their own books.
func (l *Ledger) Borrow(ctx context.Context, bookID, userID int64, dueDays int) (*Record, error) {
	return l.borrow(ctx, bookID, userID, dueDays, false)
}

// ForceBorrow is the administrative borrow: the ownership rule is skipped,
// but a book that is already out is still a conflict.
func (l *Ledger) ForceBorrow(ctx context.Context, bookID, userID int64, dueDays int) (*Record, error) {
	return l.borrow(ctx, bookID, userID, dueDays, true)
}

func (l *Ledger) borrow(ctx context.Context, bookID, userID int64, dueDays int, force bool) (*Record, error) {
	if dueDays < 0 {
		return nil, fmt.Errorf("due days %d: %w", dueDays, ErrInvalid)
	}
	if dueDays == 0 {
		dueDays = l.defaultDueDays
	}
	now := l.clock.Now().UTC().Truncate(time.Second)
	rec := &Record{
		BookID:     bookID,
		UserID:     userID,
		BorrowedAt: now,
		DueAt:      now.AddDate(0, 0, dueDays),
		Status:     StatusBorrowed,
	}

	err := l.db.RunInTx(ctx, func(ctx context.Context, tx catalog.DBTX) error {
		book, err := catalog.GetBookTx(ctx, tx, bookID)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				return fmt.Errorf("book %d does not exist: %w: %w", bookID, ErrNotFound, ErrConflict)
			}
			return err
		}
		user, err := catalog.GetUserTx(ctx, tx, userID)
		if err != nil {
			return err
		}
		if !user.Enabled {
			return fmt.Errorf("user %d is disabled: %w", userID, ErrNotFound)
		}
		if !force && book.OwnerID != nil && *book.OwnerID == userID {
			return fmt.Errorf("user %d owns book %d: %w", userID, bookID, ErrConflict)
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE books SET status = 'borrowed' WHERE id = ? AND status = 'available'`, bookID)
		if err != nil {
			return fmt.Errorf("failed to mark book borrowed: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to mark book borrowed: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("book %d is already borrowed: %w", bookID, ErrConflict)
		}

		ins, err := tx.ExecContext(ctx, `INSERT INTO borrowing_records
			(book_id, user_id, borrowed_at, due_at, status) VALUES (?, ?, ?, ?, 'borrowed')`,
			bookID, userID, rec.BorrowedAt, rec.DueAt)
		if err != nil {
			if catalog.IsUniqueViolation(err) {
				return fmt.Errorf("book %d already has an open loan: %w", bookID, ErrConflict)
			}
			return fmt.Errorf("failed to record loan: %w", err)
		}
		rec.ID, err = ins.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Book borrowed", "book_id", bookID, "user_id", userID, "due", rec.DueAt, "forced", force)
	return rec, nil
}

// Return closes the user's open loan of the book.
func (l *Ledger) Return(ctx context.Context, bookID, userID int64) (*Record, error) {
	return l.close(ctx, bookID, &userID)
}

// ForceReturn closes whichever open loan references the book.
func (l *Ledger) ForceReturn(ctx context.Context, bookID int64) (*Record, error) {
	return l.close(ctx, bookID, nil)
}

func (l *Ledger) close(ctx context.Context, bookID int64, userID *int64) (*Record, error) {
	var rec *Record
	err := l.db.RunInTx(ctx, func(ctx context.Context, tx catalog.DBTX) error {
		open, err := openLoan(ctx, tx, bookID, l.db.ForUpdate())
		if err != nil {
			return err
		}
		if userID != nil && open.UserID != *userID {
			return fmt.Errorf("user %d has no open loan of book %d: %w: %w", *userID, bookID, ErrNotFound, ErrConflict)
		}

		returned := l.clock.Now().UTC().Truncate(time.Second)
		if returned.Before(open.BorrowedAt) {
			returned = open.BorrowedAt
		}
		n, err := execCount(ctx, tx, `UPDATE borrowing_records SET status = 'returned', returned_at = ?
			WHERE id = ? AND status = 'borrowed'`, returned, open.ID)
		if err != nil {
			return fmt.Errorf("failed to close loan: %w", err)
		}
		if n != 1 {
			return fmt.Errorf("loan %d of book %d was already closed: %w: %w", open.ID, bookID, ErrNotFound, ErrConflict)
		}
		n, err = execCount(ctx, tx, `UPDATE books SET status = 'available' WHERE id = ? AND status = 'borrowed'`, bookID)
		if err != nil {
			return fmt.Errorf("failed to mark book available: %w", err)
		}
		if n != 1 {
			return fmt.Errorf("book %d is not marked borrowed: %w", bookID, ErrConflict)
		}

		open.Status = StatusReturned
		open.ReturnedAt = &returned
		rec = open
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Book returned", "book_id", bookID, "user_id", rec.UserID, "forced", userID == nil)
	return rec, nil
}

func execCount(ctx context.Context, tx catalog.DBTX, query string, args ...any) (int64, error) {
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const recordColumns = `id, book_id, user_id, borrowed_at, due_at, returned_at, status`

// OpenLoan returns the open loan of the book.
func (l *Ledger) OpenLoan(ctx context.Context, bookID int64) (*Record, error) {
	return openLoan(ctx, l.db, bookID, "")
}

// openLoan reads the open loan of the book. lock is appended to the query,
// so callers inside a transaction can take the row lock.
func openLoan(ctx context.Context, q catalog.DBTX, bookID int64, lock string) (*Record, error) {
	row := q.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM borrowing_records
		WHERE book_id = ? AND status = 'borrowed'`+lock, bookID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("book %d has no open loan: %w: %w", bookID, ErrNotFound, ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read loan: %w", err)
	}
	return rec, nil
}

// ListByUser returns the user's loans, open ones first and then newest
// first.
func (l *Ledger) ListByUser(ctx context.Context, userID int64) ([]Record, error) {
	return l.query(ctx, `SELECT `+recordColumns+` FROM borrowing_records WHERE user_id = ?
		ORDER BY CASE WHEN status = 'borrowed' THEN 0 ELSE 1 END, borrowed_at DESC, id DESC`, userID)
}

// ListOverdue returns open loans due before now, most overdue first.
func (l *Ledger) ListOverdue(ctx context.Context, now time.Time) ([]Record, error) {
	return l.query(ctx, `SELECT `+recordColumns+` FROM borrowing_records
		WHERE status = 'borrowed' AND due_at < ? ORDER BY due_at, id`, now.UTC().Truncate(time.Second))
}

func (l *Ledger) query(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query loans: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		rec      Record
		returned sql.NullTime
	)
	if err := row.Scan(&rec.ID, &rec.BookID, &rec.UserID, &rec.BorrowedAt, &rec.DueAt, &returned, &rec.Status); err != nil {
		return nil, err
	}
	rec.BorrowedAt = rec.BorrowedAt.UTC()
	rec.DueAt = rec.DueAt.UTC()
	if returned.Valid {
		t := returned.Time.UTC()
		rec.ReturnedAt = &t
	}
	return &rec, nil
}
