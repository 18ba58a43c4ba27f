package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/lepinkainen/librarian/internal/catalog"
	"github.com/lepinkainen/librarian/internal/config"
	"github.com/lepinkainen/librarian/internal/fileutil"
	"github.com/lepinkainen/librarian/internal/lending"
	"github.com/lepinkainen/librarian/internal/metadata"
)

var coverClient fileutil.HTTPDoer = &http.Client{Timeout: 30 * time.Second}

// BooksCmd groups the catalog commands.
type BooksCmd struct {
	Add    BooksAddCmd    `cmd:"" help:"Add a book by ISBN, title or cover image"`
	List   BooksListCmd   `cmd:"" help:"List books, newest first"`
	Search BooksSearchCmd `cmd:"" help:"Search title, author, ISBN and categories"`
}

// BooksAddCmd adds a book. With --isbn or --image the record is looked up
// first; --title and --author override whatever was found.
type BooksAddCmd struct {
	ISBN    string `help:"Look the book up by ISBN"`
	Image   string `help:"Identify the book from a cover image" type:"existingfile"`
	Title   string `help:"Book title"`
	Author  string `help:"Book author"`
	Owner   int64  `help:"Owning user ID"`
	NoCover bool   `help:"Do not download the cover image"`
}

func (c *BooksAddCmd) Run(ctx context.Context) error {
	if c.ISBN == "" && c.Image == "" && c.Title == "" {
		return errors.New("one of --isbn, --image or --title is required")
	}
	s := config.Load()
	found, err := c.resolve(ctx, s)
	if err != nil {
		return err
	}

	book := catalog.BookFromMetadata(found)
	if c.Title != "" {
		book.Title = c.Title
	}
	if c.Author != "" {
		book.Author = c.Author
	}
	if c.Owner > 0 {
		book.OwnerID = &c.Owner
	}
	if !c.NoCover && strings.HasPrefix(book.CoverImage, "http") {
		up, err := fileutil.DownloadCover(ctx, coverClient, book.CoverImage, s.Uploads.Dir, s.Uploads.MaxBytes)
		if err != nil {
			slog.Warn("Cover download failed, keeping remote URL", "url", book.CoverImage, "error", err)
		} else if up != nil {
			book.CoverImage = up.PublicPath()
			book.ThumbnailImage = up.OptimizedPublicPath()
		}
	}

	lib, err := openLibrary(ctx, s)
	if err != nil {
		return err
	}
	defer func() { _ = lib.Close() }()

	added, err := lib.store.AddBook(ctx, book)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Added book #%d: %s\n", added.ID, added.Title)
	return nil
}

// resolve returns the looked-up record, or a bare one from the flags when
// nothing matched a title search.
func (c *BooksAddCmd) resolve(ctx context.Context, s config.Settings) (*metadata.Book, error) {
	src := newSources(s)
	switch {
	case c.Image != "":
		id := newIdentifier(s, src.source)
		defer func() { _ = id.Close() }()
		outcome := id.Identify(ctx, c.Image)
		if !outcome.Recognized {
			if c.Title == "" {
				return nil, errors.New("cover not recognized, pass --title to add it manually")
			}
			return &metadata.Book{Title: c.Title, Author: c.Author}, nil
		}
		slog.Info("Cover recognized", "method", outcome.Method)
		return outcome.Data.Book(), nil
	case c.ISBN != "":
		b, err := src.source.LookupByISBN(ctx, c.ISBN)
		if err != nil {
			return nil, err
		}
		if b == nil {
			return nil, fmt.Errorf("no record found for ISBN %s", c.ISBN)
		}
		return b, nil
	default:
		b, err := src.source.LookupByTitleAuthor(ctx, c.Title, c.Author)
		if err != nil {
			slog.Warn("Metadata lookup failed, adding as entered", "error", err)
		}
		if b == nil {
			b = &metadata.Book{Title: c.Title, Author: c.Author}
		}
		return b, nil
	}
}

type BooksListCmd struct {
	Limit  int `help:"Maximum books to show" default:"50"`
	Offset int `help:"Books to skip"`
}

func (c *BooksListCmd) Run(ctx context.Context) error {
	return withLibrary(ctx, func(lib *library) error {
		books, err := lib.store.ListBooks(ctx, c.Limit, c.Offset)
		if err != nil {
			return err
		}
		return printBooks(books)
	})
}

type BooksSearchCmd struct {
	Query string `arg:"" help:"Text to search for"`
}

func (c *BooksSearchCmd) Run(ctx context.Context) error {
	return withLibrary(ctx, func(lib *library) error {
		books, err := lib.store.SearchBooks(ctx, c.Query)
		if err != nil {
			return err
		}
		return printBooks(books)
	})
}

// BorrowCmd lends a book.
type BorrowCmd struct {
	BookID  int64 `arg:"" help:"Book ID"`
	UserID  int64 `arg:"" help:"Borrowing user ID"`
	DueDays int   `help:"Loan length in days (defaults to lending.default_due_days)"`
	Force   bool  `help:"Administrative borrow, skips the ownership rule"`
}

func (c *BorrowCmd) Run(ctx context.Context) error {
	return withLibrary(ctx, func(lib *library) error {
		borrow := lib.ledger.Borrow
		if c.Force {
			borrow = lib.ledger.ForceBorrow
		}
		rec, err := borrow(ctx, c.BookID, c.UserID, c.DueDays)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Book #%d lent to user #%d, due %s\n", rec.BookID, rec.UserID, rec.DueAt.Format(time.DateOnly))
		return nil
	})
}

// ReturnCmd closes a loan. Without --force the user must be the borrower.
type ReturnCmd struct {
	BookID int64 `arg:"" help:"Book ID"`
	UserID int64 `help:"Returning user ID"`
	Force  bool  `help:"Close the open loan whoever holds it"`
}

func (c *ReturnCmd) Run(ctx context.Context) error {
	if !c.Force && c.UserID == 0 {
		return errors.New("--user-id is required unless --force is given")
	}
	return withLibrary(ctx, func(lib *library) error {
		var (
			rec *lending.Record
			err error
		)
		if c.Force {
			rec, err = lib.ledger.ForceReturn(ctx, c.BookID)
		} else {
			rec, err = lib.ledger.Return(ctx, c.BookID, c.UserID)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Book #%d returned by user #%d\n", rec.BookID, rec.UserID)
		return nil
	})
}

// UsersCmd groups the user commands.
type UsersCmd struct {
	Add     UsersAddCmd     `cmd:"" help:"Create a user"`
	List    UsersListCmd    `cmd:"" help:"List users"`
	Disable UsersDisableCmd `cmd:"" help:"Disable a user"`
	Enable  UsersEnableCmd  `cmd:"" help:"Enable a user"`
	Loans   UsersLoansCmd   `cmd:"" help:"Show a user's loans"`
	Overdue UsersOverdueCmd `cmd:"" help:"List overdue loans"`
}

type UsersAddCmd struct {
	Name  string `arg:"" help:"Display name"`
	Email string `arg:"" help:"Email address"`
	Phone string `help:"Phone number"`
	Admin bool   `help:"Grant administrative rights"`
}

func (c *UsersAddCmd) Run(ctx context.Context) error {
	return withLibrary(ctx, func(lib *library) error {
		u, err := lib.store.CreateUser(ctx, catalog.User{Name: c.Name, Email: c.Email, Phone: c.Phone, IsAdmin: c.Admin})
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Created user #%d: %s <%s>\n", u.ID, u.Name, u.Email)
		return nil
	})
}

type UsersListCmd struct{}

func (c *UsersListCmd) Run(ctx context.Context) error {
	return withLibrary(ctx, func(lib *library) error {
		users, err := lib.store.ListUsers(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tEMAIL\tADMIN\tENABLED")
		for _, u := range users {
			fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%t\n", u.ID, u.Name, u.Email, u.IsAdmin, u.Enabled)
		}
		return w.Flush()
	})
}

type UsersEnableCmd struct {
	ID int64 `arg:"" help:"User ID"`
}

func (c *UsersEnableCmd) Run(ctx context.Context) error {
	return setUserEnabled(ctx, c.ID, true)
}

// UsersDisableCmd blocks a user from borrowing. Existing loans stay open.
type UsersDisableCmd struct {
	ID int64 `arg:"" help:"User ID"`
}

func (c *UsersDisableCmd) Run(ctx context.Context) error {
	return setUserEnabled(ctx, c.ID, false)
}

func setUserEnabled(ctx context.Context, id int64, enabled bool) error {
	return withLibrary(ctx, func(lib *library) error {
		if err := lib.store.SetUserEnabled(ctx, id, enabled); err != nil {
			return err
		}
		state := "enabled"
		if !enabled {
			state = "disabled"
		}
		fmt.Fprintf(stdout, "User #%d %s\n", id, state)
		return nil
	})
}

type UsersLoansCmd struct {
	ID int64 `arg:"" help:"User ID"`
}

func (c *UsersLoansCmd) Run(ctx context.Context) error {
	return withLibrary(ctx, func(lib *library) error {
		recs, err := lib.ledger.ListByUser(ctx, c.ID)
		if err != nil {
			return err
		}
		return printLoans(recs)
	})
}

type UsersOverdueCmd struct{}

func (c *UsersOverdueCmd) Run(ctx context.Context) error {
	return withLibrary(ctx, func(lib *library) error {
		recs, err := lib.ledger.ListOverdue(ctx, catalog.Now())
		if err != nil {
			return err
		}
		return printLoans(recs)
	})
}

func withLibrary(ctx context.Context, fn func(*library) error) error {
	lib, err := openLibrary(ctx, config.Load())
	if err != nil {
		return err
	}
	defer func() { _ = lib.Close() }()
	return fn(lib)
}

func printBooks(books []catalog.Book) error {
	if len(books) == 0 {
		fmt.Fprintln(stdout, "No books found")
		return nil
	}
	w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tAUTHOR\tISBN\tSTATUS")
	for _, b := range books {
		isbn := "-"
		if b.ISBN != nil {
			isbn = *b.ISBN
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", b.ID, b.Title, b.Author, isbn, b.Status)
	}
	return w.Flush()
}

func printLoans(recs []lending.Record) error {
	if len(recs) == 0 {
		fmt.Fprintln(stdout, "No loans found")
		return nil
	}
	w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "LOAN\tBOOK\tUSER\tBORROWED\tDUE\tSTATUS")
	for _, r := range recs {
		fmt.Fprintf(w, "%d\t%d\t%d\t%s\t%s\t%s\n", r.ID, r.BookID, r.UserID,
			r.BorrowedAt.Format(time.DateOnly), r.DueAt.Format(time.DateOnly), r.Status)
	}
	return w.Flush()
}
