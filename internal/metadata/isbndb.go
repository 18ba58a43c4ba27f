package metadata

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/lepinkainen/librarian/internal/cache"
	"github.com/lepinkainen/librarian/internal/isbn"
)

const (
	isbndbBaseURL = "https://api2.isbndb.com"
	isbndbName    = "ISBNdb"
)

// ISBNdb is a keyed metadata source. Without a key every lookup reports
// "not found" so a Chain skips it.
type ISBNdb struct {
	*client
	apiKey string
}

var _ Source = (*ISBNdb)(nil)

// NewISBNdb creates an ISBNdb source.
func NewISBNdb(apiKey string, opts ...Option) *ISBNdb {
	return &ISBNdb{
		// Free tier: 1 request per second
		client: newClient(isbndbName, isbndbBaseURL, 1, opts),
		apiKey: apiKey,
	}
}

// Name returns the human-readable name of this source.
func (s *ISBNdb) Name() string {
	return isbndbName
}

// Enabled reports whether an API key is configured.
func (s *ISBNdb) Enabled() bool {
	return s.apiKey != ""
}

// LookupByISBN fetches /book/{isbn}.
func (s *ISBNdb) LookupByISBN(ctx context.Context, code string) (*Book, error) {
	normalized := isbn.Normalize(code)
	if normalized == "" {
		return nil, ErrInvalidISBN
	}
	if !s.Enabled() {
		return nil, nil
	}
	return s.lookup(ctx, cache.ISBNdbTable, "isbn:"+normalized, func(ctx context.Context) (*Book, error) {
		var resp struct {
			Book isbndbBook `json:"book"`
		}
		found, err := s.getJSON(ctx, fmt.Sprintf("%s/book/%s", s.baseURL, normalized), s.authHeader(), &resp)
		if err != nil || !found {
			return nil, err
		}
		return resp.Book.toBook(), nil
	})
}

// LookupByTitleAuthor searches titles and prefers the first result whose
// authors mention author.
func (s *ISBNdb) LookupByTitleAuthor(ctx context.Context, title, author string) (*Book, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrEmptyQuery
	}
	if !s.Enabled() {
		return nil, nil
	}
	return s.lookup(ctx, cache.ISBNdbTable, cacheKey("q", title, author), func(ctx context.Context) (*Book, error) {
		params := url.Values{}
		params.Set("page", "1")
		params.Set("pageSize", "10")
		params.Set("column", "title")
		endpoint := fmt.Sprintf("%s/books/%s?%s", s.baseURL, url.PathEscape(title), params.Encode())

		var resp struct {
			Books []isbndbBook `json:"books"`
		}
		found, err := s.getJSON(ctx, endpoint, s.authHeader(), &resp)
		if err != nil || !found || len(resp.Books) == 0 {
			return nil, err
		}

		chosen := resp.Books[0]
		if author = strings.ToLower(strings.TrimSpace(author)); author != "" {
			for _, b := range resp.Books {
				if strings.Contains(strings.ToLower(strings.Join(b.Authors, " ")), author) {
					chosen = b
					break
				}
			}
		}
		return chosen.toBook(), nil
	})
}

func (s *ISBNdb) authHeader() http.Header {
	h := http.Header{}
	h.Set("Authorization", s.apiKey)
	return h
}

type isbndbBook struct {
	Title         string   `json:"title"`
	TitleLong     string   `json:"title_long"`
	ISBN          string   `json:"isbn"`
	ISBN13        string   `json:"isbn13"`
	ISBN10        string   `json:"isbn10"`
	Publisher     string   `json:"publisher"`
	Language      string   `json:"language"`
	DatePublished string   `json:"date_published"`
	Pages         int      `json:"pages"`
	Overview      string   `json:"overview"`
	Synopsis      string   `json:"synopsis"`
	Image         string   `json:"image"`
	Authors       []string `json:"authors"`
	Subjects      []string `json:"subjects"`
}

func (b isbndbBook) toBook() *Book {
	if b.Title == "" && b.ISBN13 == "" && b.ISBN == "" {
		return nil
	}

	v := Volume{
		ID:            firstNonEmpty(b.ISBN13, b.ISBN),
		Title:         firstNonEmpty(b.Title, b.TitleLong),
		Authors:       b.Authors,
		ISBN13:        b.ISBN13,
		ISBN10:        firstNonEmpty(b.ISBN10, b.ISBN),
		Publisher:     b.Publisher,
		PublishedDate: b.DatePublished,
		Description:   firstNonEmpty(b.Synopsis, b.Overview),
		PageCount:     b.Pages,
		Language:      b.Language,
		Thumbnail:     b.Image,
	}
	for _, subject := range b.Subjects {
		// ISBNdb pads subject lists with a literal "Subjects" entry
		if subject != "" && subject != "Subjects" {
			v.Categories = append(v.Categories, subject)
		}
	}
	return Normalize(v, isbndbName)
}
