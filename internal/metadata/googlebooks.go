package metadata

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/lepinkainen/librarian/internal/cache"
	"github.com/lepinkainen/librarian/internal/isbn"
)

const (
	googleBooksBaseURL = "https://www.googleapis.com/books/v1"
	googleBooksName    = "Google Books"

	unknownTitle  = "Unknown Title"
	unknownAuthor = "Unknown Author"
)

// GoogleBooks is the primary metadata source.
type GoogleBooks struct {
	*client
	apiKey string
}

var (
	_ Source   = (*GoogleBooks)(nil)
	_ Searcher = (*GoogleBooks)(nil)
)

// NewGoogleBooks creates a Google Books source. The API key is optional.
func NewGoogleBooks(apiKey string, opts ...Option) *GoogleBooks {
	return &GoogleBooks{
		client: newClient(googleBooksName, googleBooksBaseURL, 2, opts),
		apiKey: apiKey,
	}
}

// Name returns the human-readable name of this source.
func (g *GoogleBooks) Name() string {
	return googleBooksName
}

// LookupByISBN returns the first volume matching isbn.
func (g *GoogleBooks) LookupByISBN(ctx context.Context, code string) (*Book, error) {
	normalized := isbn.Normalize(code)
	if normalized == "" {
		return nil, ErrInvalidISBN
	}
	return g.lookup(ctx, cache.GoogleBooksTable, "isbn:"+normalized, func(ctx context.Context) (*Book, error) {
		return g.first(ctx, "isbn:"+normalized)
	})
}

// LookupByTitleAuthor returns the first volume matching an intitle/inauthor
// query.
func (g *GoogleBooks) LookupByTitleAuthor(ctx context.Context, title, author string) (*Book, error) {
	q := titleAuthorQuery(title, author)
	if q == "" {
		return nil, ErrEmptyQuery
	}
	return g.lookup(ctx, cache.GoogleBooksTable, cacheKey("q", title, author), func(ctx context.Context) (*Book, error) {
		return g.first(ctx, q)
	})
}

// Search returns up to limit candidates for a partial query.
func (g *GoogleBooks) Search(ctx context.Context, query Query, limit int) ([]Book, error) {
	q := searchQuery(query)
	if q == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 || limit > 40 {
		limit = 10
	}
	key := cacheKey("search", q, strconv.Itoa(limit))
	return g.search(ctx, cache.GoogleBooksTable, key, func(ctx context.Context) ([]Book, error) {
		resp, err := g.volumes(ctx, q, limit)
		if err != nil {
			return nil, err
		}
		books := make([]Book, 0, len(resp.Items))
		for _, item := range resp.Items {
			books = append(books, *formatVolume(item, false))
		}
		return books, nil
	})
}

func (g *GoogleBooks) first(ctx context.Context, q string) (*Book, error) {
	resp, err := g.volumes(ctx, q, 1)
	if err != nil {
		return nil, err
	}
	if resp.TotalItems == 0 || len(resp.Items) == 0 {
		return nil, nil
	}
	return formatVolume(resp.Items[0], true), nil
}

func (g *GoogleBooks) volumes(ctx context.Context, q string, limit int) (*googleBooksResponse, error) {
	params := url.Values{}
	params.Set("q", q)
	params.Set("maxResults", strconv.Itoa(limit))
	if g.apiKey != "" {
		params.Set("key", g.apiKey)
	}
	endpoint := fmt.Sprintf("%s/volumes?%s", g.baseURL, params.Encode())

	var resp googleBooksResponse
	found, err := g.getJSON(ctx, endpoint, nil, &resp)
	if err != nil {
		return nil, err
	}
	if !found {
		return &googleBooksResponse{}, nil
	}
	return &resp, nil
}

type googleBooksResponse struct {
	TotalItems int               `json:"totalItems"`
	Items      []googleBooksItem `json:"items"`
}

type googleBooksItem struct {
	ID         string `json:"id"`
	VolumeInfo struct {
		Title               string   `json:"title"`
		Subtitle            string   `json:"subtitle"`
		Authors             []string `json:"authors"`
		Publisher           string   `json:"publisher"`
		PublishedDate       string   `json:"publishedDate"`
		Description         string   `json:"description"`
		PageCount           int      `json:"pageCount"`
		Categories          []string `json:"categories"`
		Language            string   `json:"language"`
		AverageRating       float64  `json:"averageRating"`
		IndustryIdentifiers []struct {
			Type       string `json:"type"`
			Identifier string `json:"identifier"`
		} `json:"industryIdentifiers"`
		ImageLinks struct {
			Thumbnail      string `json:"thumbnail"`
			SmallThumbnail string `json:"smallThumbnail"`
		} `json:"imageLinks"`
	} `json:"volumeInfo"`
}

// formatVolume maps one Google Books item. With placeholders set, a missing
// title or author becomes "Unknown Title"/"Unknown Author" so the record is
// still savable.
func formatVolume(item googleBooksItem, placeholders bool) *Book {
	info := item.VolumeInfo
	v := Volume{
		ID:            item.ID,
		Title:         info.Title,
		Authors:       info.Authors,
		Publisher:     info.Publisher,
		PublishedDate: info.PublishedDate,
		Description:   info.Description,
		PageCount:     info.PageCount,
		Categories:    info.Categories,
		Language:      info.Language,
		Thumbnail:     info.ImageLinks.Thumbnail,
		SmallThumb:    info.ImageLinks.SmallThumbnail,
		Rating:        info.AverageRating,
	}
	for _, id := range info.IndustryIdentifiers {
		switch id.Type {
		case "ISBN_13":
			if v.ISBN13 == "" {
				v.ISBN13 = id.Identifier
			}
		case "ISBN_10":
			if v.ISBN10 == "" {
				v.ISBN10 = id.Identifier
			}
		}
	}

	b := Normalize(v, googleBooksName)
	if placeholders {
		if b.Title == "" {
			b.Title = unknownTitle
		}
		if b.Author == "" {
			b.Author = unknownAuthor
		}
	}
	return b
}

func titleAuthorQuery(title, author string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return ""
	}
	q := "intitle:" + title
	if author = strings.TrimSpace(author); author != "" {
		q += "+inauthor:" + author
	}
	return q
}

func searchQuery(query Query) string {
	if code := isbn.Normalize(query.ISBN); code != "" {
		return "isbn:" + code
	}
	var parts []string
	if t := strings.TrimSpace(query.Title); t != "" {
		parts = append(parts, "intitle:"+t)
	}
	if a := strings.TrimSpace(query.Author); a != "" {
		parts = append(parts, "inauthor:"+a)
	}
	return strings.Join(parts, "+")
}
