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
	openLibraryBaseURL = "https://openlibrary.org"
	openLibraryName    = "OpenLibrary"
)

// OpenLibrary is a keyless metadata source.
type OpenLibrary struct {
	*client
	coversURL string
}

var _ Source = (*OpenLibrary)(nil)

// NewOpenLibrary creates an OpenLibrary source.
func NewOpenLibrary(opts ...Option) *OpenLibrary {
	return &OpenLibrary{
		client:    newClient(openLibraryName, openLibraryBaseURL, 1, opts),
		coversURL: "https://covers.openlibrary.org",
	}
}

// Name returns the human-readable name of this source.
func (o *OpenLibrary) Name() string {
	return openLibraryName
}

// LookupByISBN uses the books API with jscmd=data.
func (o *OpenLibrary) LookupByISBN(ctx context.Context, code string) (*Book, error) {
	normalized := isbn.Normalize(code)
	if normalized == "" {
		return nil, ErrInvalidISBN
	}
	return o.lookup(ctx, cache.OpenLibraryTable, "isbn:"+normalized, func(ctx context.Context) (*Book, error) {
		return o.fetchByISBN(ctx, normalized)
	})
}

// LookupByTitleAuthor uses the search API and maps the best document.
func (o *OpenLibrary) LookupByTitleAuthor(ctx context.Context, title, author string) (*Book, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrEmptyQuery
	}
	return o.lookup(ctx, cache.OpenLibraryTable, cacheKey("q", title, author), func(ctx context.Context) (*Book, error) {
		return o.fetchBySearch(ctx, title, strings.TrimSpace(author))
	})
}

type openLibraryBook struct {
	Key         string `json:"key"`
	Title       string `json:"title"`
	Subtitle    string `json:"subtitle"`
	Description any    `json:"description"`
	Publishers  []struct {
		Name string `json:"name"`
	} `json:"publishers"`
	Authors []struct {
		Name string `json:"name"`
	} `json:"authors"`
	Cover struct {
		Small  string `json:"small"`
		Medium string `json:"medium"`
		Large  string `json:"large"`
	} `json:"cover"`
	Subjects      []any  `json:"subjects"`
	NumberOfPages int    `json:"number_of_pages"`
	PublishDate   string `json:"publish_date"`
	Identifiers   struct {
		ISBN13 []string `json:"isbn_13"`
		ISBN10 []string `json:"isbn_10"`
	} `json:"identifiers"`
}

func (o *OpenLibrary) fetchByISBN(ctx context.Context, code string) (*Book, error) {
	endpoint := fmt.Sprintf("%s/api/books?bibkeys=ISBN:%s&format=json&jscmd=data", o.baseURL, code)

	var result map[string]openLibraryBook
	found, err := o.getJSON(ctx, endpoint, nil, &result)
	if err != nil || !found {
		return nil, err
	}

	ol, ok := result["ISBN:"+code]
	if !ok || ol.Title == "" {
		return nil, nil
	}

	v := Volume{
		ID:            strings.TrimPrefix(ol.Key, "/books/"),
		Title:         joinTitle(ol.Title, ol.Subtitle),
		Description:   extractDescription(ol.Description),
		PageCount:     ol.NumberOfPages,
		PublishedDate: ol.PublishDate,
		Categories:    extractStringSlice(ol.Subjects),
		Thumbnail:     firstNonEmpty(ol.Cover.Medium, ol.Cover.Large),
		SmallThumb:    ol.Cover.Small,
	}
	for _, a := range ol.Authors {
		v.Authors = append(v.Authors, a.Name)
	}
	if len(ol.Publishers) > 0 {
		v.Publisher = ol.Publishers[0].Name
	}
	if len(ol.Identifiers.ISBN13) > 0 {
		v.ISBN13 = ol.Identifiers.ISBN13[0]
	}
	if len(ol.Identifiers.ISBN10) > 0 {
		v.ISBN10 = ol.Identifiers.ISBN10[0]
	}
	if v.ISBN13 == "" && v.ISBN10 == "" {
		if len(code) == 13 {
			v.ISBN13 = code
		} else {
			v.ISBN10 = code
		}
	}
	if len(v.Categories) > 5 {
		v.Categories = v.Categories[:5]
	}

	return Normalize(v, openLibraryName), nil
}

type openLibrarySearch struct {
	NumFound int `json:"numFound"`
	Docs     []struct {
		Key                 string   `json:"key"`
		Title               string   `json:"title"`
		AuthorName          []string `json:"author_name"`
		ISBN                []string `json:"isbn"`
		Publisher           []string `json:"publisher"`
		FirstPublishYear    int      `json:"first_publish_year"`
		NumberOfPagesMedian int      `json:"number_of_pages_median"`
		CoverI              int      `json:"cover_i"`
		Subject             []string `json:"subject"`
		Language            []string `json:"language"`
		RatingsAverage      float64  `json:"ratings_average"`
	} `json:"docs"`
}

func (o *OpenLibrary) fetchBySearch(ctx context.Context, title, author string) (*Book, error) {
	params := url.Values{}
	params.Set("title", title)
	if author != "" {
		params.Set("author", author)
	}
	params.Set("limit", "1")
	endpoint := fmt.Sprintf("%s/search.json?%s", o.baseURL, params.Encode())

	var result openLibrarySearch
	found, err := o.getJSON(ctx, endpoint, nil, &result)
	if err != nil || !found {
		return nil, err
	}
	if len(result.Docs) == 0 {
		return nil, nil
	}

	doc := result.Docs[0]
	v := Volume{
		ID:        strings.TrimPrefix(doc.Key, "/works/"),
		Title:     doc.Title,
		Authors:   doc.AuthorName,
		PageCount: doc.NumberOfPagesMedian,
		Rating:    doc.RatingsAverage,
	}
	for _, code := range doc.ISBN {
		n := isbn.Normalize(code)
		switch {
		case len(n) == 13 && v.ISBN13 == "":
			v.ISBN13 = n
		case len(n) == 10 && v.ISBN10 == "":
			v.ISBN10 = n
		}
	}
	if len(doc.Publisher) > 0 {
		v.Publisher = doc.Publisher[0]
	}
	if doc.FirstPublishYear > 0 {
		v.PublishedDate = strconv.Itoa(doc.FirstPublishYear)
	}
	if len(doc.Subject) > 0 {
		v.Categories = doc.Subject[:min(len(doc.Subject), 5)]
	}
	if len(doc.Language) > 0 {
		v.Language = doc.Language[0]
	}
	if doc.CoverI > 0 {
		v.Thumbnail = fmt.Sprintf("%s/b/id/%d-M.jpg", o.coversURL, doc.CoverI)
		v.SmallThumb = fmt.Sprintf("%s/b/id/%d-S.jpg", o.coversURL, doc.CoverI)
	}

	return Normalize(v, openLibraryName), nil
}

func joinTitle(title, subtitle string) string {
	if subtitle == "" {
		return title
	}
	return title + ": " + subtitle
}

// extractDescription handles the string and {"value": ...} forms.
func extractDescription(desc any) string {
	switch v := desc.(type) {
	case string:
		return v
	case map[string]any:
		if val, ok := v["value"].(string); ok {
			return val
		}
	}
	return ""
}

// extractStringSlice converts []any of strings or {"name": ...} objects.
func extractStringSlice(items []any) []string {
	if len(items) == 0 {
		return nil
	}
	result := make([]string, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			result = append(result, v)
		case map[string]any:
			if name, ok := v["name"].(string); ok {
				result = append(result, name)
			}
		}
	}
	return result
}
