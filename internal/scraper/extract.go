package scraper

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/lepinkainen/librarian/internal/isbn"
	"github.com/lepinkainen/librarian/internal/metadata"
)

var (
	numberPattern = regexp.MustCompile(`\d+(?:[.,]\d+)?`)
	pagesPattern  = regexp.MustCompile(`(?i)(\d{1,5})\s*(?:pages|páginas|pp\b|p\.)`)
	spacePattern  = regexp.MustCompile(`\s+`)
)

// Amazon wraps detail labels in direction marks.
const bidiMarks = "\u200e\u200f "

// ExtractBook parses a book page. Site selectors are tried first, then any
// schema.org Book JSON-LD, then Open Graph and book meta tags. Returns nil
// when no title could be found.
func ExtractBook(html, pageURL string, sel Selectors) (*metadata.Book, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}

	b := fromSelectors(doc, sel)
	b.Fill(fromJSONLD(doc))
	b.Fill(fromMeta(doc))

	b.Title = clean(b.Title)
	b.Author = strings.TrimPrefix(clean(b.Author), "by ")
	b.ISBN = isbn.Clean(b.ISBN)
	if b.CoverImage != "" {
		b.CoverImage = absoluteURL(pageURL, b.CoverImage)
	}
	if b.ThumbnailImage == "" {
		b.ThumbnailImage = b.CoverImage
	}

	if b.Title == "" {
		return nil, nil
	}
	return b, nil
}

func fromSelectors(doc *goquery.Document, sel Selectors) *metadata.Book {
	b := &metadata.Book{
		Title:         first(doc, sel.Title),
		Author:        joinAll(doc, sel.Author),
		ISBN:          isbn.Extract(first(doc, sel.ISBN)),
		Publisher:     first(doc, sel.Publisher),
		PublishedDate: first(doc, sel.PublishedDate),
		Description:   first(doc, sel.Description),
		CoverImage:    first(doc, sel.Cover),
		PageCount:     parseInt(first(doc, sel.PageCount)),
		Rating:        parseRating(first(doc, sel.Rating)),
	}
	b.Fill(fromDetails(doc, sel.Details))
	return b
}

// fromDetails scans label/value rows such as Amazon's detail bullets.
func fromDetails(doc *goquery.Document, selectors []string) *metadata.Book {
	b := &metadata.Book{}
	for _, s := range selectors {
		doc.Find(s).Each(func(_ int, row *goquery.Selection) {
			text := clean(row.Text())
			label, value, ok := strings.Cut(text, ":")
			if !ok {
				if b.ISBN == "" {
					b.ISBN = isbn.Extract(text)
				}
				if b.PageCount == 0 {
					if m := pagesPattern.FindStringSubmatch(text); m != nil {
						b.PageCount, _ = strconv.Atoi(m[1])
					}
				}
				return
			}
			label = strings.ToLower(strings.Trim(clean(label), bidiMarks))
			value = strings.Trim(clean(value), bidiMarks)

			switch {
			case strings.Contains(label, "isbn"):
				if n := isbn.Normalize(value); isbn.Valid(n) && (b.ISBN == "" || len(n) == 13) {
					b.ISBN = n
				}
			case strings.Contains(label, "publisher") || strings.Contains(label, "editorial"):
				if b.Publisher == "" {
					// "Ace; Reprint edition (August 2, 2005)"
					pub, date, _ := strings.Cut(value, "(")
					pub, _, _ = strings.Cut(pub, ";")
					b.Publisher = strings.TrimSpace(pub)
					if date != "" && b.PublishedDate == "" {
						b.PublishedDate = strings.TrimSpace(strings.TrimSuffix(date, ")"))
					}
				}
			case strings.Contains(label, "publication date") || strings.Contains(label, "published"):
				if b.PublishedDate == "" {
					b.PublishedDate = value
				}
			case strings.Contains(label, "pages") || strings.Contains(label, "print length") || strings.Contains(label, "paperback") || strings.Contains(label, "hardcover"):
				if b.PageCount == 0 {
					b.PageCount = parseInt(value)
				}
			case strings.Contains(label, "language") || strings.Contains(label, "idioma"):
				if b.Language == "" {
					b.Language = value
				}
			}
		})
	}
	return b
}

type ldBook struct {
	Type          any             `json:"@type"`
	Name          string          `json:"name"`
	Author        json.RawMessage `json:"author"`
	ISBN          string          `json:"isbn"`
	Publisher     json.RawMessage `json:"publisher"`
	DatePublished string          `json:"datePublished"`
	NumberOfPages json.RawMessage `json:"numberOfPages"`
	Description   string          `json:"description"`
	Image         json.RawMessage `json:"image"`
	InLanguage    string          `json:"inLanguage"`
	Rating        *struct {
		Value json.RawMessage `json:"ratingValue"`
	} `json:"aggregateRating"`
	Graph    []json.RawMessage `json:"@graph"`
	Editions []ldBook          `json:"workExample"`
}

func fromJSONLD(doc *goquery.Document) *metadata.Book {
	var found *metadata.Book
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		found = findLDBook([]byte(s.Text()))
		return found == nil
	})
	return found
}

func findLDBook(raw []byte) *metadata.Book {
	raw = []byte(strings.TrimSpace(string(raw)))
	if len(raw) == 0 {
		return nil
	}
	if raw[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil
		}
		for _, item := range items {
			if b := findLDBook(item); b != nil {
				return b
			}
		}
		return nil
	}

	var node ldBook
	if err := json.Unmarshal(raw, &node); err != nil {
		return nil
	}
	for _, g := range node.Graph {
		if b := findLDBook(g); b != nil {
			return b
		}
	}
	if !hasType(node.Type, "Book") {
		return nil
	}

	b := &metadata.Book{
		Title:         node.Name,
		Author:        ldNames(node.Author),
		ISBN:          isbn.Normalize(node.ISBN),
		Publisher:     ldNames(node.Publisher),
		PublishedDate: node.DatePublished,
		Description:   node.Description,
		Language:      node.InLanguage,
		PageCount:     parseInt(ldScalar(node.NumberOfPages)),
		CoverImage:    ldImage(node.Image),
	}
	if node.Rating != nil {
		b.Rating = parseRating(ldScalar(node.Rating.Value))
	}
	for _, ed := range node.Editions {
		if b.ISBN == "" {
			b.ISBN = isbn.Normalize(ed.ISBN)
		}
		if b.PageCount == 0 {
			b.PageCount = parseInt(ldScalar(ed.NumberOfPages))
		}
	}
	return b
}

func hasType(t any, want string) bool {
	switch v := t.(type) {
	case string:
		return v == want
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s == want {
				return true
			}
		}
	}
	return false
}

// ldNames reads a name from a string, a {"name": ...} object or a list of either.
func ldNames(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var obj struct {
		Name string `json:"name"`
	}
	if json.Unmarshal(raw, &obj) == nil && obj.Name != "" {
		return obj.Name
	}
	var list []json.RawMessage
	if json.Unmarshal(raw, &list) == nil {
		names := make([]string, 0, len(list))
		for _, item := range list {
			if n := ldNames(item); n != "" {
				names = append(names, n)
			}
		}
		return strings.Join(names, ", ")
	}
	return ""
}

func ldScalar(raw json.RawMessage) string {
	return strings.Trim(string(raw), `"`)
}

func ldImage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var obj struct {
		URL string `json:"url"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		return obj.URL
	}
	var list []string
	if json.Unmarshal(raw, &list) == nil && len(list) > 0 {
		return list[0]
	}
	return ""
}

func fromMeta(doc *goquery.Document) *metadata.Book {
	meta := func(keys ...string) string {
		for _, k := range keys {
			sel := fmt.Sprintf(`meta[property=%q], meta[name=%q]`, k, k)
			if v, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
		return ""
	}
	return &metadata.Book{
		Title:         meta("og:title", "twitter:title"),
		Author:        meta("book:author", "author"),
		ISBN:          isbn.Normalize(meta("books:isbn", "book:isbn")),
		PublishedDate: meta("book:release_date"),
		Description:   meta("og:description", "description"),
		CoverImage:    meta("og:image"),
		PageCount:     parseInt(meta("books:page_count")),
		Rating:        parseRating(meta("books:rating:value")),
	}
}

// first returns the first non-empty value any selector yields.
func first(doc *goquery.Document, selectors []string) string {
	for _, s := range selectors {
		css, attr := splitSelector(s)
		node := doc.Find(css).First()
		if node.Length() == 0 {
			continue
		}
		var v string
		if attr != "" {
			v, _ = node.Attr(attr)
		} else {
			v = node.Text()
		}
		if v = clean(v); v != "" {
			return v
		}
	}
	return ""
}

// joinAll collects every match of the first selector that matches anything.
func joinAll(doc *goquery.Document, selectors []string) string {
	for _, s := range selectors {
		css, attr := splitSelector(s)
		var values []string
		seen := map[string]bool{}
		doc.Find(css).Each(func(_ int, node *goquery.Selection) {
			v := node.Text()
			if attr != "" {
				v, _ = node.Attr(attr)
			}
			v = clean(v)
			if v != "" && !seen[v] {
				seen[v] = true
				values = append(values, v)
			}
		})
		if len(values) > 0 {
			return strings.Join(values, ", ")
		}
	}
	return ""
}

func splitSelector(s string) (css, attr string) {
	i := strings.LastIndex(s, "@")
	if i <= 0 || strings.Contains(s[i:], "]") {
		return s, ""
	}
	return s[:i], s[i+1:]
}

func clean(s string) string {
	return strings.TrimSpace(spacePattern.ReplaceAllString(s, " "))
}

func parseInt(s string) int {
	m := numberPattern.FindString(s)
	if m == "" {
		return 0
	}
	m, _, _ = strings.Cut(strings.ReplaceAll(m, ",", "."), ".")
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0
	}
	return n
}

// parseRating reads "4.5 out of 5 stars" or "4,12" style values.
func parseRating(s string) *float64 {
	m := numberPattern.FindString(s)
	if m == "" {
		return nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", "."), 64)
	if err != nil || v <= 0 || v > 10 {
		return nil
	}
	return &v
}

func absoluteURL(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
