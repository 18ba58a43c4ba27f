package recognition

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/lepinkainen/librarian/internal/metadata"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Method names the stage that produced a result.
type Method string

const (
	MethodReverseImage Method = "reverse_image_search"
	MethodVision       Method = "vision_api"
	MethodISBNOCR      Method = "isbn_ocr"
	MethodTitleOCR     Method = "title_ocr"
	MethodNone         Method = "none"
)

// Result is the bibliographic guess one stage produced. It is built once and
// passed by value.
type Result struct {
	Title          string   `json:"title"`
	Author         string   `json:"author"`
	ISBN           string   `json:"isbn"`
	Publisher      string   `json:"publisher"`
	PublishedDate  string   `json:"published_date"`
	Description    string   `json:"description"`
	PageCount      int      `json:"page_count"`
	Categories     string   `json:"categories"`
	Language       string   `json:"language"`
	ThumbnailImage string   `json:"thumbnail_image"`
	CoverImage     string   `json:"cover_image"`
	Rating         *float64 `json:"rating,omitempty"`
	ExternalID     string   `json:"external_id,omitempty"`
	Source         string   `json:"source,omitempty"`
}

// Outcome is what Identify returns. Method is MethodNone when Recognized is
// false.
type Outcome struct {
	Recognized bool   `json:"recognized"`
	Data       Result `json:"data"`
	Method     Method `json:"recognition_method"`
}

func resultFrom(b *metadata.Book) *Result {
	if b == nil {
		return nil
	}
	c := b.Clone()
	return &Result{
		Title:          strings.TrimSpace(c.Title),
		Author:         strings.TrimSpace(c.Author),
		ISBN:           c.ISBN,
		Publisher:      c.Publisher,
		PublishedDate:  c.PublishedDate,
		Description:    c.Description,
		PageCount:      c.PageCount,
		Categories:     c.Categories,
		Language:       c.Language,
		ThumbnailImage: c.ThumbnailImage,
		CoverImage:     c.CoverImage,
		Rating:         c.Rating,
		ExternalID:     c.ExternalID,
		Source:         c.Source,
	}
}

// Book converts the result back into a metadata record.
func (r Result) Book() *metadata.Book {
	b := &metadata.Book{
		Title:          r.Title,
		Author:         r.Author,
		ISBN:           r.ISBN,
		Publisher:      r.Publisher,
		PublishedDate:  r.PublishedDate,
		Description:    r.Description,
		PageCount:      r.PageCount,
		Categories:     r.Categories,
		Language:       r.Language,
		ThumbnailImage: r.ThumbnailImage,
		CoverImage:     r.CoverImage,
		Rating:         r.Rating,
		ExternalID:     r.ExternalID,
		Source:         r.Source,
	}
	return b.Clone()
}

var (
	bySeparator   = regexp.MustCompile(`(?i) by `)
	dashSeparator = regexp.MustCompile(` - `)
)

// SplitLabel turns a free-text label into a title and author guess.
//
//	"Dune by Frank Herbert"       -> "Dune", "Frank Herbert"
//	"Dune - Frank Herbert"        -> "Dune", "Frank Herbert"
//	"Stand By Me by Stephen King" -> "Stand", "Me"
//	"Dune"                        -> "Dune", ""
//
// " by " is checked before " - " and matches case-insensitively. When the
// separator repeats, only the first two pieces are used.
func SplitLabel(label string) (title, author string) {
	label = strings.TrimSpace(label)
	if label == "" {
		return "", ""
	}
	for _, sep := range []*regexp.Regexp{bySeparator, dashSeparator} {
		if !sep.MatchString(label) {
			continue
		}
		parts := sep.Split(label, -1)
		title = strings.TrimSpace(parts[0])
		if len(parts) > 1 {
			author = strings.TrimSpace(parts[1])
		}
		return title, author
	}
	return label, ""
}

// genericLabels are best guesses that describe the object rather than the book.
var genericLabels = map[string]bool{
	"book":       true,
	"books":      true,
	"book cover": true,
	"novel":      true,
	"paperback":  true,
	"hardcover":  true,
	"cover":      true,
	"libro":      true,
	"libros":     true,
	"novela":     true,
	"portada":    true,
}

func isGenericLabel(label string) bool {
	return genericLabels[fold(label)]
}

// fold lower-cases s and strips diacritics so "Portáda " and "portada" compare
// equal.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.Join(strings.Fields(out), " "))
}

// normalizeText composes OCR output into NFC so accented characters produced
// as base letter plus combining mark match the precomposed form.
func normalizeText(s string) string {
	return norm.NFC.String(s)
}

// candidateLines returns the non-blank lines of OCR text, trimmed.
func candidateLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if l := strings.TrimSpace(line); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}
