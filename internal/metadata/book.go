// Package metadata looks up bibliographic records in external catalogs and
// normalizes them into a single Book shape regardless of source.
package metadata

import (
	"strings"

	"github.com/lepinkainen/librarian/internal/isbn"
)

// Book is a normalized bibliographic record. Empty strings mean the source
// had nothing for that field.
type Book struct {
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
	// Source names the catalog the record came from.
	Source string `json:"source,omitempty"`
}

// Volume is the raw shape a source maps its response into before
// normalization.
type Volume struct {
	ID            string
	Title         string
	Subtitle      string
	Authors       []string
	ISBN13        string
	ISBN10        string
	Publisher     string
	PublishedDate string
	Description   string
	PageCount     int
	Categories    []string
	Language      string
	Thumbnail     string
	SmallThumb    string
	Rating        float64
}

// Normalize turns a raw volume into a Book: authors and categories joined
// with ", ", the 13-digit ISBN preferred over the 10-digit one, and the
// small thumbnail used as cover image when present.
func Normalize(v Volume, source string) *Book {
	b := &Book{
		Title:          strings.TrimSpace(v.Title),
		Author:         joinNonEmpty(v.Authors),
		ISBN:           isbn.Prefer(isbn.Normalize(v.ISBN13), isbn.Normalize(v.ISBN10)),
		Publisher:      strings.TrimSpace(v.Publisher),
		PublishedDate:  v.PublishedDate,
		Description:    strings.TrimSpace(v.Description),
		Categories:     joinNonEmpty(v.Categories),
		Language:       v.Language,
		ThumbnailImage: secureURL(v.Thumbnail),
		CoverImage:     secureURL(firstNonEmpty(v.SmallThumb, v.Thumbnail)),
		ExternalID:     v.ID,
		Source:         source,
	}
	if v.PageCount > 0 {
		b.PageCount = v.PageCount
	}
	if v.Rating > 0 {
		r := v.Rating
		b.Rating = &r
	}
	if b.ThumbnailImage == "" {
		b.ThumbnailImage = b.CoverImage
	}
	return b
}

// Fill copies every field that is blank in b from other. Fields already set
// in b win.
func (b *Book) Fill(other *Book) {
	if other == nil {
		return
	}
	fillString(&b.Title, other.Title)
	fillString(&b.Author, other.Author)
	fillString(&b.ISBN, other.ISBN)
	fillString(&b.Publisher, other.Publisher)
	fillString(&b.PublishedDate, other.PublishedDate)
	fillString(&b.Description, other.Description)
	fillString(&b.Categories, other.Categories)
	fillString(&b.Language, other.Language)
	fillString(&b.ThumbnailImage, other.ThumbnailImage)
	fillString(&b.CoverImage, other.CoverImage)
	fillString(&b.ExternalID, other.ExternalID)
	if b.PageCount == 0 {
		b.PageCount = other.PageCount
	}
	if b.Rating == nil && other.Rating != nil {
		r := *other.Rating
		b.Rating = &r
	}
}

// Clone returns a deep copy.
func (b *Book) Clone() *Book {
	if b == nil {
		return nil
	}
	c := *b
	if b.Rating != nil {
		r := *b.Rating
		c.Rating = &r
	}
	return &c
}

func fillString(dst *string, src string) {
	if strings.TrimSpace(*dst) == "" && src != "" {
		*dst = src
	}
}

func joinNonEmpty(items []string) string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := strings.TrimSpace(item); s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, ", ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// secureURL upgrades the http image links Google Books hands out.
func secureURL(u string) string {
	if strings.HasPrefix(u, "http://") {
		return "https://" + strings.TrimPrefix(u, "http://")
	}
	return u
}
