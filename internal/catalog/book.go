package catalog

import (
	"errors"
	"strings"
	"time"

	"github.com/lepinkainen/librarian/internal/isbn"
	"github.com/lepinkainen/librarian/internal/metadata"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("a book with this ISBN already exists")
	ErrInvalid   = errors.New("invalid book")
)

// Book status values.
const (
	StatusAvailable = "available"
	StatusBorrowed  = "borrowed"
)

// Book is a catalog entry. Nullable columns are pointers.
type Book struct {
	ID             int64     `json:"id"`
	Title          string    `json:"title"`
	Author         string    `json:"author"`
	ISBN           *string   `json:"isbn"`
	Publisher      string    `json:"publisher"`
	PublishedDate  string    `json:"published_date"`
	Description    string    `json:"description"`
	PageCount      int       `json:"page_count"`
	Categories     string    `json:"categories"`
	Language       string    `json:"language"`
	CoverImage     string    `json:"cover_image"`
	ThumbnailImage string    `json:"thumbnail_image"`
	ExternalID     *string   `json:"external_id"`
	Rating         *float64  `json:"rating"`
	Status         string    `json:"status"`
	OwnerID        *int64    `json:"owner_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// BookFromMetadata converts a looked-up record into a new catalog entry.
func BookFromMetadata(m *metadata.Book) Book {
	if m == nil {
		return Book{}
	}
	b := Book{
		Title:          m.Title,
		Author:         m.Author,
		ISBN:           optional(m.ISBN),
		Publisher:      m.Publisher,
		PublishedDate:  m.PublishedDate,
		Description:    m.Description,
		PageCount:      m.PageCount,
		Categories:     m.Categories,
		Language:       m.Language,
		CoverImage:     m.CoverImage,
		ThumbnailImage: m.ThumbnailImage,
		ExternalID:     optional(m.ExternalID),
	}
	if m.Rating != nil {
		r := *m.Rating
		b.Rating = &r
	}
	return b
}

// normalize trims text fields and canonicalizes the ISBN. An ISBN that
// normalizes to nothing becomes NULL.
func (b *Book) normalize() error {
	b.Title = strings.TrimSpace(b.Title)
	b.Author = strings.TrimSpace(b.Author)
	b.Publisher = strings.TrimSpace(b.Publisher)
	b.Categories = strings.TrimSpace(b.Categories)
	if b.ISBN != nil {
		b.ISBN = optional(isbn.Normalize(*b.ISBN))
	}
	if b.ExternalID != nil {
		b.ExternalID = optional(*b.ExternalID)
	}
	if b.Title == "" {
		return errors.Join(ErrInvalid, errors.New("title is required"))
	}
	if b.PageCount < 0 {
		return errors.Join(ErrInvalid, errors.New("page count cannot be negative"))
	}
	if b.Status == "" {
		b.Status = StatusAvailable
	}
	return nil
}

// BookUpdate lists the fields to change. Nil fields are left alone.
type BookUpdate struct {
	Title          *string  `json:"title"`
	Author         *string  `json:"author"`
	ISBN           *string  `json:"isbn"`
	Publisher      *string  `json:"publisher"`
	PublishedDate  *string  `json:"published_date"`
	Description    *string  `json:"description"`
	PageCount      *int     `json:"page_count"`
	Categories     *string  `json:"categories"`
	Language       *string  `json:"language"`
	CoverImage     *string  `json:"cover_image"`
	ThumbnailImage *string  `json:"thumbnail_image"`
	Rating         *float64 `json:"rating"`
}

func (u BookUpdate) apply(b *Book) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&b.Title, u.Title)
	set(&b.Author, u.Author)
	set(&b.Publisher, u.Publisher)
	set(&b.PublishedDate, u.PublishedDate)
	set(&b.Description, u.Description)
	set(&b.Categories, u.Categories)
	set(&b.Language, u.Language)
	set(&b.CoverImage, u.CoverImage)
	set(&b.ThumbnailImage, u.ThumbnailImage)
	if u.ISBN != nil {
		b.ISBN = optional(*u.ISBN)
	}
	if u.PageCount != nil {
		b.PageCount = *u.PageCount
	}
	if u.Rating != nil {
		b.Rating = u.Rating
	}
}

// Stats summarizes the collection.
type Stats struct {
	Total     int `json:"total"`
	Borrowed  int `json:"borrowed"`
	Available int `json:"available"`
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
