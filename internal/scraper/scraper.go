// Package scraper pulls book fields out of bookseller and review-site pages.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lepinkainen/librarian/internal/cache"
	"github.com/lepinkainen/librarian/internal/metadata"
)

// ErrUnsupportedURL is returned for URLs without an http(s) host.
var ErrUnsupportedURL = errors.New("unsupported url")

// Scraper fetches and parses book pages.
type Scraper struct {
	rules    *Rules
	http     Fetcher
	browser  Fetcher
	useCache bool
}

// Option configures a Scraper.
type Option func(*Scraper)

// WithRules replaces the embedded site rules.
func WithRules(r *Rules) Option {
	return func(s *Scraper) {
		if r != nil {
			s.rules = r
		}
	}
}

// WithBrowser renders pages through f when a site needs it or plain HTTP
// fails.
func WithBrowser(f Fetcher) Option {
	return func(s *Scraper) {
		s.browser = f
	}
}

// WithCache toggles the scrape cache.
func WithCache(enabled bool) Option {
	return func(s *Scraper) {
		s.useCache = enabled
	}
}

// New returns a Scraper that fetches over HTTP with httpFetcher.
func New(httpFetcher Fetcher, opts ...Option) *Scraper {
	s := &Scraper{
		rules:    DefaultRules(),
		http:     httpFetcher,
		useCache: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Rules returns the site rules in use.
func (s *Scraper) Rules() *Rules {
	return s.rules
}

type cachedPage struct {
	Book     *metadata.Book `json:"book"`
	NotFound bool           `json:"not_found"`
}

// Scrape returns the book described at pageURL, or nil when the page has no
// recognizable title. kind picks the generic selectors for unknown sites.
func (s *Scraper) Scrape(ctx context.Context, pageURL string, kind SiteKind) (*metadata.Book, error) {
	if hostOf(pageURL) == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedURL, pageURL)
	}

	fetch := func(ctx context.Context) (*cachedPage, error) {
		b, err := s.scrape(ctx, pageURL, kind)
		if err != nil {
			return nil, err
		}
		return &cachedPage{Book: b, NotFound: b == nil}, nil
	}

	var (
		page *cachedPage
		err  error
	)
	if s.useCache {
		page, _, err = cache.GetOrFetchWithTTL(ctx, cache.ScrapeTable, pageURL, fetch,
			cache.SelectNegativeCacheTTL(func(p *cachedPage) bool { return p.NotFound }))
	} else {
		page, err = fetch(ctx)
	}
	if err != nil {
		return nil, err
	}
	if page == nil || page.NotFound {
		return nil, nil
	}
	return page.Book.Clone(), nil
}

func (s *Scraper) scrape(ctx context.Context, pageURL string, kind SiteKind) (*metadata.Book, error) {
	sel, site := s.rules.selectorsFor(pageURL, kind)
	source := hostOf(pageURL)
	if site != nil {
		source = site.Name
	}

	start := time.Now()
	html, err := s.fetch(ctx, pageURL, site != nil && site.Browser)
	if err != nil {
		return nil, err
	}

	b, err := ExtractBook(html, pageURL, sel)
	if err != nil {
		return nil, err
	}
	if b == nil {
		slog.Debug("Page has no book title", "url", pageURL, "elapsed", time.Since(start))
		return nil, nil
	}
	b.Source = source
	slog.Debug("Scraped book page", "url", pageURL, "title", b.Title, "isbn", b.ISBN, "elapsed", time.Since(start))
	return b, nil
}

func (s *Scraper) fetch(ctx context.Context, pageURL string, preferBrowser bool) (string, error) {
	if preferBrowser && s.browser != nil {
		return s.browser.Fetch(ctx, pageURL)
	}
	if s.http == nil {
		if s.browser == nil {
			return "", errors.New("no fetcher configured")
		}
		return s.browser.Fetch(ctx, pageURL)
	}

	html, err := s.http.Fetch(ctx, pageURL)
	if err == nil || s.browser == nil || ctx.Err() != nil {
		return html, err
	}
	slog.Debug("HTTP fetch failed, retrying in browser", "url", pageURL, "error", err)
	return s.browser.Fetch(ctx, pageURL)
}
