package scraper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/lepinkainen/librarian/internal/cache"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRulesClassify(t *testing.T) {
	r := DefaultRules()

	tests := []struct {
		url  string
		kind SiteKind
		ok   bool
	}{
		{"https://www.amazon.com/dp/0441013597", Bookseller, true},
		{"https://www.amazon.es/Dune-Frank-Herbert/dp/8497596823", Bookseller, true},
		{"https://smile.amazon.co.uk/dp/1", Bookseller, true},
		{"https://www.casadellibro.com/libro-dune/9788497596824/1055217", Bookseller, true},
		{"https://www.goodreads.com/book/show/44767458-dune", ReviewSite, true},
		{"https://m.goodreads.com/book/show/1", ReviewSite, true},
		{"https://notamazon.example.com/", "", false},
		{"https://en.wikipedia.org/wiki/Dune_(novel)", "", false},
		{"not a url", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			kind, ok := r.Classify(tt.url)
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.kind, kind)
		})
	}
}

func TestLoadRulesValidation(t *testing.T) {
	_, err := LoadRules([]byte("sites:\n  - name: x\n    kind: library\n    domains: [x.com]\n"))
	require.ErrorContains(t, err, "unknown kind")

	_, err = LoadRules([]byte("sites:\n  - name: x\n    kind: review\n"))
	require.ErrorContains(t, err, "no domains")

	r, err := LoadRules([]byte("sites:\n  - name: x\n    kind: review\n    domains: [' Example.COM ']\n"))
	require.NoError(t, err)
	kind, ok := r.Classify("https://reviews.example.com/b/1")
	require.True(t, ok)
	require.Equal(t, ReviewSite, kind)
}

type fakeFetcher struct {
	html  string
	err   error
	calls int
}

func (f *fakeFetcher) Fetch(context.Context, string) (string, error) {
	f.calls++
	return f.html, f.err
}

func TestScrapeUsesBrowserForBrowserSites(t *testing.T) {
	plain := &fakeFetcher{err: errors.New("should not be used")}
	rendered := &fakeFetcher{html: amazonPage}
	s := New(plain, WithBrowser(rendered), WithCache(false))

	b, err := s.Scrape(context.Background(), "https://www.amazon.com/dp/0441013597", Bookseller)
	require.NoError(t, err)
	require.Equal(t, "Dune", b.Title)
	require.Equal(t, "amazon", b.Source)
	require.Zero(t, plain.calls)
	require.Equal(t, 1, rendered.calls)
}

func TestScrapeFallsBackToBrowser(t *testing.T) {
	plain := &fakeFetcher{err: errors.New("403 forbidden")}
	rendered := &fakeFetcher{html: `<html><body><h1 data-testid="bookTitle">Dune</h1></body></html>`}
	s := New(plain, WithBrowser(rendered), WithCache(false))

	b, err := s.Scrape(context.Background(), "https://www.goodreads.com/book/show/1", ReviewSite)
	require.NoError(t, err)
	require.Equal(t, "Dune", b.Title)
	require.Equal(t, 1, plain.calls)
	require.Equal(t, 1, rendered.calls)
}

func TestScrapeErrorsAndMisses(t *testing.T) {
	s := New(&fakeFetcher{err: errors.New("timeout")}, WithCache(false))
	_, err := s.Scrape(context.Background(), "https://www.goodreads.com/book/show/1", ReviewSite)
	require.ErrorContains(t, err, "timeout")

	_, err = s.Scrape(context.Background(), "/relative/path", Bookseller)
	require.ErrorIs(t, err, ErrUnsupportedURL)

	empty := New(&fakeFetcher{html: "<html></html>"}, WithCache(false))
	b, err := empty.Scrape(context.Background(), "https://shop.example/item", Bookseller)
	require.NoError(t, err)
	require.Nil(t, b)
}

func TestScrapeCachesPages(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.Set("cache.dbfile", filepath.Join(t.TempDir(), "cache.db"))
	viper.Set("cache.ttl", "1h")
	require.NoError(t, cache.ResetGlobalCache())
	t.Cleanup(func() { _ = cache.ResetGlobalCache() })

	f := &fakeFetcher{html: jsonLDPage}
	s := New(f)

	for i := 0; i < 2; i++ {
		b, err := s.Scrape(context.Background(), "https://bookshop.org/p/grapes", Bookseller)
		require.NoError(t, err)
		require.Equal(t, "The Grapes of Wrath", b.Title)
	}
	require.Equal(t, 1, f.calls)
}

func TestHTTPFetcher(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "librarian-test", r.Header.Get("User-Agent"))
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("<html><h1>ok</h1></html>"))
	}))
	defer server.Close()

	f := NewHTTPFetcher("librarian-test")
	html, err := f.Fetch(context.Background(), server.URL+"/book")
	require.NoError(t, err)
	require.Contains(t, html, "<h1>ok</h1>")

	_, err = f.Fetch(context.Background(), server.URL+"/missing")
	require.ErrorContains(t, err, "HTTP 404")
}
