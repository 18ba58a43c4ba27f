// Package reverseimage uploads a cover photo to Google Lens in the shared
// browser and harvests the result page for candidate book pages.
package reverseimage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"
	"github.com/lepinkainen/librarian/internal/browser"
)

const (
	defaultUploadURL = "https://lens.google.com/?hl=en"
	fileInputQuery   = `input[type="file"]`
)

var chromedpRunner = chromedp.Run

// Tab opens browser tabs. *browser.Pool satisfies it.
type Tab interface {
	NewTab(ctx context.Context) (context.Context, context.CancelFunc, error)
}

// Resolver drives the image search.
type Resolver struct {
	tabs        Tab
	classifier  Classifier
	uploadURL   string
	waitResults time.Duration
	maxLinks    int
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithUploadURL overrides the page that holds the upload input.
func WithUploadURL(u string) Option {
	return func(r *Resolver) {
		if u != "" {
			r.uploadURL = u
		}
	}
}

// WithResultWait bounds how long to wait for result links to appear.
func WithResultWait(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.waitResults = d
		}
	}
}

// New returns a Resolver using tabs for browsing and classifier to sort links.
func New(tabs Tab, classifier Classifier, opts ...Option) *Resolver {
	r := &Resolver{
		tabs:        tabs,
		classifier:  classifier,
		uploadURL:   defaultUploadURL,
		waitResults: 15 * time.Second,
		maxLinks:    10,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve uploads imagePath and returns what the result page offers, or nil
// when it offered nothing useful.
func (r *Resolver) Resolve(ctx context.Context, imagePath string) (*Resolution, error) {
	if r.tabs == nil {
		return nil, browser.ErrDisabled
	}
	abs, err := filepath.Abs(imagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve image path: %w", err)
	}

	tabCtx, cancel, err := r.tabs.NewTab(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	start := time.Now()
	if err := chromedpRunner(tabCtx,
		chromedp.Navigate(r.uploadURL),
		chromedp.WaitReady(fileInputQuery, chromedp.ByQuery),
		uploadFile(abs),
	); err != nil {
		return nil, fmt.Errorf("failed to upload image: %w", err)
	}

	html, err := browser.Poll(tabCtx, 500*time.Millisecond, r.waitResults, "reverse image results", func() (string, bool, error) {
		var loc string
		if err := chromedpRunner(tabCtx, chromedp.Location(&loc)); err != nil {
			return "", false, err
		}
		if loc == r.uploadURL {
			return "", false, nil
		}
		var links int
		if err := chromedpRunner(tabCtx, chromedp.Evaluate(`document.querySelectorAll('a[href^="http"]').length`, &links)); err != nil {
			return "", false, err
		}
		if links < 5 {
			return "", false, nil
		}
		var page string
		if err := chromedpRunner(tabCtx, chromedp.OuterHTML("html", &page, chromedp.ByQuery)); err != nil {
			return "", false, err
		}
		return page, true, nil
	})
	if err != nil {
		return nil, err
	}

	res, err := ParseResults(html, r.classifier, r.maxLinks)
	if err != nil {
		return nil, err
	}
	if res == nil {
		slog.Debug("Reverse image search found nothing", "image", imagePath, "elapsed", time.Since(start))
		return nil, nil
	}
	slog.Debug("Reverse image search finished",
		"image", imagePath,
		"best_guess", res.BestGuessLabel,
		"bookseller_links", len(res.Bookseller),
		"review_links", len(res.ReviewSite),
		"elapsed", time.Since(start))
	return res, nil
}

// uploadFile sets the file on the page's first file input.
func uploadFile(path string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		var nodes []*cdp.Node
		if err := chromedp.Nodes(fileInputQuery, &nodes, chromedp.ByQuery, chromedp.AtLeast(1)).Do(ctx); err != nil {
			return err
		}
		if len(nodes) == 0 {
			return errors.New("no file input on page")
		}
		return dom.SetFileInputFiles([]string{path}).WithNodeID(nodes[0].NodeID).Do(ctx)
	})
}

// hasPrefixFold is strings.HasPrefix ignoring ASCII case.
func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
