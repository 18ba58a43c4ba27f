// Package recognition identifies a book from a cover photo by running an
// ordered chain of fallback stages until one produces a match.
package recognition

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lepinkainen/librarian/internal/metadata"
	"github.com/lepinkainen/librarian/internal/reverseimage"
	"github.com/lepinkainen/librarian/internal/scraper"
	"github.com/lepinkainen/librarian/internal/vision"
)

const (
	DefaultBrowserTimeout = 25 * time.Second
	DefaultAPITimeout     = 10 * time.Second

	// labels from web entities below this score are ignored
	minEntityScore = 0.5
)

// TextExtractor reads printed text off an image.
type TextExtractor interface {
	ExtractText(ctx context.Context, imagePath string) (string, error)
}

// VisualMatcher asks an image-understanding service what the image shows.
type VisualMatcher interface {
	Detect(ctx context.Context, imagePath string) (*vision.Detection, error)
}

// ImageResolver runs a reverse image search.
type ImageResolver interface {
	Resolve(ctx context.Context, imagePath string) (*reverseimage.Resolution, error)
}

// PageScraper extracts book fields from a result page.
type PageScraper interface {
	Scrape(ctx context.Context, url string, kind scraper.SiteKind) (*metadata.Book, error)
}

// Stage is one step of the fallback chain. Run returns nil, nil when the
// stage found nothing.
type Stage struct {
	Name    string
	Method  Method
	Timeout time.Duration
	Run     func(ctx context.Context, a *attempt) (*Result, error)
}

// Pipeline runs the stages in order. It holds no per-request state and is
// safe for concurrent use.
type Pipeline struct {
	source    metadata.Source
	extractor TextExtractor
	matcher   VisualMatcher
	resolver  ImageResolver
	scraper   PageScraper

	browserTimeout time.Duration
	apiTimeout     time.Duration
	maxBookseller  int
	maxReviewSite  int
	stages         []Stage
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithTextExtractor enables the two OCR stages.
func WithTextExtractor(e TextExtractor) Option {
	return func(p *Pipeline) { p.extractor = e }
}

// WithVisualMatcher enables the vision stage.
func WithVisualMatcher(m VisualMatcher) Option {
	return func(p *Pipeline) { p.matcher = m }
}

// WithReverseImage enables the reverse image stage. Both collaborators are
// required.
func WithReverseImage(r ImageResolver, s PageScraper) Option {
	return func(p *Pipeline) {
		p.resolver = r
		p.scraper = s
	}
}

// WithTimeouts sets the per-stage deadlines. Zero keeps the default.
func WithTimeouts(browser, api time.Duration) Option {
	return func(p *Pipeline) {
		if browser > 0 {
			p.browserTimeout = browser
		}
		if api > 0 {
			p.apiTimeout = api
		}
	}
}

// WithLinkLimits caps how many bookseller and review-site links are scraped.
func WithLinkLimits(bookseller, review int) Option {
	return func(p *Pipeline) {
		if bookseller >= 0 {
			p.maxBookseller = bookseller
		}
		if review >= 0 {
			p.maxReviewSite = review
		}
	}
}

// New builds a pipeline that looks books up in source. Stages whose
// collaborators were not supplied are left out.
func New(source metadata.Source, opts ...Option) *Pipeline {
	p := &Pipeline{
		source:         source,
		browserTimeout: DefaultBrowserTimeout,
		apiTimeout:     DefaultAPITimeout,
		maxBookseller:  3,
		maxReviewSite:  2,
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.resolver != nil && p.scraper != nil {
		p.stages = append(p.stages, Stage{Name: "reverse image search", Method: MethodReverseImage, Timeout: p.browserTimeout, Run: p.reverseImageStage})
	}
	if p.matcher != nil && p.source != nil {
		p.stages = append(p.stages, Stage{Name: "vision", Method: MethodVision, Timeout: p.apiTimeout, Run: p.visionStage})
	}
	if p.extractor != nil && p.source != nil {
		p.stages = append(p.stages,
			Stage{Name: "ocr isbn", Method: MethodISBNOCR, Timeout: p.apiTimeout, Run: p.isbnStage},
			Stage{Name: "ocr title", Method: MethodTitleOCR, Timeout: p.apiTimeout, Run: p.titleStage},
		)
	}
	return p
}

// Stages returns the configured stage methods in run order.
func (p *Pipeline) Stages() []Method {
	methods := make([]Method, 0, len(p.stages))
	for _, s := range p.stages {
		methods = append(methods, s.Method)
	}
	return methods
}

// Identify runs the stages until one returns a result. It never fails: stage
// errors and timeouts are logged and the next stage runs. When every stage
// comes up empty the outcome is unrecognized with MethodNone.
func (p *Pipeline) Identify(ctx context.Context, imagePath string) Outcome {
	a := &attempt{imagePath: imagePath, extractor: p.extractor}
	start := time.Now()

	for _, stage := range p.stages {
		if ctx.Err() != nil {
			slog.Warn("Identification canceled", "image", imagePath, "stage", stage.Name, "error", ctx.Err())
			break
		}

		res, err := p.runStage(ctx, stage, a)
		if err != nil {
			slog.Warn("Recognition stage failed", "stage", stage.Name, "method", stage.Method, "error", err)
			continue
		}
		if res == nil {
			slog.Debug("Recognition stage found nothing", "stage", stage.Name, "method", stage.Method)
			continue
		}

		slog.Info("Book identified",
			"method", stage.Method,
			"title", res.Title,
			"isbn", res.ISBN,
			"elapsed", time.Since(start))
		return Outcome{Recognized: true, Data: *res, Method: stage.Method}
	}

	slog.Info("Book not identified", "image", imagePath, "stages", len(p.stages), "elapsed", time.Since(start))
	return Outcome{Recognized: false, Method: MethodNone}
}

// runStage runs one stage under its timeout. A panicking collaborator is
// reported as a stage error.
func (p *Pipeline) runStage(ctx context.Context, stage Stage, a *attempt) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("stage %s panicked: %v", stage.Name, r)
		}
	}()

	stageCtx := ctx
	if stage.Timeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(ctx, stage.Timeout)
		defer cancel()
	}

	start := time.Now()
	res, err = stage.Run(stageCtx, a)
	slog.Debug("Recognition stage finished", "stage", stage.Name, "elapsed", time.Since(start), "found", res != nil)
	if err != nil {
		return nil, err
	}
	if res == nil || res.Title == "" {
		return nil, nil
	}
	return res, nil
}
