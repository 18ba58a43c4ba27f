package cmd

import (
	"context"
	"io"
	"log/slog"

	"github.com/lepinkainen/librarian/internal/browser"
	"github.com/lepinkainen/librarian/internal/catalog"
	"github.com/lepinkainen/librarian/internal/config"
	"github.com/lepinkainen/librarian/internal/lending"
	"github.com/lepinkainen/librarian/internal/metadata"
	"github.com/lepinkainen/librarian/internal/ocr"
	"github.com/lepinkainen/librarian/internal/recognition"
	"github.com/lepinkainen/librarian/internal/reverseimage"
	"github.com/lepinkainen/librarian/internal/scraper"
	"github.com/lepinkainen/librarian/internal/server"
	"github.com/lepinkainen/librarian/internal/vision"
)

// Seams for tests.
var (
	openCatalog   = catalog.Open
	newSources    = buildSources
	newIdentifier = buildIdentifier
)

// sources is the metadata chain plus its search side.
type sources struct {
	source   metadata.Source
	searcher metadata.Searcher
}

func buildSources(s config.Settings) sources {
	google := metadata.NewGoogleBooks(config.GoogleBooksAPIKey)
	var isbndb metadata.Source
	if config.ISBNdbAPIKey != "" {
		isbndb = metadata.NewISBNdb(config.ISBNdbAPIKey)
	}
	chain := metadata.NewChain(google, metadata.NewOpenLibrary(), isbndb).WithMerge(s.Recognition.MetadataMerge)
	return sources{source: chain, searcher: chain}
}

type identifyCloser interface {
	server.Identifier
	io.Closer
}

// identifier is the recognition pipeline plus anything that needs closing.
type identifier struct {
	pipeline *recognition.Pipeline
	pool     *browser.Pool
}

func (i *identifier) Identify(ctx context.Context, imagePath string) recognition.Outcome {
	return i.pipeline.Identify(ctx, imagePath)
}

func (i *identifier) Close() error {
	if i.pool == nil {
		return nil
	}
	return i.pool.Close()
}

// buildIdentifier wires every stage whose prerequisites are configured:
// reverse image search needs the browser, the Vision stage an API key and
// the OCR stages a tesseract binary.
func buildIdentifier(s config.Settings, source metadata.Source) identifyCloser {
	var opts []recognition.Option
	id := &identifier{}

	if s.Browser.Enabled {
		id.pool = browser.New(browser.Options{
			Enabled:   true,
			Headless:  s.Browser.Headless,
			ExecPath:  s.Browser.ExecPath,
			UserAgent: s.Browser.UserAgent,
		})
		rules := scraper.DefaultRules()
		pages := scraper.New(scraper.NewHTTPFetcher(s.Browser.UserAgent),
			scraper.WithRules(rules),
			scraper.WithBrowser(&scraper.BrowserFetcher{Pool: id.pool}),
		)
		opts = append(opts, recognition.WithReverseImage(reverseimage.New(id.pool, rules), pages))
	}

	if config.VisionAPIKey != "" {
		opts = append(opts, recognition.WithVisualMatcher(vision.NewClient(config.VisionAPIKey)))
	} else {
		slog.Debug("Vision stage disabled, no API key")
	}

	tess := ocr.New(ocr.WithBinary(s.OCR.TesseractPath), ocr.WithLanguages(s.OCR.Languages))
	if tess.Available() {
		opts = append(opts, recognition.WithTextExtractor(tess))
	} else {
		slog.Warn("tesseract not found, OCR stages disabled", "binary", s.OCR.TesseractPath)
	}

	opts = append(opts,
		recognition.WithTimeouts(s.Recognition.BrowserTimeout, s.Recognition.APITimeout),
		recognition.WithLinkLimits(s.Recognition.MaxBooksellerLinks, s.Recognition.MaxReviewLinks),
	)
	id.pipeline = recognition.New(source, opts...)
	slog.Debug("Recognition pipeline ready", "stages", id.pipeline.Stages())
	return id
}

// library bundles the catalog and the ledger over one connection.
type library struct {
	db     *catalog.DB
	store  *catalog.Store
	ledger *lending.Ledger
}

func openLibrary(ctx context.Context, s config.Settings) (*library, error) {
	db, err := openCatalog(ctx, s.Database.Driver, s.Database.DSN)
	if err != nil {
		return nil, err
	}
	return &library{
		db:     db,
		store:  catalog.NewStore(db),
		ledger: lending.New(db, lending.WithDefaultDueDays(s.Lending.DefaultDueDays)),
	}, nil
}

func (l *library) Close() error {
	return l.db.Close()
}
