package recognition

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/lepinkainen/librarian/internal/isbn"
	"github.com/lepinkainen/librarian/internal/metadata"
	"github.com/lepinkainen/librarian/internal/reverseimage"
	"github.com/lepinkainen/librarian/internal/scraper"
	"github.com/lepinkainen/librarian/internal/vision"
)

var errNoTextExtractor = errors.New("no text extractor configured")

// attempt carries what earlier stages learned during one Identify call.
type attempt struct {
	imagePath string
	extractor TextExtractor

	ocrDone    bool
	ocrText    string
	ocrErr     error
	visionText string
}

// text runs OCR once per attempt. When OCR fails or reads nothing, the text
// the vision stage saw is used instead.
func (a *attempt) text(ctx context.Context) (string, error) {
	if !a.ocrDone {
		a.ocrDone = true
		if a.extractor == nil {
			a.ocrErr = errNoTextExtractor
		} else {
			raw, err := a.extractor.ExtractText(ctx, a.imagePath)
			a.ocrText = normalizeText(raw)
			a.ocrErr = err
			slog.Debug("OCR text extracted", "image", a.imagePath, "chars", len(a.ocrText), "error", err)
		}
	}
	if (a.ocrErr != nil || strings.TrimSpace(a.ocrText) == "") && a.visionText != "" {
		return a.visionText, nil
	}
	return a.ocrText, a.ocrErr
}

type candidateLink struct {
	url  string
	kind scraper.SiteKind
}

// candidateLinks lists bookseller links before review-site links, each
// capped separately.
func candidateLinks(r *reverseimage.Resolution, maxBookseller, maxReview int) []candidateLink {
	var links []candidateLink
	for i, u := range r.Bookseller {
		if i >= maxBookseller {
			break
		}
		links = append(links, candidateLink{url: u, kind: scraper.Bookseller})
	}
	for i, u := range r.ReviewSite {
		if i >= maxReview {
			break
		}
		links = append(links, candidateLink{url: u, kind: scraper.ReviewSite})
	}
	return links
}

func (p *Pipeline) reverseImageStage(ctx context.Context, a *attempt) (*Result, error) {
	res, err := p.resolver.Resolve(ctx, a.imagePath)
	if err != nil {
		return nil, err
	}
	if res.Empty() {
		return nil, nil
	}

	for _, link := range candidateLinks(res, p.maxBookseller, p.maxReviewSite) {
		b, err := p.scraper.Scrape(ctx, link.url, link.kind)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Debug("Candidate page scrape failed", "url", link.url, "error", err)
			continue
		}
		if b == nil || strings.TrimSpace(b.Title) == "" {
			continue
		}
		slog.Debug("Candidate page matched", "url", link.url, "kind", link.kind, "title", b.Title)
		p.fillByISBN(ctx, b)
		return resultFrom(b), nil
	}

	title, author := SplitLabel(res.BestGuessLabel)
	if title == "" || isGenericLabel(title) {
		return nil, nil
	}
	b := &metadata.Book{Title: title, Author: author, Source: "reverse image label"}
	if p.source != nil {
		found, err := p.source.LookupByTitleAuthor(ctx, title, author)
		if err != nil {
			slog.Debug("Label lookup failed", "title", title, "error", err)
		}
		b.Fill(found)
	}
	return resultFrom(b), nil
}

// fillByISBN completes a scraped record from the metadata source. Scraped
// fields are kept.
func (p *Pipeline) fillByISBN(ctx context.Context, b *metadata.Book) {
	if p.source == nil || b.ISBN == "" {
		return
	}
	found, err := p.source.LookupByISBN(ctx, b.ISBN)
	if err != nil {
		slog.Debug("ISBN enrichment failed", "isbn", b.ISBN, "error", err)
		return
	}
	b.Fill(found)
}

func (p *Pipeline) visionStage(ctx context.Context, a *attempt) (*Result, error) {
	det, err := p.matcher.Detect(ctx, a.imagePath)
	if err != nil {
		return nil, err
	}
	if det == nil {
		return nil, nil
	}
	a.visionText = normalizeText(det.RawText)

	title, author := SplitLabel(visionLabel(det))
	if title == "" || isGenericLabel(title) {
		return nil, nil
	}
	b, err := p.source.LookupByTitleAuthor(ctx, title, author)
	if err != nil {
		return nil, err
	}
	return resultFrom(b), nil
}

// visionLabel picks the first confident web entity, falling back to the
// best-guess label.
func visionLabel(det *vision.Detection) string {
	if kw := det.Keywords(minEntityScore); len(kw) > 0 {
		return kw[0]
	}
	return det.BestGuessLabel
}

func (p *Pipeline) isbnStage(ctx context.Context, a *attempt) (*Result, error) {
	text, err := a.text(ctx)
	if err != nil {
		return nil, err
	}
	code := isbn.Extract(text)
	if code == "" {
		return nil, nil
	}
	slog.Debug("ISBN found in cover text", "isbn", code)

	b, err := p.source.LookupByISBN(ctx, code)
	if err != nil {
		return nil, err
	}
	return resultFrom(b), nil
}

func (p *Pipeline) titleStage(ctx context.Context, a *attempt) (*Result, error) {
	text, err := a.text(ctx)
	if err != nil {
		return nil, err
	}
	lines := candidateLines(text)
	if len(lines) == 0 {
		return nil, nil
	}
	title, author := lines[0], ""
	if len(lines) > 1 {
		author = lines[1]
	}

	b, err := p.source.LookupByTitleAuthor(ctx, title, author)
	if err != nil {
		return nil, err
	}
	return resultFrom(b), nil
}
