package reverseimage

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/lepinkainen/librarian/internal/scraper"
)

// Resolution is what a reverse image search offers for one photo.
type Resolution struct {
	BestGuessLabel string   `json:"best_guess_label"`
	Bookseller     []string `json:"bookseller"`
	ReviewSite     []string `json:"review_site"`
}

// Empty reports whether the resolution holds neither a label nor links.
func (r *Resolution) Empty() bool {
	return r == nil || (strings.TrimSpace(r.BestGuessLabel) == "" && len(r.Bookseller) == 0 && len(r.ReviewSite) == 0)
}

// Classifier sorts result links. *scraper.Rules satisfies it.
type Classifier interface {
	Classify(rawURL string) (scraper.SiteKind, bool)
}

// Places the label has appeared in over the years: the classic "Possible
// related search" link, Lens' query chip and the search box itself.
var bestGuessSelectors = []string{
	"a.fKDtNb",
	"[data-best-guess]",
	`div[data-query] span`,
	`textarea[name="q"]`,
	`input[name="q"]`,
}

// ParseResults extracts the best-guess label and classified result links
// from a result page, keeping at most maxLinks per kind. Returns nil when
// the page holds neither.
func ParseResults(html string, c Classifier, maxLinks int) (*Resolution, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse result page: %w", err)
	}

	res := &Resolution{BestGuessLabel: bestGuess(doc)}
	seen := map[string]bool{}

	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		link := unwrapRedirect(href)
		if link == "" || seen[link] || isSearchEngine(link) {
			return
		}
		seen[link] = true

		kind, ok := c.Classify(link)
		if !ok {
			return
		}
		switch kind {
		case scraper.Bookseller:
			if maxLinks <= 0 || len(res.Bookseller) < maxLinks {
				res.Bookseller = append(res.Bookseller, link)
			}
		case scraper.ReviewSite:
			if maxLinks <= 0 || len(res.ReviewSite) < maxLinks {
				res.ReviewSite = append(res.ReviewSite, link)
			}
		}
	})

	if res.Empty() {
		return nil, nil
	}
	return res, nil
}

func bestGuess(doc *goquery.Document) string {
	for _, sel := range bestGuessSelectors {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		label := node.AttrOr("data-best-guess", "")
		if label == "" {
			label = node.AttrOr("value", "")
		}
		if label == "" {
			label = node.Text()
		}
		if label = strings.Join(strings.Fields(label), " "); label != "" {
			return label
		}
	}
	return ""
}

// unwrapRedirect returns the target of Google's /url?q= redirects, or href
// itself for absolute http(s) links. Anything else yields "".
func unwrapRedirect(href string) string {
	href = strings.TrimSpace(href)
	if hasPrefixFold(href, "/url?") || strings.Contains(href, "google.com/url?") {
		u, err := url.Parse(href)
		if err != nil {
			return ""
		}
		q := u.Query()
		href = q.Get("q")
		if href == "" {
			href = q.Get("url")
		}
	}
	u, err := url.Parse(href)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ""
	}
	u.Fragment = ""
	return u.String()
}

func isSearchEngine(link string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return true
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range []string{"google.", "gstatic.com", "googleusercontent.com", "youtube.com"} {
		if strings.Contains(host, h) {
			return true
		}
	}
	return false
}
