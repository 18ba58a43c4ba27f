package scraper

import (
	_ "embed"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// SiteKind tells bookseller pages apart from review-site pages.
type SiteKind string

const (
	Bookseller SiteKind = "bookseller"
	ReviewSite SiteKind = "review"
)

//go:embed sites.yaml
var defaultSitesYAML []byte

// Selectors lists CSS selectors per field, tried in order. A trailing
// "@attr" reads that attribute instead of the element text.
type Selectors struct {
	Title         []string `yaml:"title"`
	Author        []string `yaml:"author"`
	ISBN          []string `yaml:"isbn"`
	Publisher     []string `yaml:"publisher"`
	PublishedDate []string `yaml:"published_date"`
	PageCount     []string `yaml:"page_count"`
	Rating        []string `yaml:"rating"`
	Description   []string `yaml:"description"`
	Cover         []string `yaml:"cover"`
	// Details are label/value blocks ("ISBN-13 : 978...") scanned for
	// ISBN, publisher, page count and date.
	Details []string `yaml:"details"`
}

// Site is one known domain family.
type Site struct {
	Name      string    `yaml:"name"`
	Kind      SiteKind  `yaml:"kind"`
	Browser   bool      `yaml:"browser"`
	Domains   []string  `yaml:"domains"`
	Selectors Selectors `yaml:"selectors"`
}

// Rules is the parsed site configuration.
type Rules struct {
	Sites   []Site                 `yaml:"sites"`
	Generic map[SiteKind]Selectors `yaml:"generic"`
}

// LoadRules parses a sites.yaml document.
func LoadRules(data []byte) (*Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse site rules: %w", err)
	}
	for i, s := range r.Sites {
		if s.Kind != Bookseller && s.Kind != ReviewSite {
			return nil, fmt.Errorf("site %q: unknown kind %q", s.Name, s.Kind)
		}
		if len(s.Domains) == 0 {
			return nil, fmt.Errorf("site %q: no domains", s.Name)
		}
		for j, d := range s.Domains {
			r.Sites[i].Domains[j] = strings.ToLower(strings.TrimSpace(d))
		}
	}
	return &r, nil
}

var defaultRules = sync.OnceValues(func() (*Rules, error) {
	return LoadRules(defaultSitesYAML)
})

// DefaultRules returns the embedded site rules.
func DefaultRules() *Rules {
	r, err := defaultRules()
	if err != nil {
		// the embedded file is covered by tests
		panic(err)
	}
	return r
}

// Match returns the site whose domain list covers rawURL.
func (r *Rules) Match(rawURL string) (*Site, bool) {
	host := hostOf(rawURL)
	if host == "" {
		return nil, false
	}
	for i := range r.Sites {
		for _, d := range r.Sites[i].Domains {
			if domainMatches(host, d) {
				return &r.Sites[i], true
			}
		}
	}
	return nil, false
}

// Classify reports whether rawURL points at a known bookseller or review site.
func (r *Rules) Classify(rawURL string) (SiteKind, bool) {
	s, ok := r.Match(rawURL)
	if !ok {
		return "", false
	}
	return s.Kind, true
}

// selectorsFor returns the site selectors, or the generic ones for kind.
func (r *Rules) selectorsFor(rawURL string, kind SiteKind) (Selectors, *Site) {
	if s, ok := r.Match(rawURL); ok {
		return s.Selectors, s
	}
	return r.Generic[kind], nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

func domainMatches(host, domain string) bool {
	if base, ok := strings.CutSuffix(domain, ".*"); ok {
		return strings.HasPrefix(host, base+".") || strings.Contains(host, "."+base+".")
	}
	return host == domain || strings.HasSuffix(host, "."+domain)
}
