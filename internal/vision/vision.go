// Package vision queries Google Cloud Vision for web entities, best-guess
// labels and printed text on a cover photo.
package vision

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/lepinkainen/librarian/internal/cache"
	apperrors "github.com/lepinkainen/librarian/internal/errors"
	"github.com/lepinkainen/librarian/internal/ratelimit"
)

const (
	defaultEndpoint = "https://vision.googleapis.com/v1/images:annotate"
	serviceName     = "Google Vision"
	maxWebResults   = 10
)

// ErrNoAPIKey is returned by Detect when the client has no key.
var ErrNoAPIKey = errors.New("google vision API key not configured")

// Entity is one web entity Vision associates with the image.
type Entity struct {
	Description string  `json:"description"`
	Score       float64 `json:"score"`
}

// Detection is the subset of a Vision response the recognizer uses.
type Detection struct {
	BestGuessLabel string   `json:"best_guess_label"`
	Entities       []Entity `json:"entities"`
	RawText        string   `json:"raw_text"`
	MatchingPages  []string `json:"matching_pages,omitempty"`
}

// HTTPDoer is an interface for making HTTP requests.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client calls images:annotate with WEB_DETECTION and TEXT_DETECTION.
type Client struct {
	apiKey      string
	endpoint    string
	httpClient  HTTPDoer
	rateLimiter *ratelimit.Limiter
	useCache    bool
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoint overrides the annotate URL.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		if endpoint != "" {
			c.endpoint = endpoint
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h HTTPDoer) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithRateLimiter replaces the default limiter. Nil disables limiting.
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(c *Client) {
		c.rateLimiter = l
	}
}

// WithCache toggles caching responses by image hash.
func WithCache(enabled bool) Option {
	return func(c *Client) {
		c.useCache = enabled
	}
}

// NewClient creates a Vision client.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:      apiKey,
		endpoint:    defaultEndpoint,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		rateLimiter: ratelimit.New("Vision", 2),
		useCache:    true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled reports whether the client has an API key.
func (c *Client) Enabled() bool {
	return c.apiKey != ""
}

// Detect annotates the image. It returns nil, nil when Vision found no web
// matches at all.
func (c *Client) Detect(ctx context.Context, imagePath string) (*Detection, error) {
	if !c.Enabled() {
		return nil, ErrNoAPIKey
	}

	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}

	fetch := func(ctx context.Context) (*Detection, error) {
		return c.annotate(ctx, data)
	}
	if !c.useCache {
		return fetch(ctx)
	}

	sum := sha256.Sum256(data)
	det, _, err := cache.GetOrFetchWithTTL(ctx, cache.VisionTable, hex.EncodeToString(sum[:]), fetch,
		cache.SelectNegativeCacheTTL(func(d *Detection) bool { return d == nil }))
	return det, err
}

type annotateRequest struct {
	Requests []struct {
		Image struct {
			Content string `json:"content"`
		} `json:"image"`
		Features []feature `json:"features"`
	} `json:"requests"`
}

type feature struct {
	Type       string `json:"type"`
	MaxResults int    `json:"maxResults,omitempty"`
}

type annotateResponse struct {
	Responses []struct {
		WebDetection *struct {
			WebEntities []struct {
				Description string  `json:"description"`
				Score       float64 `json:"score"`
			} `json:"webEntities"`
			BestGuessLabels []struct {
				Label string `json:"label"`
			} `json:"bestGuessLabels"`
			PagesWithMatchingImages []struct {
				URL string `json:"url"`
			} `json:"pagesWithMatchingImages"`
		} `json:"webDetection"`
		TextAnnotations []struct {
			Description string `json:"description"`
		} `json:"textAnnotations"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	} `json:"responses"`
}

func (c *Client) annotate(ctx context.Context, image []byte) (*Detection, error) {
	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var body annotateRequest
	body.Requests = make([]struct {
		Image struct {
			Content string `json:"content"`
		} `json:"image"`
		Features []feature `json:"features"`
	}, 1)
	body.Requests[0].Image.Content = base64.StdEncoding.EncodeToString(image)
	body.Requests[0].Features = []feature{
		{Type: "WEB_DETECTION", MaxResults: maxWebResults},
		{Type: "TEXT_DETECTION"},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding vision request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"?key="+c.apiKey, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating vision request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.WrapExternalServiceError(serviceName, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, apperrors.NewRateLimitError(serviceName + ": quota exceeded")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, apperrors.NewExternalServiceError(serviceName, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var parsed annotateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, apperrors.WrapExternalServiceError(serviceName, fmt.Errorf("decoding response: %w", err))
	}
	if len(parsed.Responses) == 0 {
		return nil, nil
	}

	r := parsed.Responses[0]
	if r.Error != nil {
		return nil, apperrors.NewExternalServiceError(serviceName, r.Error.Code, r.Error.Message)
	}
	if r.WebDetection == nil {
		return nil, nil
	}

	det := &Detection{}
	if len(r.WebDetection.BestGuessLabels) > 0 {
		det.BestGuessLabel = r.WebDetection.BestGuessLabels[0].Label
	}
	for _, e := range r.WebDetection.WebEntities {
		if e.Description != "" {
			det.Entities = append(det.Entities, Entity{Description: e.Description, Score: e.Score})
		}
	}
	for _, p := range r.WebDetection.PagesWithMatchingImages {
		det.MatchingPages = append(det.MatchingPages, p.URL)
	}
	if len(r.TextAnnotations) > 0 {
		// the first annotation holds the full text block
		det.RawText = r.TextAnnotations[0].Description
	}
	return det, nil
}

// Keywords returns the descriptions of entities scoring above minScore, in
// response order.
func (d *Detection) Keywords(minScore float64) []string {
	if d == nil {
		return nil
	}
	var out []string
	for _, e := range d.Entities {
		if e.Score > minScore {
			out = append(out, e.Description)
		}
	}
	return out
}
