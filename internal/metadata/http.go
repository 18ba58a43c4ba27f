package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/lepinkainen/librarian/internal/errors"
	"github.com/lepinkainen/librarian/internal/ratelimit"
)

const (
	defaultMaxAttempts = 3
	defaultTimeout     = 10 * time.Second
)

// HTTPDoer is an interface for making HTTP requests.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// client is the HTTP plumbing shared by every source.
type client struct {
	name          string
	baseURL       string
	httpClient    HTTPDoer
	rateLimiter   *ratelimit.Limiter
	retryAttempts int
	useCache      bool
	sleep         func(time.Duration)
}

func newClient(name, baseURL string, ratePerSecond int, opts []Option) *client {
	c := &client{
		name:          name,
		baseURL:       baseURL,
		httpClient:    &http.Client{Timeout: defaultTimeout},
		rateLimiter:   ratelimit.New(name, ratePerSecond),
		retryAttempts: defaultMaxAttempts,
		useCache:      true,
		sleep:         time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Option is a functional option for configuring a source.
type Option func(*client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h HTTPDoer) Option {
	return func(c *client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithBaseURL points the source at a different API root.
func WithBaseURL(base string) Option {
	return func(c *client) {
		if base != "" {
			c.baseURL = strings.TrimSuffix(base, "/")
		}
	}
}

// WithRetryAttempts sets the number of attempts for transient failures.
func WithRetryAttempts(attempts int) Option {
	return func(c *client) {
		if attempts > 0 {
			c.retryAttempts = attempts
		}
	}
}

// WithRateLimiter replaces the default limiter. Nil disables limiting.
func WithRateLimiter(limiter *ratelimit.Limiter) Option {
	return func(c *client) {
		c.rateLimiter = limiter
	}
}

// WithCache toggles the SQLite response cache.
func WithCache(enabled bool) Option {
	return func(c *client) {
		c.useCache = enabled
	}
}

// getJSON issues a GET and decodes the body into target. It returns
// found=false for 404 responses.
func (c *client) getJSON(ctx context.Context, endpoint string, header http.Header, target any) (bool, error) {
	var lastErr error
	for attempt := 1; attempt <= c.retryAttempts; attempt++ {
		found, err := c.doJSONRequest(ctx, endpoint, header, target)
		if err == nil {
			return found, nil
		}
		lastErr = err
		if !isRetryable(err) || attempt == c.retryAttempts {
			break
		}
		c.sleep(backoffDelay(attempt))
	}
	return false, lastErr
}

func (c *client) doJSONRequest(ctx context.Context, endpoint string, header http.Header, target any) (bool, error) {
	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return false, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("creating request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, apperrors.WrapExternalServiceError(c.name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return false, apperrors.NewRateLimitErrorWithRetry(c.name+": rate limited", retryAfter(resp.Header.Get("Retry-After")))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, apperrors.NewExternalServiceError(c.name, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return false, apperrors.WrapExternalServiceError(c.name, fmt.Errorf("decoding response: %w", err))
	}
	return true, nil
}

func isRetryable(err error) bool {
	var ext *apperrors.ExternalServiceError
	if errors.As(err, &ext) && ext.StatusCode >= 500 {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return true
		}
		if strings.Contains(urlErr.Error(), "connection") {
			return true
		}
	}
	return false
}

func backoffDelay(attempt int) time.Duration {
	// exponential backoff capped at 10 seconds
	delay := time.Duration(1<<uint(attempt-1)) * time.Second
	if delay > 10*time.Second {
		return 10 * time.Second
	}
	return delay
}

func retryAfter(v string) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// cacheKey lowercases and collapses whitespace so equivalent queries share
// an entry.
func cacheKey(parts ...string) string {
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		cleaned = append(cleaned, strings.Join(strings.Fields(strings.ToLower(p)), " "))
	}
	return strings.Join(cleaned, "|")
}
