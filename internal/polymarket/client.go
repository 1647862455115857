package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// Default endpoints and limits.
const (
	DataAPIBaseURL  = "https://data-api.polymarket.com"
	GammaAPIBaseURL = "https://gamma-api.polymarket.com"

	DefaultTimeout = 10 * time.Second
	DefaultRPS     = 5.0
	DefaultBurst   = 10
)

// client is the shared HTTP plumbing of the API clients.
type client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// Option configures an API client.
type Option func(*client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *client) {
		c.http.Timeout = d
	}
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) {
		c.http = hc
	}
}

// WithRateLimit caps outgoing requests per second. A non-positive rps
// disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func newClient(baseURL string, opts []Option) client {
	c := client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: DefaultTimeout},
		limiter: rate.NewLimiter(rate.Limit(DefaultRPS), DefaultBurst),
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// getJSON issues a rate-limited GET and decodes a 200 response into out.
func (c *client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request failed: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%s: %w", path, ErrRateLimited)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return &StatusError{Endpoint: path, Code: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s failed: %w", path, err)
	}
	return nil
}

// CloseIdleConnections releases pooled connections.
func (c *client) CloseIdleConnections() {
	c.http.CloseIdleConnections()
}
