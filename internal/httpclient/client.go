// Package httpclient provides the outbound HTTP client shared by the feed
// reader, the article extractor and the image downloader.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Client wraps http.Client with a fixed User-Agent and a limiter that
// spaces requests so a run never hammers a single blog.
type Client struct {
	client    *http.Client
	userAgent string
	limiter   *rate.Limiter
}

// Options configures New.
type Options struct {
	Timeout   time.Duration
	UserAgent string
	// MinGap is the minimum spacing between requests. Zero disables limiting.
	MinGap time.Duration
}

// New creates a Client.
func New(opts Options) *Client {
	limit := rate.Inf
	if opts.MinGap > 0 {
		limit = rate.Every(opts.MinGap)
	}
	return &Client{
		client:    &http.Client{Timeout: opts.Timeout},
		userAgent: opts.UserAgent,
		limiter:   rate.NewLimiter(limit, 1),
	}
}

// Do waits for the limiter, stamps the User-Agent unless the caller set
// one, and sends the request.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	if c.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	return c.client.Do(req)
}

// Get issues a GET and rejects non-2xx responses. The caller closes the body.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &StatusError{URL: url, Code: resp.StatusCode}
	}
	return resp, nil
}

// GetBytes fetches url and returns at most limit bytes of the body.
func (c *Client) GetBytes(ctx context.Context, url string, limit int64) ([]byte, string, error) {
	resp, err := c.Get(ctx, url)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, "", fmt.Errorf("read body: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// StatusError reports a non-success HTTP status.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d for %s", e.Code, e.URL)
}
