// Package transport is the shared JSON-over-HTTP leaf used by the remote
// clients. It attaches credentials, rate-limits requests and maps HTTP
// outcomes onto the domain error taxonomy.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/aristath/botstudio/internal/auth"
	"github.com/aristath/botstudio/internal/domain"
)

const (
	defaultTimeout = 30 * time.Second
	maxDetailBytes = 512
)

// Options configures a transport client
type Options struct {
	Timeout   time.Duration // Per-request bound, defaults to 30s
	RateLimit float64       // Requests per second, 0 = unlimited
	Gate      auth.Gate     // Optional credential gate
}

// Client performs JSON requests against one base URL
type Client struct {
	baseURL    string
	httpClient *http.Client
	gate       auth.Gate
	limiter    *rate.Limiter
	log        zerolog.Logger
}

// New creates a transport client
func New(baseURL string, opts Options, log zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		gate:       opts.Gate,
		limiter:    rate.NewLimiter(limit, 1),
		log:        log,
	}
}

// BaseURL returns the configured base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do sends in (if non-nil) as JSON and decodes the response into out (if
// non-nil). op names the remote operation in errors and logs.
func (c *Client) Do(ctx context.Context, op, method, path string, in, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &domain.TransportError{Op: op, Err: err}
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: failed to marshal request: %w", op, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.gate != nil {
		if err := c.gate.Attach(req); err != nil {
			return fmt.Errorf("%s: failed to attach credentials: %w", op, err)
		}
	}

	c.log.Debug().Str("op", op).Str("method", method).Str("path", path).Msg("Sending request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if err := statusError(op, resp); err != nil {
		c.log.Debug().Err(err).Str("op", op).Int("status", resp.StatusCode).Msg("Request failed")
		return err
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if err == io.EOF {
			return nil
		}
		return &domain.TransportError{Op: op, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

// statusError maps a non-2xx response onto the error taxonomy
func statusError(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &domain.AuthExpiredError{Op: op, StatusCode: resp.StatusCode}
	case http.StatusNotFound:
		return &domain.NotFoundError{Op: op, Resource: resp.Request.URL.Path}
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxDetailBytes))
	return &domain.RemoteFailureError{Op: op, StatusCode: resp.StatusCode, Detail: ExtractDetail(raw)}
}

// ExtractDetail pulls a human-readable message out of an error body.
// It understands {"detail": "..."}, {"error": "..."} and {"message": "..."}
// and falls back to the trimmed raw text.
func ExtractDetail(raw []byte) string {
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err == nil {
		for _, key := range []string{"detail", "error", "message"} {
			if s, ok := fields[key].(string); ok && s != "" {
				return s
			}
		}
		return ""
	}
	return strings.TrimSpace(string(raw))
}
