package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bliqhq/bliq/internal/types"
)

// maxErrorBody caps how much of an error response is kept in StatusError.
const maxErrorBody = 512

// Client is the JSON-over-HTTP plumbing shared by provider implementations.
type Client struct {
	Service   types.Service
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	Logger    *log.Logger

	// HTTPClient returns the client used for a call made with token.
	HTTPClient func(ctx context.Context, token string) *http.Client

	// Authorize adds credentials to a request. Optional when HTTPClient
	// already authenticates (oauth2 transports).
	Authorize func(req *http.Request, token string)
}

// Do sends one request and decodes a JSON response into out (if non-nil).
// The call is bounded by c.Timeout regardless of the caller's context.
func (c *Client) Do(ctx context.Context, token, method, path string, query url.Values, in, out any) error {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	op := method + " " + path

	target := strings.TrimRight(c.BaseURL, "/") + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s %s: failed to marshal request: %w", c.Service, op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("%s %s: failed to build request: %w", c.Service, op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	if c.Authorize != nil {
		c.Authorize(req, token)
	}

	hc := http.DefaultClient
	if c.HTTPClient != nil {
		hc = c.HTTPClient(ctx, token)
	}

	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		err = transportError(c.Service, op, err)
		c.logf("%s failed after %v: %v", op, time.Since(start).Round(time.Millisecond), err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		serr := &StatusError{
			Service: c.Service,
			Op:      op,
			Code:    resp.StatusCode,
			Body:    strings.TrimSpace(string(snippet)),

			RateLimited: rateLimited(resp.Header),
		}
		c.logf("%s -> %d", op, resp.StatusCode)
		return serr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctx.Err() != nil {
			return transportError(c.Service, op, ctx.Err())
		}
		return fmt.Errorf("%s %s: failed to decode response: %w", c.Service, op, err)
	}
	return nil
}

func (c *Client) logf(format string, args ...any) {
	if c.Logger != nil {
		c.Logger.Printf(format, args...)
	}
}
