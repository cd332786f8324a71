// Package exchange issues requests against identity-provider and
// game-service endpoints and normalizes every response into an Outcome,
// so callers branch on semantics (ok / not found / HTTP error) instead
// of raw status codes.
package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultTimeout bounds a single provider request. The callback wait
	// window is a separate, much longer timer.
	DefaultTimeout = 30 * time.Second

	previewLen = 500
)

// ErrTransport wraps network-level failures (DNS, TLS, refused connection)
// that happened before any HTTP response was received.
var ErrTransport = errors.New("transport error")

// Outcome is the normalized result of one exchange request.
type Outcome struct {
	Status   int
	NotFound bool
	// Body holds the decoded JSON payload when the response parsed as
	// JSON, nil otherwise. Callers must check before assuming structure.
	Body json.RawMessage
	// Raw is the response body as received, kept when JSON decoding
	// fails or for diagnostics.
	Raw []byte
}

// OK reports whether the request succeeded (status below 400).
func (o *Outcome) OK() bool { return o.Status < 400 }

// Decode unmarshals the JSON body into v. It fails when the response was
// not JSON.
func (o *Outcome) Decode(v any) error {
	if o.Body == nil {
		return fmt.Errorf("response is not JSON (status %d)", o.Status)
	}
	return json.Unmarshal(o.Body, v)
}

// HTTPError describes a response with a failing status. 404 is reported
// through Outcome.NotFound instead so callers can give it entitlement
// semantics.
type HTTPError struct {
	Status int
	Body   []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d", e.Status)
}

// Client performs the actual requests. It never retries; retry policy
// belongs to the caller.
type Client struct {
	http   *http.Client
	logger zerolog.Logger
}

// New creates an exchange client with a per-request timeout.
func New(timeout time.Duration, logger zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// PostForm sends an application/x-www-form-urlencoded POST.
func (c *Client) PostForm(ctx context.Context, endpoint string, form url.Values) (*Outcome, error) {
	return c.do(ctx, http.MethodPost, endpoint, map[string]string{
		"Content-Type": "application/x-www-form-urlencoded",
	}, strings.NewReader(form.Encode()))
}

// PostJSON marshals payload and sends an application/json POST.
func (c *Client) PostJSON(ctx context.Context, endpoint string, payload any) (*Outcome, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	return c.do(ctx, http.MethodPost, endpoint, map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
	}, bytes.NewReader(body))
}

// Get fetches a resource with no credentials, e.g. a public skin
// texture. The raw body is in Outcome.Raw.
func (c *Client) Get(ctx context.Context, endpoint string) (*Outcome, error) {
	return c.do(ctx, http.MethodGet, endpoint, nil, nil)
}

// GetBearer sends a GET with an Authorization: Bearer header.
func (c *Client) GetBearer(ctx context.Context, endpoint, token string) (*Outcome, error) {
	return c.do(ctx, http.MethodGet, endpoint, map[string]string{
		"Authorization": "Bearer " + token,
		"Accept":        "application/json",
	}, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, headers map[string]string, body io.Reader) (*Outcome, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug().Str("method", method).Str("url", endpoint).Err(err).Msg("exchange request failed")
		return nil, fmt.Errorf("%w: %s %s: %v", ErrTransport, method, endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrTransport, err)
	}

	c.logger.Debug().
		Str("method", method).
		Str("url", endpoint).
		Int("status", resp.StatusCode).
		Str("preview", preview(raw)).
		Msg("exchange response")

	out := &Outcome{Status: resp.StatusCode, Raw: raw}
	if json.Valid(raw) {
		out.Body = json.RawMessage(raw)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		out.NotFound = true
		return out, nil
	case resp.StatusCode >= 400:
		return out, &HTTPError{Status: resp.StatusCode, Body: raw}
	}
	return out, nil
}

func preview(b []byte) string {
	if len(b) > previewLen {
		b = b[:previewLen]
	}
	return string(b)
}
