// Package httpx is the thin HTTP boundary used for the OAuth token
// endpoints and the Search Console API. It classifies transport
// failures into a small taxonomy (timeout, network failure, non-2xx
// status) so callers can report named failures instead of opaque errors.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrTimeout means the request exceeded its deadline.
	ErrTimeout = errors.New("http request timed out")
	// ErrNetwork covers connection failures, DNS errors and the like.
	ErrNetwork = errors.New("http request failed")
)

// StatusError is returned for responses outside the 2xx range. Body
// holds the parsed JSON error document when the server sent one.
type StatusError struct {
	StatusCode int
	Body       map[string]any
	Raw        []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, truncate(e.Raw, 200))
}

// OAuthCode extracts the RFC 6749 "error" code from the response body,
// if present. Token endpoints report failures this way.
func (e *StatusError) OAuthCode() string {
	code, _ := e.Body["error"].(string)
	return code
}

// OAuthDescription extracts the optional "error_description" field.
func (e *StatusError) OAuthDescription() string {
	desc, _ := e.Body["error_description"].(string)
	return desc
}

// FormPoster is the collaborator the connector exchanges authorization
// codes and refresh tokens through.
type FormPoster interface {
	PostForm(ctx context.Context, endpoint string, fields url.Values) (map[string]any, error)
}

// Client implements FormPoster plus bearer-authenticated JSON calls on
// top of net/http. The configured timeout is an upper bound; callers
// shorten it per request through their context.
type Client struct {
	http *http.Client
}

func NewClient(timeout time.Duration) *Client {
	return &Client{http: &http.Client{Timeout: timeout}}
}

// PostForm sends an application/x-www-form-urlencoded POST and returns
// the parsed JSON response body.
func (c *Client) PostForm(ctx context.Context, endpoint string, fields url.Values) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(fields.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

// GetJSON sends a bearer-authenticated GET and returns the parsed JSON
// response body.
func (c *Client) GetJSON(ctx context.Context, endpoint, bearerToken string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	req.Header.Set("Authorization", "Bearer "+bearerToken)
	return c.do(req)
}

// PostJSON sends a bearer-authenticated JSON POST and returns the
// parsed JSON response body.
func (c *Client) PostJSON(ctx context.Context, endpoint, bearerToken string, body any) (map[string]any, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	req.Header.Set("Authorization", "Bearer "+bearerToken)
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) (map[string]any, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(err)
	}

	var parsed map[string]any
	if len(raw) > 0 {
		// A non-JSON body is not fatal here; status handling below
		// decides whether the call failed.
		_ = json.Unmarshal(raw, &parsed)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: parsed, Raw: raw}
	}
	if parsed == nil {
		parsed = map[string]any{}
	}
	return parsed, nil
}

func classify(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrNetwork, err)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
