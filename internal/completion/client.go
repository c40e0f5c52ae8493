// Package completion is a client for OpenAI-compatible text completion APIs.
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultTimeout = 60 * time.Second
	maxErrorBody   = 4 << 10
)

// Client sends completion requests. It makes exactly one attempt per call;
// retry policy belongs to the caller.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the OpenAI API with the given key.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// NewClientWithBaseURL creates a client pointing at a custom base URL (for
// testing or self-hosted gateways).
func NewClientWithBaseURL(apiKey, baseURL string) *Client {
	c := NewClient(apiKey)
	if baseURL != "" {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
	return c
}

// SetTimeout bounds each request. Zero disables the client-side timeout.
func (c *Client) SetTimeout(d time.Duration) {
	c.httpClient.Timeout = d
}

// Complete sends one completion request.
func (c *Client) Complete(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/completions", bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return Response{}, &rateLimitError{status: resp.StatusCode, message: readErrorMessage(resp.Body)}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Response{}, &authError{status: resp.StatusCode, message: readErrorMessage(resp.Body)}
	case resp.StatusCode != http.StatusOK:
		return Response{}, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, readErrorMessage(resp.Body))
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, fmt.Errorf("decoding response: %w", err)
	}
	return out, nil
}

func readErrorMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var e apiError
	if err := json.Unmarshal(raw, &e); err == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return strings.TrimSpace(string(raw))
}

// rateLimitError is returned on HTTP 429.
type rateLimitError struct {
	status  int
	message string
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("rate limited (HTTP %d): %s", e.status, e.message)
}

// authError is returned on HTTP 401 and 403.
type authError struct {
	status  int
	message string
}

func (e *authError) Error() string {
	return fmt.Sprintf("authentication failed (HTTP %d): %s", e.status, e.message)
}

func IsRateLimit(err error) bool {
	var rl *rateLimitError
	return errors.As(err, &rl)
}

func IsAuth(err error) bool {
	var ae *authError
	return errors.As(err, &ae)
}

// IsTimeout reports whether err is a request deadline, either the client's
// own timeout or an expired context.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
