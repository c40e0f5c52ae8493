// Package client talks to a deckexplain server over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kalambet/deckexplain/internal/slides"
	"github.com/kalambet/deckexplain/internal/status"
)

const defaultTimeout = 30 * time.Second

var (
	// ErrNotFound is returned when the server answers 404.
	ErrNotFound = errors.New("not found")
	// ErrUnsupportedFile is returned by Upload before contacting the server
	// when the path is not a .pptx or .pdf deck.
	ErrUnsupportedFile = errors.New("unsupported file: expected a .pptx or .pdf deck")
)

// StatusError is returned for any other non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Body)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// Upload sends the deck at path, optionally attributed to email, and returns
// the upload uid.
func (c *Client) Upload(ctx context.Context, path, email string) (string, error) {
	if _, ok := slides.FormatOf(path); !ok {
		return "", ErrUnsupportedFile
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening deck: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return "", fmt.Errorf("reading deck: %w", err)
	}
	if email != "" {
		if err := mw.WriteField("email", email); err != nil {
			return "", err
		}
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.do(req)
	if err != nil {
		return "", err
	}

	var out struct {
		UID string `json:"uid"`
	}
	if err := decodeJSON(resp, &out); err != nil {
		return "", err
	}
	if out.UID == "" {
		return "", fmt.Errorf("server response has no uid")
	}
	return out.UID, nil
}

// Status fetches the report for uid. An unknown uid is not an error; the
// report's status is status.NotFound.
func (c *Client) Status(ctx context.Context, uid string) (status.Report, error) {
	return c.getReport(ctx, "/status/"+url.PathEscape(uid))
}

// LatestUpload fetches the report for the most recent upload of filename by email.
func (c *Client) LatestUpload(ctx context.Context, filename, email string) (status.Report, error) {
	q := url.Values{}
	q.Set("filename", filename)
	q.Set("email", email)
	return c.getReport(ctx, "/get_latest_upload?"+q.Encode())
}

// WaitDone polls Status every interval until the upload is done or failed,
// or ctx ends. onPoll, when non-nil, sees every intermediate report.
func (c *Client) WaitDone(ctx context.Context, uid string, interval time.Duration, onPoll func(status.Report)) (status.Report, error) {
	for {
		rep, err := c.Status(ctx, uid)
		if err != nil {
			return status.Report{}, err
		}
		if onPoll != nil {
			onPoll(rep)
		}
		if rep.Finished() {
			return rep, nil
		}
		if rep.IsNotFound() {
			return rep, ErrNotFound
		}

		select {
		case <-ctx.Done():
			return rep, ctx.Err()
		case <-time.After(interval):
		}
	}
}

// Health reports whether the server answers its health check.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	var out map[string]string
	return decodeJSON(resp, &out)
}

func (c *Client) getReport(ctx context.Context, path string) (status.Report, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return status.Report{}, err
	}
	resp, err := c.do(req)
	if err != nil {
		return status.Report{}, err
	}
	var rep status.Report
	if err := decodeJSON(resp, &rep); err != nil {
		return status.Report{}, err
	}
	return rep, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server not reachable at %s: %w", c.baseURL, err)
	}
	return resp, nil
}

func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		if err != nil {
			return &StatusError{Code: resp.StatusCode, Body: fmt.Sprintf("(failed to read body: %v)", err)}
		}
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
