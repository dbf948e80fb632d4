package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/kimhsiao/fieldcount/backend/internal/errors"
	"github.com/kimhsiao/fieldcount/backend/internal/uuid"
)

// maxErrorBody bounds how much of a failed response is kept for diagnostics.
const maxErrorBody = 4 << 10

// StatusError reports a non-2xx response from the Remote API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("remote returned status %d: %s", e.StatusCode, e.Body)
}

// HTTPClient implements API over JSON/HTTP.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	header     http.Header
}

// ClientOption configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(h *HTTPClient) {
		h.httpClient = c
	}
}

// WithHeader adds a header sent on every request, e.g. an auth token.
func WithHeader(key, value string) ClientOption {
	return func(h *HTTPClient) {
		h.header.Set(key, value)
	}
}

// NewHTTPClient creates a client for baseURL. A zero timeout leaves requests
// bounded only by their context.
func NewHTTPClient(baseURL string, timeout time.Duration, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		header: make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get fetches endpoint with the given query parameters.
func (c *HTTPClient) Get(ctx context.Context, endpoint string, params url.Values) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, endpoint, params, nil, "")
}

// Create POSTs payload to endpoint.
func (c *HTTPClient) Create(ctx context.Context, endpoint string, payload json.RawMessage, idempotencyKey string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, endpoint, nil, payload, idempotencyKey)
}

// Update PUTs payload to endpoint.
func (c *HTTPClient) Update(ctx context.Context, endpoint string, payload json.RawMessage, idempotencyKey string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPut, endpoint, nil, payload, idempotencyKey)
}

// Delete sends DELETE to endpoint, with payload as the body when present.
func (c *HTTPClient) Delete(ctx context.Context, endpoint string, payload json.RawMessage, idempotencyKey string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodDelete, endpoint, nil, payload, idempotencyKey)
}

func (c *HTTPClient) do(ctx context.Context, method, endpoint string, params url.Values, payload json.RawMessage, idempotencyKey string) (json.RawMessage, error) {
	target := c.baseURL + "/" + strings.TrimLeft(endpoint, "/")
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	var body io.Reader
	if len(payload) > 0 {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "invalid request", err)
	}
	for k, v := range c.header {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set(uuid.IdempotencyHeader, idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrNetwork, method+" "+endpoint+" failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, apperrors.Wrap(apperrors.ErrNetwork, method+" "+endpoint+" rejected",
			&StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))})
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrNetwork, "failed to read response body", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	if !json.Valid(data) {
		return nil, apperrors.New(apperrors.ErrNetwork, method+" "+endpoint+" returned invalid JSON")
	}
	return json.RawMessage(data), nil
}
