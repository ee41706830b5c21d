package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	MethodGet  = http.MethodGet
	MethodPost = http.MethodPost
)

// RequestOptions describes one outbound request.
type RequestOptions struct {
	Method  string
	URL     string
	Headers map[string]string
	Query   map[string][]string
	Body    interface{}
}

// Client is a JSON-first wrapper around net/http for outbound calls.
type Client struct {
	hc *http.Client
}

// ClientOption configures the underlying net/http client.
type ClientOption func(*http.Client)

// WithTimeout bounds the whole request, dial to body close.
func WithTimeout(d time.Duration) ClientOption {
	return func(hc *http.Client) { hc.Timeout = d }
}

// NewClient creates a client with a 30s default timeout.
func NewClient(opts ...ClientOption) *Client {
	hc := &http.Client{Timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(hc)
	}
	return &Client{hc: hc}
}

// SendRequest performs the request and returns the raw response. The caller
// owns the body.
func (c *Client) SendRequest(ctx context.Context, opts *RequestOptions) (*http.Response, error) {
	req, err := newRequest(ctx, opts)
	if err != nil {
		return nil, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", opts.Method, opts.URL, err)
	}
	return resp, nil
}

// SendAndParse performs the request, requires a 2xx status and decodes the
// JSON body into dest. A nil dest discards the body, a *[]byte dest receives
// it raw.
func (c *Client) SendAndParse(ctx context.Context, opts *RequestOptions, dest interface{}) error {
	resp, err := c.SendRequest(ctx, opts)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: status %d: %s",
			opts.Method, opts.URL, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	switch v := dest.(type) {
	case nil:
		return nil
	case *[]byte:
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		*v = raw
		return nil
	default:
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
}

func newRequest(ctx context.Context, opts *RequestOptions) (*http.Request, error) {
	body, contentType, err := encodeBody(opts.Body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, opts.Method, opts.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	if len(opts.Query) > 0 {
		q := req.URL.Query()
		for key, values := range opts.Query {
			for _, value := range values {
				q.Add(key, value)
			}
		}
		req.URL.RawQuery = q.Encode()
	}

	for key, value := range opts.Headers {
		req.Header.Set(key, value)
	}
	if contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}

	return req, nil
}

// encodeBody turns the body field into a reader. Raw bytes, strings and
// readers pass through untouched, anything else is marshalled as JSON.
func encodeBody(body interface{}) (io.Reader, string, error) {
	switch v := body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return bytes.NewReader(v), "", nil
	case string:
		return strings.NewReader(v), "", nil
	case io.Reader:
		return v, "", nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, "", fmt.Errorf("encode body: %w", err)
		}
		return bytes.NewReader(raw), "application/json", nil
	}
}
