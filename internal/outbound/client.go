// Package outbound is the shared HTTP client for external collaborators:
// postcode lookup, CRM, chat and notification webhooks.
package outbound

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

	"github.com/wolfman30/booking-reconciler/pkg/logging"
)

const defaultUserAgent = "booking-reconciler/1.0"

// Config controls how a Client behaves.
type Config struct {
	// Name labels log lines and errors ("crm", "zip2location", ...).
	Name       string
	BaseURL    string
	Header     http.Header
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	HTTPClient *http.Client
	Logger     *logging.Logger
	UserAgent  string
}

// Client sends requests with per-call timeouts and exponential backoff on
// transport errors, 429 and 5xx.
type Client struct {
	name       string
	baseURL    string
	header     http.Header
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *logging.Logger
	userAgent  string
}

// New creates a configured Client with sane defaults.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	name := cfg.Name
	if name == "" {
		name = "outbound"
	}
	return &Client{
		name:       name,
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		header:     cfg.Header.Clone(),
		httpClient: httpClient,
		maxRetries: maxRetries,
		backoff:    backoff,
		logger:     logger,
		userAgent:  userAgent,
	}
}

// Request describes one call. A non-nil JSON value is marshalled as the body.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	JSON   any
}

// Response is the final response after retries.
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Decode unmarshals the body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("outbound: decode response: %w", err)
	}
	return nil
}

// StatusError is returned by Expect for non-2xx responses.
type StatusError struct {
	Client     string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("%s: http status %d: %s", e.Client, e.StatusCode, body)
}

// Do sends req, retrying transport failures and retryable statuses. Any
// final response is returned, whatever its status; err is set only when no
// response was obtained.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	var body []byte
	if req.JSON != nil {
		var err error
		body, err = json.Marshal(req.JSON)
		if err != nil {
			return nil, fmt.Errorf("%s: marshal body: %w", c.name, err)
		}
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	fullURL := c.buildURL(req.Path, req.Query)

	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}
		httpReq, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("%s: build request: %w", c.name, err)
		}
		httpReq.Header.Set("User-Agent", c.userAgent)
		if body != nil {
			httpReq.Header.Set("Content-Type", "application/json")
		}
		copyHeader(httpReq.Header, c.header)
		copyHeader(httpReq.Header, req.Header)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !shouldRetry(0, err) || attempt >= c.maxRetries {
				return nil, fmt.Errorf("%s: http error: %w", c.name, err)
			}
			c.logRetry(req.Path, attempt, 0, err)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}
		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("%s: read response: %w", c.name, readErr)
		}
		if attempt < c.maxRetries && shouldRetry(resp.StatusCode, nil) {
			c.logRetry(req.Path, attempt, resp.StatusCode, nil)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}
		return &Response{StatusCode: resp.StatusCode, Body: data}, nil
	}
}

// Expect is Do plus a *StatusError for non-2xx responses.
func (c *Client) Expect(ctx context.Context, req Request) (*Response, error) {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return resp, &StatusError{Client: c.name, StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}
	return resp, nil
}

func (c *Client) buildURL(path string, query url.Values) string {
	full := c.baseURL
	if path != "" {
		full += "/" + strings.TrimLeft(path, "/")
	}
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(full, "?") {
			sep = "&"
		}
		full += sep + query.Encode()
	}
	return full
}

func copyHeader(dst, src http.Header) {
	for k, vs := range src {
		dst.Del(k)
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

func (c *Client) sleep(ctx context.Context, attempt int) error {
	delay := c.backoff * time.Duration(1<<attempt)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) logRetry(path string, attempt int, status int, err error) {
	c.logger.Warn("outbound retry",
		"client", c.name,
		"path", path,
		"attempt", attempt+1,
		"status", status,
		"error", err,
	)
}

func shouldRetry(status int, err error) bool {
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return true
		}
		return !errors.Is(err, context.Canceled)
	}
	if status == http.StatusTooManyRequests {
		return true
	}
	return status >= 500 && status <= 599
}
