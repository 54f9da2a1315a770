package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	HeaderAccept      = "Accept"
	HeaderContentType = "Content-Type"
	HeaderDeprecation = "X-Deprecation"

	MediaJSON = "application/json"
	MediaForm = "application/x-www-form-urlencoded; charset=UTF-8"
)

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Reason     string
	Header     http.Header
	Body       []byte
	URL        string
}

// Client talks to one or more PuppetDB servers. Requests go to the first
// server that accepts a connection; HTTP error statuses do not fail over.
// Client is safe for concurrent use.
type Client struct {
	servers []string
	client  *http.Client
	logger  *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.client.Timeout = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func New(servers []string, opts ...Option) (*Client, error) {
	if len(servers) == 0 {
		return nil, errors.New("transport: at least one server URL is required")
	}
	c := &Client{
		client: &http.Client{Timeout: 30 * time.Second},
		logger: zap.NewNop(),
	}
	for _, s := range servers {
		c.servers = append(c.servers, strings.TrimRight(s, "/"))
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Servers returns the configured base URLs in failover order.
func (c *Client) Servers() []string {
	return append([]string(nil), c.servers...)
}

// Get issues a query request. path must already be percent-encoded.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, http.MethodGet, path, nil, http.Header{
		HeaderAccept:      {MediaJSON},
		HeaderContentType: {MediaForm},
	})
}

// Post sends body as JSON. Extra headers are added to every attempt.
func (c *Client) Post(ctx context.Context, path string, body []byte, header http.Header) (*Response, error) {
	h := http.Header{
		HeaderAccept:      {MediaJSON},
		HeaderContentType: {MediaJSON},
	}
	for k, v := range header {
		h[http.CanonicalHeaderKey(k)] = v
	}
	return c.do(ctx, http.MethodPost, path, body, h)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, header http.Header) (*Response, error) {
	var errs []error
	for _, server := range c.servers {
		resp, err := c.once(ctx, method, server+path, body, header)
		if err == nil {
			return resp, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
		c.logger.Debug("server unreachable, trying next",
			zap.String("server", server), zap.Error(err))
	}
	return nil, &ConnectionError{Method: method, Path: path, Err: errors.Join(errs...)}
}

func (c *Client) once(ctx context.Context, method, url string, body []byte, header http.Header) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header = header.Clone()

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Reason:     reasonPhrase(resp),
		Header:     resp.Header,
		Body:       data,
		URL:        url,
	}, nil
}

// reasonPhrase extracts "Not Found" from a status line like "404 Not Found".
func reasonPhrase(resp *http.Response) string {
	if _, reason, ok := strings.Cut(resp.Status, " "); ok && reason != "" {
		return reason
	}
	return http.StatusText(resp.StatusCode)
}

// ConnectionError means no server produced an HTTP response.
type ConnectionError struct {
	Method string
	Path   string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Method, e.Path, friendlyError(e.Err))
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// friendlyError converts common network errors to readable messages.
func friendlyError(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection refused"):
		return "connection refused (is PuppetDB running?)"
	case strings.Contains(msg, "no such host"):
		return "host not found (check server_urls)"
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return "connection timed out (" + msg + ")"
	case strings.Contains(msg, "reset by peer"):
		return "connection reset by server"
	}
	return msg
}
