package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const maxErrorBody = 512

// HTTP delivers requests to a REST API under a base URL. POST goes to the
// partition endpoint, PUT and DELETE to the endpoint followed by the record id.
type HTTP struct {
	base   *url.URL
	client *http.Client
	header http.Header
}

var (
	_ Transport = (*HTTP)(nil)
	_ Pinger    = (*HTTP)(nil)
)

// HTTPOption configures an HTTP transport.
type HTTPOption func(*HTTP)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTP) { h.client = c }
}

// WithHeader adds a header to every request, e.g. an Authorization token.
func WithHeader(key, value string) HTTPOption {
	return func(h *HTTP) { h.header.Add(key, value) }
}

// NewHTTP creates a transport for baseURL. The default client times out after 30s.
func NewHTTP(baseURL string, opts ...HTTPOption) (*HTTP, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse remote URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("remote URL must be http or https, got %q", baseURL)
	}
	h := &HTTP{
		base:   u,
		client: &http.Client{Timeout: 30 * time.Second},
		header: make(http.Header),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Send implements Transport.
func (h *HTTP) Send(ctx context.Context, req Request) error {
	if !validMethod(req.Method) {
		return fmt.Errorf("unsupported method %q", req.Method)
	}
	target := h.target(req)

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	hreq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	for k, vs := range h.header {
		for _, v := range vs {
			hreq.Header.Add(k, v)
		}
	}
	if body != nil {
		hreq.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.client.Do(hreq)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Method:     req.Method,
			URL:        target,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	logrus.WithFields(logrus.Fields{
		"method": req.Method,
		"url":    target,
		"status": resp.StatusCode,
	}).Debug("Delivered request")
	return nil
}

// Ping succeeds when the server answers at all, whatever the status code.
func (h *HTTP) Ping(ctx context.Context) error {
	hreq, err := http.NewRequestWithContext(ctx, http.MethodHead, h.base.String(), nil)
	if err != nil {
		return err
	}
	resp, err := h.client.Do(hreq)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	return nil
}

func (h *HTTP) target(req Request) string {
	path := req.Path
	if req.Method != http.MethodPost && req.RecordID != "" {
		path = strings.TrimSuffix(path, "/") + "/" + url.PathEscape(req.RecordID)
	}
	return h.base.JoinPath(path).String()
}
