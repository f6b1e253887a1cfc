// Package client talks to the remote lookup endpoint. Every call is a single
// attempt carrying the analyst's "email:key" credential.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// DefaultBaseURL is used until the analyst configures an endpoint.
const DefaultBaseURL = "http://fairlady:8081/"

var (
	// ErrUnexpectedStatus is matched by every *StatusError.
	ErrUnexpectedStatus = errors.New("unexpected HTTP status")
	// ErrNotConfigured is returned when the endpoint or credential is missing.
	ErrNotConfigured = errors.New("user or API URL not configured")
)

// StatusError reports a non-2xx response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP error! Status: %d", e.Status)
	}
	return fmt.Sprintf("HTTP error! Status: %d - %s", e.Status, e.Body)
}

func (e *StatusError) Is(target error) bool { return target == ErrUnexpectedStatus }

// Options configures a Client.
type Options struct {
	BaseURL  string
	Email    string
	Key      string
	Timeout  time.Duration
	Insecure bool
	// HTTPClient overrides the transport built from Timeout and Insecure.
	HTTPClient *http.Client
}

// Client is a thin wrapper over the remote endpoint.
type Client struct {
	baseURL    string
	email      string
	key        string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPClient builds the transport shared by clients of one session.
func NewHTTPClient(timeout time.Duration, insecure bool) *http.Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 5,
		IdleConnTimeout:     30 * time.Second,
	}
	if insecure {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &http.Client{Timeout: timeout, Transport: tr}
}

// New creates a Client. It does not contact the endpoint.
func New(opts Options, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = NewHTTPClient(opts.Timeout, opts.Insecure)
	}
	return &Client{
		baseURL:    opts.BaseURL,
		email:      opts.Email,
		key:        opts.Key,
		httpClient: hc,
		logger:     logger.Named("client"),
	}
}

// Configured reports whether the client has both an endpoint and a key.
func (c *Client) Configured() bool {
	return c.baseURL != "" && c.key != ""
}

func (c *Client) credential() string {
	return c.email + ":" + c.key
}

func (c *Client) endpoint(elem ...string) (string, error) {
	u, err := url.JoinPath(c.baseURL, elem...)
	if err != nil {
		return "", fmt.Errorf("invalid API URL %q: %w", c.baseURL, err)
	}
	return u, nil
}

// makeRequest sends body (JSON-encoded unless it is an io.Reader) and returns
// the response payload of a 2xx reply.
func (c *Client) makeRequest(ctx context.Context, method, target string, body interface{}, headers map[string]string) ([]byte, error) {
	var reqBody io.Reader
	contentType := ""
	switch b := body.(type) {
	case nil:
	case io.Reader:
		reqBody = b
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", c.credential())
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("request failed", zap.String("method", method), zap.String("url", target), zap.Error(err))
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	c.logger.Debug("request done",
		zap.String("method", method),
		zap.String("url", target),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Status: resp.StatusCode, Body: string(bytes.TrimSpace(payload))}
	}
	return payload, nil
}
