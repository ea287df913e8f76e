// Package submit is the HTTP client for the local backend that receives
// stabilized code blocks. One POST per block, never retried: a failed
// submission is terminal for that exact content.
package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"
)

// MaxResponseBody caps how much of a backend response is read (1 MiB).
const MaxResponseBody int64 = 1 << 20

// ErrNotSuccess is returned when the backend answered 2xx but did not
// report status "success".
var ErrNotSuccess = errors.New("submit: backend did not report success")

// Details is the backend's JSON response body.
type Details struct {
	Status       string `json:"status"`
	Message      string `json:"message,omitempty"`
	RunStdout    string `json:"run_stdout,omitempty"`
	RunStderr    string `json:"run_stderr,omitempty"`
	SyntaxStdout string `json:"syntax_stdout,omitempty"`
	SyntaxStderr string `json:"syntax_stderr,omitempty"`
}

// HasOutput reports whether the backend returned execution or syntax output.
func (d Details) HasOutput() bool {
	return d.RunStdout != "" || d.RunStderr != "" || d.SyntaxStdout != "" || d.SyntaxStderr != ""
}

// Result is the outcome of one submission. It is never nil: on failure it
// carries whatever the backend said, or the transport error message.
type Result struct {
	Success    bool    `json:"success"`
	HTTPStatus int     `json:"http_status,omitempty"`
	Details    Details `json:"details"`
}

// PingResult is the outcome of a connection test.
type PingResult struct {
	Success    bool           `json:"success"`
	HTTPStatus int            `json:"http_status,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// Client posts code blocks to http://<host>:<port><submitPath>.
type Client struct {
	host       string
	submitPath string
	statusPath string
	http       *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHost sets the backend host. Default: 127.0.0.1.
func WithHost(h string) Option { return func(c *Client) { c.host = h } }

// WithTimeout sets the per-request timeout. Default: 30s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithSubmitPath sets the submission path. Default: /submit_code.
func WithSubmitPath(p string) Option { return func(c *Client) { c.submitPath = p } }

// WithStatusPath sets the connection test path. Default: /test_connection.
func WithStatusPath(p string) Option { return func(c *Client) { c.statusPath = p } }

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

// New creates a Client.
func New(opts ...Option) *Client {
	c := &Client{
		host:       "127.0.0.1",
		submitPath: "/submit_code",
		statusPath: "/test_connection",
		http:       &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) url(port int, path string) (string, error) {
	if port <= 0 || port > 65535 {
		return "", fmt.Errorf("submit: invalid port %d", port)
	}
	return "http://" + net.JoinHostPort(c.host, strconv.Itoa(port)) + path, nil
}

// Submit posts code as {"code": code}. A nil error means the backend
// answered 2xx with status "success". Any other outcome returns an error
// and a Result describing it.
func (c *Client) Submit(ctx context.Context, port int, code string) (*Result, error) {
	res := &Result{}
	fail := func(err error) (*Result, error) {
		if res.Details.Status == "" {
			res.Details.Status = "error"
		}
		if res.Details.Message == "" {
			res.Details.Message = err.Error()
		}
		return res, err
	}

	u, err := c.url(port, c.submitPath)
	if err != nil {
		return fail(err)
	}
	body, err := json.Marshal(map[string]string{"code": code})
	if err != nil {
		return fail(fmt.Errorf("submit: marshal: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fail(fmt.Errorf("submit: new request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("submit: request failed", "url", u, "error", err)
		return fail(fmt.Errorf("submit: post: %w", err))
	}
	defer resp.Body.Close()
	res.HTTPStatus = resp.StatusCode

	raw, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBody))
	if err != nil {
		return fail(fmt.Errorf("submit: read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Error bodies are often JSON too; keep their message if so.
		json.Unmarshal(raw, &res.Details)
		return fail(fmt.Errorf("submit: backend returned HTTP %d", resp.StatusCode))
	}

	if err := json.Unmarshal(raw, &res.Details); err != nil {
		return fail(fmt.Errorf("submit: malformed response: %w", err))
	}
	if res.Details.Status != "success" {
		return fail(ErrNotSuccess)
	}
	res.Success = true
	return res, nil
}

// Ping checks that a backend answers on port.
func (c *Client) Ping(ctx context.Context, port int) (*PingResult, error) {
	res := &PingResult{}
	u, err := c.url(port, c.statusPath)
	if err != nil {
		return res, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return res, fmt.Errorf("submit: new request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return res, fmt.Errorf("submit: ping: %w", err)
	}
	defer resp.Body.Close()
	res.HTTPStatus = resp.StatusCode

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBody))
	if err := json.Unmarshal(raw, &res.Details); err != nil && len(raw) > 0 {
		res.Details = map[string]any{"body": string(raw)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return res, fmt.Errorf("submit: ping returned HTTP %d", resp.StatusCode)
	}
	res.Success = true
	return res, nil
}
