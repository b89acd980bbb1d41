// Package agent is the transport to the remote assistant service. It
// handles request shaping, retries, and SSE stream reading; response
// interpretation lives in internal/normalize.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"guidepost-server/internal/config"
)

const (
	chatPath   = "/chat"
	streamPath = "/chat/stream"

	initialBackoff = 500 * time.Millisecond
)

// TransportError carries a non-2xx agent response.
type TransportError struct {
	Status int
	Body   string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("agent returned HTTP %d: %s", e.Status, e.Body)
}

// retryable reports whether another attempt might succeed.
func (e *TransportError) retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// TimeoutError reports that a call exceeded its configured deadline.
// Timeouts are treated as transient: Send retries them, and each
// attempt gets a fresh deadline.
type TimeoutError struct {
	Op       string
	Deadline time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("agent %s timed out after %s", e.Op, e.Deadline)
}

func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }

// Client talks to the agent service.
type Client struct {
	cfg        config.AgentConfig
	baseURL    string
	httpClient *http.Client
	// token supplies the bearer token per request, so rotated credentials
	// take effect without a restart. May return "".
	token func() string
}

func NewClient(cfg config.AgentConfig) *Client {
	return &Client{
		cfg:        cfg,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{},
		token:      cfg.Token,
	}
}

// WithTokenFunc replaces the bearer-token accessor.
func (c *Client) WithTokenFunc(fn func() string) *Client {
	c.token = fn
	return c
}

// Send posts a non-streaming request and returns the raw response body.
// Transient failures (429, 5xx, network errors, per-attempt timeouts)
// are retried with exponential backoff.
func (c *Client) Send(ctx context.Context, body any) (json.RawMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	retries := c.cfg.Retries()
	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		raw, err := c.post(ctx, chatPath, payload)
		if err == nil {
			return raw, nil
		}
		lastErr = err

		var terr *TransportError
		if errors.As(err, &terr) && !terr.retryable() {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if attempt < retries-1 {
			backoff := time.Duration(float64(initialBackoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return nil, fmt.Errorf("agent request failed after %d attempts: %w", retries, lastErr)
}

func (c *Client) post(ctx context.Context, path string, payload []byte) (json.RawMessage, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, &TimeoutError{Op: "request", Deadline: c.cfg.Timeout()}
		}
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{Status: resp.StatusCode, Body: truncate(string(raw), 512)}
	}
	return raw, nil
}

// OpenStream posts a streaming request and returns the SSE body. The
// caller owns the body; closing it cancels the underlying request, which
// is how stream aborts propagate.
func (c *Client) OpenStream(ctx context.Context, body any) (io.ReadCloser, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.StreamDeadline())

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+streamPath, bytes.NewReader(payload))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		if reqCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, &TimeoutError{Op: "stream", Deadline: c.cfg.StreamDeadline()}
		}
		return nil, fmt.Errorf("execute request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		return nil, &TransportError{Status: resp.StatusCode, Body: truncate(string(raw), 512)}
	}

	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.token != nil {
		if tok := c.token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
}

// cancelOnClose cancels the request context when the response body is
// closed, so abandoning a stream releases the connection.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
