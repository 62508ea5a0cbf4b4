package resilience

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"
)

// Client wraps an http.Client with a bounded per-attempt timeout, retry with
// exponential backoff, and an optional circuit breaker. The response body is
// drained and returned so attempts can be retried safely and callers never
// deal with half-read connections.
type Client struct {
	HTTP        *http.Client
	Breaker     *Breaker
	MaxAttempts int
	BaseBackoff time.Duration
	Jitter      float64
	Timeout     time.Duration
}

// Do executes the request. Requests with a body are buffered once so retries
// replay identical bytes. 5xx responses count as failures and are retried;
// 4xx responses are returned to the caller as-is.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, []byte, error) {
	if c == nil || c.HTTP == nil {
		return nil, nil, errors.New("resilience: http client not configured")
	}
	maxAttempts := c.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	// Non-idempotent requests are never retried at the transport layer.
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		maxAttempts = 1
	}

	var payload []byte
	if req.Body != nil && req.Body != http.NoBody {
		data, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, nil, err
		}
		payload = data
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if c.Breaker != nil && !c.Breaker.Allow() {
			return nil, nil, ErrOpenCircuit
		}
		resp, body, err := c.doOnce(ctx, req, payload)
		success := err == nil && resp.StatusCode < 500
		if c.Breaker != nil {
			c.Breaker.Report(success)
		}
		if success {
			return resp, body, nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = errors.New(resp.Status)
		}
		if attempt == maxAttempts {
			break
		}
		timer := time.NewTimer(Backoff(c.BaseBackoff, attempt, c.Jitter))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, nil, lastErr
}

func (c *Client) doOnce(ctx context.Context, req *http.Request, payload []byte) (*http.Response, []byte, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	attempt := req.Clone(callCtx)
	if payload != nil {
		attempt.Body = io.NopCloser(bytes.NewReader(payload))
		attempt.ContentLength = int64(len(payload))
		attempt.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(payload)), nil
		}
	}
	resp, err := c.HTTP.Do(attempt)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return resp, body, nil
}
