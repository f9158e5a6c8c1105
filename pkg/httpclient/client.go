// Package httpclient provides the shared retrying HTTP client behind every
// upstream provider call.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"
)

// RetryStrategy selects how a failed attempt is followed up.
type RetryStrategy int

const (
	// NoRetry fails immediately.
	NoRetry RetryStrategy = iota
	// ConservativeRetry makes at most two quick follow-up attempts.
	ConservativeRetry
	// SmartRetry honors rate limit headers and falls back to exponential
	// backoff.
	SmartRetry
)

// conservativeMaxRetries caps ConservativeRetry follow-ups.
const conservativeMaxRetries = 2

// RateLimitInfo is provider rate limit state parsed from response headers.
type RateLimitInfo struct {
	RetryAfter            time.Duration
	ResetTime             int64
	RequestsRemaining     int
	InputTokensRemaining  int
	OutputTokensRemaining int
	TokensRemaining       int
}

// RateLimitHeaderParser extracts rate limit info from response headers.
// Each provider ships its own header dialect; see parsers.go.
type RateLimitHeaderParser func(http.Header) RateLimitInfo

// RetryStrategyFunc maps a response status code to a retry strategy.
type RetryStrategyFunc func(statusCode int) RetryStrategy

// Client wraps http.Client with status-aware retries so every upstream
// call shares the same backoff discipline.
type Client struct {
	client       *http.Client
	maxRetries   int
	baseDelay    time.Duration
	headerParser RateLimitHeaderParser
	strategyFunc RetryStrategyFunc
	logger       *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

// WithMaxRetries sets the retry budget per request.
func WithMaxRetries(max int) Option {
	return func(c *Client) {
		c.maxRetries = max
	}
}

// WithBaseDelay sets the unit delay the backoff schedules scale from.
func WithBaseDelay(delay time.Duration) Option {
	return func(c *Client) {
		c.baseDelay = delay
	}
}

// WithHeaderParser sets the provider-specific rate limit header parser.
func WithHeaderParser(parser RateLimitHeaderParser) Option {
	return func(c *Client) {
		c.headerParser = parser
	}
}

// WithRetryStrategy replaces the status-to-strategy mapping.
func WithRetryStrategy(strategyFunc RetryStrategyFunc) Option {
	return func(c *Client) {
		c.strategyFunc = strategyFunc
	}
}

// WithLogger sets the logger used for retry reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a retrying client. Defaults: 60s request timeout, 5 retries,
// 2s base delay, DefaultRetryStrategy.
func New(opts ...Option) *Client {
	client := &Client{
		client:       &http.Client{Timeout: 60 * time.Second},
		maxRetries:   5,
		baseDelay:    2 * time.Second,
		strategyFunc: DefaultRetryStrategy,
		logger:       slog.Default(),
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// DefaultRetryStrategy retries rate limits and transient upstream errors.
// Client errors other than 408/429 never retry.
func DefaultRetryStrategy(statusCode int) RetryStrategy {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusServiceUnavailable:
		return SmartRetry
	case http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusGatewayTimeout:
		return ConservativeRetry
	default:
		return NoRetry
	}
}

// Do sends the request, retrying per the configured strategy. Waits between
// attempts end early when the request context is canceled. Requests with a
// non-replayable body (GetBody unset) are never retried.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	replayable := req.Body == nil || req.GetBody != nil

	for attempt := 0; ; attempt++ {
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("failed to recreate request body for retry: %w", err)
			}
			req.Body = body
		}

		resp, strategy, info, err := c.send(req)
		if err == nil || strategy == NoRetry {
			return resp, err
		}

		delay := c.retryDelay(strategy, attempt, info)

		if attempt >= c.maxRetries {
			return resp, &RetryableError{
				StatusCode: statusOf(resp),
				Message:    fmt.Sprintf("max HTTP retries (%d) exceeded", c.maxRetries),
				RetryAfter: delay,
				Err:        err,
			}
		}
		if delay <= 0 || !replayable {
			return resp, err
		}

		drainBody(resp)
		c.logRetry(strategy, delay, attempt, statusOf(resp))

		if err := waitRetry(req.Context(), delay); err != nil {
			return nil, err
		}
	}
}

// send makes one attempt and classifies the outcome. Any 2xx is final;
// transport errors are final too since the request may have been received.
func (c *Client) send(req *http.Request) (*http.Response, RetryStrategy, RateLimitInfo, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, NoRetry, RateLimitInfo{}, err
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, NoRetry, RateLimitInfo{}, nil
	}

	var info RateLimitInfo
	if c.headerParser != nil {
		info = c.headerParser(resp.Header)
	}

	return resp, c.strategyFunc(resp.StatusCode), info, fmt.Errorf("HTTP %d", resp.StatusCode)
}

// retryDelay computes the wait before the next attempt. Zero means give up.
func (c *Client) retryDelay(strategy RetryStrategy, attempt int, info RateLimitInfo) time.Duration {
	switch strategy {
	case SmartRetry:
		// The provider's own hint beats any schedule.
		if info.RetryAfter > 0 {
			return info.RetryAfter
		}
		if info.ResetTime > 0 {
			if delay := time.Until(time.Unix(info.ResetTime, 0)); delay > 0 {
				return delay
			}
		}

		exponential := time.Duration(math.Pow(2, float64(attempt))) * c.baseDelay
		jitter := time.Duration(float64(exponential) * 0.1)
		return exponential + jitter

	case ConservativeRetry:
		if attempt >= conservativeMaxRetries {
			return 0
		}
		return time.Duration(2+attempt) * c.baseDelay

	default:
		return 0
	}
}

func (c *Client) logRetry(strategy RetryStrategy, delay time.Duration, attempt, statusCode int) {
	switch strategy {
	case SmartRetry:
		c.logger.Warn("Upstream rate limited, backing off",
			"status", statusCode,
			"delay", delay,
			"attempt", attempt+1,
			"max_attempts", c.maxRetries+1)
	case ConservativeRetry:
		c.logger.Debug("Upstream error, retrying",
			"status", statusCode,
			"delay", delay,
			"attempt", attempt+1)
	}
}

// drainBody finishes a response body before a retry so the underlying
// connection can be reused.
func drainBody(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	_ = resp.Body.Close()
}

// waitRetry sleeps for delay unless the context ends first.
func waitRetry(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func statusOf(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}
