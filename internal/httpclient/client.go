package httpclient

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/jpillora/backoff"
	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/metrics"
)

// Client calls a single collaborator. GETs are retried on transient
// failures; POSTs only when they carry an Idempotency-Key, so a retried
// checkout or webhook can be collapsed by the receiver.
type Client struct {
	target string
	http   *http.Client
	retry  RetryPolicy
	token  string
}

// RetryPolicy bounds the retries of a single call.
type RetryPolicy struct {
	Attempts int // total tries, including the first
	Min      time.Duration
	Max      time.Duration
	Statuses []int
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts: 3,
		Min:      100 * time.Millisecond,
		Max:      2 * time.Second,
		Statuses: []int{
			http.StatusRequestTimeout,
			http.StatusTooManyRequests,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		},
	}
}

type Option func(*Client)

// WithBearer sends token as a Bearer credential on every call.
func WithBearer(token string) Option {
	return func(c *Client) { c.token = token }
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// New returns a client for target. timeout bounds each try, not the call.
func New(target string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		target: target,
		http:   &http.Client{Timeout: timeout},
		retry:  DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.Attempts < 1 {
		c.retry.Attempts = 1
	}
	return c
}

// Do sends req, retrying per the client's policy until req's context ends.
// Bodies are replayed through GetBody.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	b := &backoff.Backoff{Min: c.retry.Min, Max: c.retry.Max, Factor: 2, Jitter: true}
	replayable := req.Method == http.MethodGet || req.Header.Get("Idempotency-Key") != ""

	var lastErr error
	for try := 1; ; try++ {
		if try > 1 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("rewind body: %w", err)
			}
			req.Body = body
		}

		wait := time.Duration(0)
		resp, err := c.http.Do(req)
		switch {
		case err != nil:
			c.observe("transport_error")
			lastErr = err
		case c.retryableStatus(resp.StatusCode):
			c.observe(strconv.Itoa(resp.StatusCode))
			wait = retryAfter(resp)
			resp.Body.Close()
			lastErr = &StatusError{Target: c.target, Code: resp.StatusCode}
		default:
			c.observe(strconv.Itoa(resp.StatusCode))
			return resp, nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !replayable || try >= c.retry.Attempts {
			return nil, fmt.Errorf("%s: %w", c.target, lastErr)
		}
		if wait == 0 || wait > c.retry.Max {
			wait = b.Duration()
		}
		slog.DebugContext(ctx, "outbound_retry",
			"target", c.target,
			"try", try,
			"method", req.Method,
			"url", req.URL.Redacted(),
			"backoff", wait,
			"error", lastErr,
		)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *Client) retryableStatus(code int) bool {
	for _, s := range c.retry.Statuses {
		if s == code {
			return true
		}
	}
	return false
}

func (c *Client) observe(outcome string) {
	metrics.Measures.OutboundCalls.WithLabelValues(c.target, outcome).Inc()
}

// retryAfter reads a delay-seconds Retry-After header. HTTP dates are
// ignored.
func retryAfter(resp *http.Response) time.Duration {
	secs, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// StatusError is a non-2xx answer from a collaborator.
type StatusError struct {
	Target string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s answered %d: %s", e.Target, e.Code, e.Body)
	}
	return fmt.Sprintf("%s answered %d", e.Target, e.Code)
}

// IsStatus reports whether err carries a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}
