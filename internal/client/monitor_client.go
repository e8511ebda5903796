package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/stsolovey/pipemonitor/internal/monitor"
)

const (
	defaultTimeout      = 5 * time.Second
	defaultRetryCount   = 2
	defaultRetryWait    = 100 * time.Millisecond
	defaultRetryMaxWait = time.Second
	maxErrorBody        = 512
)

var (
	ErrPipeNotFound       = errors.New("pipe not found")
	ErrUnexpectedStatus   = errors.New("unexpected status code")
	ErrMonitorUnavailable = errors.New("monitor unavailable")
)

// MonitorClient queries the HTTP API of a pipe monitor. Requests that fail
// before a response arrives are retried.
type MonitorClient struct {
	resty *resty.Client

	total  atomic.Int64
	failed atomic.Int64
}

// Stats counts requests made by a client.
type Stats struct {
	TotalRequests  int64
	FailedRequests int64
}

type clientOptions struct {
	timeout      time.Duration
	retries      int
	retryWait    time.Duration
	retryMaxWait time.Duration
	transport    http.RoundTripper
}

type Option func(*clientOptions)

func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithRetry sets how often and how patiently failed requests are retried.
func WithRetry(count int, wait, maxWait time.Duration) Option {
	return func(o *clientOptions) {
		o.retries = max(count, 0)
		o.retryWait = wait
		o.retryMaxWait = maxWait
	}
}

// WithTransport replaces the pooled transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *clientOptions) {
		o.transport = rt
	}
}

// NewMonitorClient creates a client for the monitor at baseURL.
func NewMonitorClient(baseURL string, opts ...Option) *MonitorClient {
	o := clientOptions{
		timeout:      defaultTimeout,
		retries:      defaultRetryCount,
		retryWait:    defaultRetryWait,
		retryMaxWait: defaultRetryMaxWait,
	}

	for _, opt := range opts {
		opt(&o)
	}

	if o.transport == nil {
		retryClient := retryablehttp.NewClient()
		retryClient.Logger = nil
		o.transport = retryClient.HTTPClient.Transport
	}

	r := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(o.timeout).
		SetRetryCount(o.retries).
		SetRetryWaitTime(o.retryWait).
		SetRetryMaxWaitTime(o.retryMaxWait).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "pipemonitor-client/1.0").
		SetTransport(o.transport)

	return &MonitorClient{resty: r}
}

// Health returns nil when the monitor answers its health check.
func (c *MonitorClient) Health(ctx context.Context) error {
	return c.get(ctx, "/health", nil)
}

// Pipes returns the latest state of every pipe the monitor knows.
func (c *MonitorClient) Pipes(ctx context.Context) ([]monitor.PipeState, error) {
	var pipes []monitor.PipeState
	if err := c.get(ctx, "/pipes", &pipes); err != nil {
		return nil, err
	}

	return pipes, nil
}

// Pipe returns the latest state of one pipe, or ErrPipeNotFound.
func (c *MonitorClient) Pipe(ctx context.Context, name string) (monitor.PipeState, error) {
	var state monitor.PipeState
	if err := c.get(ctx, "/pipes/"+url.PathEscape(name), &state); err != nil {
		return monitor.PipeState{}, err
	}

	return state, nil
}

// MonitorStats returns the monitor's received and dropped counters.
func (c *MonitorClient) MonitorStats(ctx context.Context) (monitor.Stats, error) {
	var stats monitor.Stats
	if err := c.get(ctx, "/stats", &stats); err != nil {
		return monitor.Stats{}, err
	}

	return stats, nil
}

func (c *MonitorClient) Stats() Stats {
	return Stats{
		TotalRequests:  c.total.Load(),
		FailedRequests: c.failed.Load(),
	}
}

func (c *MonitorClient) get(ctx context.Context, path string, out any) error {
	c.total.Add(1)

	err := c.do(ctx, path, out)
	if err != nil {
		c.failed.Add(1)
	}

	return err
}

func (c *MonitorClient) do(ctx context.Context, path string, out any) error {
	resp, err := c.resty.R().SetContext(ctx).Get(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMonitorUnavailable, err)
	}

	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrPipeNotFound, path)
	case resp.StatusCode() != http.StatusOK:
		body := resp.Body()
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}

		return fmt.Errorf("%w: %d %s", ErrUnexpectedStatus, resp.StatusCode(), strings.TrimSpace(string(body)))
	}

	if out == nil {
		return nil
	}

	if err := sonic.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}
