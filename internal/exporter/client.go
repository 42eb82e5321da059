// Package exporter delivers encoded samples to a Pushgateway-style collector
// and removes a task's series when the task ends.
package exporter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/szibis/profile-exporter/internal/auth"
	"github.com/szibis/profile-exporter/internal/compression"
	"github.com/szibis/profile-exporter/internal/logging"
	tlspkg "github.com/szibis/profile-exporter/internal/tls"
	"golang.org/x/net/http2"
)

const (
	// maxResponseBody caps how much of a collector reply is kept for logs.
	maxResponseBody = 64 << 10
	// deleteLogEvery throttles repeated delete transport failures in the log.
	deleteLogEvery = 100
)

// HTTPClientConfig holds HTTP client connection pool settings.
type HTTPClientConfig struct {
	// MaxIdleConns controls the maximum number of idle (keep-alive) connections.
	MaxIdleConns int
	// IdleConnTimeout is the maximum amount of time an idle connection will
	// remain idle before closing itself.
	IdleConnTimeout time.Duration
	// DisableKeepAlives opens a fresh connection per request, like the
	// one-session-per-call behaviour of older collectors' clients.
	DisableKeepAlives bool
	// ForceAttemptHTTP2 enables HTTP/2 on plain and TLS connections.
	ForceAttemptHTTP2 bool
}

// RetryConfig bounds immediate retries inside a single call.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts; values below 1 mean 1.
	MaxAttempts int
	// Backoff is the pause between attempts.
	Backoff time.Duration
}

// Config holds the delivery client configuration.
type Config struct {
	// Host is the collector base URL, e.g. http://collector:9091.
	Host string
	// Timeout bounds each attempt. Zero means no timeout.
	Timeout time.Duration
	// Verbose enables response body and timing diagnostics.
	Verbose bool
	// Compression is applied to push bodies.
	Compression compression.Type
	// Retry bounds immediate retries.
	Retry RetryConfig
	// TLS configuration for https collectors.
	TLS tlspkg.ClientConfig
	// Auth configuration for authenticated collectors.
	Auth auth.ClientConfig
	// HTTPClient configuration for connection pooling.
	HTTPClient HTTPClientConfig
}

// Target identifies the series of one job on one node.
type Target struct {
	JobID    uint32
	NodeName string
}

// Client pushes payloads to and deletes series from the collector.
// It is safe for concurrent use.
type Client struct {
	host        string
	httpClient  *http.Client
	verbose     bool
	compression compression.Type
	retry       RetryConfig

	deleteFailures atomic.Int64

	mu      sync.Mutex
	lastErr error
}

// New creates a delivery client. The transport is pooled across calls.
func New(cfg Config) (*Client, error) {
	host := strings.TrimSuffix(strings.TrimSpace(cfg.Host), "/")
	if host == "" {
		return nil, errors.New("collector host is required")
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid collector host %q: %w", cfg.Host, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid collector host %q: scheme must be http or https", cfg.Host)
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     cfg.HTTPClient.ForceAttemptHTTP2,
		MaxIdleConns:          cfg.HTTPClient.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.HTTPClient.MaxIdleConns,
		IdleConnTimeout:       cfg.HTTPClient.IdleConnTimeout,
		DisableKeepAlives:     cfg.HTTPClient.DisableKeepAlives,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	// One collector host, so a handful of idle connections is plenty.
	if transport.MaxIdleConns == 0 {
		transport.MaxIdleConns = 4
		transport.MaxIdleConnsPerHost = 4
	}
	if transport.IdleConnTimeout == 0 {
		transport.IdleConnTimeout = 90 * time.Second
	}

	tlsConfig, err := tlspkg.NewClientTLSConfig(cfg.TLS)
	if err != nil {
		return nil, fmt.Errorf("failed to create TLS config: %w", err)
	}
	transport.TLSClientConfig = tlsConfig

	if cfg.HTTPClient.ForceAttemptHTTP2 {
		if _, err := http2.ConfigureTransports(transport); err != nil {
			return nil, fmt.Errorf("failed to configure HTTP/2: %w", err)
		}
	}

	var roundTripper http.RoundTripper = transport
	if !cfg.Auth.Empty() {
		roundTripper = auth.HTTPTransport(cfg.Auth, roundTripper)
	}

	retry := cfg.Retry
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}

	comp := cfg.Compression
	if comp == "" {
		comp = compression.TypeNone
	}
	if comp == compression.TypeZstd {
		logging.Warn("zstd request bodies are not decoded by a stock Pushgateway, pushes may be rejected", logging.F(
			"host", host,
			"compression", string(comp),
		))
	}

	return &Client{
		host: host,
		httpClient: &http.Client{
			Transport: roundTripper,
			Timeout:   cfg.Timeout,
		},
		verbose:     cfg.Verbose,
		compression: comp,
		retry:       retry,
	}, nil
}

// URL returns <host>/metrics/job/<job_id>/instance/<node_name>.
func (c *Client) URL(t Target) string {
	return c.host + "/metrics/job/" + strconv.FormatUint(uint64(t.JobID), 10) +
		"/instance/" + url.PathEscape(t.NodeName)
}

// Push sends payload to the target's series with a POST.
// Every failure is logged at debug level.
func (c *Client) Push(ctx context.Context, t Target, payload []byte) error {
	start := time.Now()
	body, err := compression.Compress(payload, c.compression)
	if err != nil {
		err = fmt.Errorf("failed to compress payload: %w", err)
		c.finish(http.MethodPost, start, err)
		return err
	}

	err = c.do(ctx, http.MethodPost, c.URL(t), body)
	c.finish(http.MethodPost, start, err)

	if err == nil {
		bytesTotal.WithLabelValues(string(c.compression)).Add(float64(len(body)))
		return nil
	}
	if !isStatusError(err) {
		logging.Debug("push to collector failed, sample discarded", logging.F(
			"url", c.URL(t),
			"error", err.Error(),
		))
	}
	return err
}

// Delete removes the target's series with a DELETE. Repeated transport
// failures are logged once per deleteLogEvery calls until one succeeds.
func (c *Client) Delete(ctx context.Context, t Target) error {
	start := time.Now()
	err := c.do(ctx, http.MethodDelete, c.URL(t), nil)
	c.finish(http.MethodDelete, start, err)

	if err == nil {
		c.deleteFailures.Store(0)
		return nil
	}
	if isStatusError(err) {
		return err
	}
	if n := c.deleteFailures.Add(1); (n-1)%deleteLogEvery == 0 {
		logging.Debug("delete from collector failed, request discarded", logging.F(
			"url", c.URL(t),
			"error", err.Error(),
			"consecutive_failures", n,
		))
	}
	return err
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// LastError returns the outcome of the most recent push or delete, nil
// when it succeeded or nothing was sent yet.
func (c *Client) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Client) finish(method string, start time.Time, err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()

	elapsed := time.Since(start)
	requestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
	if c.verbose {
		logging.Debug("collector call finished", logging.F(
			"method", method,
			"took", elapsed.String(),
		))
	}
}

// do performs up to retry.MaxAttempts attempts. Only retryable errors are retried.
func (c *Client) do(ctx context.Context, method, target string, body []byte) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = c.attempt(ctx, method, target, body)
		if err == nil || attempt >= c.retry.MaxAttempts || !IsRetryable(err) {
			return err
		}

		retriesTotal.WithLabelValues(method).Inc()
		if c.retry.Backoff > 0 {
			timer := time.NewTimer(c.retry.Backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return err
			case <-timer.C:
			}
		} else if ctx.Err() != nil {
			return err
		}
	}
}

func (c *Client) attempt(ctx context.Context, method, target string, body []byte) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "text/plain; version=0.0.4")
		if encoding := c.compression.ContentEncoding(); encoding != "" {
			req.Header.Set("Content-Encoding", encoding)
		}
	}

	requestsTotal.WithLabelValues(method).Inc()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		errType := classifyError(err)
		errorsTotal.WithLabelValues(method, string(errType)).Inc()
		return &ExportError{
			Err:  fmt.Errorf("%s %s: %w", method, target, err),
			Type: errType,
		}
	}
	defer resp.Body.Close()

	// Read the reply so the connection can be reused.
	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	_, _ = io.Copy(io.Discard, resp.Body)

	if isSuccess(resp.StatusCode) {
		logging.Debug("collector write succeeded", logging.F("method", method, "status", resp.StatusCode))
		return nil
	}

	errType := classifyHTTPStatusCode(resp.StatusCode)
	errorsTotal.WithLabelValues(method, string(errType)).Inc()

	msg := strings.TrimRight(string(bodyBytes), "\n")
	logging.Debug("collector write failed", logging.F(
		"method", method,
		"status", resp.StatusCode,
	))
	if c.verbose && msg != "" {
		logging.Info("collector response body", logging.F(
			"method", method,
			"status", resp.StatusCode,
			"body", msg,
		))
	}

	return &ExportError{
		Err:        fmt.Errorf("%s %s: unexpected status code: %d", method, target, resp.StatusCode),
		Type:       errType,
		StatusCode: resp.StatusCode,
		Message:    msg,
	}
}
