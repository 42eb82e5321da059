package exporter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/szibis/profile-exporter/internal/auth"
	"github.com/szibis/profile-exporter/internal/compression"
	"github.com/szibis/profile-exporter/internal/logging"
)

var testTarget = Target{JobID: 123, NodeName: "node07"}

type recorded struct {
	method   string
	path     string
	body     []byte
	encoding string
	ctype    string
	authz    string
}

// collector is a test Pushgateway that records every request.
type collector struct {
	mu   sync.Mutex
	seen []recorded
}

func (c *collector) requests() []recorded {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]recorded(nil), c.seen...)
}

// newCollector returns a test collector replying with status and reply.
func newCollector(t *testing.T, status int, reply string) (*httptest.Server, *collector) {
	t.Helper()
	col := &collector{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		col.mu.Lock()
		col.seen = append(col.seen, recorded{
			method:   r.Method,
			path:     r.URL.EscapedPath(),
			body:     body,
			encoding: r.Header.Get("Content-Encoding"),
			ctype:    r.Header.Get("Content-Type"),
			authz:    r.Header.Get("Authorization"),
		})
		col.mu.Unlock()
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(server.Close)
	return server, col
}

func newClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	logging.SetOutput(&buf)
	logging.SetLevel(logging.LevelDebug)
	t.Cleanup(func() {
		logging.SetOutput(io.Discard)
		logging.SetLevel(logging.LevelInfo)
	})
	return &buf
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		host string
	}{
		{"empty", ""},
		{"no scheme", "collector:9091"},
		{"bad scheme", "ftp://collector"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(Config{Host: tt.host}); err == nil {
				t.Errorf("New(%q) expected error", tt.host)
			}
		})
	}
}

func TestURL(t *testing.T) {
	tests := []struct {
		host   string
		target Target
		want   string
	}{
		{"http://collector:9091", testTarget, "http://collector:9091/metrics/job/123/instance/node07"},
		{"http://collector:9091/", testTarget, "http://collector:9091/metrics/job/123/instance/node07"},
		{"https://gw.example.com/push", Target{JobID: 4294967295, NodeName: "n1"}, "https://gw.example.com/push/metrics/job/4294967295/instance/n1"},
		{"http://c:9091", Target{JobID: 1, NodeName: "rack 1/n2"}, "http://c:9091/metrics/job/1/instance/rack%201%2Fn2"},
	}
	for _, tt := range tests {
		c := newClient(t, Config{Host: tt.host})
		if got := c.URL(tt.target); got != tt.want {
			t.Errorf("URL() = %q, want %q", got, tt.want)
		}
	}
}

func TestPush_Success(t *testing.T) {
	for _, status := range []int{200, 201, 202, 204, 205} {
		server, seen := newCollector(t, status, "")
		c := newClient(t, Config{Host: server.URL})

		payload := []byte("cpu_pct 12.35\nrss_bytes 2048\n")
		if err := c.Push(context.Background(), testTarget, payload); err != nil {
			t.Fatalf("status %d: Push() error = %v", status, err)
		}

		if len(seen.requests()) != 1 {
			t.Fatalf("status %d: got %d requests, want 1", status, len(seen.requests()))
		}
		r := seen.requests()[0]
		if r.method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.method)
		}
		if r.path != "/metrics/job/123/instance/node07" {
			t.Errorf("path = %s", r.path)
		}
		if !bytes.Equal(r.body, payload) {
			t.Errorf("body = %q, want %q", r.body, payload)
		}
		if !strings.HasPrefix(r.ctype, "text/plain") {
			t.Errorf("Content-Type = %q", r.ctype)
		}
		if r.encoding != "" {
			t.Errorf("Content-Encoding = %q, want none", r.encoding)
		}
	}
}

func TestPush_FailureStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorType
	}{
		{206, ErrorTypeUnexpectedStatus},
		{302, ErrorTypeUnexpectedStatus},
		{400, ErrorTypeClientError},
		{404, ErrorTypeClientError},
		{500, ErrorTypeServerError},
	}
	for _, tt := range tests {
		server, seen := newCollector(t, tt.status, "bad things\n\n")
		c := newClient(t, Config{Host: server.URL, HTTPClient: HTTPClientConfig{DisableKeepAlives: true}})

		err := c.Push(context.Background(), testTarget, []byte("x 1\n"))
		var exportErr *ExportError
		if !errors.As(err, &exportErr) {
			t.Fatalf("status %d: Push() error = %v, want *ExportError", tt.status, err)
		}
		if exportErr.StatusCode != tt.status {
			t.Errorf("StatusCode = %d, want %d", exportErr.StatusCode, tt.status)
		}
		if exportErr.Type != tt.want {
			t.Errorf("status %d: Type = %s, want %s", tt.status, exportErr.Type, tt.want)
		}
		if exportErr.Message != "bad things" {
			t.Errorf("Message = %q, want trailing newlines trimmed", exportErr.Message)
		}
		if len(seen.requests()) != 1 {
			t.Errorf("status %d: got %d attempts, want 1 (no retry by default)", tt.status, len(seen.requests()))
		}
	}
}

func TestPush_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	host := server.URL
	server.Close()

	logs := captureLogs(t)
	c := newClient(t, Config{Host: host, Timeout: time.Second})

	err := c.Push(context.Background(), testTarget, []byte("x 1\n"))
	var exportErr *ExportError
	if !errors.As(err, &exportErr) {
		t.Fatalf("Push() error = %v, want *ExportError", err)
	}
	if exportErr.StatusCode != 0 {
		t.Errorf("StatusCode = %d, want 0", exportErr.StatusCode)
	}
	if exportErr.Type != ErrorTypeNetwork {
		t.Errorf("Type = %s, want network", exportErr.Type)
	}
	if !strings.Contains(logs.String(), "push to collector failed") {
		t.Errorf("expected debug log for transport failure, got %q", logs.String())
	}
}

func TestPush_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	c := newClient(t, Config{Host: server.URL, Timeout: 50 * time.Millisecond})

	err := c.Push(context.Background(), testTarget, []byte("x 1\n"))
	var exportErr *ExportError
	if !errors.As(err, &exportErr) || exportErr.Type != ErrorTypeTimeout {
		t.Fatalf("Push() error = %v, want timeout ExportError", err)
	}
}

func TestPush_Compression(t *testing.T) {
	for _, typ := range []compression.Type{compression.TypeGzip, compression.TypeZstd} {
		t.Run(string(typ), func(t *testing.T) {
			server, seen := newCollector(t, http.StatusOK, "")
			c := newClient(t, Config{Host: server.URL, Compression: typ})

			before := testutil.ToFloat64(bytesTotal.WithLabelValues(string(typ)))
			payload := []byte(strings.Repeat("rss 2048\n", 50))
			if err := c.Push(context.Background(), testTarget, payload); err != nil {
				t.Fatalf("Push() error = %v", err)
			}

			r := seen.requests()[0]
			if r.encoding != typ.ContentEncoding() {
				t.Errorf("Content-Encoding = %q, want %q", r.encoding, typ.ContentEncoding())
			}
			got, err := compression.Decompress(r.body, typ)
			if err != nil {
				t.Fatalf("Decompress() error = %v", err)
			}
			if !bytes.Equal(got, payload) {
				t.Error("decompressed body mismatch")
			}
			if delta := testutil.ToFloat64(bytesTotal.WithLabelValues(string(typ))) - before; delta != float64(len(r.body)) {
				t.Errorf("bytes counter delta = %v, want %d", delta, len(r.body))
			}
		})
	}
}

func TestNew_ZstdWarning(t *testing.T) {
	tests := []struct {
		comp     compression.Type
		wantWarn bool
	}{
		{compression.TypeNone, false},
		{compression.TypeGzip, false},
		{compression.TypeZstd, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.comp), func(t *testing.T) {
			buf := captureLogs(t)
			newClient(t, Config{Host: "http://collector:9091", Compression: tt.comp})
			if got := strings.Contains(buf.String(), "zstd request bodies"); got != tt.wantWarn {
				t.Errorf("zstd warning logged = %v, want %v (logs: %s)", got, tt.wantWarn, buf.String())
			}
		})
	}
}

func TestPush_Auth(t *testing.T) {
	server, seen := newCollector(t, http.StatusOK, "")
	c := newClient(t, Config{Host: server.URL, Auth: auth.ClientConfig{BearerToken: "s3cret"}})

	if err := c.Push(context.Background(), testTarget, []byte("x 1\n")); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if got := seen.requests()[0].authz; got != "Bearer s3cret" {
		t.Errorf("Authorization = %q", got)
	}
}

func TestPush_RetriesRetryableOnly(t *testing.T) {
	tests := []struct {
		name     string
		statuses []int
		attempts int
		wantErr  bool
	}{
		{"server error then success", []int{503, 200}, 2, false},
		{"client error not retried", []int{404, 200}, 1, true},
		{"exhausted", []int{500, 500, 500, 200}, 3, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := calls.Add(1)
				w.WriteHeader(tt.statuses[n-1])
			}))
			defer server.Close()

			c := newClient(t, Config{
				Host:  server.URL,
				Retry: RetryConfig{MaxAttempts: 3, Backoff: time.Millisecond},
			})

			before := testutil.ToFloat64(retriesTotal.WithLabelValues("POST"))
			err := c.Push(context.Background(), testTarget, []byte("x 1\n"))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Push() error = %v, wantErr %v", err, tt.wantErr)
			}
			if int(calls.Load()) != tt.attempts {
				t.Errorf("attempts = %d, want %d", calls.Load(), tt.attempts)
			}
			if delta := testutil.ToFloat64(retriesTotal.WithLabelValues("POST")) - before; int(delta) != tt.attempts-1 {
				t.Errorf("retries counter delta = %v, want %d", delta, tt.attempts-1)
			}
		})
	}
}

func TestPush_RetryStopsOnCancel(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := newClient(t, Config{Host: server.URL, Retry: RetryConfig{MaxAttempts: 5, Backoff: time.Hour}})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := c.Push(ctx, testTarget, []byte("x 1\n")); err == nil {
		t.Fatal("Push() expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("attempts = %d, want 1", calls.Load())
	}
}

func TestDelete(t *testing.T) {
	server, seen := newCollector(t, http.StatusAccepted, "")
	c := newClient(t, Config{Host: server.URL + "/"})

	if err := c.Delete(context.Background(), testTarget); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	r := seen.requests()[0]
	if r.method != http.MethodDelete {
		t.Errorf("method = %s, want DELETE", r.method)
	}
	if r.path != "/metrics/job/123/instance/node07" {
		t.Errorf("path = %s", r.path)
	}
	if len(r.body) != 0 {
		t.Errorf("body = %q, want empty", r.body)
	}
}

func TestDelete_FailureStatus(t *testing.T) {
	server, _ := newCollector(t, http.StatusInternalServerError, "")
	c := newClient(t, Config{Host: server.URL})

	if err := c.Delete(context.Background(), testTarget); err == nil {
		t.Fatal("Delete() expected error for 500")
	}
}

func TestDelete_TransportFailureLogThrottled(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	host := server.URL
	server.Close()

	logs := captureLogs(t)
	c := newClient(t, Config{Host: host, Timeout: time.Second})

	for i := 0; i < 150; i++ {
		if err := c.Delete(context.Background(), testTarget); err == nil {
			t.Fatal("Delete() expected error")
		}
	}

	if n := strings.Count(logs.String(), "delete from collector failed"); n != 2 {
		t.Errorf("logged %d delete failures, want 2 (1st and 101st)", n)
	}
	if got := c.deleteFailures.Load(); got != 150 {
		t.Errorf("deleteFailures = %d, want 150", got)
	}
}

func TestDelete_SuccessResetsFailureCount(t *testing.T) {
	server, _ := newCollector(t, http.StatusOK, "")
	c := newClient(t, Config{Host: server.URL})
	c.deleteFailures.Store(42)

	if err := c.Delete(context.Background(), testTarget); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if got := c.deleteFailures.Load(); got != 0 {
		t.Errorf("deleteFailures = %d, want 0", got)
	}
}

func TestVerboseDiagnostics(t *testing.T) {
	server, _ := newCollector(t, http.StatusBadRequest, "text format parsing error in line 1\n")

	for _, verbose := range []bool{false, true} {
		logs := captureLogs(t)
		c := newClient(t, Config{Host: server.URL, Verbose: verbose})

		_ = c.Push(context.Background(), testTarget, []byte("bad line\n"))

		var sawBody, sawTiming bool
		for _, line := range strings.Split(strings.TrimSpace(logs.String()), "\n") {
			var entry logging.LogEntry
			if err := json.Unmarshal([]byte(line), &entry); err != nil {
				t.Fatalf("bad log line %q: %v", line, err)
			}
			switch entry.Body {
			case "collector response body":
				sawBody = true
				if entry.Attributes["body"] != "text format parsing error in line 1" {
					t.Errorf("body attribute = %v", entry.Attributes["body"])
				}
			case "collector call finished":
				sawTiming = true
			}
		}
		if sawBody != verbose || sawTiming != verbose {
			t.Errorf("verbose=%v: body logged=%v timing logged=%v", verbose, sawBody, sawTiming)
		}
	}
}

func TestRequestMetrics(t *testing.T) {
	server, _ := newCollector(t, http.StatusNotFound, "")
	c := newClient(t, Config{Host: server.URL})

	reqBefore := testutil.ToFloat64(requestsTotal.WithLabelValues("DELETE"))
	errBefore := testutil.ToFloat64(errorsTotal.WithLabelValues("DELETE", string(ErrorTypeClientError)))

	_ = c.Delete(context.Background(), testTarget)

	if d := testutil.ToFloat64(requestsTotal.WithLabelValues("DELETE")) - reqBefore; d != 1 {
		t.Errorf("requests delta = %v, want 1", d)
	}
	if d := testutil.ToFloat64(errorsTotal.WithLabelValues("DELETE", string(ErrorTypeClientError))) - errBefore; d != 1 {
		t.Errorf("errors delta = %v, want 1", d)
	}
}

func TestLastError(t *testing.T) {
	col, _ := newCollector(t, http.StatusOK, "")
	c := newClient(t, Config{Host: col.URL})

	if err := c.LastError(); err != nil {
		t.Errorf("LastError() before any call = %v, want nil", err)
	}

	failing, _ := newCollector(t, http.StatusInternalServerError, "")
	bad := newClient(t, Config{Host: failing.URL})
	_ = bad.Push(context.Background(), testTarget, []byte("x 1\n"))
	var exportErr *ExportError
	if !errors.As(bad.LastError(), &exportErr) || exportErr.StatusCode != 500 {
		t.Errorf("LastError() = %v, want 500 ExportError", bad.LastError())
	}

	if err := c.Delete(context.Background(), testTarget); err != nil {
		t.Fatal(err)
	}
	if err := c.LastError(); err != nil {
		t.Errorf("LastError() after success = %v, want nil", err)
	}
}

func TestPush_CompressionFailureRecorded(t *testing.T) {
	col, rec := newCollector(t, http.StatusOK, "")
	c := newClient(t, Config{Host: col.URL})
	if err := c.Push(context.Background(), testTarget, []byte("x 1\n")); err != nil {
		t.Fatal(err)
	}

	before := histogramCount(t, http.MethodPost)
	c.compression = compression.Type("lz4")
	if err := c.Push(context.Background(), testTarget, []byte("x 2\n")); err == nil {
		t.Fatal("Push() expected compression error")
	}
	if err := c.LastError(); err == nil || !strings.Contains(err.Error(), "compress") {
		t.Errorf("LastError() = %v, want compression error", err)
	}
	if got := histogramCount(t, http.MethodPost); got != before+1 {
		t.Errorf("POST duration samples = %d, want %d", got, before+1)
	}
	if got := len(rec.requests()); got != 1 {
		t.Errorf("collector received %d requests, want 1", got)
	}
}

func histogramCount(t *testing.T, method string) uint64 {
	t.Helper()
	var m dto.Metric
	if err := requestDuration.WithLabelValues(method).(prometheus.Histogram).Write(&m); err != nil {
		t.Fatalf("failed to read histogram: %v", err)
	}
	return m.GetHistogram().GetSampleCount()
}

func TestRequestDurationObserved(t *testing.T) {
	server, _ := newCollector(t, http.StatusOK, "")
	c := newClient(t, Config{Host: server.URL, Retry: RetryConfig{MaxAttempts: 3}})

	postBefore := histogramCount(t, "POST")
	deleteBefore := histogramCount(t, "DELETE")

	for i := 0; i < 3; i++ {
		if err := c.Push(context.Background(), testTarget, []byte("x 1\n")); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.Delete(context.Background(), testTarget); err != nil {
		t.Fatal(err)
	}

	if d := histogramCount(t, "POST") - postBefore; d != 3 {
		t.Errorf("POST observations = %d, want 3 (one per call)", d)
	}
	if d := histogramCount(t, "DELETE") - deleteBefore; d != 1 {
		t.Errorf("DELETE observations = %d, want 1", d)
	}
}
