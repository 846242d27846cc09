// Package invoker performs single timed HTTP calls against a load target.
package invoker

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"sync"
	"time"
)

// DefaultMaxBodyBytes bounds how much of a response body is kept.
const DefaultMaxBodyBytes int64 = 10 << 20

// Request is the target descriptor for one call.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// Result is the outcome of a call that produced a response. It is never
// mutated after Invoke returns.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Latency    time.Duration
	Timestamp  time.Time
	Timing     Timing

	// VUID and Iteration identify the iteration that produced the result.
	VUID      int
	Iteration int64
}

// Timing breaks the latency down into connection phases. Phases that did not
// happen (reused connection, plain HTTP) stay zero.
type Timing struct {
	DNSLookup       time.Duration `json:"dnsLookup"`
	TCPConnect      time.Duration `json:"tcpConnect"`
	TLSHandshake    time.Duration `json:"tlsHandshake"`
	TimeToFirstByte time.Duration `json:"timeToFirstByte"`
	ContentTransfer time.Duration `json:"contentTransfer"`
}

// Invoker executes requests with a shared client. It never retries.
type Invoker struct {
	client       *http.Client
	timeout      time.Duration
	maxBodyBytes int64
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithTimeout sets the per-request timeout applied on top of the caller's
// context. Zero disables it.
func WithTimeout(timeout time.Duration) Option {
	return func(i *Invoker) {
		i.timeout = timeout
	}
}

// WithMaxBodyBytes sets how many response body bytes are read.
func WithMaxBodyBytes(n int64) Option {
	return func(i *Invoker) {
		if n > 0 {
			i.maxBodyBytes = n
		}
	}
}

// New creates an Invoker. A nil client uses http.DefaultClient.
func New(client *http.Client, options ...Option) *Invoker {
	if client == nil {
		client = http.DefaultClient
	}
	inv := &Invoker{
		client:       client,
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, option := range options {
		option(inv)
	}
	return inv
}

// Invoke performs exactly one call. On failure the returned error is a
// *TimeoutError, *NetworkError or *ProtocolError and the result is nil.
func (i *Invoker) Invoke(ctx context.Context, req *Request) (*Result, error) {
	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, &ProtocolError{Op: "build request", Err: err}
	}
	for key, value := range req.Headers {
		if http.CanonicalHeaderKey(key) == "Host" {
			httpReq.Host = value
			continue
		}
		httpReq.Header.Set(key, value)
	}

	tracer := newTracer()
	httpReq = httpReq.WithContext(httptrace.WithClientTrace(ctx, tracer.clientTrace()))

	start := time.Now()
	resp, err := i.client.Do(httpReq)
	if err != nil {
		return nil, classify(ctx, "do request", err)
	}
	defer resp.Body.Close()

	transferStart := time.Now()
	data, err := io.ReadAll(io.LimitReader(resp.Body, i.maxBodyBytes))
	if err != nil {
		return nil, classify(ctx, "read body", err)
	}
	end := time.Now()

	timing := tracer.timing()
	timing.ContentTransfer = end.Sub(transferStart)

	return &Result{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       data,
		Latency:    end.Sub(start),
		Timestamp:  start,
		Timing:     timing,
	}, nil
}

// tracer records connection phase timings. Trace hooks may fire from
// transport goroutines, so every field is guarded.
type tracer struct {
	mu sync.Mutex

	dnsStart, connectStart, tlsStart time.Time
	lastPhaseEnd                     time.Time
	dns, connect, tlsHandshake, ttfb time.Duration
}

func newTracer() *tracer {
	return &tracer{lastPhaseEnd: time.Now()}
}

func (t *tracer) clientTrace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		DNSStart: func(httptrace.DNSStartInfo) {
			t.mu.Lock()
			t.dnsStart = time.Now()
			t.mu.Unlock()
		},
		DNSDone: func(httptrace.DNSDoneInfo) {
			t.mu.Lock()
			now := time.Now()
			t.dns = now.Sub(t.dnsStart)
			t.lastPhaseEnd = now
			t.mu.Unlock()
		},
		ConnectStart: func(string, string) {
			t.mu.Lock()
			t.connectStart = time.Now()
			t.mu.Unlock()
		},
		ConnectDone: func(_, _ string, err error) {
			if err != nil {
				return
			}
			t.mu.Lock()
			now := time.Now()
			t.connect = now.Sub(t.connectStart)
			t.lastPhaseEnd = now
			t.mu.Unlock()
		},
		TLSHandshakeStart: func() {
			t.mu.Lock()
			t.tlsStart = time.Now()
			t.mu.Unlock()
		},
		TLSHandshakeDone: func(_ tls.ConnectionState, err error) {
			if err != nil {
				return
			}
			t.mu.Lock()
			now := time.Now()
			t.tlsHandshake = now.Sub(t.tlsStart)
			t.lastPhaseEnd = now
			t.mu.Unlock()
		},
		GotFirstResponseByte: func() {
			t.mu.Lock()
			t.ttfb = time.Since(t.lastPhaseEnd)
			t.mu.Unlock()
		},
	}
}

func (t *tracer) timing() Timing {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Timing{
		DNSLookup:       t.dns,
		TCPConnect:      t.connect,
		TLSHandshake:    t.tlsHandshake,
		TimeToFirstByte: t.ttfb,
	}
}

// String renders a request for log lines.
func (r *Request) String() string {
	return fmt.Sprintf("%s %s", r.Method, r.URL)
}
