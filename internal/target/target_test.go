package target

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const article = `Igor Sysoev originally wrote NGINX to solve the C10K problem`

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	s, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func postSummarize(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/summarize/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRoot(t *testing.T) {
	h := newTestServer(t, Config{}).Handler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %q", ct)
	}

	var body messageResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Message != "Hello World" {
		t.Errorf("expected Hello World, got %q", body.Message)
	}
}

func TestSummarize_OK(t *testing.T) {
	s := newTestServer(t, Config{})
	w := postSummarize(t, s.Handler(), `{"text": "`+article+`"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var body summarizeResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	for _, want := range []string{"NGINX", "C10K", "Igor Sysoev"} {
		if !strings.Contains(body.Summary, want) {
			t.Errorf("summary %q does not include %q", body.Summary, want)
		}
	}
	if s.Summarized() != 1 {
		t.Errorf("Summarized() = %d, want 1", s.Summarized())
	}
}

func TestSummarize_InvalidInput(t *testing.T) {
	h := newTestServer(t, Config{}).Handler()

	tests := map[string]string{
		"not json":      `text=hello`,
		"missing field": `{"content": "hello"}`,
		"wrong type":    `{"text": 42}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			if w := postSummarize(t, h, body); w.Code != http.StatusUnprocessableEntity {
				t.Errorf("expected 422, got %d", w.Code)
			}
		})
	}
}

func TestRoutes_MethodAndPath(t *testing.T) {
	h := newTestServer(t, Config{}).Handler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/summarize/", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /summarize/: expected 405, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("GET /nope: expected 404, got %d", w.Code)
	}
}

func TestSummarize_FailRatio(t *testing.T) {
	tests := []struct {
		ratio    float64
		requests int
		want503  int
	}{
		{0, 10, 0},
		{0.5, 10, 5},
		{0.5, 11, 5},
		{0.25, 8, 2},
		{1, 4, 4},
	}

	for _, tt := range tests {
		s := newTestServer(t, Config{FailRatio: tt.ratio})
		h := s.Handler()

		got := 0
		for i := 0; i < tt.requests; i++ {
			w := postSummarize(t, h, `{"text": "hello"}`)
			switch w.Code {
			case http.StatusServiceUnavailable:
				got++
			case http.StatusOK:
			default:
				t.Fatalf("unexpected status %d", w.Code)
			}
		}

		if got != tt.want503 {
			t.Errorf("ratio %v over %d requests: got %d rejections, want %d", tt.ratio, tt.requests, got, tt.want503)
		}
		if s.Rejected() != int64(got) || s.Summarized() != int64(tt.requests-got) {
			t.Errorf("counters: rejected=%d summarized=%d", s.Rejected(), s.Summarized())
		}
	}
}

func TestSummarize_InvalidInputDoesNotConsumeFailures(t *testing.T) {
	s := newTestServer(t, Config{FailRatio: 0.5})
	h := s.Handler()

	postSummarize(t, h, `{}`)
	if w := postSummarize(t, h, `{"text": "a"}`); w.Code != http.StatusOK {
		t.Errorf("first valid request: expected 200, got %d", w.Code)
	}
	if w := postSummarize(t, h, `{"text": "a"}`); w.Code != http.StatusServiceUnavailable {
		t.Errorf("second valid request: expected 503, got %d", w.Code)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	for _, cfg := range []Config{{FailRatio: -0.1}, {FailRatio: 1.5}, {Latency: -time.Second}} {
		if _, err := New(cfg, nil); err == nil {
			t.Errorf("New(%+v) should fail", cfg)
		}
	}
}

func TestSummarize(t *testing.T) {
	words := strings.Repeat("word ", 150)
	if got := len(strings.Fields(Summarize(words, 100))); got != 100 {
		t.Errorf("expected 100 words, got %d", got)
	}
	if got := Summarize("  a\tb\nc ", 100); got != "a b c" {
		t.Errorf("expected %q, got %q", "a b c", got)
	}
	if got := Summarize("", 100); got != "" {
		t.Errorf("expected empty summary, got %q", got)
	}
}

func TestListenAndServe(t *testing.T) {
	s := newTestServer(t, Config{Addr: "127.0.0.1:0"})

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.ListenAndServe(ctx, ready)
	}()

	var addr string
	select {
	case addr = <-ready:
	case err := <-errCh:
		t.Fatalf("ListenAndServe() error = %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not start")
	}

	resp, err := http.Post("http://"+addr+"/summarize/", "application/json", strings.NewReader(`{"text": "`+article+`"}`))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("ListenAndServe() after cancel error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
