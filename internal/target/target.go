// Package target implements the reference summarization service a load run
// is pointed at. It stands in for the model server: instead of running
// inference it returns the leading words of the submitted text.
package target

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultMaxWords is the summary length in words.
const DefaultMaxWords = 100

// Config configures the reference target.
type Config struct {
	// Addr is the listen address, e.g. ":8000"
	Addr string

	// FailRatio is the fraction of /summarize/ requests answered with 503,
	// spread evenly over the request sequence
	FailRatio float64

	// Latency is added to every /summarize/ request to mimic inference time
	Latency time.Duration

	// MaxWords bounds the summary length (default: DefaultMaxWords)
	MaxWords int
}

// Server is the reference target.
type Server struct {
	cfg    Config
	logger *logrus.Logger

	summarized atomic.Int64
	rejected   atomic.Int64
	seq        atomic.Uint64
}

type summarizeRequest struct {
	Text *string `json:"text"`
}

type summarizeResponse struct {
	Summary string `json:"summary"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// New creates a Server. A nil logger discards log lines.
func New(cfg Config, logger *logrus.Logger) (*Server, error) {
	if cfg.FailRatio < 0 || cfg.FailRatio > 1 || math.IsNaN(cfg.FailRatio) {
		return nil, fmt.Errorf("fail ratio must be between 0 and 1, got %v", cfg.FailRatio)
	}
	if cfg.Latency < 0 {
		return nil, fmt.Errorf("latency cannot be negative")
	}
	if cfg.MaxWords <= 0 {
		cfg.MaxWords = DefaultMaxWords
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.PanicLevel)
	}
	return &Server{cfg: cfg, logger: logger}, nil
}

// Handler returns the HTTP routes of the target.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, messageResponse{Message: "Hello World"})
	})

	mux.HandleFunc("POST /summarize/{$}", s.handleSummarize)

	return s.logRequests(mux)
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully.
// If ready is non-nil it receives the bound address once listening.
func (s *Server) ListenAndServe(ctx context.Context, ready chan<- string) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30*time.Second + s.cfg.Latency,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("Starting target on %v...", ln.Addr())
		errCh <- srv.Serve(ln)
	}()
	if ready != nil {
		ready <- ln.Addr().String()
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("target shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"summarized": s.summarized.Load(),
		"rejected":   s.rejected.Load(),
	}).Info("Target stopped")
	return nil
}

// Summarized returns how many summaries were served.
func (s *Server) Summarized() int64 {
	return s.summarized.Load()
}

// Rejected returns how many summarize requests got an injected 503.
func (s *Server) Rejected() int64 {
	return s.rejected.Load()
}

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	var req summarizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Detail: "invalid JSON body"})
		return
	}
	if req.Text == nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Detail: "field required: text"})
		return
	}

	if s.cfg.Latency > 0 {
		timer := time.NewTimer(s.cfg.Latency)
		select {
		case <-timer.C:
		case <-r.Context().Done():
			timer.Stop()
			return
		}
	}

	if s.shouldReject() {
		s.rejected.Add(1)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Detail: "model overloaded"})
		return
	}

	s.summarized.Add(1)
	writeJSON(w, http.StatusOK, summarizeResponse{Summary: Summarize(*req.Text, s.cfg.MaxWords)})
}

// shouldReject spreads rejections evenly: request n is rejected when the
// running total of FailRatio crosses an integer, so exactly
// floor(n*FailRatio) of the first n requests fail.
func (s *Server) shouldReject() bool {
	if s.cfg.FailRatio <= 0 {
		return false
	}
	n := float64(s.seq.Add(1) - 1)
	return math.Floor((n+1)*s.cfg.FailRatio) > math.Floor(n*s.cfg.FailRatio)
}

// Summarize returns the first maxWords whitespace-separated words of text.
func Summarize(text string, maxWords int) string {
	words := strings.Fields(text)
	if len(words) > maxWords {
		words = words[:maxWords]
	}
	return strings.Join(words, " ")
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start),
		}).Debug("request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}
