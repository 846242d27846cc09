package loadgen

import (
	"context"
	"crypto/tls"
	"io"
	"math/rand"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/wesleyorama2/pummel/internal/loadgen/check"
	"github.com/wesleyorama2/pummel/internal/loadgen/invoker"
	"github.com/wesleyorama2/pummel/internal/loadgen/metrics"
)

// Scheduler owns the VU pool of a run.
//
// It provides:
// - VU spawning with goroutine-per-VU execution
// - A shared HTTP client (connection pooling across VUs)
// - Shutdown accounting: every spawned VU is counted when it stops
//
// Executors decide when VUs are spawned and stopped.
type Scheduler struct {
	scenario   *Scenario
	aggregator *check.Aggregator
	metrics    *metrics.Engine
	limiter    *rate.Limiter
	logger     *logrus.Entry
	seed       int64

	httpClientConfig HTTPClientConfig
	client           *http.Client
	invoker          *invoker.Invoker

	vus   map[int]*VirtualUser
	vusMu sync.RWMutex

	nextVUID atomic.Int32
	spawned  atomic.Int64
	stopped  atomic.Int64

	wg sync.WaitGroup
}

// HTTPClientConfig contains HTTP client configuration.
type HTTPClientConfig struct {
	// Timeout for each request, enforced through the request context
	Timeout time.Duration

	// MaxIdleConns controls the maximum number of idle connections
	MaxIdleConns int

	// MaxIdleConnsPerHost controls the maximum idle connections per host
	MaxIdleConnsPerHost int

	// IdleConnTimeout is how long idle connections are kept alive
	IdleConnTimeout time.Duration

	// DisableKeepAlives disables HTTP keep-alives
	DisableKeepAlives bool

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool

	// MaxBodyBytes bounds how much of each response body is read
	MaxBodyBytes int64
}

// DefaultHTTPClientConfig returns sensible defaults for load testing.
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		Timeout:             30 * time.Second,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
		MaxBodyBytes:        invoker.DefaultMaxBodyBytes,
	}
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithRateLimit caps the request rate across all VUs. Zero or less disables
// the limit.
func WithRateLimit(rps float64) SchedulerOption {
	return func(s *Scheduler) {
		if rps <= 0 {
			s.limiter = nil
			return
		}
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithLogger sets the logger used for VU lifecycle lines.
func WithLogger(logger *logrus.Entry) SchedulerOption {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSeed seeds the per-VU random sources used for random pacing.
func WithSeed(seed int64) SchedulerOption {
	return func(s *Scheduler) {
		s.seed = seed
	}
}

// NewScheduler creates a scheduler. agg and metricsEngine are shared by every
// VU it spawns.
func NewScheduler(scenario *Scenario, agg *check.Aggregator, metricsEngine *metrics.Engine, httpConfig HTTPClientConfig, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		scenario:         scenario,
		aggregator:       agg,
		metrics:          metricsEngine,
		logger:           logrus.NewEntry(discardLogger()),
		seed:             time.Now().UnixNano(),
		httpClientConfig: httpConfig,
		vus:              make(map[int]*VirtualUser),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.client = s.createHTTPClient()
	s.invoker = invoker.New(s.client,
		invoker.WithTimeout(httpConfig.Timeout),
		invoker.WithMaxBodyBytes(httpConfig.MaxBodyBytes),
	)
	return s
}

// createHTTPClient creates the shared HTTP client. It has no client-level
// timeout; deadlines come from request contexts so they classify as timeouts.
func (s *Scheduler) createHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        s.httpClientConfig.MaxIdleConns,
		MaxIdleConnsPerHost: s.httpClientConfig.MaxIdleConnsPerHost,
		IdleConnTimeout:     s.httpClientConfig.IdleConnTimeout,
		DisableKeepAlives:   s.httpClientConfig.DisableKeepAlives,
	}
	if s.httpClientConfig.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for self-signed targets
	}

	return &http.Client{Transport: transport}
}

// SpawnVU creates and registers a new Virtual User. The VU does not run
// until Start is called.
func (s *Scheduler) SpawnVU() *VirtualUser {
	id := int(s.nextVUID.Add(1))

	vu := &VirtualUser{
		ID:         id,
		scenario:   s.scenario,
		invoker:    s.invoker,
		aggregator: s.aggregator,
		metrics:    s.metrics,
		limiter:    s.limiter,
		logger:     s.logger,
		rng:        rand.New(rand.NewSource(s.seed + int64(id))),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}

	s.vusMu.Lock()
	s.vus[id] = vu
	s.vusMu.Unlock()
	s.spawned.Add(1)

	return vu
}

// Start runs vu in its own goroutine. See VirtualUser.Run for the meaning of
// the two contexts. Start must be called exactly once per spawned VU.
func (s *Scheduler) Start(vu *VirtualUser, runCtx, reqCtx context.Context) {
	s.wg.Add(1)
	s.metrics.AddActiveVUs(1)
	go func() {
		defer s.wg.Done()
		defer s.metrics.AddActiveVUs(-1)
		vu.Run(runCtx, reqCtx)
		s.stopped.Add(1)
	}()
}

// GetVU returns a VU by ID, or nil if not found.
func (s *Scheduler) GetVU(id int) *VirtualUser {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()
	return s.vus[id]
}

// VUs returns every spawned VU ordered by ID.
func (s *Scheduler) VUs() []*VirtualUser {
	s.vusMu.RLock()
	result := make([]*VirtualUser, 0, len(s.vus))
	for _, vu := range s.vus {
		result = append(result, vu)
	}
	s.vusMu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// GetActiveVUCount returns the count of non-stopped VUs.
func (s *Scheduler) GetActiveVUCount() int {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	count := 0
	for _, vu := range s.vus {
		if vu.GetState() != VUStateStopped {
			count++
		}
	}
	return count
}

// StopVU requests a specific VU to stop.
func (s *Scheduler) StopVU(id int) {
	if vu := s.GetVU(id); vu != nil {
		vu.RequestStop()
	}
}

// StopAllVUs requests all VUs to stop.
func (s *Scheduler) StopAllVUs() {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	for _, vu := range s.vus {
		vu.RequestStop()
	}
}

// Wait blocks until every started VU has stopped.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// WaitForAllVUs waits for all started VUs to stop, giving up after timeout.
// It returns false on timeout.
func (s *Scheduler) WaitForAllVUs(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// Spawned returns how many VUs were spawned.
func (s *Scheduler) Spawned() int64 {
	return s.spawned.Load()
}

// Stopped returns how many VUs have reached VUStateStopped.
func (s *Scheduler) Stopped() int64 {
	return s.stopped.Load()
}

// Iterations returns the completed iteration count per VU ID.
func (s *Scheduler) Iterations() map[int]int64 {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	result := make(map[int]int64, len(s.vus))
	for id, vu := range s.vus {
		result[id] = vu.GetIteration()
	}
	return result
}

// TotalIterations sums Iterations.
func (s *Scheduler) TotalIterations() int64 {
	var total int64
	for _, n := range s.Iterations() {
		total += n
	}
	return total
}

// Shutdown stops every VU, waits up to timeout for them and releases idle
// connections. It returns false if some VU did not stop in time.
func (s *Scheduler) Shutdown(timeout time.Duration) bool {
	s.StopAllVUs()
	ok := s.WaitForAllVUs(timeout)
	s.client.CloseIdleConnections()
	return ok
}

func discardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
