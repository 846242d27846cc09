// Package engine runs a load test from a RunConfig to a final Report.
package engine

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/wesleyorama2/pummel/internal/loadgen"
	"github.com/wesleyorama2/pummel/internal/loadgen/check"
	"github.com/wesleyorama2/pummel/internal/loadgen/config"
	"github.com/wesleyorama2/pummel/internal/loadgen/executor"
	"github.com/wesleyorama2/pummel/internal/loadgen/invoker"
	"github.com/wesleyorama2/pummel/internal/loadgen/metrics"
)

// DefaultPreflightTimeout bounds the reachability probe.
const DefaultPreflightTimeout = 5 * time.Second

// DefaultProgressInterval is how often a running engine logs its progress.
const DefaultProgressInterval = 5 * time.Second

// shutdownTimeout bounds the final scheduler shutdown. Every VU has already
// stopped by then; it only releases idle connections.
const shutdownTimeout = 5 * time.Second

// Engine is the orchestrator of a single load run.
//
// It coordinates:
//   - Configuration validation and defaults
//   - The reachability probe run before any VU starts
//   - The executor that owns the VU pool
//   - Shutdown accounting across the scheduler and the check aggregator
//
// Example usage:
//
//	cfg, _ := config.LoadConfig("summarize.yaml")
//	eng, _ := engine.NewEngine(cfg)
//	report, _ := eng.Run(context.Background())
//	fmt.Printf("%d requests\n", report.Summary.Total)
type Engine struct {
	config     *config.RunConfig
	scenario   *loadgen.Scenario
	httpConfig loadgen.HTTPClientConfig

	registry         *check.Registry
	logger           *logrus.Logger
	seed             *int64
	preflightTimeout time.Duration
	progressInterval time.Duration

	mu            sync.RWMutex
	running       bool
	executor      executor.Executor
	metricsEngine *metrics.Engine
}

// Report is the outcome of a completed run.
type Report struct {
	RunID       string    `json:"runId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Target      string    `json:"target"`
	Executor    string    `json:"executor"`
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`

	// Duration is the measured wall-clock span, grace period included
	Duration time.Duration `json:"duration"`

	// VUs is the peak configured concurrency
	VUs int `json:"vus"`

	// Spawned counts VUs started over the run; ramping runs may exceed VUs
	Spawned int64 `json:"spawned"`

	// Iterations holds the completed iteration count per VU ID
	Iterations map[int]int64 `json:"iterations"`

	Summary check.Summary         `json:"summary"`
	Metrics *metrics.Snapshot     `json:"metrics"`
	Phases  []metrics.PhaseChange `json:"phases,omitempty"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger for run lifecycle lines.
func WithLogger(logger *logrus.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithRegistry builds checks from a custom registry instead of the default one.
func WithRegistry(registry *check.Registry) Option {
	return func(e *Engine) {
		if registry != nil {
			e.registry = registry
		}
	}
}

// WithSeed fixes the seed of the VU random sources.
func WithSeed(seed int64) Option {
	return func(e *Engine) {
		e.seed = &seed
	}
}

// WithProgressInterval overrides DefaultProgressInterval.
func WithProgressInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.progressInterval = d
		}
	}
}

// WithPreflightTimeout overrides DefaultPreflightTimeout.
func WithPreflightTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.preflightTimeout = d
		}
	}
}

// NewEngine validates cfg and prepares a run. The engine works on a private
// copy of cfg. Every error returned is a *config.ConfigError.
func NewEngine(cfg *config.RunConfig, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, config.NewConfigError(fmt.Errorf("no configuration"))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		config:           cfg.Clone(),
		registry:         check.DefaultRegistry(),
		logger:           discardLogger(),
		preflightTimeout: DefaultPreflightTimeout,
		progressInterval: DefaultProgressInterval,
	}
	for _, opt := range opts {
		opt(e)
	}

	config.ApplyDefaults(e.config)

	scenario, err := e.createScenario()
	if err != nil {
		return nil, config.NewConfigError(err)
	}
	e.scenario = scenario

	e.httpConfig = loadgen.DefaultHTTPClientConfig()
	e.httpConfig.Timeout = time.Duration(e.config.Timeout)
	e.httpConfig.InsecureSkipVerify = e.config.InsecureSkipVerify
	if peak := e.config.PeakVUs(); peak > e.httpConfig.MaxIdleConnsPerHost {
		e.httpConfig.MaxIdleConnsPerHost = peak
	}

	return e, nil
}

// createScenario turns the configured target, checks and pacing into the
// scenario every VU executes.
func (e *Engine) createScenario() (*loadgen.Scenario, error) {
	checks, err := e.registry.Build(e.config.Checks)
	if err != nil {
		return nil, err
	}

	body, err := invoker.ParseBody(e.config.Target.Body)
	if err != nil {
		return nil, err
	}

	scenario := &loadgen.Scenario{
		Request: invoker.Request{
			Method:  e.config.Target.Method,
			URL:     e.config.Target.URL,
			Headers: e.config.Target.Headers,
		},
		Checks: checks,
	}
	if e.config.Target.Body != "" {
		scenario.Body = body
	}

	if p := e.config.Pacing; p != nil {
		scenario.Pacing = loadgen.Pacing{
			Type:     loadgen.PacingType(p.Type),
			Duration: time.Duration(p.Duration),
			Min:      time.Duration(p.Min),
			Max:      time.Duration(p.Max),
		}
	}

	return scenario, nil
}

// Run executes the load run and blocks until every VU has stopped.
//
// A *config.ConfigError is returned before any VU starts when the target is
// unreachable. A *check.AggregationError is returned, together with the
// report, when the shutdown accounting does not add up. Failed requests and
// failed checks are never errors.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, fmt.Errorf("engine is already running")
	}
	e.running = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	runID := uuid.NewString()
	log := e.logger.WithFields(logrus.Fields{
		"run":      runID,
		"name":     e.config.Name,
		"vus":      e.config.PeakVUs(),
		"duration": e.config.TotalDuration(),
	})

	if !e.config.SkipPreflight {
		if err := Preflight(ctx, e.config.Target.URL, e.preflightTimeout); err != nil {
			log.WithError(err).Error("target unreachable")
			return nil, err
		}
	}

	exec, _, err := executor.FromRunConfig(e.config)
	if err != nil {
		return nil, config.NewConfigError(err)
	}

	aggregator := check.NewAggregator(e.scenario.Checks...)
	metricsEngine := metrics.NewEngine()

	opts := []loadgen.SchedulerOption{
		loadgen.WithLogger(log),
		loadgen.WithRateLimit(e.config.MaxRPS),
	}
	if e.seed != nil {
		opts = append(opts, loadgen.WithSeed(*e.seed))
	}
	scheduler := loadgen.NewScheduler(e.scenario, aggregator, metricsEngine, e.httpConfig, opts...)

	e.mu.Lock()
	e.executor = exec
	e.metricsEngine = metricsEngine
	e.mu.Unlock()

	log.WithField("executor", exec.Type()).Info("run started")

	start := time.Now()
	metricsEngine.Start()
	stopProgress := e.logProgress(log, scheduler, metricsEngine)
	runErr := exec.Run(ctx, scheduler, metricsEngine)
	stopProgress()
	metricsEngine.Stop()
	end := time.Now()

	scheduler.Shutdown(shutdownTimeout)

	summary := aggregator.Summary()
	report := &Report{
		RunID:       runID,
		Name:        e.config.Name,
		Description: e.config.Description,
		Target:      e.scenario.Request.String(),
		Executor:    string(exec.Type()),
		StartTime:   start,
		EndTime:     end,
		Duration:    end.Sub(start),
		VUs:         e.config.PeakVUs(),
		Spawned:     scheduler.Spawned(),
		Iterations:  scheduler.Iterations(),
		Summary:     summary,
		Metrics:     metricsEngine.GetSnapshot(),
		Phases:      metricsEngine.GetPhaseHistory(),
	}

	if runErr != nil {
		return report, fmt.Errorf("executor failed: %w", runErr)
	}

	if err := verify(scheduler, &summary); err != nil {
		log.WithError(err).Error("accounting mismatch")
		return report, err
	}

	log.WithFields(logrus.Fields{
		"requests": summary.Total,
		"failed":   summary.Failed,
		"elapsed":  report.Duration.Round(time.Millisecond),
	}).Info("run finished")

	return report, nil
}

// logProgress logs progress, active VUs and request counts every
// progressInterval until the returned stop function is called.
func (e *Engine) logProgress(log *logrus.Entry, scheduler *loadgen.Scheduler, metricsEngine *metrics.Engine) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		ticker := time.NewTicker(e.progressInterval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				snap := metricsEngine.GetSnapshot()
				log.WithFields(logrus.Fields{
					"progress":  fmt.Sprintf("%.0f%%", e.GetProgress()*100),
					"activeVUs": scheduler.GetActiveVUCount(),
					"requests":  snap.TotalRequests,
					"failed":    snap.FailedRequests,
					"phase":     snap.CurrentPhase,
				}).Info("progress")
			}
		}
	}()

	return func() {
		close(done)
		<-stopped
	}
}

// verify checks the shutdown accounting: every spawned VU stopped and the
// per-VU iteration counts add up to the aggregator's total.
func verify(scheduler *loadgen.Scheduler, summary *check.Summary) error {
	if spawned, stopped := scheduler.Spawned(), scheduler.Stopped(); spawned != stopped {
		return &check.AggregationError{Msg: fmt.Sprintf("%d VUs spawned but %d stopped", spawned, stopped)}
	}
	if iterations := scheduler.TotalIterations(); iterations != summary.Total {
		return &check.AggregationError{Msg: fmt.Sprintf("VUs completed %d iterations but %d were recorded", iterations, summary.Total)}
	}
	return summary.Verify()
}

// Preflight dials the host of rawURL once. An unreachable target is a
// *config.ConfigError.
func Preflight(ctx context.Context, rawURL string, timeout time.Duration) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return config.NewConfigError(fmt.Errorf("invalid target url: %w", err))
	}

	host := u.Host
	if u.Port() == "" {
		port := "80"
		if u.Scheme == "https" {
			port = "443"
		}
		host = net.JoinHostPort(u.Hostname(), port)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		return config.NewConfigError(fmt.Errorf("target %s unreachable: %w", host, err))
	}
	return conn.Close()
}

// Config returns the effective configuration, defaults applied.
func (e *Engine) Config() *config.RunConfig {
	return e.config
}

// IsRunning returns true if the engine is currently running.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// GetProgress returns the run progress (0.0 to 1.0).
func (e *Engine) GetProgress() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.executor == nil {
		return 0
	}
	return e.executor.GetProgress()
}

// GetMetrics returns the current metrics snapshot, or nil before Run.
func (e *Engine) GetMetrics() *metrics.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.metricsEngine == nil {
		return nil
	}
	return e.metricsEngine.GetSnapshot()
}

func discardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
