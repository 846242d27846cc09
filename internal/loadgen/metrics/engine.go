// Package metrics records request latencies and run-level gauges.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Phase is the lifecycle phase of a run.
type Phase string

const (
	PhaseInit     Phase = "init"
	PhaseRampUp   Phase = "ramp-up"
	PhaseSteady   Phase = "steady"
	PhaseRampDown Phase = "ramp-down"
	PhaseDraining Phase = "draining"
	PhaseDone     Phase = "done"
)

// Engine collects latency and throughput metrics using an HDR histogram.
//
// # Thread Safety
//
// Engine is safe for concurrent use. Counters use atomic operations and the
// histogram is guarded by a mutex, since HDR histograms are not thread-safe.
type Engine struct {
	// Range: 1 microsecond to 1 hour, 3 significant figures
	latencyHist   *hdrhistogram.Histogram
	latencyHistMu sync.Mutex

	totalRequests   atomic.Int64
	successRequests atomic.Int64
	failedRequests  atomic.Int64
	totalBytes      atomic.Int64

	activeVUs atomic.Int32
	peakVUs   atomic.Int32

	currentPhase Phase
	phaseMu      sync.RWMutex
	phaseHistory []PhaseChange

	startTime time.Time
	endTime   time.Time
	timeMu    sync.RWMutex

	config EngineConfig
}

// EngineConfig contains configuration for the metrics engine.
type EngineConfig struct {
	// HistogramMin is the minimum recordable value in microseconds (default: 1)
	HistogramMin int64

	// HistogramMax is the maximum recordable value in microseconds (default: 1 hour)
	HistogramMax int64

	// HistogramSigFigs is the number of significant figures (default: 3)
	HistogramSigFigs int
}

// DefaultEngineConfig returns the default configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		HistogramMin:     1,
		HistogramMax:     3600000000,
		HistogramSigFigs: 3,
	}
}

// PhaseChange records when a phase transition occurred.
type PhaseChange struct {
	Phase     Phase     `json:"phase"`
	Timestamp time.Time `json:"timestamp"`
	Requests  int64     `json:"requests"`
}

// NewEngine creates a metrics engine with the default configuration.
func NewEngine() *Engine {
	return NewEngineWithConfig(DefaultEngineConfig())
}

// NewEngineWithConfig creates a metrics engine with a custom configuration.
func NewEngineWithConfig(config EngineConfig) *Engine {
	return &Engine{
		latencyHist:  hdrhistogram.New(config.HistogramMin, config.HistogramMax, config.HistogramSigFigs),
		currentPhase: PhaseInit,
		startTime:    time.Now(),
		config:       config,
	}
}

// Start resets the clock used for throughput.
func (e *Engine) Start() {
	e.timeMu.Lock()
	e.startTime = time.Now()
	e.endTime = time.Time{}
	e.timeMu.Unlock()
}

// Stop freezes the clock used for throughput.
func (e *Engine) Stop() {
	e.timeMu.Lock()
	if e.endTime.IsZero() {
		e.endTime = time.Now()
	}
	e.timeMu.Unlock()
	e.SetPhase(PhaseDone)
}

// RecordLatency records a request that produced a response.
func (e *Engine) RecordLatency(duration time.Duration, success bool, bytes int64) {
	latencyMicros := duration.Microseconds()
	if latencyMicros < e.config.HistogramMin {
		latencyMicros = e.config.HistogramMin
	}
	if latencyMicros > e.config.HistogramMax {
		latencyMicros = e.config.HistogramMax
	}

	e.latencyHistMu.Lock()
	// Clamped above, so RecordValue cannot fail.
	_ = e.latencyHist.RecordValue(latencyMicros)
	e.latencyHistMu.Unlock()

	e.totalRequests.Add(1)
	e.totalBytes.Add(bytes)
	if success {
		e.successRequests.Add(1)
	} else {
		e.failedRequests.Add(1)
	}
}

// RecordFailure records a request that produced no response. It is counted
// but kept out of the latency distribution.
func (e *Engine) RecordFailure() {
	e.totalRequests.Add(1)
	e.failedRequests.Add(1)
}

// SetPhase updates the current run phase.
func (e *Engine) SetPhase(phase Phase) {
	e.phaseMu.Lock()
	defer e.phaseMu.Unlock()

	if e.currentPhase == phase {
		return
	}

	e.currentPhase = phase
	e.phaseHistory = append(e.phaseHistory, PhaseChange{
		Phase:     phase,
		Timestamp: time.Now(),
		Requests:  e.totalRequests.Load(),
	})
}

// GetPhase returns the current run phase.
func (e *Engine) GetPhase() Phase {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()
	return e.currentPhase
}

// GetPhaseHistory returns the history of phase changes.
func (e *Engine) GetPhaseHistory() []PhaseChange {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()

	result := make([]PhaseChange, len(e.phaseHistory))
	copy(result, e.phaseHistory)
	return result
}

// AddActiveVUs adjusts the active VU gauge by delta.
func (e *Engine) AddActiveVUs(delta int) {
	n := e.activeVUs.Add(int32(delta))
	for {
		peak := e.peakVUs.Load()
		if n <= peak || e.peakVUs.CompareAndSwap(peak, n) {
			return
		}
	}
}

// GetActiveVUs returns the current active VU count.
func (e *Engine) GetActiveVUs() int {
	return int(e.activeVUs.Load())
}

// GetLatencyStats returns the latency distribution recorded so far.
func (e *Engine) GetLatencyStats() LatencyStats {
	e.latencyHistMu.Lock()
	defer e.latencyHistMu.Unlock()

	return LatencyStats{
		Min:    time.Duration(e.latencyHist.Min()) * time.Microsecond,
		Max:    time.Duration(e.latencyHist.Max()) * time.Microsecond,
		Mean:   time.Duration(e.latencyHist.Mean()) * time.Microsecond,
		StdDev: time.Duration(e.latencyHist.StdDev()) * time.Microsecond,
		P50:    time.Duration(e.latencyHist.ValueAtQuantile(50)) * time.Microsecond,
		P90:    time.Duration(e.latencyHist.ValueAtQuantile(90)) * time.Microsecond,
		P95:    time.Duration(e.latencyHist.ValueAtQuantile(95)) * time.Microsecond,
		P99:    time.Duration(e.latencyHist.ValueAtQuantile(99)) * time.Microsecond,
		Count:  e.latencyHist.TotalCount(),
	}
}

// GetSnapshot returns a point-in-time view of all metrics.
func (e *Engine) GetSnapshot() *Snapshot {
	latency := e.GetLatencyStats()

	e.timeMu.RLock()
	start, end := e.startTime, e.endTime
	e.timeMu.RUnlock()
	if end.IsZero() {
		end = time.Now()
	}
	elapsed := end.Sub(start)

	totalReqs := e.totalRequests.Load()
	failedReqs := e.failedRequests.Load()

	rps := 0.0
	if elapsed.Seconds() > 0 {
		rps = float64(totalReqs) / elapsed.Seconds()
	}

	errorRate := 0.0
	if totalReqs > 0 {
		errorRate = float64(failedReqs) / float64(totalReqs)
	}

	return &Snapshot{
		TotalRequests:   totalReqs,
		SuccessRequests: e.successRequests.Load(),
		FailedRequests:  failedReqs,
		TotalBytes:      e.totalBytes.Load(),
		Latency:         latency,
		RPS:             rps,
		ErrorRate:       errorRate,
		ActiveVUs:       e.GetActiveVUs(),
		PeakVUs:         int(e.peakVUs.Load()),
		CurrentPhase:    e.GetPhase(),
		Elapsed:         elapsed,
		StartTime:       start,
		Timestamp:       time.Now(),
	}
}

// Snapshot contains a point-in-time view of all metrics.
type Snapshot struct {
	TotalRequests   int64         `json:"totalRequests"`
	SuccessRequests int64         `json:"successRequests"`
	FailedRequests  int64         `json:"failedRequests"`
	TotalBytes      int64         `json:"totalBytes"`
	Latency         LatencyStats  `json:"latency"`
	RPS             float64       `json:"rps"`
	ErrorRate       float64       `json:"errorRate"`
	ActiveVUs       int           `json:"activeVUs"`
	PeakVUs         int           `json:"peakVUs"`
	CurrentPhase    Phase         `json:"currentPhase"`
	Elapsed         time.Duration `json:"elapsed"`
	StartTime       time.Time     `json:"startTime"`
	Timestamp       time.Time     `json:"timestamp"`
}

// LatencyStats contains latency statistics.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Count  int64         `json:"count"`
}
