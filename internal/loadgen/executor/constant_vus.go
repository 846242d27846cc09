package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/pummel/internal/loadgen"
	"github.com/wesleyorama2/pummel/internal/loadgen/metrics"
)

// ConstantVUs runs a fixed number of VUs for a specified duration.
//
// All VUs start immediately (closed model, no ramp-up). Each VU loops until
// the duration expires, pacing itself between iterations.
type ConstantVUs struct {
	config *Config

	mu        sync.RWMutex
	startTime time.Time
	activeVUs atomic.Int32
	running   atomic.Bool
}

// NewConstantVUs creates a new constant VUs executor.
func NewConstantVUs() *ConstantVUs {
	return &ConstantVUs{}
}

// Type returns the executor type.
func (e *ConstantVUs) Type() Type {
	return TypeConstantVUs
}

// Init initializes the executor with configuration.
func (e *ConstantVUs) Init(config *Config) error {
	if config.Type != TypeConstantVUs {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeConstantVUs, config.Type)
	}
	if err := config.Validate(); err != nil {
		return err
	}

	e.config = config
	return nil
}

// Run spawns every VU, waits for the duration, then waits for the VUs to
// drain.
func (e *ConstantVUs) Run(ctx context.Context, scheduler *loadgen.Scheduler, metricsEngine *metrics.Engine) error {
	if e.config == nil {
		return fmt.Errorf("executor not initialized")
	}

	start := time.Now()
	e.mu.Lock()
	e.startTime = start
	e.mu.Unlock()
	e.running.Store(true)
	defer e.running.Store(false)

	runCtx, reqCtx, cancel := deadlines(ctx, start, e.config.Duration, e.config.GracePeriod)
	defer cancel()

	metricsEngine.SetPhase(metrics.PhaseSteady)

	for i := 0; i < e.config.VUs; i++ {
		scheduler.Start(scheduler.SpawnVU(), runCtx, reqCtx)
	}
	e.activeVUs.Store(int32(e.config.VUs))

	<-runCtx.Done()
	metricsEngine.SetPhase(metrics.PhaseDraining)

	scheduler.Wait()
	e.activeVUs.Store(0)

	return nil
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *ConstantVUs) GetProgress() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return progress(e.startTime, e.running.Load(), e.config.Duration)
}

// GetActiveVUs returns current active VU count.
func (e *ConstantVUs) GetActiveVUs() int {
	return int(e.activeVUs.Load())
}

// GetStats returns executor statistics.
func (e *ConstantVUs) GetStats() *Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var elapsed time.Duration
	if !e.startTime.IsZero() {
		elapsed = time.Since(e.startTime)
	}

	return &Stats{
		StartTime:     e.startTime,
		Elapsed:       elapsed,
		TotalDuration: e.config.Duration,
		ActiveVUs:     int(e.activeVUs.Load()),
		TargetVUs:     e.config.VUs,
	}
}

var _ Executor = (*ConstantVUs)(nil)
