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

// controllerInterval is how often RampingVUs re-evaluates its target.
const controllerInterval = 100 * time.Millisecond

// RampingVUs ramps VU count up and down according to stages.
//
// The target is linearly interpolated between the previous stage target
// (0 for the first stage) and the current stage target. Removed VUs finish
// their in-flight request and stop without sleeping.
//
//	stages:
//	  - duration: 30s
//	    target: 10     # Ramp from 0 to 10 VUs over 30s
//	  - duration: 2m
//	    target: 10     # Stay at 10 VUs for 2 minutes
//	  - duration: 30s
//	    target: 0      # Ramp down to 0 VUs over 30s
type RampingVUs struct {
	config *Config

	mu        sync.RWMutex
	startTime time.Time

	activeVUs    atomic.Int32
	targetVUs    atomic.Int32
	currentStage atomic.Int32
	running      atomic.Bool

	// VUs currently counted as active, oldest first
	vus []*loadgen.VirtualUser
}

// NewRampingVUs creates a new ramping VUs executor.
func NewRampingVUs() *RampingVUs {
	return &RampingVUs{}
}

// Type returns the executor type.
func (e *RampingVUs) Type() Type {
	return TypeRampingVUs
}

// Init initializes the executor with configuration.
func (e *RampingVUs) Init(config *Config) error {
	if config.Type != TypeRampingVUs {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeRampingVUs, config.Type)
	}
	if err := config.Validate(); err != nil {
		return err
	}

	e.config = config
	return nil
}

// Run drives the VU count through the stages and waits for every VU to stop.
func (e *RampingVUs) Run(ctx context.Context, scheduler *loadgen.Scheduler, metricsEngine *metrics.Engine) error {
	if e.config == nil {
		return fmt.Errorf("executor not initialized")
	}

	start := time.Now()
	e.mu.Lock()
	e.startTime = start
	e.mu.Unlock()
	e.running.Store(true)
	defer e.running.Store(false)

	runCtx, reqCtx, cancel := deadlines(ctx, start, e.config.TotalDuration(), e.config.GracePeriod)
	defer cancel()

	// Adjust VUs every tick for smooth ramping
	ticker := time.NewTicker(controllerInterval)
	defer ticker.Stop()

	e.tick(scheduler, metricsEngine, runCtx, reqCtx, 0)
	for done := false; !done; {
		select {
		case <-runCtx.Done():
			done = true
		case <-ticker.C:
			e.tick(scheduler, metricsEngine, runCtx, reqCtx, time.Since(start))
		}
	}

	metricsEngine.SetPhase(metrics.PhaseDraining)
	scheduler.Wait()
	e.activeVUs.Store(0)

	return nil
}

func (e *RampingVUs) tick(scheduler *loadgen.Scheduler, metricsEngine *metrics.Engine, runCtx, reqCtx context.Context, elapsed time.Duration) {
	target := e.calculateTargetVUs(elapsed)
	e.targetVUs.Store(int32(target))
	e.adjustVUs(scheduler, runCtx, reqCtx, target)
	metricsEngine.SetPhase(e.phase())
}

// calculateTargetVUs calculates the target VU count at elapsed.
func (e *RampingVUs) calculateTargetVUs(elapsed time.Duration) int {
	var stageStart time.Duration
	prevTarget := 0

	for i, stage := range e.config.Stages {
		stageEnd := stageStart + stage.Duration

		if elapsed < stageEnd {
			e.currentStage.Store(int32(i))

			stageProgress := float64(elapsed-stageStart) / float64(stage.Duration)
			if stageProgress < 0 {
				stageProgress = 0
			}

			targetVUs := float64(prevTarget) + float64(stage.Target-prevTarget)*stageProgress
			return int(targetVUs + 0.5) // Round to nearest
		}

		prevTarget = stage.Target
		stageStart = stageEnd
	}

	// Past all stages - hold the last target until the run context ends
	if len(e.config.Stages) > 0 {
		e.currentStage.Store(int32(len(e.config.Stages) - 1))
		return e.config.Stages[len(e.config.Stages)-1].Target
	}
	return 0
}

// adjustVUs spawns or stops VUs to match target. Only the Run goroutine
// touches e.vus.
func (e *RampingVUs) adjustVUs(scheduler *loadgen.Scheduler, runCtx, reqCtx context.Context, target int) {
	current := len(e.vus)

	if target > current {
		for i := current; i < target; i++ {
			vu := scheduler.SpawnVU()
			e.vus = append(e.vus, vu)
			scheduler.Start(vu, runCtx, reqCtx)
		}
	} else if target < current {
		// Stop excess VUs (newest first)
		for i := current - 1; i >= target; i-- {
			scheduler.StopVU(e.vus[i].ID)
		}
		e.vus = e.vus[:target]
	}

	e.activeVUs.Store(int32(len(e.vus)))
}

// phase classifies the current stage.
func (e *RampingVUs) phase() metrics.Phase {
	idx := int(e.currentStage.Load())
	stage := e.config.Stages[idx]

	prevTarget := 0
	if idx > 0 {
		prevTarget = e.config.Stages[idx-1].Target
	}

	switch {
	case stage.Target > prevTarget:
		return metrics.PhaseRampUp
	case stage.Target < prevTarget:
		return metrics.PhaseRampDown
	default:
		return metrics.PhaseSteady
	}
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *RampingVUs) GetProgress() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return progress(e.startTime, e.running.Load(), e.config.TotalDuration())
}

// GetActiveVUs returns current active VU count.
func (e *RampingVUs) GetActiveVUs() int {
	return int(e.activeVUs.Load())
}

// GetStats returns executor statistics.
func (e *RampingVUs) GetStats() *Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var elapsed time.Duration
	if !e.startTime.IsZero() {
		elapsed = time.Since(e.startTime)
	}

	stageIdx := int(e.currentStage.Load())
	stageName := ""
	if stageIdx < len(e.config.Stages) {
		stageName = e.config.Stages[stageIdx].Name
	}

	return &Stats{
		StartTime:        e.startTime,
		Elapsed:          elapsed,
		TotalDuration:    e.config.TotalDuration(),
		ActiveVUs:        int(e.activeVUs.Load()),
		TargetVUs:        int(e.targetVUs.Load()),
		CurrentStage:     stageIdx,
		CurrentStageName: stageName,
		TotalStages:      len(e.config.Stages),
	}
}

var _ Executor = (*RampingVUs)(nil)
