// Package executor decides when virtual users start and stop.
package executor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/pummel/internal/loadgen"
	"github.com/wesleyorama2/pummel/internal/loadgen/metrics"
)

// Type identifies the type of executor.
type Type string

const (
	// TypeConstantVUs starts every VU at once and keeps them for the duration.
	TypeConstantVUs Type = "constant-vus"

	// TypeRampingVUs ramps the VU count linearly between stage targets.
	TypeRampingVUs Type = "ramping-vus"
)

// Executor controls the VU pool of one run.
//
// Run returns only after every VU it started has stopped. No new iteration
// starts after the configured duration; requests still in flight get the
// grace period and are then canceled.
type Executor interface {
	// Type returns the executor type.
	Type() Type

	// Init validates and stores the configuration. Called once before Run.
	Init(config *Config) error

	// Run starts VUs through the scheduler and blocks until all have stopped.
	Run(ctx context.Context, scheduler *loadgen.Scheduler, metrics *metrics.Engine) error

	// GetProgress returns current progress (0.0 to 1.0).
	GetProgress() float64

	// GetActiveVUs returns the VU count the executor currently targets.
	GetActiveVUs() int

	// GetStats returns executor-specific statistics.
	GetStats() *Stats
}

// Config contains configuration for an executor.
type Config struct {
	Type Type `json:"type"`

	// VUs and Duration drive constant-vus
	VUs      int           `json:"vus,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`

	// Stages drive ramping-vus
	Stages []Stage `json:"stages,omitempty"`

	// GracePeriod bounds in-flight requests after the duration ends
	GracePeriod time.Duration `json:"gracePeriod,omitempty"`
}

// Stage defines a stage in ramping executors.
type Stage struct {
	// Duration of this stage
	Duration time.Duration `json:"duration"`

	// Target VU count reached at the end of the stage
	Target int `json:"target"`

	// Optional name for this stage (for reporting)
	Name string `json:"name,omitempty"`
}

// Stats contains real-time executor statistics.
type Stats struct {
	StartTime     time.Time     `json:"startTime"`
	Elapsed       time.Duration `json:"elapsed"`
	TotalDuration time.Duration `json:"totalDuration"`

	ActiveVUs int `json:"activeVUs"`
	TargetVUs int `json:"targetVUs"`

	// Stage info (for ramping executors)
	CurrentStage     int    `json:"currentStage"`
	CurrentStageName string `json:"currentStageName,omitempty"`
	TotalStages      int    `json:"totalStages,omitempty"`
}

// Validate validates the executor configuration.
func (c *Config) Validate() error {
	if c.GracePeriod < 0 {
		return &ValidationError{Field: "gracePeriod", Message: "gracePeriod cannot be negative"}
	}

	switch c.Type {
	case TypeConstantVUs:
		if c.VUs <= 0 {
			return &ValidationError{Field: "vus", Message: "vus must be > 0"}
		}
		if c.Duration <= 0 {
			return &ValidationError{Field: "duration", Message: "duration must be > 0"}
		}

	case TypeRampingVUs:
		if len(c.Stages) == 0 {
			return &ValidationError{Field: "stages", Message: "at least one stage is required"}
		}
		for _, stage := range c.Stages {
			if stage.Duration <= 0 {
				return &ValidationError{Field: "stages", Message: "stage duration must be > 0"}
			}
			if stage.Target < 0 {
				return &ValidationError{Field: "stages", Message: "stage target cannot be negative"}
			}
		}

	case "":
		return &ValidationError{Field: "type", Message: "executor type is required"}

	default:
		return &ValidationError{Field: "type", Message: "unknown executor type: " + string(c.Type)}
	}

	return nil
}

// TotalDuration is the nominal run length, excluding the grace period.
func (c *Config) TotalDuration() time.Duration {
	switch c.Type {
	case TypeRampingVUs:
		var total time.Duration
		for _, stage := range c.Stages {
			total += stage.Duration
		}
		return total
	default:
		return c.Duration
	}
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error on field '" + e.Field + "': " + e.Message
}

// deadlines derives the soft and hard deadline contexts of a run starting at
// start: runCtx ends new iterations, reqCtx cancels in-flight requests.
//
// Canceling ctx ends runCtx at once but gives in-flight requests the same
// grace period as reaching the deadline.
func deadlines(ctx context.Context, start time.Time, duration, grace time.Duration) (runCtx, reqCtx context.Context, cancel func()) {
	runCtx, cancelRun := context.WithDeadline(ctx, start.Add(duration))
	reqCtx, cancelReq := context.WithDeadline(context.WithoutCancel(ctx), start.Add(duration+grace))

	var graceTimer atomic.Pointer[time.Timer]
	stopWatch := context.AfterFunc(ctx, func() {
		graceTimer.Store(time.AfterFunc(grace, cancelReq))
	})

	return runCtx, reqCtx, func() {
		stopWatch()
		if t := graceTimer.Load(); t != nil {
			t.Stop()
		}
		cancelRun()
		cancelReq()
	}
}

// progress returns elapsed/total clamped to [0, 1].
func progress(start time.Time, running bool, total time.Duration) float64 {
	if !running {
		if start.IsZero() {
			return 0.0
		}
		return 1.0
	}
	if total <= 0 {
		return 1.0
	}

	p := float64(time.Since(start)) / float64(total)
	if p > 1.0 {
		p = 1.0
	}
	return p
}
