package executor

import (
	"fmt"
	"time"

	"github.com/wesleyorama2/pummel/internal/loadgen/config"
)

// NewExecutor creates an uninitialized executor of the specified type.
func NewExecutor(executorType Type) (Executor, error) {
	switch executorType {
	case TypeConstantVUs:
		return NewConstantVUs(), nil
	case TypeRampingVUs:
		return NewRampingVUs(), nil
	default:
		return nil, fmt.Errorf("unknown executor type: %s", executorType)
	}
}

// CreateAndInitExecutor creates and initializes an executor with the given config.
func CreateAndInitExecutor(cfg *Config) (Executor, error) {
	exec, err := NewExecutor(cfg.Type)
	if err != nil {
		return nil, err
	}

	if err := exec.Init(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize executor: %w", err)
	}

	return exec, nil
}

// ConfigFromRun derives the executor configuration of a run. Runs with stages
// ramp; everything else starts all VUs at once.
func ConfigFromRun(rc *config.RunConfig) *Config {
	cfg := &Config{
		Type:        TypeConstantVUs,
		VUs:         rc.VUs,
		Duration:    time.Duration(rc.Duration),
		GracePeriod: rc.Grace(),
	}

	if len(rc.Stages) > 0 {
		cfg.Type = TypeRampingVUs
		cfg.Duration = 0
		for _, stage := range rc.Stages {
			cfg.Stages = append(cfg.Stages, Stage{
				Duration: time.Duration(stage.Duration),
				Target:   stage.Target,
				Name:     stage.Name,
			})
		}
	}

	return cfg
}

// FromRunConfig creates and initializes the executor for a run.
func FromRunConfig(rc *config.RunConfig) (Executor, *Config, error) {
	cfg := ConfigFromRun(rc)
	exec, err := CreateAndInitExecutor(cfg)
	if err != nil {
		return nil, nil, err
	}
	return exec, cfg, nil
}
