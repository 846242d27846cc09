package check

import (
	"fmt"
	"sort"
	"sync"

	"github.com/wesleyorama2/pummel/internal/loadgen/config"
)

// Factory builds a Predicate from a check declaration.
type Factory func(cfg config.CheckConfig) (Predicate, error)

// Registry maps check type names to factories. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory under name. Registering a name twice is an error.
func (r *Registry) Register(name string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("check type %q is already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// Create builds the predicate for cfg.
func (r *Registry) Create(cfg config.CheckConfig) (Predicate, error) {
	r.mu.RLock()
	factory, exists := r.factories[cfg.Type]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown check type %q", cfg.Type)
	}
	return factory(cfg)
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for name := range r.factories {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}

// Build turns declarations into named checks, in order. The first failing
// declaration aborts the build.
func (r *Registry) Build(cfgs []config.CheckConfig) ([]Check, error) {
	checks := make([]Check, 0, len(cfgs))
	for i, cfg := range cfgs {
		pred, err := r.Create(cfg)
		if err != nil {
			return nil, fmt.Errorf("checks[%d] %q: %w", i, cfg.Name, err)
		}
		checks = append(checks, Check{Name: cfg.Name, Predicate: pred})
	}
	return checks, nil
}

// DefaultRegistry returns a registry with every built-in check type.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for name, factory := range builtins {
		// Names in builtins are unique.
		_ = r.Register(name, factory)
	}
	return r
}

var builtins = map[string]Factory{
	"status": func(cfg config.CheckConfig) (Predicate, error) {
		codes := cfg.Values
		if len(codes) == 0 && cfg.Value != "" {
			var err error
			if codes, err = parseStatusList(cfg.Value); err != nil {
				return nil, err
			}
		}
		if len(codes) == 0 {
			return nil, fmt.Errorf("status check needs at least one status code")
		}
		return StatusIn(codes...), nil
	},
	"body_contains": func(cfg config.CheckConfig) (Predicate, error) {
		if cfg.Value == "" {
			return nil, fmt.Errorf("body_contains check needs a value")
		}
		return BodyContains(cfg.Value), nil
	},
	"body_matches": func(cfg config.CheckConfig) (Predicate, error) {
		if cfg.Value == "" {
			return nil, fmt.Errorf("body_matches check needs a pattern")
		}
		return BodyMatches(cfg.Value)
	},
	"header": func(cfg config.CheckConfig) (Predicate, error) {
		if cfg.Path == "" {
			return nil, fmt.Errorf("header check needs a header name in path")
		}
		return HeaderEquals(cfg.Path, cfg.Value), nil
	},
	"max_duration": func(cfg config.CheckConfig) (Predicate, error) {
		d, err := config.ParseDurationString(cfg.Value)
		if err != nil {
			return nil, err
		}
		if d <= 0 {
			return nil, fmt.Errorf("max_duration check needs a positive duration")
		}
		return MaxDuration(d), nil
	},
	"json_path": func(cfg config.CheckConfig) (Predicate, error) {
		if cfg.Path == "" {
			return nil, fmt.Errorf("json_path check needs a path")
		}
		return JSONPath(cfg.Path, cfg.Value), nil
	},
	"json_schema": func(cfg config.CheckConfig) (Predicate, error) {
		if cfg.Schema == "" {
			return nil, fmt.Errorf("json_schema check needs a schema")
		}
		return JSONSchema(cfg.Schema)
	},
}
