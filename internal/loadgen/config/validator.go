package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ConfigError reports a configuration that cannot be run. It is the only
// error that aborts a run, and it is always raised before any VU starts.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return "config error: " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError wraps err as a ConfigError, leaving existing ConfigErrors
// untouched.
func NewConfigError(err error) error {
	if err == nil {
		return nil
	}
	if ce, ok := err.(*ConfigError); ok {
		return ce
	}
	return &ConfigError{Err: err}
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

var validMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// Validate validates the entire run configuration.
//
// Returns nil if valid, or a *ConfigError wrapping ValidationErrors.
func (c *RunConfig) Validate() error {
	errs := &ValidationErrors{}

	if len(c.Stages) == 0 {
		if c.VUs <= 0 {
			errs.Add("vus", "vus must be greater than 0")
		}
		if c.Duration <= 0 {
			errs.Add("duration", "duration must be greater than 0")
		}
	} else {
		validateStages(c, errs)
	}

	if c.GracePeriod != nil && *c.GracePeriod < 0 {
		errs.Add("gracePeriod", "gracePeriod cannot be negative")
	}
	if c.Timeout < 0 {
		errs.Add("timeout", "timeout cannot be negative")
	}
	if c.MaxRPS < 0 {
		errs.Add("maxRps", "maxRps cannot be negative")
	}

	if c.Pacing != nil {
		validatePacing("pacing", c.Pacing, errs)
	}

	validateTarget("target", &c.Target, errs)

	seen := make(map[string]bool, len(c.Checks))
	for i, chk := range c.Checks {
		prefix := fmt.Sprintf("checks[%d]", i)
		if chk.Name == "" {
			errs.Add(prefix+".name", "name is required")
		} else if seen[chk.Name] {
			errs.Add(prefix+".name", fmt.Sprintf("duplicate check name: %s", chk.Name))
		}
		seen[chk.Name] = true

		if chk.Type == "" {
			errs.Add(prefix+".type", "type is required")
		}
	}

	if errs.HasErrors() {
		return &ConfigError{Err: errs}
	}
	return nil
}

// validateStages validates a staged ramp.
func validateStages(c *RunConfig, errs *ValidationErrors) {
	peak := 0
	for i, stage := range c.Stages {
		prefix := fmt.Sprintf("stages[%d]", i)
		if stage.Duration <= 0 {
			errs.Add(prefix+".duration", "duration must be greater than 0")
		}
		if stage.Target < 0 {
			errs.Add(prefix+".target", "target cannot be negative")
		}
		if stage.Target > peak {
			peak = stage.Target
		}
	}
	if peak == 0 {
		errs.Add("stages", "at least one stage must target more than 0 vus")
	}
	if c.VUs < 0 {
		errs.Add("vus", "vus cannot be negative")
	}
}

// validateTarget validates the request target.
func validateTarget(prefix string, t *TargetConfig, errs *ValidationErrors) {
	method := strings.ToUpper(t.Method)
	if method != "" && !validMethods[method] {
		errs.Add(prefix+".method", fmt.Sprintf("invalid HTTP method: %s", t.Method))
	}

	if t.URL == "" {
		errs.Add(prefix+".url", "url is required")
		return
	}

	u, err := url.Parse(t.URL)
	if err != nil {
		errs.Add(prefix+".url", fmt.Sprintf("invalid URL: %v", err))
		return
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		errs.Add(prefix+".url", fmt.Sprintf("unsupported scheme %q (want http or https)", u.Scheme))
	}
	if u.Host == "" {
		errs.Add(prefix+".url", "url must include a host")
	}
}

// validatePacing validates pacing configuration.
func validatePacing(prefix string, pacing *PacingConfig, errs *ValidationErrors) {
	switch pacing.Type {
	case "none":
	case "constant":
		if pacing.Duration < 0 {
			errs.Add(prefix+".duration", "duration cannot be negative")
		}
	case "random":
		if pacing.Min < 0 || pacing.Max < 0 {
			errs.Add(prefix, "min and max cannot be negative")
		}
		if pacing.Min > pacing.Max {
			errs.Add(prefix, "min must be less than or equal to max")
		}
	default:
		errs.Add(prefix+".type", fmt.Sprintf("invalid pacing type: %s", pacing.Type))
	}
}
