// Package config provides configuration parsing and validation for load runs.
package config

import (
	"time"

	"gopkg.in/yaml.v3"
)

// RunConfig is the root configuration for a load run.
//
// Example YAML:
//
//	name: "summarize"
//	vus: 10
//	duration: 30s
//	target:
//	  method: POST
//	  url: "http://localhost:8000/summarize/"
//	  headers:
//	    Content-Type: application/json
//	  body: '{"text": "Igor Sysoev originally wrote NGINX ..."}'
//	checks:
//	  - name: "status is 200 or 503"
//	    type: status
//	    values: [200, 503]
type RunConfig struct {
	// Name of the run (for reporting)
	Name string `json:"name" yaml:"name"`

	// Description of the run (optional)
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// VUs is the number of concurrent virtual users
	VUs int `json:"vus" yaml:"vus"`

	// Duration is the nominal wall-clock span of the run
	Duration Duration `json:"duration" yaml:"duration"`

	// GracePeriod bounds how long in-flight requests may run after Duration.
	// Nil means DefaultGracePeriod; zero cancels them at the deadline.
	GracePeriod *Duration `json:"gracePeriod,omitempty" yaml:"gracePeriod,omitempty"`

	// Timeout is the per-request timeout
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Pacing controls the delay between iterations of one VU
	Pacing *PacingConfig `json:"pacing,omitempty" yaml:"pacing,omitempty"`

	// Stages enables a staged ramp of the VU count instead of instant start
	Stages []StageConfig `json:"stages,omitempty" yaml:"stages,omitempty"`

	// MaxRPS caps the request rate across all VUs (0 = unlimited)
	MaxRPS float64 `json:"maxRps,omitempty" yaml:"maxRps,omitempty"`

	// SkipPreflight disables the reachability probe run before any VU starts
	SkipPreflight bool `json:"skipPreflight,omitempty" yaml:"skipPreflight,omitempty"`

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`

	// Target is the request every iteration sends
	Target TargetConfig `json:"target" yaml:"target"`

	// Checks are named predicates evaluated against every response
	Checks []CheckConfig `json:"checks,omitempty" yaml:"checks,omitempty"`
}

// TargetConfig describes the HTTP request issued on every iteration.
type TargetConfig struct {
	// Method is the HTTP method (GET, POST, PUT, DELETE, etc.)
	Method string `json:"method" yaml:"method"`

	// URL is the absolute request URL
	URL string `json:"url" yaml:"url"`

	// Headers are sent with every request
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Body is the request body; {{uuid}}, {{vu}}, {{iteration}} and
	// {{timestamp}} are expanded per request
	Body string `json:"body,omitempty" yaml:"body,omitempty"`

	// BodyFile loads Body from a file, relative to the config file
	BodyFile string `json:"bodyFile,omitempty" yaml:"bodyFile,omitempty"`
}

// PacingConfig controls the delay between iterations.
type PacingConfig struct {
	// Type is the pacing strategy: "none", "constant", "random"
	Type string `json:"type" yaml:"type"`

	// Duration is the wait time for constant pacing
	Duration Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Min is the minimum wait time for random pacing
	Min Duration `json:"min,omitempty" yaml:"min,omitempty"`

	// Max is the maximum wait time for random pacing
	Max Duration `json:"max,omitempty" yaml:"max,omitempty"`
}

// StageConfig defines a single stage of a VU ramp.
type StageConfig struct {
	// Duration of this stage (e.g., "30s", "2m")
	Duration Duration `json:"duration" yaml:"duration"`

	// Target VU count reached at the end of the stage
	Target int `json:"target" yaml:"target"`

	// Name is an optional name for this stage (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// CheckConfig declares a named predicate evaluated against each response.
type CheckConfig struct {
	// Name identifies the check in the report
	Name string `json:"name" yaml:"name"`

	// Type selects the predicate: "status", "body_contains", "body_matches",
	// "header", "max_duration", "json_path", "json_schema"
	Type string `json:"type" yaml:"type"`

	// Values lists accepted status codes for "status"
	Values []int `json:"values,omitempty" yaml:"values,omitempty"`

	// Value is the expected substring, pattern, header value, duration or JSON value
	Value string `json:"value,omitempty" yaml:"value,omitempty"`

	// Path is the header name for "header" or the JSON path for "json_path"
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Schema is the JSON Schema document for "json_schema"
	Schema string `json:"schema,omitempty" yaml:"schema,omitempty"`
}

// TotalDuration is the nominal run length: the sum of all stages when staged,
// otherwise Duration.
func (c *RunConfig) TotalDuration() time.Duration {
	if len(c.Stages) == 0 {
		return time.Duration(c.Duration)
	}
	var total time.Duration
	for _, stage := range c.Stages {
		total += time.Duration(stage.Duration)
	}
	return total
}

// PeakVUs returns the highest VU count the run will reach.
func (c *RunConfig) PeakVUs() int {
	peak := c.VUs
	for _, stage := range c.Stages {
		if stage.Target > peak {
			peak = stage.Target
		}
	}
	return peak
}

// Clone returns a deep copy so a running engine never shares mutable state
// with its caller.
func (c *RunConfig) Clone() *RunConfig {
	out := *c

	if c.GracePeriod != nil {
		grace := *c.GracePeriod
		out.GracePeriod = &grace
	}
	if c.Pacing != nil {
		pacing := *c.Pacing
		out.Pacing = &pacing
	}
	if c.Stages != nil {
		out.Stages = append([]StageConfig(nil), c.Stages...)
	}
	if c.Target.Headers != nil {
		out.Target.Headers = make(map[string]string, len(c.Target.Headers))
		for k, v := range c.Target.Headers {
			out.Target.Headers[k] = v
		}
	}
	if c.Checks != nil {
		out.Checks = make([]CheckConfig, len(c.Checks))
		for i, chk := range c.Checks {
			chk.Values = append([]int(nil), chk.Values...)
			out.Checks[i] = chk
		}
	}
	return &out
}

// Grace returns the grace period, or DefaultGracePeriod when none is set.
func (c *RunConfig) Grace() time.Duration {
	if c.GracePeriod == nil {
		return DefaultGracePeriod
	}
	return time.Duration(*c.GracePeriod)
}

// DurationPtr returns a pointer to d, for optional durations.
func DurationPtr(d time.Duration) *Duration {
	v := Duration(d)
	return &v
}

// Duration is a time.Duration that can be unmarshaled from JSON/YAML strings.
type Duration time.Duration

// GetDuration returns the duration or a default if empty.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	// Remove quotes if present
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}

	if s == "" || s == "null" {
		*d = 0
		return nil
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}
