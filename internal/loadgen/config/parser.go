package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultName        = "pummel"
	DefaultMethod      = "GET"
	DefaultGracePeriod = 30 * time.Second
	DefaultTimeout     = 30 * time.Second
	DefaultPacing      = time.Second
)

// LoadConfig loads a run configuration from a file.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
//
// A target.bodyFile is resolved relative to the config file and inlined into
// target.body.
func LoadConfig(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := ParseConfig(data, path)
	if err != nil {
		return nil, err
	}

	if err := cfg.ResolveBodyFile(filepath.Dir(path)); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseConfig parses configuration data.
//
// The format is determined by the file extension in path, or defaults to YAML
// if the path is empty or has an unknown extension.
func ParseConfig(data []byte, path string) (*RunConfig, error) {
	var config RunConfig

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		// Try YAML by default
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config (unknown format %s): %w", ext, err)
		}
	}

	return &config, nil
}

// ResolveBodyFile reads Target.BodyFile into Target.Body. Relative paths are
// resolved against baseDir. An inline body wins over a body file.
func (c *RunConfig) ResolveBodyFile(baseDir string) error {
	if c.Target.BodyFile == "" || c.Target.Body != "" {
		return nil
	}

	path := c.Target.BodyFile
	if !filepath.IsAbs(path) && baseDir != "" {
		path = filepath.Join(baseDir, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read body file: %w", err)
	}
	c.Target.Body = string(data)
	return nil
}

// ParseDurationString parses a duration string with support for common formats.
//
// Supported formats:
//   - Standard Go duration: "30s", "2m", "1h30m", "500ms"
//   - Seconds as integer: "30" (treated as 30 seconds)
func ParseDurationString(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}

	var seconds int
	var rest string
	if n, _ := fmt.Sscanf(s, "%d%s", &seconds, &rest); n == 1 {
		return time.Duration(seconds) * time.Second, nil
	}

	return 0, fmt.Errorf("invalid duration format: %s", s)
}

// ApplyDefaults fills in zero-valued fields. It must run after Validate.
func ApplyDefaults(c *RunConfig) {
	if c.Name == "" {
		c.Name = DefaultName
	}
	if c.GracePeriod == nil {
		c.GracePeriod = DurationPtr(DefaultGracePeriod)
	}
	if c.Timeout == 0 {
		c.Timeout = Duration(DefaultTimeout)
	}
	if c.Pacing == nil {
		c.Pacing = &PacingConfig{Type: "constant", Duration: Duration(DefaultPacing)}
	}
	if c.Target.Method == "" {
		c.Target.Method = DefaultMethod
	}
	c.Target.Method = strings.ToUpper(c.Target.Method)

	for i := range c.Stages {
		if c.Stages[i].Name == "" {
			c.Stages[i].Name = fmt.Sprintf("stage-%d", i+1)
		}
	}
}
