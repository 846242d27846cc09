package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig_YAML(t *testing.T) {
	data := []byte(`
name: summarize
vus: 10
duration: 30s
gracePeriod: 5s
pacing:
  type: random
  min: 500ms
  max: 1500ms
target:
  method: post
  url: http://localhost:8000/summarize/
  headers:
    Content-Type: application/json
  body: '{"text": "hello"}'
checks:
  - name: status is 200 or 503
    type: status
    values: [200, 503]
`)

	cfg, err := ParseConfig(data, "run.yaml")
	require.NoError(t, err)

	assert.Equal(t, "summarize", cfg.Name)
	assert.Equal(t, 10, cfg.VUs)
	assert.Equal(t, Duration(30*time.Second), cfg.Duration)
	require.NotNil(t, cfg.GracePeriod)
	assert.Equal(t, Duration(5*time.Second), *cfg.GracePeriod)
	require.NotNil(t, cfg.Pacing)
	assert.Equal(t, "random", cfg.Pacing.Type)
	assert.Equal(t, Duration(500*time.Millisecond), cfg.Pacing.Min)
	assert.Equal(t, Duration(1500*time.Millisecond), cfg.Pacing.Max)
	assert.Equal(t, "application/json", cfg.Target.Headers["Content-Type"])
	require.Len(t, cfg.Checks, 1)
	assert.Equal(t, []int{200, 503}, cfg.Checks[0].Values)
}

func TestParseConfig_JSON(t *testing.T) {
	data := []byte(`{
		"vus": 3,
		"duration": "2m",
		"timeout": "10",
		"target": {"url": "https://example.com/health"}
	}`)

	cfg, err := ParseConfig(data, "run.json")
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.VUs)
	assert.Equal(t, Duration(2*time.Minute), cfg.Duration)
	assert.Equal(t, Duration(10*time.Second), cfg.Timeout)
}

func TestParseConfig_InvalidDuration(t *testing.T) {
	_, err := ParseConfig([]byte("vus: 1\nduration: soon\n"), "run.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestParseDurationString(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"30s", 30 * time.Second, false},
		{"1h30m", 90 * time.Minute, false},
		{"45", 45 * time.Second, false},
		{"45x", 0, true},
		{"later", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDurationString(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadConfig_ResolvesBodyFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "body.json"), []byte(`{"text":"from file"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "run.yaml"), []byte(`
vus: 1
duration: 1s
target:
  url: http://localhost/
  bodyFile: body.json
`), 0o644))

	cfg, err := LoadConfig(filepath.Join(dir, "run.yaml"))
	require.NoError(t, err)
	assert.Equal(t, `{"text":"from file"}`, cfg.Target.Body)
}

func TestLoadConfig_MissingBodyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte("vus: 1\ntarget:\n  bodyFile: nope.json\n"), 0o644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "body file")
}

func TestLoadConfig_ReferenceWorkload(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("..", "..", "..", "examples", "summarize.yaml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 10, cfg.VUs)
	assert.Equal(t, 30*time.Second, cfg.TotalDuration())
	assert.Equal(t, "POST", cfg.Target.Method)
	assert.True(t, strings.Contains(cfg.Target.Body, "Igor Sysoev"))
	assert.Len(t, cfg.Checks, 4)
}

func TestApplyDefaults_KeepsZeroGrace(t *testing.T) {
	cfg, err := ParseConfig([]byte("vus: 1\nduration: 1s\ngracePeriod: 0s\ntarget:\n  url: http://localhost/\n"), "run.yaml")
	require.NoError(t, err)
	require.NotNil(t, cfg.GracePeriod)

	ApplyDefaults(cfg)
	assert.Equal(t, time.Duration(0), cfg.Grace())

	clone := cfg.Clone()
	*clone.GracePeriod = Duration(time.Second)
	assert.Equal(t, time.Duration(0), cfg.Grace(), "clone must not share the grace period")

	unset := &RunConfig{}
	assert.Equal(t, DefaultGracePeriod, unset.Grace())
}

func TestApplyDefaults(t *testing.T) {
	cfg := &RunConfig{
		VUs:      1,
		Duration: Duration(time.Second),
		Target:   TargetConfig{Method: "post", URL: "http://localhost/"},
		Stages:   []StageConfig{{Duration: Duration(time.Second), Target: 1}},
	}

	ApplyDefaults(cfg)

	assert.Equal(t, DefaultName, cfg.Name)
	require.NotNil(t, cfg.GracePeriod)
	assert.Equal(t, Duration(DefaultGracePeriod), *cfg.GracePeriod)
	assert.Equal(t, Duration(DefaultTimeout), cfg.Timeout)
	require.NotNil(t, cfg.Pacing)
	assert.Equal(t, "constant", cfg.Pacing.Type)
	assert.Equal(t, Duration(time.Second), cfg.Pacing.Duration)
	assert.Equal(t, "POST", cfg.Target.Method)
	assert.Equal(t, "stage-1", cfg.Stages[0].Name)
}

func TestClone_IsDeep(t *testing.T) {
	cfg := validConfig()
	cfg.Target.Headers = map[string]string{"A": "1"}
	cfg.Checks = []CheckConfig{{Name: "s", Type: "status", Values: []int{200}}}
	cfg.Pacing = &PacingConfig{Type: "none"}

	clone := cfg.Clone()
	clone.Target.Headers["A"] = "2"
	clone.Checks[0].Values[0] = 500
	clone.Pacing.Type = "constant"

	assert.Equal(t, "1", cfg.Target.Headers["A"])
	assert.Equal(t, 200, cfg.Checks[0].Values[0])
	assert.Equal(t, "none", cfg.Pacing.Type)
}
