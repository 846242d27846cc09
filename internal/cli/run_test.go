package cli

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/wesleyorama2/pummel/internal/loadgen/config"
	"github.com/wesleyorama2/pummel/internal/loadgen/engine"
	"github.com/wesleyorama2/pummel/internal/target"
)

// buildFromArgs parses args with a fresh run flag set and builds the config.
func buildFromArgs(t *testing.T, args ...string) (*config.RunConfig, error) {
	t.Helper()
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	addRunFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("failed to parse flags: %v", err)
	}
	v, err := newViper(fs)
	if err != nil {
		t.Fatalf("newViper() error = %v", err)
	}
	return buildRunConfig(v, fs)
}

func TestBuildRunConfig_Defaults(t *testing.T) {
	cfg, err := buildFromArgs(t, "--url", "http://localhost:8000/")
	if err != nil {
		t.Fatalf("buildRunConfig() error = %v", err)
	}

	if cfg.VUs != 10 {
		t.Errorf("VUs = %d, want 10", cfg.VUs)
	}
	if time.Duration(cfg.Duration) != 30*time.Second {
		t.Errorf("Duration = %v, want 30s", cfg.Duration)
	}
	if cfg.Target.URL != "http://localhost:8000/" {
		t.Errorf("URL = %q", cfg.Target.URL)
	}
	if cfg.Pacing != nil || len(cfg.Stages) != 0 || len(cfg.Checks) != 0 {
		t.Errorf("unexpected overrides: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestBuildRunConfig_Flags(t *testing.T) {
	cfg, err := buildFromArgs(t,
		"--url", "http://localhost:8000/summarize/",
		"-X", "post",
		"-H", "Content-Type: application/json",
		"--body", `{"text":"{{uuid}}"}`,
		"--vus", "4",
		"--duration", "2m",
		"--grace", "5s",
		"--timeout", "10",
		"--pace", "500ms-2s",
		"--max-rps", "25",
		"--no-preflight",
		"--name", "smoke",
		"--check", "status is 200 or 503=status:200,503",
		"--check", "body includes NGINX=body_contains:NGINX",
	)
	if err != nil {
		t.Fatalf("buildRunConfig() error = %v", err)
	}

	if cfg.Name != "smoke" || cfg.VUs != 4 || cfg.MaxRPS != 25 || !cfg.SkipPreflight {
		t.Errorf("scalar flags not applied: %+v", cfg)
	}
	if cfg.Target.Method != "post" {
		t.Errorf("Method = %q, want post", cfg.Target.Method)
	}
	if time.Duration(cfg.Duration) != 2*time.Minute ||
		cfg.Grace() != 5*time.Second ||
		time.Duration(cfg.Timeout) != 10*time.Second {
		t.Errorf("durations = %v/%v/%v", cfg.Duration, cfg.Grace(), cfg.Timeout)
	}
	if cfg.Pacing == nil || cfg.Pacing.Type != "random" ||
		time.Duration(cfg.Pacing.Min) != 500*time.Millisecond ||
		time.Duration(cfg.Pacing.Max) != 2*time.Second {
		t.Errorf("Pacing = %+v", cfg.Pacing)
	}
	if cfg.Target.Headers["Content-Type"] != "application/json" {
		t.Errorf("Headers = %v", cfg.Target.Headers)
	}
	if cfg.Target.Body != `{"text":"{{uuid}}"}` {
		t.Errorf("Body = %q", cfg.Target.Body)
	}
	if len(cfg.Checks) != 2 || cfg.Checks[0].Name != "status is 200 or 503" || cfg.Checks[1].Value != "NGINX" {
		t.Errorf("Checks = %+v", cfg.Checks)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestBuildRunConfig_ZeroGrace(t *testing.T) {
	cfg, err := buildFromArgs(t, "--url", "http://localhost/", "--grace", "0")
	if err != nil {
		t.Fatalf("buildRunConfig() error = %v", err)
	}
	if cfg.GracePeriod == nil || *cfg.GracePeriod != 0 {
		t.Fatalf("GracePeriod = %v, want explicit zero", cfg.GracePeriod)
	}

	config.ApplyDefaults(cfg)
	if cfg.Grace() != 0 {
		t.Errorf("Grace() = %v after defaults, want 0", cfg.Grace())
	}
}

func TestBuildRunConfig_RequiresSource(t *testing.T) {
	if _, err := buildFromArgs(t, "--vus", "5"); err == nil {
		t.Error("expected error without --config or --url")
	}
}

func TestBuildRunConfig_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"bad duration", []string{"--duration", "soon"}},
		{"bad pace", []string{"--pace", "often"}},
		{"bad stages", []string{"--stages", "10s"}},
		{"bad header", []string{"-H", "no-colon"}},
		{"bad check", []string{"--check", "unnamed"}},
		{"missing body file", []string{"--body-file", "does-not-exist.json"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"--url", "http://localhost/"}, tt.args...)
			if _, err := buildFromArgs(t, args...); err == nil {
				t.Errorf("buildRunConfig(%v) should fail", tt.args)
			}
		})
	}
}

func TestBuildRunConfig_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "body.json"), []byte(`{"text":"hello"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	yaml := `name: from-file
vus: 3
duration: 10s
target:
  method: POST
  url: http://localhost:8000/summarize/
  bodyFile: body.json
checks:
  - name: ok
    type: status
    values: [200]
`
	path := filepath.Join(dir, "run.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := buildFromArgs(t, "--config", path, "--vus", "8", "--check", "fast=max_duration:1s")
	if err != nil {
		t.Fatalf("buildRunConfig() error = %v", err)
	}

	if cfg.Name != "from-file" {
		t.Errorf("Name = %q, want from-file", cfg.Name)
	}
	if cfg.VUs != 8 {
		t.Errorf("VUs = %d, flag should override file", cfg.VUs)
	}
	if time.Duration(cfg.Duration) != 10*time.Second {
		t.Errorf("Duration = %v, want file value", cfg.Duration)
	}
	if cfg.Target.Body != `{"text":"hello"}` {
		t.Errorf("Body = %q, body file should resolve next to the config", cfg.Target.Body)
	}
	if len(cfg.Checks) != 2 || cfg.Checks[1].Name != "fast" {
		t.Errorf("flag checks should append to file checks: %+v", cfg.Checks)
	}
}

func TestBuildRunConfig_Environment(t *testing.T) {
	t.Setenv("PUMMEL_URL", "http://env.example.com/")
	t.Setenv("PUMMEL_VUS", "7")
	t.Setenv("PUMMEL_MAX_RPS", "12.5")

	cfg, err := buildFromArgs(t, "--vus", "2")
	if err != nil {
		t.Fatalf("buildRunConfig() error = %v", err)
	}

	if cfg.Target.URL != "http://env.example.com/" {
		t.Errorf("URL = %q, want value from environment", cfg.Target.URL)
	}
	if cfg.VUs != 2 {
		t.Errorf("VUs = %d, command line should win over environment", cfg.VUs)
	}
	if cfg.MaxRPS != 12.5 {
		t.Errorf("MaxRPS = %v, want 12.5", cfg.MaxRPS)
	}
}

func TestBuildRunConfig_Stages(t *testing.T) {
	cfg, err := buildFromArgs(t, "--url", "http://localhost/", "--stages", "10s:10,20s:10,10s:0")
	if err != nil {
		t.Fatalf("buildRunConfig() error = %v", err)
	}
	if len(cfg.Stages) != 3 || cfg.PeakVUs() != 10 || cfg.TotalDuration() != 40*time.Second {
		t.Errorf("Stages = %+v", cfg.Stages)
	}
}

func TestParseCheck(t *testing.T) {
	tests := []struct {
		spec    string
		want    config.CheckConfig
		wantErr bool
	}{
		{
			spec: "status is 200 or 503=status:200,503",
			want: config.CheckConfig{Name: "status is 200 or 503", Type: "status", Values: []int{200, 503}},
		},
		{
			spec: "body includes NGINX=body_contains:NGINX",
			want: config.CheckConfig{Name: "body includes NGINX", Type: "body_contains", Value: "NGINX"},
		},
		{
			spec: "time=body_matches:\\d+:\\d+",
			want: config.CheckConfig{Name: "time", Type: "body_matches", Value: "\\d+:\\d+"},
		},
		{
			spec: "json=header:Content-Type: application/json",
			want: config.CheckConfig{Name: "json", Type: "header", Path: "Content-Type", Value: "application/json"},
		},
		{
			spec: "named=json_path:user.name=alice",
			want: config.CheckConfig{Name: "named", Type: "json_path", Path: "user.name", Value: "alice"},
		},
		{
			spec: "has summary=json_path:summary",
			want: config.CheckConfig{Name: "has summary", Type: "json_path", Path: "summary"},
		},
		{
			spec: `shape=json_schema:{"type":"object"}`,
			want: config.CheckConfig{Name: "shape", Type: "json_schema", Schema: `{"type":"object"}`},
		},
		{spec: "no-equals", wantErr: true},
		{spec: "=status:200", wantErr: true},
		{spec: "bad=status:ok", wantErr: true},
		{spec: "bad=header:nocolon", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := parseCheck(tt.spec)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseCheck(%q) error = %v, wantErr %v", tt.spec, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got.Name != tt.want.Name || got.Type != tt.want.Type || got.Value != tt.want.Value ||
				got.Path != tt.want.Path || got.Schema != tt.want.Schema {
				t.Errorf("parseCheck(%q) = %+v, want %+v", tt.spec, got, tt.want)
			}
			if len(got.Values) != len(tt.want.Values) {
				t.Fatalf("Values = %v, want %v", got.Values, tt.want.Values)
			}
			for i := range got.Values {
				if got.Values[i] != tt.want.Values[i] {
					t.Errorf("Values = %v, want %v", got.Values, tt.want.Values)
				}
			}
		})
	}
}

func TestParseCheck_SchemaFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.json")
	schema := `{"type":"object","required":["summary"]}`
	if err := os.WriteFile(path, []byte(schema), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := parseCheck("shape=json_schema:@" + path)
	if err != nil {
		t.Fatalf("parseCheck() error = %v", err)
	}
	if got.Schema != schema {
		t.Errorf("Schema = %q, want file contents", got.Schema)
	}

	if _, err := parseCheck("shape=json_schema:@" + path + ".missing"); err == nil {
		t.Error("missing schema file should fail")
	}
}

func TestParseHeader(t *testing.T) {
	key, value, err := parseHeader("Authorization:  Bearer a:b ")
	if err != nil {
		t.Fatalf("parseHeader() error = %v", err)
	}
	if key != "Authorization" || value != "Bearer a:b" {
		t.Errorf("parseHeader() = %q, %q", key, value)
	}

	for _, bad := range []string{"", "nocolon", ": value"} {
		if _, _, err := parseHeader(bad); err == nil {
			t.Errorf("parseHeader(%q) should fail", bad)
		}
	}
}

func TestParsePacing(t *testing.T) {
	tests := []struct {
		input    string
		wantType string
		wantErr  bool
	}{
		{"none", "none", false},
		{"0", "none", false},
		{"1s", "constant", false},
		{"2", "constant", false},
		{"100ms-1s", "random", false},
		{"fast", "", true},
		{"1s-later", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parsePacing(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parsePacing(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got.Type != tt.wantType {
				t.Errorf("parsePacing(%q).Type = %q, want %q", tt.input, got.Type, tt.wantType)
			}
		})
	}

	got, _ := parsePacing("2")
	if time.Duration(got.Duration) != 2*time.Second {
		t.Errorf("bare number should be seconds, got %v", got.Duration)
	}
}

func TestParseStages(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{"single stage", "30s:10", 1, false},
		{"ramp up hold down", "30s:10,1m:10,30s:0", 3, false},
		{"spaces and trailing comma", " 10s:5 , 10s:0 ,", 2, false},
		{"missing target", "30s", 0, true},
		{"bad duration", "soon:10", 0, true},
		{"bad target", "30s:many", 0, true},
		{"empty", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stages, err := parseStages(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseStages(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if len(stages) != tt.want {
				t.Errorf("parseStages(%q) returned %d stages, want %d", tt.input, len(stages), tt.want)
			}
		})
	}

	stages, _ := parseStages("1m:10,2m:20")
	if stages[1].Name != "stage-2" || stages[1].Target != 20 || time.Duration(stages[1].Duration) != 2*time.Minute {
		t.Errorf("stage values = %+v", stages[1])
	}
}

func TestRunCommand_JSONReport(t *testing.T) {
	srv, err := target.New(target.Config{}, nil)
	if err != nil {
		t.Fatalf("target.New() error = %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	reportPath := filepath.Join(t.TempDir(), "report.json")
	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	RootCmd.SetOut(stdout)
	RootCmd.SetErr(stderr)
	RootCmd.SetArgs([]string{
		"run",
		"--config", "",
		"--url", ts.URL + "/summarize/",
		"--method", "POST",
		"-H", "Content-Type: application/json",
		"--body", `{"text":"NGINX is a web server"}`,
		"--vus", "2",
		"--duration", "300ms",
		"--pace", "100ms",
		"--check", "ok=status:200",
		"--check", "mentions NGINX=body_contains:NGINX",
		"--json",
		"--output", reportPath,
	})
	defer RootCmd.SetArgs(nil)

	if err := RootCmd.Execute(); err != nil {
		t.Fatalf("run returned error: %v\n%s", err, stderr.String())
	}

	var report engine.Report
	if err := json.Unmarshal(stdout.Bytes(), &report); err != nil {
		t.Fatalf("stdout is not a JSON report: %v\n%s", err, stdout.String())
	}
	if report.Summary.Total == 0 {
		t.Fatal("expected at least one iteration")
	}
	if report.Summary.Total != srv.Summarized() {
		t.Errorf("Total = %d, target served %d", report.Summary.Total, srv.Summarized())
	}
	for _, name := range []string{"ok", "mentions NGINX"} {
		tally, ok := report.Summary.Check(name)
		if !ok || tally.Passes != report.Summary.Total {
			t.Errorf("check %q = %+v, want all %d passing", name, tally, report.Summary.Total)
		}
	}

	data, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatalf("report file not written: %v", err)
	}
	if !strings.Contains(string(data), report.RunID) {
		t.Error("report file should match the printed report")
	}
}

func TestRunCommand_ConfigError(t *testing.T) {
	stdout := new(bytes.Buffer)
	RootCmd.SetOut(stdout)
	RootCmd.SetErr(new(bytes.Buffer))
	RootCmd.SetArgs([]string{"run", "--config", filepath.Join(t.TempDir(), "missing.yaml")})
	defer RootCmd.SetArgs(nil)

	err := RootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for a missing config file")
	}
	if !strings.HasPrefix(err.Error(), "config error:") {
		t.Errorf("error = %v, want a config error", err)
	}
	if stdout.Len() != 0 {
		t.Errorf("nothing should be printed before the run starts, got %q", stdout.String())
	}
}
