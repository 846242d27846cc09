package cli

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/wesleyorama2/pummel/internal/loadgen/config"
	"github.com/wesleyorama2/pummel/internal/loadgen/engine"
	"github.com/wesleyorama2/pummel/internal/loadgen/executor"
	"github.com/wesleyorama2/pummel/internal/loadgen/output"
)

// Defaults for runs built from flags alone.
const (
	defaultCLIVUs      = 10
	defaultCLIDuration = 30 * time.Second
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a load test",
	Long: `Run a load test from a configuration file, from flags, or both. Flags
override the file; PUMMEL_* environment variables override flag defaults.

Config file mode:
  pummel run --config examples/summarize.yaml

Flag mode:
  pummel run --url http://localhost:8000/summarize/ --method POST \
    -H 'Content-Type: application/json' --body-file examples/summarize.json \
    --vus 10 --duration 30s --pace 1s \
    --check 'status is 200 or 503=status:200,503' \
    --check 'body includes NGINX=body_contains:NGINX'

Ramp mode:
  pummel run --config test.yaml --stages 10s:10,20s:10

The command exits 0 whenever the run completes, whatever the check results.`,
	Args: cobra.NoArgs,
	RunE: runLoadTest,
}

// runLoadTest runs a load test and prints its report.
func runLoadTest(cmd *cobra.Command, args []string) error {
	v, err := newViper(cmd.Flags())
	if err != nil {
		return err
	}

	cfg, err := buildRunConfig(v, cmd.Flags())
	if err != nil {
		return config.NewConfigError(err)
	}

	var opts []engine.Option
	opts = append(opts, engine.WithLogger(logger))
	if v.IsSet("seed") {
		opts = append(opts, engine.WithSeed(v.GetInt64("seed")))
	}

	eng, err := engine.NewEngine(cfg, opts...)
	if err != nil {
		return err
	}
	effective := eng.Config()

	jsonOut := v.GetBool("json")
	console := output.NewConsole(output.ConsoleConfig{
		Writer:  cmd.OutOrStdout(),
		Quiet:   v.GetBool("quiet"),
		NoColor: v.GetBool("no-color"),
	})

	if !jsonOut {
		console.PrintHeader(effective.Name, effective.Target.Method+" "+effective.Target.URL,
			string(executor.ConfigFromRun(effective).Type), effective.PeakVUs(), effective.TotalDuration())
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, runErr := eng.Run(ctx)
	if report == nil {
		return runErr
	}

	if jsonOut {
		if err := output.WriteJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}
	} else {
		console.PrintSummary(report)
	}

	if path := v.GetString("output"); path != "" {
		if err := output.WriteJSONFile(path, report); err != nil {
			return err
		}
		logger.WithField("path", path).Info("report written")
	}

	return runErr
}

// buildRunConfig merges the config file, if any, with flag and environment
// overrides.
func buildRunConfig(v *viper.Viper, flags *pflag.FlagSet) (*config.RunConfig, error) {
	var cfg *config.RunConfig

	if path := v.GetString("config"); path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		if v.GetString("url") == "" {
			return nil, fmt.Errorf("either --config or --url is required")
		}
		cfg = &config.RunConfig{
			VUs:      defaultCLIVUs,
			Duration: config.Duration(defaultCLIDuration),
		}
	}

	if v.IsSet("name") {
		cfg.Name = v.GetString("name")
	}
	if v.IsSet("url") {
		cfg.Target.URL = v.GetString("url")
	}
	if v.IsSet("method") {
		cfg.Target.Method = v.GetString("method")
	}
	if v.IsSet("vus") {
		cfg.VUs = v.GetInt("vus")
	}
	if v.IsSet("max-rps") {
		cfg.MaxRPS = v.GetFloat64("max-rps")
	}
	if v.IsSet("no-preflight") {
		cfg.SkipPreflight = v.GetBool("no-preflight")
	}
	if v.IsSet("insecure") {
		cfg.InsecureSkipVerify = v.GetBool("insecure")
	}

	durations := []struct {
		flag string
		dst  *config.Duration
	}{
		{"duration", &cfg.Duration},
		{"timeout", &cfg.Timeout},
	}
	for _, d := range durations {
		if !v.IsSet(d.flag) {
			continue
		}
		parsed, err := config.ParseDurationString(v.GetString(d.flag))
		if err != nil {
			return nil, fmt.Errorf("--%s: %w", d.flag, err)
		}
		*d.dst = config.Duration(parsed)
	}

	if v.IsSet("grace") {
		grace, err := config.ParseDurationString(v.GetString("grace"))
		if err != nil {
			return nil, fmt.Errorf("--grace: %w", err)
		}
		cfg.GracePeriod = config.DurationPtr(grace)
	}

	if v.IsSet("pace") {
		pacing, err := parsePacing(v.GetString("pace"))
		if err != nil {
			return nil, fmt.Errorf("--pace: %w", err)
		}
		cfg.Pacing = pacing
	}

	if v.IsSet("stages") {
		stages, err := parseStages(v.GetString("stages"))
		if err != nil {
			return nil, fmt.Errorf("invalid stages format: %w", err)
		}
		cfg.Stages = stages
	}

	if v.IsSet("body") {
		cfg.Target.Body = v.GetString("body")
		cfg.Target.BodyFile = ""
	} else if v.IsSet("body-file") {
		cfg.Target.Body = ""
		cfg.Target.BodyFile = v.GetString("body-file")
		if err := cfg.ResolveBodyFile(""); err != nil {
			return nil, err
		}
	}

	headers, err := flags.GetStringArray("header")
	if err != nil {
		return nil, err
	}
	for _, h := range headers {
		key, value, err := parseHeader(h)
		if err != nil {
			return nil, err
		}
		if cfg.Target.Headers == nil {
			cfg.Target.Headers = make(map[string]string)
		}
		cfg.Target.Headers[key] = value
	}

	checks, err := flags.GetStringArray("check")
	if err != nil {
		return nil, err
	}
	for _, spec := range checks {
		chk, err := parseCheck(spec)
		if err != nil {
			return nil, err
		}
		cfg.Checks = append(cfg.Checks, chk)
	}

	return cfg, nil
}

// parseHeader parses "Key: Value".
func parseHeader(s string) (string, string, error) {
	key, value, ok := strings.Cut(s, ":")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", "", fmt.Errorf("invalid header %q: expected 'Key: Value'", s)
	}
	return key, strings.TrimSpace(value), nil
}

// parseCheck parses a check from "name=type:arg".
//
//	status is 200 or 503=status:200,503
//	body includes NGINX=body_contains:NGINX
//	json content=header:Content-Type:application/json
//	fast=max_duration:500ms
//	has summary=json_path:summary
//	named=json_path:user.name=alice
//	shape=json_schema:{"type":"object","required":["summary"]}
func parseCheck(spec string) (config.CheckConfig, error) {
	name, rest, ok := strings.Cut(spec, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return config.CheckConfig{}, fmt.Errorf("invalid check %q: expected 'name=type:arg'", spec)
	}

	typ, arg, _ := strings.Cut(rest, ":")
	chk := config.CheckConfig{Name: name, Type: strings.TrimSpace(typ)}

	switch chk.Type {
	case "status":
		for _, part := range strings.Split(arg, ",") {
			code, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return config.CheckConfig{}, fmt.Errorf("check %q: invalid status code %q", name, part)
			}
			chk.Values = append(chk.Values, code)
		}
	case "header":
		key, value, err := parseHeader(arg)
		if err != nil {
			return config.CheckConfig{}, fmt.Errorf("check %q: %w", name, err)
		}
		chk.Path, chk.Value = key, value
	case "json_path":
		path, value, _ := strings.Cut(arg, "=")
		chk.Path, chk.Value = path, value
	case "json_schema":
		if file, ok := strings.CutPrefix(arg, "@"); ok {
			data, err := os.ReadFile(file)
			if err != nil {
				return config.CheckConfig{}, fmt.Errorf("check %q: %w", name, err)
			}
			arg = string(data)
		}
		chk.Schema = arg
	default:
		chk.Value = arg
	}

	return chk, nil
}

// parsePacing parses "none", a constant duration ("1s") or a random range
// ("500ms-2s").
func parsePacing(s string) (*config.PacingConfig, error) {
	s = strings.TrimSpace(s)
	if s == "none" || s == "0" {
		return &config.PacingConfig{Type: "none"}, nil
	}

	if lo, hi, ok := strings.Cut(s, "-"); ok {
		min, err := config.ParseDurationString(lo)
		if err != nil {
			return nil, err
		}
		max, err := config.ParseDurationString(hi)
		if err != nil {
			return nil, err
		}
		return &config.PacingConfig{Type: "random", Min: config.Duration(min), Max: config.Duration(max)}, nil
	}

	d, err := config.ParseDurationString(s)
	if err != nil {
		return nil, err
	}
	return &config.PacingConfig{Type: "constant", Duration: config.Duration(d)}, nil
}

// parseStages parses stages from CLI format "30s:10,2m:10,30s:0"
func parseStages(stagesStr string) ([]config.StageConfig, error) {
	var stages []config.StageConfig

	parts := strings.Split(stagesStr, ",")
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		// Parse "duration:target" format
		colonIdx := strings.LastIndex(part, ":")
		if colonIdx == -1 {
			return nil, fmt.Errorf("stage %d: expected 'duration:target' format, got '%s'", i+1, part)
		}

		durationStr := part[:colonIdx]
		targetStr := part[colonIdx+1:]

		d, err := config.ParseDurationString(durationStr)
		if err != nil {
			return nil, fmt.Errorf("stage %d: invalid duration '%s': %w", i+1, durationStr, err)
		}

		target, err := strconv.Atoi(targetStr)
		if err != nil {
			return nil, fmt.Errorf("stage %d: invalid target '%s': %w", i+1, targetStr, err)
		}

		stages = append(stages, config.StageConfig{
			Duration: config.Duration(d),
			Target:   target,
			Name:     fmt.Sprintf("stage-%d", i+1),
		})
	}

	if len(stages) == 0 {
		return nil, fmt.Errorf("at least one stage is required")
	}

	return stages, nil
}

// addRunFlags registers the run flags on fs.
func addRunFlags(fs *pflag.FlagSet) {
	// Source flags
	fs.StringP("config", "c", "", "Configuration file (YAML or JSON)")
	fs.String("name", "", "Run name shown in the report")

	// Target flags
	fs.String("url", "", "Target URL (alternative to --config)")
	fs.StringP("method", "X", "", "HTTP method (default GET)")
	fs.StringArrayP("header", "H", nil, "Request header 'Key: Value' (repeatable)")
	fs.String("body", "", "Request body; {{uuid}}, {{vu}}, {{iteration}} and {{timestamp}} are expanded")
	fs.String("body-file", "", "Read the request body from a file")
	fs.Bool("insecure", false, "Skip TLS certificate verification")

	// Load flags
	fs.Int("vus", 0, "Number of virtual users (default 10 in flag mode)")
	fs.String("duration", "", "Run duration, e.g. 30s (default 30s in flag mode)")
	fs.String("grace", "", "Grace period for in-flight requests after the duration (default 30s)")
	fs.String("pace", "", "Delay between iterations: none, 1s, or a random range 500ms-2s (default 1s)")
	fs.String("timeout", "", "Per-request timeout (default 30s)")
	fs.String("stages", "", "Ramp stages 'duration:target,...', replaces --vus and --duration")
	fs.Float64("max-rps", 0, "Cap the request rate across all VUs (0 = unlimited)")
	fs.Bool("no-preflight", false, "Skip the target reachability probe")
	fs.Int64("seed", 0, "Seed for random pacing")

	// Check flags
	fs.StringArray("check", nil, "Check 'name=type:arg' (repeatable); types: status, body_contains, body_matches, header, max_duration, json_path, json_schema")

	// Reporting flags
	fs.Bool("json", false, "Print the report as JSON instead of the console summary")
	fs.StringP("output", "o", "", "Also write the JSON report to this file")
	fs.BoolP("quiet", "q", false, "Print a one-line summary")
	fs.Bool("no-color", false, "Disable colored output")
}

func init() {
	addRunFlags(runCmd.Flags())
}
