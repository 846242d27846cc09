// Package output renders the final report of a load run.
package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/wesleyorama2/pummel/internal/loadgen/check"
	"github.com/wesleyorama2/pummel/internal/loadgen/engine"
)

const (
	ruleWidth = 56
	ruleChar  = "━"
	passIcon  = "✓"
	failIcon  = "✗"
)

// Console prints run headers and summaries.
type Console struct {
	writer io.Writer
	colors *ColorScheme
	quiet  bool
}

// ConsoleConfig contains configuration for Console.
type ConsoleConfig struct {
	Writer      io.Writer
	Quiet       bool
	NoColor     bool
	ForceColors bool
}

// NewConsole creates a Console. Colors are used when the writer is a terminal
// that supports them, unless overridden.
func NewConsole(cfg ConsoleConfig) *Console {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}

	useColors := cfg.ForceColors
	if !useColors && !cfg.NoColor {
		if f, ok := cfg.Writer.(*os.File); ok {
			useColors = isTerminal(f) && supportsColors()
		}
	}

	colors := NoColorScheme()
	if useColors {
		colors = DefaultColorScheme()
	}

	return &Console{writer: cfg.Writer, colors: colors, quiet: cfg.Quiet}
}

// PrintHeader prints the banner shown when a run starts.
func (c *Console) PrintHeader(name, target, executor string, vus int, duration time.Duration) {
	if c.quiet {
		return
	}

	rule := strings.Repeat(ruleChar, ruleWidth)
	c.writeln(c.colors.Rule.Sprint(rule))
	c.writeln(c.colors.Title.Sprintf("%s - Running [%s]", name, executor))
	c.writeln(c.colors.Rule.Sprint(rule))
	c.writeln(fmt.Sprintf("Target:        %s", c.colors.Value.Sprint(target)))
	c.writeln(fmt.Sprintf("VUs:           %s", c.colors.Value.Sprint(vus)))
	c.writeln(fmt.Sprintf("Duration:      %s", c.colors.Value.Sprint(formatDuration(duration))))
	c.writeln("")
}

// PrintSummary prints the final report.
func (c *Console) PrintSummary(report *engine.Report) {
	s := report.Summary

	if c.quiet {
		c.writeln(fmt.Sprintf("%s: %d requests, %d failed, checks %s",
			report.Name, s.Total, s.Failed, formatPercent(checkPassRate(s))))
		return
	}

	rule := strings.Repeat(ruleChar, ruleWidth)
	status := c.colors.Pass.Sprint("Completed " + passIcon)
	if !allChecksPassed(s) {
		status = c.colors.Warn.Sprint("Completed, checks failed " + failIcon)
	}

	c.writeln("")
	c.writeln(c.colors.Rule.Sprint(rule))
	c.writeln(fmt.Sprintf("%s - %s", c.colors.Title.Sprint(report.Name), status))
	c.writeln(c.colors.Rule.Sprint(rule))
	c.writeln("")

	c.writeln(fmt.Sprintf("Target:        %s", c.colors.Value.Sprint(report.Target)))
	c.writeln(fmt.Sprintf("Executor:      %s", c.colors.Value.Sprintf("%s (%d VUs, %d spawned)", report.Executor, report.VUs, report.Spawned)))
	c.writeln(fmt.Sprintf("Duration:      %s", c.colors.Value.Sprint(formatDuration(report.Duration))))
	c.writeln(fmt.Sprintf("Total Reqs:    %s", c.colors.Value.Sprint(formatNumber(s.Total))))

	successRate := 1.0
	if s.Total > 0 {
		successRate = 1 - float64(s.Failed)/float64(s.Total)
	}
	c.writeln(fmt.Sprintf("Failed:        %s", c.colors.rate(successRate).Sprintf("%s (%s)", formatNumber(s.Failed), formatPercent(1-successRate))))
	if m := report.Metrics; m != nil {
		c.writeln(fmt.Sprintf("Throughput:    %s", c.colors.Value.Sprintf("%.1f req/s", m.RPS)))
		c.writeln(fmt.Sprintf("Data Received: %s", c.colors.Value.Sprint(formatBytes(m.TotalBytes))))
	}
	c.writeln("")

	if len(s.Checks) > 0 {
		c.writeln(c.colors.Label.Sprint("Checks:"))
		width := 0
		for _, t := range s.Checks {
			if len(t.Name) > width {
				width = len(t.Name)
			}
		}
		for _, t := range s.Checks {
			icon := c.colors.Pass.Sprint(passIcon)
			if t.Fails > 0 {
				icon = c.colors.Fail.Sprint(failIcon)
			}
			c.writeln(fmt.Sprintf("  %s %-*s  %s  %s %s  %s %s",
				icon, width, t.Name,
				c.colors.rate(t.PassRate()).Sprintf("%6s", formatPercent(t.PassRate())),
				passIcon, formatNumber(t.Passes),
				failIcon, formatNumber(t.Fails)))
		}
		c.writeln("")
	}

	if len(s.StatusCodes) > 0 {
		c.writeln(c.colors.Label.Sprint("Status Codes:"))
		codes := make([]int, 0, len(s.StatusCodes))
		for code := range s.StatusCodes {
			codes = append(codes, code)
		}
		sort.Ints(codes)
		for _, code := range codes {
			c.writeln(fmt.Sprintf("  %s  %s", c.statusColor(code).Sprint(code), formatNumber(s.StatusCodes[code])))
		}
		c.writeln("")
	}

	if len(s.Errors) > 0 {
		c.writeln(c.colors.Label.Sprint("Errors:"))
		kinds := make([]string, 0, len(s.Errors))
		for kind := range s.Errors {
			kinds = append(kinds, kind)
		}
		sort.Strings(kinds)
		for _, kind := range kinds {
			c.writeln(fmt.Sprintf("  %-10s %s", kind, c.colors.Fail.Sprint(formatNumber(s.Errors[kind]))))
		}
		c.writeln("")
	}

	if m := report.Metrics; m != nil && m.Latency.Count > 0 {
		c.writeln(c.colors.Label.Sprint("Latency Distribution:"))
		c.writeln(fmt.Sprintf("  Min:       %s", formatDurationShort(m.Latency.Min)))
		c.writeln(fmt.Sprintf("  Mean:      %s", formatDurationShort(m.Latency.Mean)))
		c.writeln(fmt.Sprintf("  P50:       %s", formatDurationShort(m.Latency.P50)))
		c.writeln(fmt.Sprintf("  P90:       %s", formatDurationShort(m.Latency.P90)))
		c.writeln(fmt.Sprintf("  P95:       %s", formatDurationShort(m.Latency.P95)))
		c.writeln(fmt.Sprintf("  P99:       %s", formatDurationShort(m.Latency.P99)))
		c.writeln(fmt.Sprintf("  Max:       %s", formatDurationShort(m.Latency.Max)))
		c.writeln("")
	}
}

func (c *Console) statusColor(code int) *color.Color {
	switch {
	case code >= 500:
		return c.colors.Fail
	case code >= 400:
		return c.colors.Warn
	default:
		return c.colors.Pass
	}
}

func (c *Console) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

func allChecksPassed(s check.Summary) bool {
	for _, t := range s.Checks {
		if t.Fails > 0 {
			return false
		}
	}
	return true
}

// checkPassRate is the pass ratio over every check evaluation.
func checkPassRate(s check.Summary) float64 {
	var passes, total int64
	for _, t := range s.Checks {
		passes += t.Passes
		total += t.Total()
	}
	if total == 0 {
		return 1
	}
	return float64(passes) / float64(total)
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
}

// formatDurationShort formats a latency.
func formatDurationShort(d time.Duration) string {
	if d < time.Microsecond {
		return "0ms"
	}
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%.2fms", float64(d)/float64(time.Millisecond))
	}
	if d < time.Minute {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}

func formatPercent(r float64) string {
	return fmt.Sprintf("%.1f%%", r*100)
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int64) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var result strings.Builder
	offset := len(str) % 3
	if offset > 0 {
		result.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if result.Len() > 0 {
			result.WriteString(",")
		}
		result.WriteString(str[i : i+3])
	}
	return result.String()
}

// formatBytes formats a byte count with a binary unit.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
