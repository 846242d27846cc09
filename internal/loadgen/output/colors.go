package output

import (
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// ColorScheme defines the colors used for the elements of the summary
type ColorScheme struct {
	Title     *color.Color
	Rule      *color.Color
	Label     *color.Color
	Value     *color.Color
	Pass      *color.Color
	Warn      *color.Color
	Fail      *color.Color
	Dim       *color.Color
	Highlight *color.Color
}

// DefaultColorScheme returns the default color scheme
func DefaultColorScheme() *ColorScheme {
	s := &ColorScheme{
		Title:     color.New(color.Bold),
		Rule:      color.New(color.FgCyan),
		Label:     color.New(color.Bold),
		Value:     color.New(color.FgCyan),
		Pass:      color.New(color.FgGreen),
		Warn:      color.New(color.FgYellow),
		Fail:      color.New(color.FgRed),
		Dim:       color.New(color.Faint),
		Highlight: color.New(color.FgMagenta, color.Bold),
	}
	// color.NoColor follows os.Stdout; the summary may go elsewhere.
	for _, c := range s.all() {
		c.EnableColor()
	}
	return s
}

// NoColorScheme returns a color scheme with all colors disabled
func NoColorScheme() *ColorScheme {
	s := DefaultColorScheme()
	for _, c := range s.all() {
		c.DisableColor()
	}
	return s
}

func (s *ColorScheme) all() []*color.Color {
	return []*color.Color{s.Title, s.Rule, s.Label, s.Value, s.Pass, s.Warn, s.Fail, s.Dim, s.Highlight}
}

// rate picks pass, warn or fail for a success ratio.
func (s *ColorScheme) rate(r float64) *color.Color {
	switch {
	case r >= 0.99:
		return s.Pass
	case r >= 0.95:
		return s.Warn
	default:
		return s.Fail
	}
}

// isTerminal reports whether f is an interactive terminal.
func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// supportsColors checks if the environment allows colored output.
func supportsColors() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	term := os.Getenv("TERM")
	return term != "" && term != "dumb"
}
