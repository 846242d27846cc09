package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/wesleyorama2/pummel/internal/loadgen/engine"
)

// WriteJSON writes the report as indented JSON.
func WriteJSON(w io.Writer, report *engine.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

// WriteJSONFile writes the report to path, replacing any existing file.
func WriteJSONFile(path string, report *engine.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	if err := WriteJSON(f, report); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
