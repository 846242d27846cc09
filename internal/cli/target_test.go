package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

// resetFlag restores a flag of a package-level command to its default so the
// next test does not inherit it.
func resetFlag(cmd *cobra.Command, name string) {
	if f := cmd.Flags().Lookup(name); f != nil {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
}

func TestTargetCommand_Help(t *testing.T) {
	buf := new(bytes.Buffer)
	RootCmd.SetOut(buf)
	RootCmd.SetArgs([]string{"target", "--help"})
	defer RootCmd.SetArgs(nil)
	// cobra keeps the parsed help flag on the shared command
	t.Cleanup(func() { resetFlag(targetCmd, "help") })

	if err := RootCmd.Execute(); err != nil {
		t.Fatalf("target --help returned error: %v", err)
	}
	if !strings.Contains(buf.String(), "--fail-ratio") {
		t.Errorf("help should list --fail-ratio:\n%s", buf.String())
	}
}

func TestTargetCommand_InvalidFailRatioAfterHelp(t *testing.T) {
	RootCmd.SetOut(new(bytes.Buffer))
	RootCmd.SetArgs([]string{"target", "--help"})
	if err := RootCmd.Execute(); err != nil {
		t.Fatalf("target --help returned error: %v", err)
	}
	resetFlag(targetCmd, "help")

	RootCmd.SetErr(new(bytes.Buffer))
	RootCmd.SetArgs([]string{"target", "--addr", "127.0.0.1:0", "--fail-ratio", "1.5"})
	defer RootCmd.SetArgs(nil)

	err := RootCmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "fail ratio") {
		t.Errorf("a run after --help should validate flags again, got %v", err)
	}
}

func TestTargetCommand_InvalidFailRatio(t *testing.T) {
	RootCmd.SetOut(new(bytes.Buffer))
	RootCmd.SetErr(new(bytes.Buffer))
	RootCmd.SetArgs([]string{"target", "--addr", "127.0.0.1:0", "--fail-ratio", "1.5"})
	defer RootCmd.SetArgs(nil)

	err := RootCmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "fail ratio") {
		t.Errorf("expected fail ratio error, got %v", err)
	}
}
