package cli

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// TestExecute tests the Execute function
func TestExecute(t *testing.T) {
	// Just make sure the function doesn't panic
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("Execute() panicked: %v", r)
		}
	}()

	buf := new(bytes.Buffer)
	RootCmd.SetOut(buf)
	RootCmd.SetArgs([]string{"--version"})
	defer RootCmd.SetArgs(nil)
	t.Cleanup(func() { resetFlag(RootCmd, "version") })

	if err := Execute(); err != nil {
		t.Errorf("Execute() error = %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte(version)) {
		t.Errorf("version output = %q", buf.String())
	}
}

func TestSetupLogging(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		wantLevel logrus.Level
		wantJSON  bool
		wantErr   bool
	}{
		{"defaults", nil, logrus.WarnLevel, false, false},
		{"debug json", []string{"--log-level", "debug", "--log-format", "json"}, logrus.DebugLevel, true, false},
		{"bad level", []string{"--log-level", "loud"}, 0, false, true},
		{"bad format", []string{"--log-format", "xml"}, 0, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				logger.SetLevel(logrus.WarnLevel)
				logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
			}()

			cmd := &cobra.Command{Use: "test"}
			cmd.SetErr(new(bytes.Buffer))
			cmd.Flags().String("log-level", "warn", "")
			cmd.Flags().String("log-format", "text", "")
			if err := cmd.ParseFlags(tt.args); err != nil {
				t.Fatalf("ParseFlags() error = %v", err)
			}

			err := setupLogging(cmd)
			if (err != nil) != tt.wantErr {
				t.Fatalf("setupLogging() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if logger.GetLevel() != tt.wantLevel {
				t.Errorf("level = %v, want %v", logger.GetLevel(), tt.wantLevel)
			}
			if _, isJSON := logger.Formatter.(*logrus.JSONFormatter); isJSON != tt.wantJSON {
				t.Errorf("formatter = %T", logger.Formatter)
			}
		})
	}
}
