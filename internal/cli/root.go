package cli

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var version = "0.1.0"

// envPrefix prefixes the environment variables that override flags, e.g.
// PUMMEL_VUS=20.
const envPrefix = "PUMMEL"

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:     "pummel",
	Short:   "A concurrent HTTP load generator",
	Version: version,
	Long: `Pummel drives a fixed pool of virtual users against one HTTP endpoint for a
bounded duration, evaluates named checks on every response and prints a
summary of pass/fail counts, status codes, error kinds and latency.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging(cmd)
	},
	Run: func(cmd *cobra.Command, args []string) {
		// If no subcommand is provided, print help
		_ = cmd.Help()
	},
}

// logger is shared by every subcommand and configured from the persistent
// logging flags.
var logger = logrus.New()

// Execute runs the root command. Errors are printed to stderr and returned so
// main can choose the exit code.
func Execute() error {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(RootCmd.ErrOrStderr(), "Error:", err)
		return err
	}
	return nil
}

// setupLogging configures logger from --log-level and --log-format.
func setupLogging(cmd *cobra.Command) error {
	v, err := newViper(cmd.Flags())
	if err != nil {
		return err
	}

	level, err := logrus.ParseLevel(v.GetString("log-level"))
	if err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}
	logger.SetLevel(level)
	logger.SetOutput(cmd.ErrOrStderr())

	switch format := strings.ToLower(v.GetString("log-format")); format {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("invalid --log-format %q (want text or json)", format)
	}
	return nil
}

// newViper binds flags to a fresh viper instance that also reads PUMMEL_*
// environment variables. A flag set on the command line wins over the
// environment, which wins over the flag default.
func newViper(flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}
	return v, nil
}

func init() {
	RootCmd.PersistentFlags().String("log-level", "warn", "Log level (debug, info, warn, error)")
	RootCmd.PersistentFlags().String("log-format", "text", "Log format (text, json)")

	RootCmd.AddCommand(runCmd)
	RootCmd.AddCommand(targetCmd)
}
