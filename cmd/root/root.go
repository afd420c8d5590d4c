// Package root builds the command tree for the shared-context-server binary.
package root

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/leoric-crown/shared-context-server/pkg/logging"
)

type rootFlags struct {
	debugMode   bool
	logFilePath string
	logFile     io.Closer
}

// NewRootCmd builds the root cobra command with its persistent flags and
// subcommands wired in.
func NewRootCmd() *cobra.Command {
	var flags rootFlags

	cmd := &cobra.Command{
		Use:   "shared-context-server",
		Short: "shared-context-server - a coordination server for multi-agent collaboration",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level := os.Getenv("LOG_LEVEL")
			if flags.debugMode {
				level = "debug"
			}
			rf, err := logging.Setup(logging.Options{Level: level, LogFile: flags.logFilePath}, cmd.ErrOrStderr())
			if err != nil {
				slog.Warn("failed to set up file logging, falling back to stderr", "error", err)
			}
			if rf != nil {
				flags.logFile = rf
			}
			return nil
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			if flags.logFile != nil {
				return flags.logFile.Close()
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().BoolVarP(&flags.debugMode, "debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&flags.logFilePath, "log-file", "", "Path to a log file (default: stderr)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMigrateCmd())

	return cmd
}

// Execute runs the root command to completion, mapping errors to the exit
// codes described for the server: 0 clean, 1 runtime error, 2 config
// error, 3 schema mismatch.
func Execute(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args ...string) int {
	cmd := NewRootCmd()
	cmd.SetArgs(args)
	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, err)

		var cfgErr *ConfigError
		var schemaErr *SchemaError
		switch {
		case errors.As(err, &cfgErr):
			return 2
		case errors.As(err, &schemaErr):
			return 3
		default:
			return 1
		}
	}
	return 0
}

// ConfigError marks errors caused by invalid or missing configuration.
type ConfigError struct{ Err error }

func (e *ConfigError) Error() string { return e.Err.Error() }
func (e *ConfigError) Unwrap() error { return e.Err }

// SchemaError marks errors caused by a database schema mismatch.
type SchemaError struct{ Err error }

func (e *SchemaError) Error() string { return e.Err.Error() }
func (e *SchemaError) Unwrap() error { return e.Err }
