package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"rehabstage/internal/bootstrap"
	"rehabstage/internal/ports"
)

type rootOptions struct {
	verbose bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "stagectl",
		Short: "Play and manage rehabilitation exercise sessions",
		Long: `stagectl runs the exercise session controller from a terminal.

It shares configuration (STAGE_* environment variables, .env and the
exercises.yaml profile file) and the persisted session with the desktop app.

Quick Start:
  stagectl levels --type phoneme_practice   # List levels
  stagectl start <level-id> -d hard         # Start a session
  stagectl play                             # Play the current stage`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if opts.verbose {
				return os.Setenv("STAGE_LOG_LEVEL", "debug")
			}
			return nil
		},
	}
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.AddCommand(
		newKindsCmd(),
		newLevelsCmd(),
		newStartCmd(),
		newStatusCmd(),
		newPlayCmd(),
		newEndCmd(),
		newResetCmd(),
		newPrefsCmd(),
		newTokenCmd(),
	)
	return root
}

// openServices builds the runtime graph with logs on the command's stderr.
func openServices(cmd *cobra.Command, sink ports.EventSink) (*bootstrap.Services, error) {
	services, err := bootstrap.Build(sink, bootstrap.Options{LogOutput: cmd.ErrOrStderr()})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize: %w", err)
	}
	return services, nil
}
