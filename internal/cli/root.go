// Package cli wires the naildp-realtime commands.
package cli

import (
	"github.com/spf13/cobra"

	pkglog "github.com/nail-dp-dev/naildp-realtime/pkg/log"
)

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "naildp-realtime",
		Short:         "Notification and chat fan-out server for naildp",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", ".", "directory containing config.yaml")

	cmd.AddCommand(newServeCmd(&configPath))
	cmd.AddCommand(newMigrateCmd(&configPath))
	return cmd
}

// NewRootCmdForTest returns the root command for testing.
func NewRootCmdForTest() *cobra.Command {
	return newRootCmd()
}

// Execute runs the root command and logs a failure.
func Execute() error {
	err := newRootCmd().Execute()
	if err != nil {
		l := pkglog.L()
		l.Error().Err(err).Msg("command failed")
	}
	return err
}
