package main

import (
	"github.com/spf13/cobra"

	"taskpulse/internal/app"
)

// serveFunc starts the server with a loaded config. Tests replace it.
type serveFunc func(app.Config) error

func newRootCmd(serve serveFunc) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "taskpulse",
		Short:         "taskpulse: real-time task notification fan-out server",
		Long:          "taskpulse persists task notifications and pushes them to connected users and teams over WebSocket channels.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(
		newServeCmd(serve),
		newSmokeCmd(),
		newVersionCmd(),
	)
	return rootCmd
}
