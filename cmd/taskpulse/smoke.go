package main

import (
	"time"

	"github.com/spf13/cobra"

	"taskpulse/internal/smoke"
)

func newSmokeCmd() *cobra.Command {
	var opts smoke.Options

	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Run an end-to-end check against a running push gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return smoke.Run(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.URL, "url", "ws://127.0.0.1:8080/ws", "WebSocket URL of the push endpoint")
	flags.StringVar(&opts.Origin, "origin", "http://localhost", "Origin header to send (empty for none)")
	flags.DurationVar(&opts.Timeout, "timeout", 7*time.Second, "per-step timeout")
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	return cmd
}
