package main

import (
	"github.com/spf13/cobra"

	"taskpulse/internal/app"
)

func newServeCmd(serve serveFunc) *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the push gateway and notification dispatcher",
		Args:  cobra.NoArgs,
	}

	flags := cmd.Flags()
	flags.StringVar(&configFile, "config", "", "config file (YAML or TOML)")
	flags.String("addr", "", "HTTP listen address, host:port (overrides http.addr)")
	flags.String("log-level", "", "log level: debug, info, warn, error (overrides log.level)")
	flags.String("store", "", "notification store: memory, sqlite or postgres (overrides store.driver)")

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		v := app.NewViper()
		for key, flag := range map[string]string{
			"http.addr":    "addr",
			"log.level":    "log-level",
			"store.driver": "store",
		} {
			if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
				return err
			}
		}

		cfg, err := app.LoadConfig(v, configFile)
		if err != nil {
			return err
		}
		return serve(cfg)
	}
	return cmd
}
