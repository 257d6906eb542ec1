package app

import (
	"context"
	"os/signal"
	"syscall"
)

// Run is the entrypoint used by `taskpulse serve`.
// It returns an error instead of calling os.Exit to keep defers effective.
func Run(cfg Config) error {
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := New(ctx, cfg, log)
	if err != nil {
		log.Error("app.init.fail", "err", err)
		return err
	}
	return a.Run(ctx)
}
