package main

import (
	"os"

	"taskpulse/internal/app"
)

func main() {
	if err := newRootCmd(app.Run).Execute(); err != nil {
		os.Exit(1)
	}
}
