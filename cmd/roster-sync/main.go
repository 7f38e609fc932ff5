// Package main is the entry point for roster-sync.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/stacklok/roster-sync/cmd/roster-sync/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := app.NewRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
