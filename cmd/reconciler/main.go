package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mgamer/indexer-v3-sub017/app/reconciler"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	defer cancel()

	app, err := reconciler.Initialize(ctx)
	if err != nil {
		os.Exit(1)
	}

	app.Start(ctx)
}
