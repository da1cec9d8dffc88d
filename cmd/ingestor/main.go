package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/mgamer/indexer-v3-sub017/app/ingestor"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	defer cancel()

	app := ingestor.Initialize(ctx)

	app.Start(ctx)
}
