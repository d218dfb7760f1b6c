package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Dyastin-0/lanshare/cui"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	code := cui.Run(ctx, os.Args)

	stop()
	os.Exit(code)
}
