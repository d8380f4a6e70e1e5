// Package main is the entry point for the wrangler CLI.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
)

// Build-time variables (set via ldflags)
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	// API keys may live in .env
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("wrangler"),
		kong.Description("Summarize a CSV file with a language model that writes and runs analysis code."),
		kong.UsageOnError(),
		kong.BindTo(ctx, (*context.Context)(nil)),
		kongVars(),
	)
	err := kctx.Run()
	stop()
	kctx.FatalIfErrorf(err)
}
