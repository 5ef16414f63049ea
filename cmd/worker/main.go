// Command worker drains engine side effects: it dispatches pending outbox
// events and expires due campaign timers.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	platformcmd "github.com/bghira/text-game-engine/internal/platform/cmd"
	"github.com/bghira/text-game-engine/internal/platform/config"
	"github.com/bghira/text-game-engine/internal/platform/timeouts"
	"github.com/bghira/text-game-engine/internal/services/game/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfg app.RuntimeConfig
	fs := flag.NewFlagSet(platformcmd.ServiceWorker, flag.ExitOnError)
	if err := platformcmd.ParseConfig(&cfg); err != nil {
		config.Exitf("worker config: %v", err)
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "health port")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "sqlite database path")
	if err := platformcmd.ParseArgs(fs, os.Args[1:]); err != nil {
		config.Exitf("worker flags: %v", err)
	}

	options := platformcmd.RunOptions{ShutdownTimeout: timeouts.Shutdown}
	err := platformcmd.RunWithTelemetryAndOptions(ctx, platformcmd.ServiceWorker, options, func(ctx context.Context) error {
		return app.Run(ctx, cfg, app.Deps{})
	})
	if err != nil && ctx.Err() == nil {
		config.Exitf("worker: %v", err)
	}
}
