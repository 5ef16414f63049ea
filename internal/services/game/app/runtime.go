// Package app wires the worker runtime: storage, background loops, and the
// health surface.
package app

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/bghira/text-game-engine/internal/services/game/engine"
	"github.com/bghira/text-game-engine/internal/services/game/storage/sqlite"
	"github.com/bghira/text-game-engine/internal/services/game/worker"
)

// RuntimeConfig controls worker startup, dependencies, and loop behavior.
type RuntimeConfig struct {
	Port          int           `env:"TEXT_GAME_ENGINE_WORKER_PORT" envDefault:"8089"`
	DBPath        string        `env:"TEXT_GAME_ENGINE_DB_PATH" envDefault:"data/game.db"`
	PollInterval  time.Duration `env:"TEXT_GAME_ENGINE_WORKER_POLL_INTERVAL" envDefault:"2s"`
	BatchSize     int           `env:"TEXT_GAME_ENGINE_WORKER_BATCH_SIZE" envDefault:"16"`
	MaxAttempts   int           `env:"TEXT_GAME_ENGINE_WORKER_MAX_ATTEMPTS" envDefault:"8"`
	RetryBackoff  time.Duration `env:"TEXT_GAME_ENGINE_WORKER_RETRY_BACKOFF" envDefault:"5s"`
	RetryMaxDelay time.Duration `env:"TEXT_GAME_ENGINE_WORKER_RETRY_MAX_DELAY" envDefault:"5m"`
}

const (
	defaultWorkerPort = 8089
	defaultWorkerDB   = "data/game.db"
)

// Deps are the capability ports the worker drains effects through. Nil
// fields fall back to logging stand-ins.
type Deps struct {
	Publisher    worker.Publisher
	TimerEffects engine.TimerEffects
}

// Run starts worker runtime dependencies and the background processing
// loops, blocking until the context ends.
func Run(ctx context.Context, cfg RuntimeConfig, deps Deps) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Port <= 0 {
		cfg.Port = defaultWorkerPort
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = defaultWorkerDB
	}
	if deps.Publisher == nil {
		deps.Publisher = worker.LogPublisher{}
	}
	if deps.TimerEffects == nil {
		deps.TimerEffects = worker.LogTimerEffects{}
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create worker storage dir: %w", err)
		}
	}

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open game sqlite store: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			log.Printf("close game sqlite store: %v", closeErr)
		}
	}()

	loopConfig := worker.Config{
		PollInterval:  cfg.PollInterval,
		BatchSize:     cfg.BatchSize,
		MaxAttempts:   cfg.MaxAttempts,
		RetryBackoff:  cfg.RetryBackoff,
		RetryMaxDelay: cfg.RetryMaxDelay,
	}
	dispatcher := worker.NewDispatcher(store, deps.Publisher, loopConfig, nil)
	timerWorker := worker.NewTimerWorker(store, deps.TimerEffects, loopConfig, nil)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on worker port %d: %w", cfg.Port, err)
	}
	defer listener.Close()

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("game.worker", grpc_health_v1.HealthCheckResponse_SERVING)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- grpcServer.Serve(listener)
	}()
	defer func() {
		healthServer.Shutdown()
		grpcServer.GracefulStop()
		<-serveErr
	}()

	log.Printf("game worker listening at %v", listener.Addr())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error { return timerWorker.Run(gctx) })
	return g.Wait()
}
