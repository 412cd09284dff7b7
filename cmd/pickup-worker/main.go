package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/BearBump/PickupBox/config"
	"github.com/BearBump/PickupBox/internal/logging"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		panic(err)
	}
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		log.Fatal().Err(err).Msg("config parse error")
	}
	logging.Setup(cfg.PickupBox.LogLevel, cfg.PickupBox.LogFormat, "pickup-worker")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	stats := &workerStats{}
	if swaggerPath := os.Getenv("swaggerPath"); swaggerPath != "" {
		go func() {
			err := runWorkerHTTPServer(ctx, workerHTTPOpts{
				httpAddr:    cfg.PickupBox.WorkerHTTPAddr,
				swaggerPath: swaggerPath,
				stats:       stats,
				cfg:         cfg,
			})
			if err != nil && err != context.Canceled {
				log.Error().Err(err).Msg("worker HTTP server stopped")
			}
		}()
	}

	if err := RunPickupWorker(ctx, cfg, defaultWorkerFactories(), stats); err != nil && err != context.Canceled {
		log.Fatal().Err(err).Msg("pickup-worker stopped")
	}
}
