package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/teleclinic/consultvoice/internal/app"
	"github.com/teleclinic/consultvoice/internal/config"
	"github.com/teleclinic/consultvoice/internal/observability/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Init(logging.Config{Level: "info", Format: "json"})
		log.Fatal().Err(err).Msg("config error")
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	result, err := app.Build(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("build failed")
	}
	defer func() {
		if err := result.Cleanup(); err != nil {
			log.Error().Err(err).Msg("cleanup failed")
		}
	}()

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: result.API.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	result.Registry.StartJanitor(runCtx, 30*time.Second)

	go func() {
		log.Info().Str("addr", cfg.BindAddr).Str("provider", result.ResolvedProvider).Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
		_ = httpServer.Close()
	}

	log.Info().Msg("shutdown complete")
}
