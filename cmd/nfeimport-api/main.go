package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nfeimport/internal/api"
	"nfeimport/internal/config"
	"nfeimport/internal/pipeline"
)

func main() {
	configPath := os.Getenv("NFE_CONFIG")
	if configPath == "" {
		configPath = "settings.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		os.Stderr.WriteString("error: " + err.Error() + "\n")
		os.Exit(1)
	}
	if err := cfg.EnsureDirs(); err != nil {
		os.Stderr.WriteString("error: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := config.SetupLogger(cfg.Logging)

	proc := pipeline.NewProcessor(cfg, nil, logger)
	logger.Info().Int("products", proc.ProductCount()).Msg("catalogue loaded")

	r := api.NewRouter(proc, logger)

	srv := &http.Server{Addr: cfg.API.Addr, Handler: r}
	logger.Info().Str("addr", cfg.API.Addr).Msg("server starting")

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("listen")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	logger.Info().Msg("bye")
}
