package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hackgods/clinic-appointments/internal/api"
	"github.com/hackgods/clinic-appointments/internal/bff"
	"github.com/hackgods/clinic-appointments/internal/config"
	"github.com/hackgods/clinic-appointments/internal/logging"
	"github.com/hackgods/clinic-appointments/internal/metrics"
)

func main() {
	cfg, err := config.Load(config.TierBFF)
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.Init("bff-server", cfg.Env, cfg.LogLevel)
	logger.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Str("resource_base_url", cfg.ResourceBaseURL).
		Msg("bff-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	rootCtx = logger.WithContext(rootCtx)
	// requests keep running during graceful shutdown, so they do not inherit the signal context
	baseCtx := logger.WithContext(context.Background())

	collector := metrics.NewCollector("bff")

	client, err := bff.NewClient(bff.Options{
		BaseURL:     cfg.ResourceBaseURL,
		Timeout:     cfg.UpstreamTimeout,
		MaxFailures: cfg.BreakerMaxFailures,
		OpenTimeout: cfg.BreakerOpenTimeout,
		Metrics:     collector,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("bff client error")
	}

	router := api.NewRouter(api.RouterConfig{
		Backend: client,
		Health: api.NewHealthHandler(cfg.Env, cfg.Version,
			api.Check{Name: "resource", Critical: true, Ping: client.Ping}),
		Metrics: collector,
		Logger:  logger,
		// the upstream timeout bounds each call; this only bounds the whole request
		RequestTimeout: cfg.UpstreamTimeout + time.Second,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-rootCtx.Done()
	logger.Info().Msg("shutting down bff-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}
