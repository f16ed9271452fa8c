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
	"github.com/hackgods/clinic-appointments/internal/appointment"
	"github.com/hackgods/clinic-appointments/internal/config"
	"github.com/hackgods/clinic-appointments/internal/db"
	"github.com/hackgods/clinic-appointments/internal/logging"
	"github.com/hackgods/clinic-appointments/internal/metrics"
	redisclient "github.com/hackgods/clinic-appointments/internal/redis"
	"github.com/hackgods/clinic-appointments/internal/seed"
)

func main() {
	cfg, err := config.Load(config.TierResource)
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.Init("resource-server", cfg.Env, cfg.LogLevel)
	logger.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Str("store", cfg.StoreDriver).
		Msg("resource-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	rootCtx = logger.WithContext(rootCtx)
	// requests keep running during graceful shutdown, so they do not inherit the signal context
	baseCtx := logger.WithContext(context.Background())

	var (
		repo   appointment.Repository
		checks []api.Check
		locker redisclient.Locker
	)

	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
		pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
		cancelPg()
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection error")
		}
		defer pgPool.Close()

		if err := db.Migrate(rootCtx, pgPool); err != nil {
			logger.Fatal().Err(err).Msg("schema migration error")
		}
		logger.Info().Msg("connected to Postgres")

		repo = appointment.NewPgRepository(pgPool)
		checks = append(checks, api.Check{Name: "postgres", Critical: true, Ping: pgPool.Ping})

	case config.StoreDriverMemory:
		mem := appointment.NewMemoryRepository()
		seed.Memory(mem, seed.Generate(uint64(time.Now().UnixNano()), 50, 10))
		logger.Warn().Msg("using in-memory store seeded with 50 patients and 10 doctors; data is lost on exit")
		repo = mem
	}

	if cfg.SlotLocks {
		rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			// the unique index still prevents double-booking; the lock only sheds contention early
			logger.Warn().Err(err).Msg("redis unavailable, slot locks disabled")
		} else {
			defer func() {
				if err := rdb.Close(); err != nil {
					logger.Error().Err(err).Msg("error closing redis")
				}
			}()
			logger.Info().Msg("connected to Redis")

			locker = redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)
			checks = append(checks, api.Check{Name: "redis", Ping: func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			}})
		}
	}

	svc := appointment.NewService(repo, locker, appointment.NewEngine(nil))

	router := api.NewRouter(api.RouterConfig{
		Backend:        svc,
		Health:         api.NewHealthHandler(cfg.Env, cfg.Version, checks...),
		Metrics:        metrics.NewCollector("resource"),
		Logger:         logger,
		RequestTimeout: cfg.RequestTimeout,
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
	logger.Info().Msg("shutting down resource-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}
