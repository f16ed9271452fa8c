package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hackgods/clinic-appointments/internal/config"
	"github.com/hackgods/clinic-appointments/internal/db"
	"github.com/hackgods/clinic-appointments/internal/logging"
	"github.com/hackgods/clinic-appointments/internal/seed"
)

func main() {
	cfg, err := config.Load(config.TierResource)
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}
	if cfg.StoreDriver != config.StoreDriverPostgres {
		log.Fatal().Str("store", cfg.StoreDriver).Msg("seed only targets the postgres store")
	}

	logger := logging.Init("seed", cfg.Env, cfg.LogLevel)
	logger.Info().Msg("seed starting")

	ctx, cancel := context.WithTimeout(logger.WithContext(context.Background()), 5*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("apply schema")
	}

	patients := getInt("SEED_PATIENTS", 9000)
	doctors := getInt("SEED_DOCTORS", 100)
	seedValue := uint64(getInt("SEED_VALUE", int(time.Now().Unix())))

	logger.Info().Int("patients", patients).Int("doctors", doctors).Uint64("seed", seedValue).Msg("generating dataset")

	if err := seed.Postgres(ctx, pool, seed.Generate(seedValue, patients, doctors)); err != nil {
		logger.Fatal().Err(err).Msg("seed")
	}

	logger.Info().Msg("seed complete")
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
