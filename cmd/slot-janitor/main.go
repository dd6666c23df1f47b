package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hackgods/consul-visit-booker/internal/config"
	"github.com/hackgods/consul-visit-booker/internal/logger"
	"github.com/hackgods/consul-visit-booker/internal/metrics"
	redisclient "github.com/hackgods/consul-visit-booker/internal/redis"
	"github.com/hackgods/consul-visit-booker/internal/slots"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Env, cfg.LogLevel)
	log.Info().Str("env", cfg.Env).Dur("interval", cfg.PruneInterval).Msg("slot-janitor starting up")

	if !cfg.RedisEnabled() {
		log.Fatal().Msg("REDIS_URL or REDIS_ADDR is required: only the shared registry needs a janitor")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := redisclient.Connect(rootCtx, redisclient.OptionsFrom(cfg), log)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing redis")
		}
	}()
	log.Info().Msg("connected to Redis")

	m := metrics.New(prometheus.DefaultRegisterer)
	janitor := slots.NewJanitor(slots.NewRedisRegistry(rdb), cfg.PruneInterval, log,
		slots.OnPrune(func(n int) { m.RegistryPruned.Add(float64(n)) }))

	if err := janitor.Run(rootCtx); err != nil {
		log.Error().Err(err).Msg("janitor stopped with error")
	}
}
