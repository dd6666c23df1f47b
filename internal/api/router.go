package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/consul-visit-booker/internal/audit"
	"github.com/hackgods/consul-visit-booker/internal/slots"
)

type QueueView interface {
	Aliases() []string
}

// Activity describes what the scheduler is doing right now.
type Activity interface {
	Active() string
	Finished() int
}

type SlotSource interface {
	Snapshot(ctx context.Context) (slots.Snapshot, error)
}

type EventSource interface {
	Recent(ctx context.Context, limit int) ([]audit.Event, error)
}

type Commander interface {
	Execute(cmd string) string
	Status() string
}

type RouterConfig struct {
	Queue    QueueView
	Activity Activity
	Slots    SlotSource
	Events   EventSource
	Control  Commander
	Metrics  http.Handler
	PgPool   *pgxpool.Pool
	Redis    *redis.Client
	Log      zerolog.Logger
	Env      string
	Version  string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Get("/queue", queueHandler(cfg.Queue, cfg.Activity, cfg.Control))
	r.Get("/slots", slotsHandler(cfg.Slots))
	r.Get("/events", eventsHandler(cfg.Events))
	r.Post("/control/{command}", controlHandler(cfg.Control))

	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}
	return r
}
