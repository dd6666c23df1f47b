package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/consul-visit-booker/internal/config"
)

// Options selects the Redis instance that holds the shared registry and locks.
type Options struct {
	Addr     string
	Username string
	Password string
	Timeout  time.Duration // dial, read and write
}

// OptionsFrom takes the connection settings out of cfg.
func OptionsFrom(cfg config.Config) Options {
	return Options{Addr: cfg.RedisAddr, Username: cfg.RedisUsername, Password: cfg.RedisPassword}
}

func (o Options) client() *redis.Client {
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	// One scheduler per host: a handful of connections covers the registry,
	// the lock and the readiness probe.
	return redis.NewClient(&redis.Options{
		Addr:         o.Addr,
		Username:     o.Username,
		Password:     o.Password,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		PoolSize:     4,
		MinIdleConns: 1,
	})
}

// Connect opens a client and pings it within 5s.
func Connect(ctx context.Context, o Options, log zerolog.Logger) (*redis.Client, error) {
	if o.Addr == "" {
		return nil, fmt.Errorf("redis: empty address")
	}
	rdb := o.client()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", o.Addr, err)
	}
	log.Debug().Str("addr", o.Addr).Bool("auth", o.Password != "").Msg("redis reachable")
	return rdb, nil
}
