package slots

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hackgods/consul-visit-booker/internal/identity"
)

const defaultPrefix = "slots:"

// RedisRegistry shares the registry between booker hosts. Each combination is
// a sorted set of date tokens scored by unix time; an index set lists them.
type RedisRegistry struct {
	client *redis.Client
	prefix string
}

func NewRedisRegistry(client *redis.Client) *RedisRegistry {
	return &RedisRegistry{client: client, prefix: defaultPrefix}
}

func (r *RedisRegistry) indexKey() string { return r.prefix + "index" }

func member(country, consulate, service string) string {
	return country + "|" + consulate + "|" + service
}

func (r *RedisRegistry) setKey(m string) string { return r.prefix + "combo:" + m }

func (r *RedisRegistry) Add(ctx context.Context, country, consulate, service, date string) error {
	t, err := parseToken(date)
	if err != nil {
		return err
	}
	m := member(country, consulate, service)

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, r.setKey(m), redis.Z{Score: float64(t.Unix()), Member: date})
		pipe.SAdd(ctx, r.indexKey(), m)
		return nil
	})
	if err != nil {
		return fmt.Errorf("registry add: %w", err)
	}
	return nil
}

func (r *RedisRegistry) Remove(ctx context.Context, country, consulate, service, date string) error {
	m := member(country, consulate, service)
	if err := r.client.ZRem(ctx, r.setKey(m), date).Err(); err != nil {
		return fmt.Errorf("registry remove: %w", err)
	}
	return r.dropIfEmpty(ctx, m)
}

func (r *RedisRegistry) dropIfEmpty(ctx context.Context, m string) error {
	n, err := r.client.ZCard(ctx, r.setKey(m)).Result()
	if err != nil {
		return fmt.Errorf("registry card: %w", err)
	}
	if n > 0 {
		return nil
	}
	if err := r.client.SRem(ctx, r.indexKey(), m).Err(); err != nil {
		return fmt.Errorf("registry index: %w", err)
	}
	return nil
}

func (r *RedisRegistry) HasMatch(ctx context.Context, id *identity.Identity) (bool, error) {
	for _, c := range id.Combinations() {
		n, err := r.client.ZCard(ctx, r.setKey(member(id.Country, c.Consulate, c.Service))).Result()
		if err != nil {
			return false, fmt.Errorf("registry match: %w", err)
		}
		if n > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (r *RedisRegistry) Snapshot(ctx context.Context) (Snapshot, error) {
	members, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("registry index: %w", err)
	}

	cmds := make([]*redis.StringSliceCmd, len(members))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, m := range members {
			cmds[i] = pipe.ZRange(ctx, r.setKey(m), 0, -1)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("registry snapshot: %w", err)
	}

	out := Snapshot{}
	for i, m := range members {
		parts := strings.SplitN(m, "|", 3)
		dates := cmds[i].Val()
		if len(parts) != 3 || len(dates) == 0 {
			continue
		}
		out.put(parts[0], parts[1], parts[2], dates)
	}
	return out, nil
}

func (r *RedisRegistry) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	members, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("registry index: %w", err)
	}

	bound := "(" + strconv.FormatInt(cutoff.Unix(), 10)
	removed := 0
	for _, m := range members {
		n, err := r.client.ZRemRangeByScore(ctx, r.setKey(m), "-inf", bound).Result()
		if err != nil {
			return removed, fmt.Errorf("registry prune: %w", err)
		}
		removed += int(n)
		if err := r.dropIfEmpty(ctx, m); err != nil {
			return removed, err
		}
	}
	return removed, nil
}
