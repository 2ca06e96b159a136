package repo

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"tg-dispatch-bot/internal/infra/metrics"
)

// Redis хранит каждую коллекцию под ключом prefix:collection.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis создаёт бэкенд.
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "dispatch"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(name string) string {
	return r.prefix + ":" + name
}

func (r *Redis) Read(ctx context.Context, names []string) (map[string][]byte, error) {
	keys := make([]string, len(names))
	for i, name := range names {
		keys[i] = r.key(name)
	}
	start := time.Now()
	values, err := r.client.MGet(ctx, keys...).Result()
	metrics.ObserveNetworkRequest("redis", "state_load", r.prefix, start, err)
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	out := make(map[string][]byte, len(names))
	for i, v := range values {
		if s, ok := v.(string); ok {
			out[names[i]] = []byte(s)
		}
	}
	return out, nil
}

func (r *Redis) Write(ctx context.Context, docs map[string][]byte) error {
	start := time.Now()
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for name, data := range docs {
			pipe.Set(ctx, r.key(name), data, 0)
		}
		return nil
	})
	metrics.ObserveNetworkRequest("redis", "state_store", r.prefix, start, err)
	return err
}
