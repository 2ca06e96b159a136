package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tg-dispatch-bot/internal/domain"
	"tg-dispatch-bot/internal/infra/metrics"
)

// RedisEventSink складывает события доставки в Redis list.
type RedisEventSink struct {
	client *redis.Client
	key    string
}

var _ domain.EventSink = (*RedisEventSink)(nil)

// NewRedisEventSink создаёт очередь по указанному ключу.
func NewRedisEventSink(client *redis.Client, key string) *RedisEventSink {
	return &RedisEventSink{client: client, key: key}
}

// Publish добавляет событие в начало списка.
func (q *RedisEventSink) Publish(ctx context.Context, event domain.DeliveryEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	start := time.Now()
	err = q.client.LPush(ctx, q.key, payload).Err()
	metrics.ObserveNetworkRequest("redis", "publish", q.key, start, err)
	if err != nil {
		return fmt.Errorf("push event: %w", err)
	}
	return nil
}

// Pop блокирующе читает самое старое событие.
func (q *RedisEventSink) Pop(ctx context.Context) (domain.DeliveryEvent, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.DeliveryEvent{}, err
		}
		res, err := q.client.BRPop(ctx, time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return domain.DeliveryEvent{}, ctx.Err()
			}
			return domain.DeliveryEvent{}, err
		}
		if len(res) != 2 {
			return domain.DeliveryEvent{}, errors.New("redis queue: unexpected response")
		}
		var event domain.DeliveryEvent
		if err := json.Unmarshal([]byte(res[1]), &event); err != nil {
			return domain.DeliveryEvent{}, fmt.Errorf("decode event: %w", err)
		}
		return event, nil
	}
}
