package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tweet-scout/internal/domain"
)

// RedisEngagementQueue реализует очередь задач на базе Redis lists.
// Подтверждение с success=false возвращает задачу в хвост очереди,
// поэтому доставка получается at-least-once.
type RedisEngagementQueue struct {
	client *redis.Client
	key    string
}

// NewRedisEngagementQueue создаёт очередь по указанному ключу.
func NewRedisEngagementQueue(client *redis.Client, key string) *RedisEngagementQueue {
	return &RedisEngagementQueue{client: client, key: key}
}

// Enqueue публикует задачу в очередь.
func (q *RedisEngagementQueue) Enqueue(ctx context.Context, job domain.EngagementJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// Receive блокирующе читает задачу из очереди.
func (q *RedisEngagementQueue) Receive(ctx context.Context) (domain.EngagementJob, domain.EngagementAckFunc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.EngagementJob{}, nil, err
		}

		res, err := q.client.BRPop(ctx, time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.EngagementJob{}, nil, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.EngagementJob{}, nil, err
		}
		if len(res) != 2 {
			return domain.EngagementJob{}, nil, errors.New("redis queue: unexpected response")
		}
		raw := []byte(res[1])
		var job domain.EngagementJob
		if err := json.Unmarshal(raw, &job); err != nil {
			return domain.EngagementJob{}, nil, fmt.Errorf("decode job: %w", err)
		}
		ack := func(success bool) error {
			if success {
				return nil
			}
			return q.client.LPush(context.Background(), q.key, raw).Err()
		}
		return job, ack, nil
	}
}
