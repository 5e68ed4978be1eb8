package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"hype-hunter/internal/domain"
)

// RedisAlertQueue реализует очередь уведомлений на базе Redis lists.
// Используется как запасной вариант без брокера; подтверждений нет,
// задача считается доставленной сразу после чтения.
type RedisAlertQueue struct {
	client *redis.Client
	key    string
}

// NewRedisAlertQueue создаёт очередь по указанному ключу.
func NewRedisAlertQueue(client *redis.Client, key string) *RedisAlertQueue {
	return &RedisAlertQueue{client: client, key: key}
}

// Enqueue публикует задачу в очередь.
func (q *RedisAlertQueue) Enqueue(ctx context.Context, job domain.AlertJob) error {
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
func (q *RedisAlertQueue) Receive(ctx context.Context) (domain.AlertJob, domain.AlertAckFunc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.AlertJob{}, nil, err
		}

		res, err := q.client.BRPop(ctx, time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.AlertJob{}, nil, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.AlertJob{}, nil, err
		}
		if len(res) != 2 {
			return domain.AlertJob{}, nil, errors.New("redis queue: unexpected response")
		}
		var job domain.AlertJob
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			return domain.AlertJob{}, nil, fmt.Errorf("decode job: %w", err)
		}
		return job, func(bool) error { return nil }, nil
	}
}
