// Package queue carries recheck requests from the admin API to the
// scoring worker.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// RecheckRequest asks the worker to score a verification record again
// ahead of its next scheduled pass.
type RecheckRequest struct {
	RecordID    string    `json:"record_id"`
	RequestedBy string    `json:"requested_by,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// Queue is the abstraction over different backends.
type Queue interface {
	Publish(ctx context.Context, req RecheckRequest) error
	Consume(ctx context.Context) (<-chan RecheckRequest, error)
}

// InMemory is a minimal channel-backed queue for dev/testing.
type InMemory struct {
	ch chan RecheckRequest
}

// NewInMemory creates a bounded in-memory queue.
func NewInMemory(size int) *InMemory {
	return &InMemory{ch: make(chan RecheckRequest, size)}
}

// Publish enqueues a recheck request.
func (q *InMemory) Publish(ctx context.Context, req RecheckRequest) error {
	select {
	case q.ch <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume returns a channel for the worker.
func (q *InMemory) Consume(ctx context.Context) (<-chan RecheckRequest, error) {
	out := make(chan RecheckRequest)
	go func() {
		defer close(out)
		for {
			select {
			case req := <-q.ch:
				out <- req
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// RedisQueue implements a simple Redis list-backed queue.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue builds a queue using LPUSH/BRPOP semantics.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = "norix:rechecks"
	}
	return &RedisQueue{client: client, key: key}
}

// Publish enqueues a recheck request as a JSON list element.
func (q *RedisQueue) Publish(ctx context.Context, req RecheckRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.key, payload).Err()
}

// Consume streams requests using BRPOP. Elements that do not decode
// are dropped rather than wedging the list.
func (q *RedisQueue) Consume(ctx context.Context) (<-chan RecheckRequest, error) {
	out := make(chan RecheckRequest)
	go func() {
		defer close(out)
		for {
			res, err := q.client.BRPop(ctx, 5*time.Second, q.key).Result()
			if err != nil {
				if err == redis.Nil {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				continue
			}
			if len(res) != 2 {
				continue
			}
			var req RecheckRequest
			if err := json.Unmarshal([]byte(res[1]), &req); err != nil {
				continue
			}
			out <- req
		}
	}()
	return out, nil
}
