package store

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// JobQueue hands queued draft-job ids to the background worker runner. The
// coordinator pushes; the runner pops. Implementations must preserve FIFO
// order per queue.
type JobQueue interface {
	// Push enqueues a draft job id.
	Push(ctx context.Context, jobID string) error

	// Pop blocks until a job id is available or the context ends.
	Pop(ctx context.Context) (string, error)

	Close() error
}

// MemoryQueue is the in-process JobQueue used by tests and the single-binary
// deployment.
type MemoryQueue struct {
	ch        chan string
	closeOnce sync.Once
	done      chan struct{}
}

// NewMemoryQueue creates a buffered in-memory queue.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{
		ch:   make(chan string, size),
		done: make(chan struct{}),
	}
}

func (q *MemoryQueue) Push(ctx context.Context, jobID string) error {
	select {
	case q.ch <- jobID:
		return nil
	case <-q.done:
		return ErrInvalidConfig
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Pop(ctx context.Context) (string, error) {
	select {
	case jobID := <-q.ch:
		return jobID, nil
	case <-q.done:
		return "", ErrInvalidConfig
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}

const draftQueueKey = "ghostwrite:draftjobs"

// RedisQueue is a JobQueue backed by a Redis list, for deployments where the
// drafting worker runs out of process.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue creates a Redis-backed queue. An empty key uses the default.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = draftQueueKey
	}
	return &RedisQueue{client: client, key: key}
}

func (q *RedisQueue) Push(ctx context.Context, jobID string) error {
	return q.client.LPush(ctx, q.key, jobID).Err()
}

func (q *RedisQueue) Pop(ctx context.Context) (string, error) {
	// BRPOP with zero timeout blocks until an element arrives or ctx ends.
	res, err := q.client.BRPop(ctx, 0, q.key).Result()
	if err != nil {
		return "", err
	}
	if len(res) != 2 {
		return "", ErrInvalidConfig
	}
	return res[1], nil
}

func (q *RedisQueue) Close() error {
	return nil
}
