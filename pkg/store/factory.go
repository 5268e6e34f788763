package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/ghostwrite-dev/ghostwrite/pkg/store/postgres"
)

// Driver selects the store backend.
type Driver string

const (
	DriverMemory   Driver = "memory"
	DriverPostgres Driver = "postgres"
)

// Option is a functional option for configuring store construction.
type Option func(*config)

type config struct {
	pool        *pgxpool.Pool
	redisClient *redis.Client
	queueKey    string
	queueSize   int
}

// WithPostgresPool sets the pgx pool for the postgres driver.
func WithPostgresPool(pool *pgxpool.Pool) Option {
	return func(c *config) {
		c.pool = pool
	}
}

// WithRedisClient enables the Redis-backed draft-job queue.
func WithRedisClient(client *redis.Client) Option {
	return func(c *config) {
		c.redisClient = client
	}
}

// WithQueueKey overrides the Redis queue key.
func WithQueueKey(key string) Option {
	return func(c *config) {
		c.queueKey = key
	}
}

// WithQueueSize sets the in-memory queue buffer size.
func WithQueueSize(size int) Option {
	return func(c *config) {
		c.queueSize = size
	}
}

// New creates the collaborator store bundle plus the draft-job queue for the
// given driver. The memory driver needs no options; postgres requires
// WithPostgresPool. The queue is Redis-backed when WithRedisClient is given,
// in-memory otherwise.
func New(ctx context.Context, driver Driver, opts ...Option) (Stores, JobQueue, error) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	var stores Stores
	switch driver {
	case DriverMemory:
		stores = NewMemoryStores().Stores()
	case DriverPostgres:
		if cfg.pool == nil {
			return Stores{}, nil, ErrInvalidConfig
		}
		pg, err := postgres.New(ctx, cfg.pool)
		if err != nil {
			return Stores{}, nil, err
		}
		stores = Stores{
			Projects:    pg,
			Sessions:    pg,
			Transcripts: pg,
			Notes:       pg,
			Workspace:   pg,
		}
	default:
		return Stores{}, nil, ErrInvalidDriver
	}

	var queue JobQueue
	if cfg.redisClient != nil {
		queue = NewRedisQueue(cfg.redisClient, cfg.queueKey)
	} else {
		queue = NewMemoryQueue(cfg.queueSize)
	}
	return stores, queue, nil
}

// PingRedis verifies a Redis client is reachable before wiring it in.
func PingRedis(ctx context.Context, client *redis.Client) error {
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return client.Ping(pingCtx).Err()
}
