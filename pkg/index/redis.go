package index

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultRedisURL is used when no URL is configured.
	DefaultRedisURL = "redis://localhost:6379"
	// DefaultRedisKey is the hash holding message id to task id.
	DefaultRedisKey = "tasklink:links"
)

// RedisPersister stores the mapping as a single Redis hash.
type RedisPersister struct {
	rdb *redis.Client
	key string
}

// OpenRedis connects to url and checks the connection.
func OpenRedis(ctx context.Context, url, key string) (*RedisPersister, error) {
	if url == "" {
		url = DefaultRedisURL
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisPersister(rdb, key), nil
}

// NewRedisPersister wraps an existing client. The persister owns it from then on.
func NewRedisPersister(rdb *redis.Client, key string) *RedisPersister {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisPersister{rdb: rdb, key: key}
}

func (r *RedisPersister) Load(ctx context.Context) (map[string]string, error) {
	links, err := r.rdb.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", r.key, err)
	}
	return links, nil
}

// Save rewrites the hash inside MULTI/EXEC.
func (r *RedisPersister) Save(ctx context.Context, links map[string]string) error {
	values := make(map[string]interface{}, len(links))
	for k, v := range links {
		values[k] = v
	}

	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key)
		if len(values) > 0 {
			pipe.HSet(ctx, r.key, values)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", r.key, err)
	}
	return nil
}

func (r *RedisPersister) Close() error {
	return r.rdb.Close()
}
