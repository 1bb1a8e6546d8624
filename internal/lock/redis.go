package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/llforeman/shifty/internal/config"
)

// NewRedisClient dials the configured redis with short timeouts; a lock
// backend that hangs is worse than none.
func NewRedisClient(ctx context.Context, cfg config.Lock) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("internal/lock: redis ping: %w", err)
	}
	return client, nil
}

// RedisLocker serializes consoles that do not share a database server. The
// value is a per-holder token so an expired lock is never released by its
// former owner.
type RedisLocker struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	token  string
}

func NewRedisLocker(client *redis.Client, key string, ttl time.Duration) *RedisLocker {
	if key == "" {
		key = "shifty:schema_ops:lock"
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisLocker{client: client, key: key, ttl: ttl}
}

func (l *RedisLocker) Acquire(ctx context.Context) error {
	token := uuid.NewString()
	for {
		ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("internal/lock: redis setnx: %w", err)
		}
		if ok {
			l.token = token
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("internal/lock: waiting for redis lock: %w", ctx.Err())
		case <-time.After(retryInterval):
		}
	}
}

func (l *RedisLocker) Release(ctx context.Context) error {
	if l.token == "" {
		return nil
	}
	defer func() { l.token = "" }()

	// Delete only if we still own the lock; the TTL may have handed it on.
	current, err := l.client.Get(ctx, l.key).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("internal/lock: redis get: %w", err)
	}
	if current != l.token {
		return nil
	}
	if err := l.client.Del(ctx, l.key).Err(); err != nil {
		return fmt.Errorf("internal/lock: redis del: %w", err)
	}
	return nil
}
