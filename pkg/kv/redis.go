package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection configuration
type Config struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Connection retry configuration
	MaxRetries    int
	RetryInterval time.Duration
}

// DefaultConfig returns default Redis configuration
func DefaultConfig() *Config {
	return &Config{
		Host:          "localhost",
		Port:          6379,
		Password:      "",
		DB:            0,
		PoolSize:      100,
		MinIdleConns:  10,
		DialTimeout:   5 * time.Second,
		ReadTimeout:   3 * time.Second,
		WriteTimeout:  3 * time.Second,
		MaxRetries:    3,
		RetryInterval: time.Second,
	}
}

// Addr returns the Redis address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RedisStore implements Store on a single Redis instance. Optimistic
// transactions map onto WATCH/MULTI/EXEC, streams onto XADD/XREAD.
type RedisStore struct {
	client *redis.Client
	config *Config
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to Redis with retry logic and returns the store.
func NewRedisStore(ctx context.Context, cfg *Config) (*RedisStore, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(cfg.RetryInterval)
		}

		if lastErr = client.Ping(ctx).Err(); lastErr == nil {
			return &RedisStore{client: client, config: cfg}, nil
		}
	}

	client.Close()
	return nil, fmt.Errorf("failed to connect to redis after %d attempts: %w", cfg.MaxRetries+1, lastErr)
}

// Ping checks if the Redis connection is alive
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) MSet(ctx context.Context, pairs map[string][]byte) error {
	if len(pairs) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(pairs)*2)
	for k, v := range pairs {
		args = append(args, k, v)
	}
	if err := s.client.MSet(ctx, args...).Err(); err != nil {
		return fmt.Errorf("redis mset: %w", err)
	}
	return nil
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

type write struct {
	key   string
	value []byte
	ttl   time.Duration
}

type appendOp struct {
	stream string
	data   []byte
}

// redisTx adapts redis.Tx to the Tx interface. Reads go straight to the
// watched connection; writes are buffered until commit.
type redisTx struct {
	tx      *redis.Tx
	writes  []write
	appends []appendOp
}

func (t *redisTx) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := t.tx.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis tx get %s: %w", key, err)
	}
	return val, nil
}

func (t *redisTx) Set(key string, value []byte, ttl time.Duration) {
	t.writes = append(t.writes, write{key: key, value: value, ttl: ttl})
}

func (t *redisTx) Append(stream string, data []byte) {
	t.appends = append(t.appends, appendOp{stream: stream, data: data})
}

func (s *RedisStore) Update(ctx context.Context, keys []string, fn func(tx Tx) error) error {
	err := s.client.Watch(ctx, func(rtx *redis.Tx) error {
		t := &redisTx{tx: rtx}
		if err := fn(t); err != nil {
			return err
		}
		_, err := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, w := range t.writes {
				pipe.Set(ctx, w.key, w.value, w.ttl)
			}
			for _, a := range t.appends {
				pipe.XAdd(ctx, &redis.XAddArgs{
					Stream: a.stream,
					Values: map[string]interface{}{"data": a.data},
				})
			}
			return nil
		})
		return err
	}, keys...)

	if errors.Is(err, redis.TxFailedErr) {
		return ErrConflict
	}
	return err
}

func (s *RedisStore) ReadStream(ctx context.Context, stream string, block time.Duration) ([]byte, error) {
	res, err := s.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, "0"},
		Count:   1,
		Block:   block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrStreamTimeout
		}
		return nil, fmt.Errorf("redis xread %s: %w", stream, err)
	}

	if len(res) == 0 || len(res[0].Messages) == 0 {
		return nil, ErrStreamTimeout
	}
	data, ok := res[0].Messages[0].Values["data"].(string)
	if !ok {
		return nil, fmt.Errorf("stream %s entry missing data field", stream)
	}
	return []byte(data), nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
