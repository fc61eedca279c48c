package sink

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/gregtusar/statarb/pkg/models"
)

const defaultStreamMaxLen int64 = 10000

type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	Stream       string
	StreamMaxLen int64
	TLSEnabled   bool
}

// RedisSink appends signals to a Redis stream, which keeps them ordered for
// consumers replaying intent.
type RedisSink struct {
	rdb    *redis.Client
	stream string
	maxLen int64
}

// NewRedisSink connects and pings the server.
func NewRedisSink(ctx context.Context, cfg RedisConfig) (*RedisSink, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return NewRedisSinkFromClient(rdb, cfg.Stream, cfg.StreamMaxLen), nil
}

func NewRedisSinkFromClient(rdb *redis.Client, stream string, maxLen int64) *RedisSink {
	if maxLen <= 0 {
		maxLen = defaultStreamMaxLen
	}
	return &RedisSink{rdb: rdb, stream: stream, maxLen: maxLen}
}

func (rs *RedisSink) Put(ctx context.Context, signal models.Signal) error {
	payload, err := json.Marshal(signal)
	if err != nil {
		return fmt.Errorf("redis: encode signal %s: %w", signal.ID, err)
	}
	args := &redis.XAddArgs{
		Stream: rs.stream,
		MaxLen: rs.maxLen,
		Approx: true,
		Values: []interface{}{
			"token", signal.Token,
			"direction", string(signal.Direction),
			"payload", string(payload),
		},
	}
	if err := rs.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", rs.stream, err)
	}
	return nil
}

func (rs *RedisSink) Close() error {
	return rs.rdb.Close()
}
