package storage

import (
	"context"
	"time"

	"github.com/goliatone/go-errors"
	auth "github.com/picklehub/go-club-auth"
	"github.com/redis/go-redis/v9"
)

const DefaultRedisPrefix = "club:auth:"

// Redis keeps the values of one device in a hash. The hash expires ttl after
// the last write.
type Redis struct {
	client redis.Cmdable
	prefix string
	device string
	ttl    time.Duration
}

var _ auth.Storage = (*Redis)(nil)

// RedisOption customizes a Redis store.
type RedisOption func(*Redis)

// WithRedisPrefix sets the key prefix.
func WithRedisPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// WithRedisTTL sets the idle expiry of the device hash.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) {
		r.ttl = ttl
	}
}

// NewRedis returns the persistent store of device.
func NewRedis(client redis.Cmdable, device string, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		prefix: DefaultRedisPrefix,
		device: device,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *Redis) key() string {
	return r.prefix + r.device
}

func (r *Redis) Get(ctx context.Context, field string) (string, bool, error) {
	if r.device == "" {
		return "", false, nil
	}

	val, err := r.client.HGet(ctx, r.key(), field).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, errors.CategoryInternal, "redis storage read failed")
	}
	return val, true, nil
}

func (r *Redis) Set(ctx context.Context, field, value string) error {
	if r.device == "" {
		return errors.New("redis storage has no device id", errors.CategoryBadInput)
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.key(), field, value)
		if r.ttl > 0 {
			pipe.Expire(ctx, r.key(), r.ttl)
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "redis storage write failed")
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, field string) error {
	if r.device == "" {
		return nil
	}
	if err := r.client.HDel(ctx, r.key(), field).Err(); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "redis storage delete failed")
	}
	return nil
}

// NewRedisClient connects and pings the server.
func NewRedisClient(ctx context.Context, addr string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, errors.CategoryInternal, "redis ping failed")
	}

	return client, nil
}
