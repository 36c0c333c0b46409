package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/basecamp/tokenkit/internal/sdk"
)

// Verify Redis implements sdk.TokenStore at compile time.
var _ sdk.TokenStore = (*Redis)(nil)

// RedisOptions configures a Redis token store.
type RedisOptions struct {
	Addr        string
	Password    string
	DB          int
	DialTimeout time.Duration
}

// Redis is a TokenStore shared by every process pointed at the same server.
// Expiry is delegated to Redis key TTLs.
type Redis struct {
	client *redis.Client
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// DialRedis connects to Redis and verifies the connection with PING.
func DialRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.DialTimeout,
		WriteTimeout: opts.DialTimeout,
		PoolTimeout:  opts.DialTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, err)
	}
	return &Redis{client: client}, nil
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Has reports whether key exists.
func (r *Redis) Has(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, &sdk.StoreError{Operation: "has", Key: key, Cause: err}
	}
	return n > 0, nil
}

// Get returns the record for key.
func (r *Redis) Get(ctx context.Context, key string) (*sdk.TokenRecord, bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, &sdk.StoreError{Operation: "get", Key: key, Cause: err}
	}

	rec, err := sdk.DecodeRecord(data)
	if err != nil {
		return nil, false, &sdk.StoreError{Operation: "get", Key: key, Cause: err}
	}
	return rec, true, nil
}

// Set stores rec under key with ttl as the Redis expiry.
func (r *Redis) Set(ctx context.Context, key string, rec *sdk.TokenRecord, ttl time.Duration) error {
	if ttl <= 0 {
		if err := r.client.Del(ctx, key).Err(); err != nil {
			return &sdk.StoreError{Operation: "set", Key: key, Cause: err}
		}
		return nil
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return &sdk.StoreError{Operation: "set", Key: key, Cause: err}
	}
	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return &sdk.StoreError{Operation: "set", Key: key, Cause: err}
	}
	return nil
}
