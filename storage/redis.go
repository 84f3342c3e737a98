package storage

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Redis implements KV on top of a Redis client. Values are stored verbatim
// under their durable keys with no expiry.
type Redis struct {
	client *redis.Client
}

// NewRedis creates a Redis-backed KV adapter.
func NewRedis(client *redis.Client) *Redis {
	if client == nil {
		panic("storage.NewRedis: client is nil")
	}
	return &Redis{client: client}
}

func (r *Redis) Read(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (r *Redis) Write(ctx context.Context, key string, data []byte) error {
	if err := r.client.Set(ctx, key, data, 0).Err(); err != nil {
		if isOOM(err) {
			return ErrQuotaExceeded
		}
		return err
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// isOOM matches the reply Redis gives once maxmemory is reached.
func isOOM(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "OOM")
}
