package state

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore adapts github.com/redis/go-redis/v9 to Store, backing the
// production "progress:{taskId}" / "worker:{workerId}" keyspaces and their
// pub/sub fan-out channel.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing *redis.Client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// NewRedisStoreFromAddr dials a Redis instance at addr/db.
func NewRedisStoreFromAddr(addr string, db int) *RedisStore {
	return &RedisStore{client: redis.NewClient(&redis.Options{Addr: addr, DB: db})}
}

// Set stores value under key with ttl (zero means no expiry).
func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// Get retrieves value by key, mapping redis.Nil to ErrNotFound.
func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	return v, err
}

// Delete removes key.
func (r *RedisStore) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// Keys lists every key with the given prefix via SCAN (non-blocking,
// production-safe alternative to KEYS).
func (r *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	iter := r.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Publish fans payload out over a Redis pub/sub channel named topic.
func (r *RedisStore) Publish(ctx context.Context, topic string, payload []byte) error {
	return r.client.Publish(ctx, topic, payload).Err()
}

// Subscribe returns a channel of messages published to topic.
func (r *RedisStore) Subscribe(ctx context.Context, topic string) (<-chan []byte, func(), error) {
	sub := r.client.Subscribe(ctx, topic)
	out := make(chan []byte, 32)

	go func() {
		defer close(out)
		ch := sub.Channel()
		for msg := range ch {
			select {
			case out <- []byte(msg.Payload):
			default:
			}
		}
	}()

	unsubscribe := func() {
		_ = sub.Close()
	}
	return out, unsubscribe, nil
}

// Close releases the underlying client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
