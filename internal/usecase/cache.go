package usecase

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/example/scan-classifier/internal/classifier"
)

// Cache is the key/value subset of Redis the prediction cache relies on.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

// DefaultCacheNamespace prefixes every key RedisCache writes.
const DefaultCacheNamespace = "scan-classifier:"

// RedisCache stores prediction results in Redis under a key namespace so
// the instance can be shared with the frontend's session store.
type RedisCache struct {
	client    *redis.Client
	namespace string
}

// NewRedisCache constructs a Redis-backed cache using DefaultCacheNamespace.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, namespace: DefaultCacheNamespace}
}

func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.client.Set(ctx, c.namespace+key, value, expiration).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	return c.client.Get(ctx, c.namespace+key).Result()
}

// NoopCache stores nothing; every lookup is a miss.
type NoopCache struct{}

func (NoopCache) Set(context.Context, string, interface{}, time.Duration) error { return nil }

func (NoopCache) Get(context.Context, string) (string, error) { return "", redis.Nil }

// cachedPrediction is the JSON document stored per image and organ.
type cachedPrediction struct {
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

// predictionKey identifies an image by content hash under one organ's
// loaded weights. Replacing a weight file changes the fingerprint, so stale
// labels are never served after a restart.
func predictionKey(organ classifier.Organ, modelFingerprint, sha1Hex string) string {
	return "prediction:" + string(organ) + ":" + modelFingerprint + ":" + sha1Hex
}
