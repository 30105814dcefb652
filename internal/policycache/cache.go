// Package policycache implements policy.Cache on top of Redis, grounded on
// the reference codebase's connectors/redis connection-pool construction
// idiom (PoolSize/MinIdleConns/DialTimeout/ReadTimeout/WriteTimeout), plus
// an invalidation channel per §4.2: any write on the admin surface
// publishes the affected key so readers don't need to wait out the TTL.
package policycache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/cerberusgw/gateway/internal/obslog"
	"github.com/cerberusgw/gateway/internal/policy"
)

const invalidationChannel = "cerberus:policyset:invalidate"

// Cache wraps a go-redis client.
type Cache struct {
	client *redis.Client
	logger *obslog.Logger
}

// New connects to Redis with pooling suited to a hot governance path.
func New(redisURL string, logger *obslog.Logger) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	opts.PoolSize = 100
	opts.MinIdleConns = 10
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Cache{client: client, logger: logger}, nil
}

// Get returns a cached EffectivePolicySet. It never returns an error: a
// Redis failure is treated as a cache miss so the resolver can fall back to
// the database, per §4.2 ("the absence of cache is never a blocker").
func (c *Cache) Get(ctx context.Context, key string) (*policy.EffectivePolicySet, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn(obslog.Fields{}, "policy cache get failed, falling back to store", map[string]interface{}{"error": err.Error()})
		}
		return nil, false
	}
	var set policy.EffectivePolicySet
	if err := json.Unmarshal(raw, &set); err != nil {
		return nil, false
	}
	return &set, true
}

// Set stores an EffectivePolicySet with a TTL. Failures are logged, not
// returned as fatal: writing the cache is an optimization, never a
// requirement for correctness.
func (c *Cache) Set(ctx context.Context, key string, set *policy.EffectivePolicySet, ttl time.Duration) error {
	raw, err := json.Marshal(set)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		c.logger.Warn(obslog.Fields{}, "policy cache set failed", map[string]interface{}{"error": err.Error()})
		return err
	}
	return nil
}

// Invalidate removes a key immediately and publishes the invalidation so
// any process holding a stale copy can evict it before the TTL expires.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return err
	}
	return c.client.Publish(ctx, invalidationChannel, key).Err()
}

// Subscribe starts a goroutine that evicts locally-held keys (via onInvalidate)
// whenever another process publishes an invalidation. Callers that don't keep
// an in-process copy beyond what Redis itself holds can ignore this; it exists
// for components (like a future in-process LRU) that want to short-circuit
// even the Redis round trip.
func (c *Cache) Subscribe(ctx context.Context, onInvalidate func(key string)) {
	sub := c.client.Subscribe(ctx, invalidationChannel)
	ch := sub.Channel()
	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				onInvalidate(msg.Payload)
			}
		}
	}()
}

// Ping reports Redis reachability, used by the readiness endpoint.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (c *Cache) Close() error {
	return c.client.Close()
}
