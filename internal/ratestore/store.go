// Package ratestore implements guardrail.RateLimiter against Redis,
// grounded on the reference codebase's redis_rate_limit.go connection-pool
// construction (same PoolSize/MinIdleConns/DialTimeout/ReadTimeout/
// WriteTimeout idiom reused by internal/policycache), with one deliberate
// change: the reference's multi-command pipeline (ZREMRANGEBYSCORE / ZCARD
// / ZADD / EXPIRE) is replaced by a single Lua script so the increment and
// the TTL are one atomic round trip, per §4.7's explicit requirement that a
// crash between the two steps must never leak an un-expiring key.
package ratestore

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// incrExpireScript atomically increments key and, only on the increment
// that creates the key (value becomes 1), sets its TTL. Subsequent
// increments within the window leave the existing TTL untouched so a burst
// of requests can't keep extending the window.
var incrExpireScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// Store is the Redis-backed counter store for RateLimitEvaluator.
type Store struct {
	client *redis.Client
}

// New connects to Redis with pooling suited to a hot governance path,
// matching internal/policycache.New's construction.
func New(redisURL string) (*Store, error) {
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
	return &Store{client: client}, nil
}

// NewWithClient wraps an already-constructed client, used by tests against
// miniredis.
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// IncrWithExpire implements guardrail.RateLimiter: a single atomic
// increment-and-expire round trip.
func (s *Store) IncrWithExpire(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	res, err := incrExpireScript.Run(ctx, s.client, []string{key}, ttl.Milliseconds()).Result()
	if err != nil {
		return 0, err
	}
	switch n := res.(type) {
	case int64:
		return n, nil
	default:
		return 0, nil
	}
}

// Get reads a bucket's current count without mutating it, used by the
// sliding-window blend to read the previous bucket. A missing key reads as
// zero, not an error.
func (s *Store) Get(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

// Ping reports Redis reachability, used by the readiness endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}
