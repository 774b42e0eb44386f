package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// DefaultRedisKey is the Redis set holding the registered pack sizes.
const DefaultRedisKey = "packs:sizes"

// seededSuffix names the marker key written on first seed. Redis drops a set
// once its last member is removed, so the marker is what tells a restarted
// instance that the registry was already initialised.
const seededSuffix = ":seeded"

// Status codes returned by the mutation scripts.
const (
	scriptMissing   = -1
	scriptInvalid   = -2
	scriptDuplicate = -3
	scriptFull      = -4
)

var replaceScript = redis.NewScript(`
if redis.call("SISMEMBER", KEYS[1], ARGV[1]) == 0 then
  return -1
end
if tonumber(ARGV[2]) <= 0 then
  return -2
end
if ARGV[1] == ARGV[2] then
  return 1
end
if redis.call("SISMEMBER", KEYS[1], ARGV[2]) == 1 then
  return -3
end
redis.call("SREM", KEYS[1], ARGV[1])
redis.call("SADD", KEYS[1], ARGV[2])
return 1
`)

var addScript = redis.NewScript(`
if redis.call("SISMEMBER", KEYS[1], ARGV[1]) == 1 then
  return -3
end
local limit = tonumber(ARGV[2])
if limit > 0 and redis.call("SCARD", KEYS[1]) >= limit then
  return -4
end
redis.call("SADD", KEYS[1], ARGV[1])
return 1
`)

var seedScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[2]) == 1 then
  return 0
end
redis.call("SET", KEYS[2], "1")
if redis.call("EXISTS", KEYS[1]) == 1 or #ARGV == 0 then
  return 0
end
redis.call("SADD", KEYS[1], unpack(ARGV))
return 1
`)

// RedisOption configures a RedisRegistry.
type RedisOption func(*redisConfig)

type redisConfig struct {
	key              string
	maxSizes         int
	failureThreshold uint32
	openTimeout      time.Duration
	logger           *zap.Logger
}

// WithKey overrides the Redis key used for the set.
func WithKey(key string) RedisOption {
	return func(cfg *redisConfig) {
		if key != "" {
			cfg.key = key
		}
	}
}

// WithLimit caps the number of registered sizes. Zero means no cap.
func WithLimit(maxSizes int) RedisOption {
	return func(cfg *redisConfig) {
		if maxSizes >= 0 {
			cfg.maxSizes = maxSizes
		}
	}
}

// WithBreaker tunes the circuit breaker: it opens after threshold consecutive
// transport failures and probes again after openTimeout.
func WithBreaker(threshold uint32, openTimeout time.Duration) RedisOption {
	return func(cfg *redisConfig) {
		if threshold > 0 {
			cfg.failureThreshold = threshold
		}
		if openTimeout > 0 {
			cfg.openTimeout = openTimeout
		}
	}
}

// WithLogger reports breaker state transitions.
func WithLogger(logger *zap.Logger) RedisOption {
	return func(cfg *redisConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// RedisRegistry stores pack sizes in a Redis set so several service
// instances share one registry. Add and Replace run as server-side scripts,
// which keeps the size cap and the swap atomic across instances.
type RedisRegistry struct {
	client   redis.UniversalClient
	key      string
	maxSizes int
	breaker  *gobreaker.CircuitBreaker
}

// NewRedisRegistry wraps client. The client is owned by the caller.
func NewRedisRegistry(client redis.UniversalClient, opts ...RedisOption) *RedisRegistry {
	cfg := redisConfig{
		key:              DefaultRedisKey,
		failureThreshold: 5,
		openTimeout:      30 * time.Second,
		logger:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "pack-size-registry",
		Timeout: cfg.openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.failureThreshold
		},
		// A caller giving up says nothing about the health of Redis.
		IsSuccessful: func(err error) bool {
			return err == nil || isContextError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			cfg.logger.Warn("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &RedisRegistry{
		client:   client,
		key:      cfg.key,
		maxSizes: cfg.maxSizes,
		breaker:  breaker,
	}
}

// SeedIfEmpty writes sizes the first time a registry is initialised and
// reports whether it did. Once seeded, a registry is never reseeded, even
// after its last size has been removed.
func (r *RedisRegistry) SeedIfEmpty(ctx context.Context, sizes []int) (bool, error) {
	unique := make(map[int]struct{}, len(sizes))
	args := make([]any, 0, len(sizes))
	for _, size := range sizes {
		if size <= 0 {
			return false, ErrInvalidSize
		}
		if _, ok := unique[size]; ok {
			continue
		}
		unique[size] = struct{}{}
		args = append(args, strconv.Itoa(size))
	}
	if r.maxSizes > 0 && len(unique) > r.maxSizes {
		return false, fmt.Errorf("%w: %d sizes exceed the limit of %d", ErrTooManySizes, len(unique), r.maxSizes)
	}

	seeded, err := execute(r.breaker, func() (int64, error) {
		return seedScript.Run(ctx, r.client, []string{r.key, r.key + seededSuffix}, args...).Int64()
	})
	if err != nil {
		return false, err
	}
	return seeded == 1, nil
}

// List returns the registered sizes in ascending order.
func (r *RedisRegistry) List(ctx context.Context) ([]int, error) {
	members, err := execute(r.breaker, func() ([]string, error) {
		return r.client.SMembers(ctx, r.key).Result()
	})
	if err != nil {
		return nil, err
	}

	sizes := make([]int, 0, len(members))
	for _, member := range members {
		size, err := strconv.Atoi(member)
		if err != nil {
			return nil, fmt.Errorf("parse stored pack size %q: %w", member, err)
		}
		sizes = append(sizes, size)
	}
	slices.Sort(sizes)
	return sizes, nil
}

// Add registers a new pack size.
func (r *RedisRegistry) Add(ctx context.Context, size int) error {
	if size <= 0 {
		return ErrInvalidSize
	}
	status, err := execute(r.breaker, func() (int64, error) {
		return addScript.Run(ctx, r.client, []string{r.key}, strconv.Itoa(size), r.maxSizes).Int64()
	})
	if err != nil {
		return err
	}

	switch status {
	case scriptDuplicate:
		return ErrDuplicateSize
	case scriptFull:
		return fmt.Errorf("%w: limit is %d", ErrTooManySizes, r.maxSizes)
	default:
		return nil
	}
}

// Remove unregisters a pack size.
func (r *RedisRegistry) Remove(ctx context.Context, size int) error {
	removed, err := execute(r.breaker, func() (int64, error) {
		return r.client.SRem(ctx, r.key, strconv.Itoa(size)).Result()
	})
	if err != nil {
		return err
	}
	if removed == 0 {
		return ErrNotFound
	}
	return nil
}

// Replace swaps oldSize for newSize atomically.
func (r *RedisRegistry) Replace(ctx context.Context, oldSize, newSize int) error {
	status, err := execute(r.breaker, func() (int64, error) {
		return replaceScript.Run(ctx, r.client, []string{r.key}, strconv.Itoa(oldSize), strconv.Itoa(newSize)).Int64()
	})
	if err != nil {
		return err
	}

	switch status {
	case scriptMissing:
		return ErrNotFound
	case scriptInvalid:
		return ErrInvalidSize
	case scriptDuplicate:
		return ErrDuplicateSize
	default:
		return nil
	}
}

// execute runs fn through the breaker. Domain outcomes travel in the result
// so that only transport failures count against the breaker. Cancellation
// and deadline errors from the caller's context are returned as they are.
func execute[T any](breaker *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	res, err := breaker.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		var zero T
		if isContextError(err) {
			return zero, err
		}
		return zero, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return res.(T), nil
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
