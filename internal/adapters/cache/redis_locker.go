package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "m91:lock:"

var ErrLockNotAcquired = errors.New("lock not acquired")

type LockOptions struct {
	Expiry      time.Duration
	Tries       int
	RetryDelay  time.Duration
	DriftFactor float64
}

func DefaultLockOptions() LockOptions {
	return LockOptions{
		Expiry:      10 * time.Second,
		Tries:       32,
		RetryDelay:  100 * time.Millisecond,
		DriftFactor: 0.01,
	}
}

// RedisLocker serializes work on a key across every replica sharing the
// Redis instance.
type RedisLocker struct {
	rs   *redsync.Redsync
	opts LockOptions
}

func NewRedisLocker(client redis.UniversalClient, opts LockOptions) *RedisLocker {
	defaults := DefaultLockOptions()
	if opts.Expiry <= 0 {
		opts.Expiry = defaults.Expiry
	}
	if opts.Tries <= 0 {
		opts.Tries = defaults.Tries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaults.RetryDelay
	}
	if opts.DriftFactor <= 0 {
		opts.DriftFactor = defaults.DriftFactor
	}
	return &RedisLocker{
		rs:   redsync.New(goredis.NewPool(client)),
		opts: opts,
	}
}

// WithLock runs fn while holding the distributed mutex for key. The error
// returned by fn is passed through untouched.
func (l *RedisLocker) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	log := slog.Default().With("module", "cache", "layer", "adapter", "operation", "with_lock", "lock_key", key)
	mutex := l.rs.NewMutex(
		lockKeyPrefix+key,
		redsync.WithExpiry(l.opts.Expiry),
		redsync.WithTries(l.opts.Tries),
		redsync.WithRetryDelay(l.opts.RetryDelay),
		redsync.WithDriftFactor(l.opts.DriftFactor),
	)
	if err := mutex.LockContext(ctx); err != nil {
		log.WarnContext(ctx, "failed to acquire lock", "outcome", "failure", "error", err)
		return fmt.Errorf("%w: %s: %v", ErrLockNotAcquired, key, err)
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if ok, err := mutex.UnlockContext(unlockCtx); !ok || err != nil {
			log.WarnContext(ctx, "failed to release lock", "outcome", "failure", "unlock_ok", ok, "error", err)
		}
	}()
	return fn(ctx)
}
