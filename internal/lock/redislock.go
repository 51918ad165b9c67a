package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker serialises critical sections identified by key.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// InvoiceCounterKey guards every read-modify-write of invoice counters.
func InvoiceCounterKey() string {
	return "invoice:counter:lock"
}

// CartKey guards mutations of a single register cart.
func CartKey(cartID string) string {
	return "cart:" + cartID + ":lock"
}

const (
	defaultTTL     = 30 * time.Second
	defaultBackoff = 50 * time.Millisecond
)

// unlock deletes the key only while it still holds our token, so a lock that
// expired and was taken by another replica is left alone.
var unlock = redis.NewScript(`if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
end
return 0`)

// Redis is the Locker shared by every API replica. Holders that outlive ttl
// lose the lock, so ttl must cover the slowest checkout.
type Redis struct {
	R            *redis.Client
	RetryBackoff time.Duration
}

// WithLock runs fn while key is held. It polls until the key is free or ctx
// ends; in the latter case the context error is returned wrapped with the
// key.
func (l Redis) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if l.R == nil {
		return errors.New("lock: redis client not configured")
	}
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	backoff := l.RetryBackoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	token := uuid.NewString()

	for {
		ok, err := l.R.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("lock %s: %w", key, ctx.Err())
			}
			return fmt.Errorf("lock %s: %w", key, err)
		}
		if ok {
			break
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("lock %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}
	// Release with a fresh context so a cancelled request still frees the key.
	defer func() { _ = unlock.Run(context.Background(), l.R, []string{key}, token).Err() }()
	return fn(ctx)
}
