package lock

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"bonus-service/internal/pkg/clock"
)

// Locker is an exclusive lease on a string key. Acquire is non-blocking: a
// held key reports ok=false and the caller treats the work as already in
// progress.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

// PaymentKey builds the lease key for bonus processing of one payment.
func PaymentKey(paymentID int64) string {
	return fmt.Sprintf("lock:payment:%d", paymentID)
}

func newToken() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// ===============================
// Redis-backed locker
// ===============================

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisLocker struct {
	rdb *redis.Client
}

func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{rdb: rdb}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := newToken()
	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("lock acquire %s: %w", key, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release deletes the key only while it still holds this token, so an
// expired lease taken over by another worker is left alone.
func (l *RedisLocker) Release(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, l.rdb, []string{key}, token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("lock release %s: %w", key, err)
	}
	return nil
}

// ===============================
// In-process locker (single-node fallback)
// ===============================

type memEntry struct {
	token   string
	expires time.Time
}

type MemoryLocker struct {
	mu     sync.Mutex
	clk    clock.Clock
	leases map[string]memEntry
}

func NewMemoryLocker(clk clock.Clock) *MemoryLocker {
	return &MemoryLocker{clk: clk, leases: make(map[string]memEntry)}
}

func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clk.Now()
	if e, held := l.leases[key]; held && e.expires.After(now) {
		return "", false, nil
	}
	token := newToken()
	l.leases[key] = memEntry{token: token, expires: now.Add(ttl)}
	return token, true, nil
}

func (l *MemoryLocker) Release(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, held := l.leases[key]; held && e.token == token {
		delete(l.leases, key)
	}
	return nil
}
