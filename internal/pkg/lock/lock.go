package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when the lock is already held elsewhere.
var ErrNotAcquired = fmt.Errorf("lock: not acquired")

// releaseScript deletes the key only if it still holds our token, so an
// expired lock re-acquired by another holder is never released by us.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// Lock is a single advisory lock instance backed by Redis SET NX.
type Lock struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
}

// Acquire takes the advisory lock for key or returns ErrNotAcquired when it
// is held by someone else. The lock self-expires after ttl so a crashed
// holder cannot wedge reconciliation forever.
func Acquire(ctx context.Context, client *redis.Client, key string, ttl time.Duration) (*Lock, error) {
	token := uuid.New().String()
	ok, err := client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lock: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	return &Lock{client: client, key: key, token: token, ttl: ttl}, nil
}

// Release frees the lock if this instance still holds it.
func (l *Lock) Release(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return l.client.Eval(ctx, releaseScript, []string{l.key}, l.token).Err()
}

// ProfileKey is the lock key guarding all billing writes for one business
// profile. The webhook handler and the batch reconciler both take it before
// mutating the profile.
func ProfileKey(profileID uint) string {
	return fmt.Sprintf("billing:profile:%d", profileID)
}

// Manager hands out per-profile advisory locks with a fixed TTL and a short
// bounded wait when the lock is contended.
type Manager struct {
	client      *redis.Client
	ttl         time.Duration
	maxAttempts int
	retryDelay  time.Duration
}

// NewManager creates a lock manager over the given Redis client.
func NewManager(client *redis.Client, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Manager{
		client:      client,
		ttl:         ttl,
		maxAttempts: 5,
		retryDelay:  200 * time.Millisecond,
	}
}

// WithProfileLock runs fn while holding the profile's advisory lock,
// retrying acquisition a few times before giving up.
func (m *Manager) WithProfileLock(ctx context.Context, profileID uint, fn func() error) error {
	key := ProfileKey(profileID)

	var held *Lock
	for attempt := 0; attempt < m.maxAttempts; attempt++ {
		l, err := Acquire(ctx, m.client, key, m.ttl)
		if err == nil {
			held = l
			break
		}
		if err != ErrNotAcquired {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.retryDelay):
		}
	}
	if held == nil {
		return fmt.Errorf("lock: %s still held after %d attempts", key, m.maxAttempts)
	}
	// A failed release is bounded by the TTL.
	defer func() { _ = held.Release(context.WithoutCancel(ctx)) }()

	return fn()
}
