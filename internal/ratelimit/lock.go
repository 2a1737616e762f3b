package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var (
	errLockKey = errors.New("lock key is empty")
	errLockTTL = errors.New("lock ttl must be positive")
)

// Locker is a redis SET NX lock with token-checked release.
type Locker struct {
	client *redis.Client
	script *redis.Script
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
	}
}

func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, errors.New("lock client not configured")
	}
	if key == "" {
		return "", false, errLockKey
	}
	if ttl <= 0 {
		return "", false, errLockTTL
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// Lock polls TryLock until the lock is held or ctx ends.
func (l *Locker) Lock(ctx context.Context, key string, ttl, poll time.Duration) (string, error) {
	if poll <= 0 {
		poll = 20 * time.Millisecond
	}
	for {
		token, ok, err := l.TryLock(ctx, key, ttl)
		if err != nil {
			return "", err
		}
		if ok {
			return token, nil
		}
		timer := time.NewTimer(poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *Locker) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil {
		return nil
	}
	if key == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{key}, token).Err()
}
