package redisstore

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

// Locker serializes webhook processing per customer across daemon replicas.
// In-process callers rely on the state machine's own keyed mutexes; this lock
// only matters when several instances share the customer table.
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

// TryLock attempts to acquire the customer lock and returns a release token.
func (l *Locker) TryLock(ctx context.Context, customerID string, ttl time.Duration) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, errors.New("lock client not configured")
	}
	if customerID == "" {
		return "", false, errors.New("lock key is empty")
	}
	if ttl <= 0 {
		return "", false, errors.New("lock ttl must be positive")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, "outlit:webhook-lock:"+customerID, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// Release frees the lock if the token still owns it.
func (l *Locker) Release(ctx context.Context, customerID, token string) error {
	if l == nil || l.client == nil {
		return nil
	}
	if customerID == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{"outlit:webhook-lock:" + customerID}, token).Err()
}
