package redisq

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"filingctl/internal/dispatch"
)

var _ dispatch.Locker = (*Locker)(nil)

var unlockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// Locker is a per-key lock shared by every worker process. Locks expire
// after their ttl so a crashed holder cannot block a job forever.
type Locker struct {
	client redis.Cmdable
	keys   keys
}

func NewLocker(client redis.Cmdable, prefix string) *Locker {
	if prefix == "" {
		prefix = "filingctl"
	}
	return &Locker{client: client, keys: keys{prefix: prefix}}
}

func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	k := l.keys.lock(key)

	ok, err := l.client.SetNX(ctx, k, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	return func() {
		// Best effort; the ttl reclaims the key if this fails.
		_ = unlockScript.Run(context.WithoutCancel(ctx), l.client, []string{k}, token).Err()
	}, true, nil
}
