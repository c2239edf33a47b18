package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/fieldops/core"
	"github.com/trezcool/fieldops/core/tenant"
)

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker is a tenant.Locker shared across processes.
// Locks expire after ttl so a crashed holder cannot block a tenant forever.
type Locker struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger core.Logger
}

var _ tenant.Locker = (*Locker)(nil)

func NewLocker(rdb *redis.Client, ttl time.Duration, logger core.Logger) *Locker {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Locker{rdb: rdb, ttl: ttl, logger: logger}
}

func (l *Locker) TryLock(ctx context.Context, key string) (func(), bool, error) {
	key = keyPrefix + "lock:" + key
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, errors.Wrapf(err, "locking %s", key)
	}
	if !ok {
		return nil, false, nil
	}

	unlock := func() {
		// the caller's ctx may already be done
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.rdb, []string{key}, token).Err(); err != nil {
			l.logger.Error("releasing lock "+key, err)
		}
	}
	return unlock, true, nil
}
