package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"practice-progress-service/internal/domain"
	"practice-progress-service/internal/logger"
)

const lockRetryInterval = 25 * time.Millisecond

// releaseScript deletes the lock only if we still own it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// UserLocks is a per-user mutex shared by every instance using the same Redis.
// The TTL bounds how long a crashed holder can block the user.
type UserLocks struct {
	client *redis.Client
	ttl    time.Duration
	log    *logger.Logger
}

func NewUserLocks(client *redis.Client, ttl time.Duration, log *logger.Logger) *UserLocks {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &UserLocks{client: client, ttl: ttl, log: log}
}

// Lock polls until the lock is acquired or ctx is done.
func (l *UserLocks) Lock(ctx context.Context, userID int64) (func(), error) {
	key := l.key(userID)
	token := uuid.NewString()

	ticker := time.NewTicker(lockRetryInterval)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", domain.ErrLockTimeout, ctx.Err())
		case <-ticker.C:
		}
	}

	return func() {
		// release even if the caller's ctx was cancelled
		if err := releaseScript.Run(context.Background(), l.client, []string{key}, token).Err(); err != nil {
			l.log.Warn("release user lock failed", "user", userID, "error", err)
		}
	}, nil
}

func (l *UserLocks) key(userID int64) string {
	return "progress:lock:" + strconv.FormatInt(userID, 10)
}
