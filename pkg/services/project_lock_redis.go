package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	projectLockKeyPrefix = "testdeck:project-lock:"
	defaultLockRetry     = 100 * time.Millisecond
)

// releaseScript deletes the lock key only while it still holds our token, so
// an expired lock that another instance has since taken is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisProjectLocks extends ProjectLocks across engine instances sharing one
// Redis. Waiters in the same process queue on the local lock first, so only
// one goroutine per instance polls Redis for a given project.
type RedisProjectLocks struct {
	local  *ProjectLocks
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
	logger *zap.Logger
}

var _ ProjectLocker = (*RedisProjectLocks)(nil)

// NewRedisProjectLocks creates a distributed locker. ttl bounds how long a
// crashed holder can block other instances and must outlive any single
// generation run.
func NewRedisProjectLocks(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisProjectLocks {
	return &RedisProjectLocks{
		local:  NewProjectLocks(),
		client: client,
		ttl:    ttl,
		retry:  defaultLockRetry,
		logger: logger.Named("project-locks"),
	}
}

func (l *RedisProjectLocks) Lock(ctx context.Context, projectID uuid.UUID) (func(), error) {
	unlockLocal, err := l.local.Lock(ctx, projectID)
	if err != nil {
		return nil, err
	}

	key := projectLockKeyPrefix + projectID.String()
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			unlockLocal()
			return nil, fmt.Errorf("acquire project lock: %w", err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			unlockLocal()
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's context may already be cancelled; release regardless.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil {
				l.logger.Warn("Failed to release project lock; it will expire",
					zap.String("project_id", projectID.String()),
					zap.Duration("ttl", l.ttl),
					zap.Error(err))
			}
			unlockLocal()
		})
	}, nil
}
