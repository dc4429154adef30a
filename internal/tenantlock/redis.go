package tenantlock

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const (
	defaultTTL     = 30 * time.Second
	defaultRetry   = 50 * time.Millisecond
	defaultMaxWait = 10 * time.Second
	releaseTimeout = 2 * time.Second
)

// Redis is a Locker shared by every instance through SET NX with an owner
// token. The TTL bounds how long a crashed holder can block a tenant.
type Redis struct {
	client  redis.UniversalClient
	script  *redis.Script
	log     *zap.Logger
	ttl     time.Duration
	retry   time.Duration
	maxWait time.Duration
}

func NewRedis(client redis.UniversalClient, log *zap.Logger) *Redis {
	return &Redis{
		client:  client,
		script:  redis.NewScript(lockReleaseScript),
		log:     log.Named("tenantlock"),
		ttl:     defaultTTL,
		retry:   defaultRetry,
		maxWait: defaultMaxWait,
	}
}

func (l *Redis) TryLock(ctx context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, errors.New("lock key is empty")
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (l *Redis) Release(ctx context.Context, key, token string) error {
	if key == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{key}, token).Err()
}

func (l *Redis) Lock(ctx context.Context, businessID snowflake.ID) (func(), error) {
	k := key(businessID)
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()
	for {
		token, ok, err := l.TryLock(waitCtx, k)
		if err != nil {
			if waitCtx.Err() != nil {
				return nil, ErrLockTimeout
			}
			return nil, err
		}
		if ok {
			return func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
				defer cancel()
				if err := l.Release(releaseCtx, k, token); err != nil {
					l.log.Warn("failed to release tenant lock", zap.String("key", k), zap.Error(err))
				}
			}, nil
		}
		select {
		case <-waitCtx.Done():
			return nil, ErrLockTimeout
		case <-ticker.C:
		}
	}
}
