// Package runlock keeps two runs of the same command from overlapping across
// hosts.
package runlock

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/carlot/internal/config"
	"go.uber.org/zap"
)

// DefaultTTL bounds how long a crashed run can block the next one.
const DefaultTTL = 6 * time.Hour

const keyPrefix = "carlot:lock:"

var ErrLocked = errors.New("another run holds the lock")

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// ReleaseFunc gives the lock back. It is safe to call more than once.
type ReleaseFunc func(ctx context.Context) error

type Locker interface {
	Acquire(ctx context.Context, command string) (ReleaseFunc, error)
}

// Key is the redis key guarding command.
func Key(command string) string {
	return keyPrefix + strings.ToLower(strings.TrimSpace(command))
}

type RedisLocker struct {
	client *redis.Client
	script *redis.Script
	ttl    time.Duration
	log    *zap.Logger
}

func NewRedisLocker(client *redis.Client, ttl time.Duration, log *zap.Logger) *RedisLocker {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisLocker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
		ttl:    ttl,
		log:    log.Named("runlock"),
	}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, errors.New("lock client not configured")
	}
	if key == "" {
		return "", false, errors.New("lock key is empty")
	}
	if ttl <= 0 {
		return "", false, errors.New("lock ttl must be positive")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// Release deletes key only while it still holds token, so an expired lock
// taken over by another run is left alone.
func (l *RedisLocker) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil {
		return nil
	}
	if key == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{key}, token).Err()
}

func (l *RedisLocker) Acquire(ctx context.Context, command string) (ReleaseFunc, error) {
	if strings.TrimSpace(command) == "" {
		return nil, errors.New("lock command is empty")
	}
	key := Key(command)
	token, ok, err := l.TryLock(ctx, key, l.ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLocked
	}
	l.log.Debug("lock acquired", zap.String("key", key), zap.Duration("ttl", l.ttl))

	released := false
	return func(ctx context.Context) error {
		if released {
			return nil
		}
		released = true
		return l.Release(ctx, key, token)
	}, nil
}

// NopLocker always succeeds. It is used when no redis is configured.
type NopLocker struct{}

func (NopLocker) Acquire(context.Context, string) (ReleaseFunc, error) {
	return func(context.Context) error { return nil }, nil
}

// New returns a redis backed locker when an address is configured and a
// NopLocker otherwise. The returned close function releases the client.
func New(cfg config.RedisConfig, ttl time.Duration, log *zap.Logger) (Locker, func() error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return NopLocker{}, func() error { return nil }
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.Password),
		DB:       cfg.DB,
	})
	return NewRedisLocker(client, ttl, log), client.Close
}

// Run holds the lock of command while fn runs.
func Run(ctx context.Context, l Locker, command string, fn func(ctx context.Context) error) error {
	release, err := l.Acquire(ctx, command)
	if err != nil {
		return err
	}
	defer func() {
		// the run context may already be cancelled
		_ = release(context.WithoutCancel(ctx))
	}()
	return fn(ctx)
}
