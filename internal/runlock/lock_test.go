package runlock

import (
	"context"
	"errors"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/carlot/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "carlot:lock:import", Key(" Import "))
}

func TestNewWithoutAddrIsNop(t *testing.T) {
	l, closeFn := New(config.RedisConfig{}, 0, nil)
	assert.IsType(t, NopLocker{}, l)
	assert.NoError(t, closeFn())

	calls := 0
	err := Run(context.Background(), l, "import", func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

type heldLocker struct{ released int }

func (h *heldLocker) Acquire(_ context.Context, command string) (ReleaseFunc, error) {
	if command == "busy" {
		return nil, ErrLocked
	}
	return func(context.Context) error {
		h.released++
		return nil
	}, nil
}

func TestRunReleasesAndPropagates(t *testing.T) {
	l := &heldLocker{}
	boom := errors.New("boom")

	err := Run(context.Background(), l, "import", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, l.released)

	ran := false
	err = Run(context.Background(), l, "busy", func(context.Context) error {
		ran = true
		return nil
	})
	assert.ErrorIs(t, err, ErrLocked)
	assert.False(t, ran)
}

func TestRedisLockerValidation(t *testing.T) {
	assert.Nil(t, NewRedisLocker(nil, time.Minute, nil))

	var nilLocker *RedisLocker
	_, _, err := nilLocker.TryLock(context.Background(), "k", time.Second)
	assert.Error(t, err)
	assert.NoError(t, nilLocker.Release(context.Background(), "k", "t"))

	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	l := NewRedisLocker(client, 0, zaptest.NewLogger(t))
	assert.Equal(t, DefaultTTL, l.ttl)

	_, _, err = l.TryLock(context.Background(), "", time.Second)
	assert.EqualError(t, err, "lock key is empty")
	_, _, err = l.TryLock(context.Background(), "k", 0)
	assert.EqualError(t, err, "lock ttl must be positive")
	_, err = l.Acquire(context.Background(), " ")
	assert.EqualError(t, err, "lock command is empty")

	_, err = l.Acquire(context.Background(), "import")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrLocked)
}
