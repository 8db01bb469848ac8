package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker serializes turns per session. The returned release func is safe to
// call more than once.
type Locker interface {
	Lock(ctx context.Context, sessionID string) (release func(), err error)
}

// KeyedLocker is an in-process Locker. Sessions never contend with each
// other and idle keys are dropped.
type KeyedLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sem  chan struct{}
	refs int
}

var _ Locker = (*KeyedLocker)(nil)

func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{locks: make(map[string]*keyedLock)}
}

func (k *KeyedLocker) Lock(ctx context.Context, sessionID string) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[sessionID]
	if !ok {
		l = &keyedLock{sem: make(chan struct{}, 1)}
		k.locks[sessionID] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		k.unref(sessionID, l)
		return nil, fmt.Errorf("session: lock %s: %w", sessionID, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.sem
			k.unref(sessionID, l)
		})
	}, nil
}

func (k *KeyedLocker) unref(sessionID string, l *keyedLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, sessionID)
	}
}

func (k *KeyedLocker) held() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// ErrLockLost is logged when a lease expired before release.
var ErrLockLost = errors.New("session: lock lease lost")

// RedisLocker is a lease-based Locker shared by every replica.
type RedisLocker struct {
	redis *redis.Client
	lease time.Duration
	retry time.Duration
	// OnRelease, when set, observes release failures.
	OnRelease func(sessionID string, err error)
}

var _ Locker = (*RedisLocker)(nil)

// NewRedisLocker builds a locker whose leases expire after lease so a crashed
// replica cannot wedge a session.
func NewRedisLocker(client *redis.Client, lease time.Duration) *RedisLocker {
	if client == nil {
		panic("session: redis client cannot be nil")
	}
	if lease <= 0 {
		lease = 30 * time.Second
	}
	return &RedisLocker{redis: client, lease: lease, retry: 25 * time.Millisecond}
}

func (r *RedisLocker) Lock(ctx context.Context, sessionID string) (func(), error) {
	key := lockKey(sessionID)
	token := uuid.NewString()

	for {
		ok, err := r.redis.SetNX(ctx, key, token, r.lease).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("session: lock %s: %w", sessionID, ctx.Err())
			}
			return nil, unavailable("lock", err)
		}
		if ok {
			break
		}
		timer := time.NewTimer(r.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("session: lock %s: %w", sessionID, ctx.Err())
		case <-timer.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			n, err := unlockScript.Run(releaseCtx, r.redis, []string{key}, token).Int()
			if err == nil && n == 0 {
				err = ErrLockLost
			}
			if err != nil && r.OnRelease != nil {
				r.OnRelease(sessionID, err)
			}
		})
	}, nil
}

func lockKey(id string) string {
	return fmt.Sprintf("ciro:lock:%s", id)
}
