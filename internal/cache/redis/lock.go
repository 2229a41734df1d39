package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/lobfeed/internal/domain"
)

// Deletes or extends the lock only if the caller still owns it.
const (
	unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`
	extendLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`
)

// LockManager implements domain.LockManager with SET NX and a TTL. A held
// lock is extended every ttl/3 until released, so a crashed holder frees it
// within one ttl.
type LockManager struct {
	c        *Client
	unlockSc *redis.Script
	extendSc *redis.Script
}

func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		c:        c,
		unlockSc: redis.NewScript(unlockLua),
		extendSc: redis.NewScript(extendLua),
	}
}

// Acquire takes the lock or returns domain.ErrLockHeld. The returned unlock
// func stops the keep-alive and releases the lock; calling it twice is safe.
// lost is closed when an extension finds another owner, or when extensions
// keep failing for a whole ttl.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (<-chan struct{}, func(), error) {
	token := uuid.NewString()
	lk := lm.c.Key("lock:" + key)

	ok, err := lm.c.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, nil, domain.ErrLockHeld
	}

	extend := func(ctx context.Context) (bool, error) {
		n, err := lm.extendSc.Run(ctx, lm.c.rdb, []string{lk}, token, ttl.Milliseconds()).Int64()
		if err != nil {
			return false, err
		}
		return n == 1, nil
	}

	stop := make(chan struct{})
	lost := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		keepAlive(extend, ttl, stop, lost)
	}()

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			close(stop)
			wg.Wait()
			// The caller's context may already be cancelled.
			uctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.unlockSc.Run(uctx, lm.c.rdb, []string{lk}, token).Err()
		})
	}
	return lost, unlock, nil
}

// extendFunc refreshes the lock TTL and reports whether it is still owned.
type extendFunc func(ctx context.Context) (bool, error)

func keepAlive(extend extendFunc, ttl time.Duration, stop <-chan struct{}, lost chan<- struct{}) {
	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()
	lastOK := time.Now()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), ttl/3)
			owned, err := extend(ctx)
			cancel()
			switch {
			case err == nil && owned:
				lastOK = time.Now()
			case err == nil, time.Since(lastOK) >= ttl:
				close(lost)
				return
			}
		}
	}
}

var _ domain.LockManager = (*LockManager)(nil)
