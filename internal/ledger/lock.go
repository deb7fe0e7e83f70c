package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ContactLocker serializes writes to a contact's live circle pointer.
// In-process writers share a mutex per contact; with a Redis client the
// lock also spans engine instances through SETNX keys.
type ContactLocker struct {
	mu    sync.Mutex
	locks map[string]*contactLock

	redis   *redis.Client
	timeout time.Duration
	retry   time.Duration
	logger  *zap.Logger
}

type contactLock struct {
	mu   sync.Mutex
	refs int
}

// NewContactLocker creates a locker. redisClient may be nil.
func NewContactLocker(redisClient *redis.Client, logger *zap.Logger) *ContactLocker {
	return &ContactLocker{
		locks:   make(map[string]*contactLock),
		redis:   redisClient,
		timeout: 10 * time.Second,
		retry:   25 * time.Millisecond,
		logger:  logger.Named("contact_lock"),
	}
}

// Lock acquires every contact's lock in sorted order, so overlapping batches
// cannot deadlock. The returned function releases them all.
func (l *ContactLocker) Lock(ctx context.Context, userID string, contactIDs ...string) (func(), error) {
	keys := lockKeys(userID, contactIDs)

	held := make([]string, 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			l.unlock(held[i])
		}
	}
	for _, k := range keys {
		if err := l.lock(ctx, k); err != nil {
			release()
			return nil, err
		}
		held = append(held, k)
	}
	return release, nil
}

func (l *ContactLocker) lock(ctx context.Context, key string) error {
	l.mu.Lock()
	cl, ok := l.locks[key]
	if !ok {
		cl = &contactLock{}
		l.locks[key] = cl
	}
	cl.refs++
	l.mu.Unlock()

	cl.mu.Lock()
	if l.redis == nil {
		return nil
	}
	if err := l.acquireRemote(ctx, key); err != nil {
		cl.mu.Unlock()
		l.drop(key, cl)
		return err
	}
	return nil
}

func (l *ContactLocker) unlock(key string) {
	if l.redis != nil {
		if err := l.redis.Del(context.Background(), key).Err(); err != nil {
			l.logger.Warn("Failed to release contact lock", zap.String("key", key), zap.Error(err))
		}
	}
	l.mu.Lock()
	cl := l.locks[key]
	l.mu.Unlock()
	cl.mu.Unlock()
	l.drop(key, cl)
}

func (l *ContactLocker) drop(key string, cl *contactLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cl.refs--
	if cl.refs == 0 {
		delete(l.locks, key)
	}
}

// acquireRemote spins on SETNX until the key is free or ctx ends. The key
// expires on its own if this process dies while holding it.
func (l *ContactLocker) acquireRemote(ctx context.Context, key string) error {
	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()
	for {
		ok, err := l.redis.SetNX(ctx, key, "1", l.timeout).Result()
		if err != nil {
			return fmt.Errorf("lock acquisition failed: %w", err)
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("lock %s: %w", key, ctx.Err())
		case <-ticker.C:
		}
	}
}

func lockKeys(userID string, contactIDs []string) []string {
	seen := make(map[string]bool, len(contactIDs))
	keys := make([]string, 0, len(contactIDs))
	for _, id := range contactIDs {
		k := fmt.Sprintf("lock:circles:%s:%s", userID, id)
		if seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
