package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// ErrLockNotHeld is returned by Unlock and Extend when this process does not
// own the lock (never acquired, already released, or expired and taken).
var ErrLockNotHeld = errors.New("redis lock not held")

const lockPrefix = "signalbot:lock:"

// Only the owner token may delete or extend the key.
var (
	unlockScript = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

	extendScript = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`)
)

// Lock is a SET NX PX lock guarding the cycle across replicas.
type Lock struct {
	client *goredis.Client

	mu     sync.Mutex
	tokens map[string]string // key → owner token
}

// NewLock creates a lock on client.
func NewLock(client *goredis.Client) *Lock {
	return &Lock{client: client, tokens: make(map[string]string)}
}

func newToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// TryLock attempts to take key for ttl without waiting.
func (l *Lock) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	token := newToken()
	ok, err := l.client.SetNX(ctx, lockPrefix+key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	if ok {
		l.mu.Lock()
		l.tokens[key] = token
		l.mu.Unlock()
	}
	return ok, nil
}

// Unlock releases key if this process still owns it.
func (l *Lock) Unlock(ctx context.Context, key string) error {
	l.mu.Lock()
	token, ok := l.tokens[key]
	delete(l.tokens, key)
	l.mu.Unlock()
	if !ok {
		return ErrLockNotHeld
	}

	n, err := unlockScript.Run(ctx, l.client, []string{lockPrefix + key}, token).Int64()
	if err != nil {
		return fmt.Errorf("redis unlock %s: %w", key, err)
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// Extend pushes the expiry of an owned lock to ttl from now.
func (l *Lock) Extend(ctx context.Context, key string, ttl time.Duration) error {
	l.mu.Lock()
	token, ok := l.tokens[key]
	l.mu.Unlock()
	if !ok {
		return ErrLockNotHeld
	}

	n, err := extendScript.Run(ctx, l.client, []string{lockPrefix + key}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("redis extend %s: %w", key, err)
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}
