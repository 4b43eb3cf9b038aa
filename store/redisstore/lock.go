// Package redisstore implements the Concurrent State Store (the lock of
// SPEC §4.3 "Lock protocol" and the instance record) against Redis,
// satisfying SPEC §6's "the State Store MAY be backed by an external store"
// allowance. The lock acquires with SET NX PX and releasing with a Lua compare-and-delete so a holder can
// never release a lock it no longer owns (e.g. after its TTL already expired
// and another caller acquired it).
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/loopstate/agentcore/store"
)

const lockKeyPrefix = "agentcore:lock:"

// unlockScript deletes the key only if its value still matches the caller's
// own token, preventing a stale holder from releasing a lock a different
// caller has since acquired.
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// Locker is a Redis-backed lock provider, usable standalone or composed into
// a Store by New.
type Locker struct {
	client *redis.Client
	opts   store.LockOptions
	tokens tokenTable
}

// NewLocker builds a Locker against the given client.
func NewLocker(client *redis.Client, opts store.LockOptions) (*Locker, error) {
	if client == nil {
		return nil, errors.New("redisstore: client is required")
	}
	if opts.TTL <= 0 {
		opts = store.DefaultLockOptions()
	}
	return &Locker{client: client, opts: opts, tokens: newTokenTable()}, nil
}

// Lock implements store.Store's Lock half: SET NX PX with retry/backoff,
// matching the in-process MemoryStore's acquireWithRetry shape (SPEC §4.3
// "Retry").
func (l *Locker) Lock(ctx context.Context, id string) (bool, error) {
	token := uuid.NewString()
	delay := l.opts.InitialDelay
	key := lockKeyPrefix + id
	for attempt := 0; attempt < l.opts.MaxRetries; attempt++ {
		ok, err := l.client.SetNX(ctx, key, token, l.opts.TTL).Result()
		if err != nil {
			return false, fmt.Errorf("redisstore: lock: %w", err)
		}
		if ok {
			l.tokens.set(id, token)
			return true, nil
		}
		if attempt == l.opts.MaxRetries-1 {
			break
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		case <-timer.C:
		}
		delay = time.Duration(float64(delay) * l.opts.BackoffExponent)
	}
	return false, store.ErrLockUnavailable
}

// Unlock releases id's lock if and only if this Locker still holds the
// token it acquired it with (SPEC §4.3 "Unlock is idempotent").
func (l *Locker) Unlock(ctx context.Context, id string) (bool, error) {
	token, ok := l.tokens.get(id)
	if !ok {
		return true, nil
	}
	key := lockKeyPrefix + id
	res, err := unlockScript.Run(ctx, l.client, []string{key}, token).Int()
	if err != nil {
		return false, fmt.Errorf("redisstore: unlock: %w", err)
	}
	l.tokens.delete(id)
	return res == 1 || res == 0, nil
}

// tokenTable remembers the token this process last used to acquire each id,
// so Unlock can CAS-release without a separate round trip to read it back.
type tokenTable struct {
	mu     sync.Mutex
	tokens map[string]string
}

func newTokenTable() tokenTable {
	return tokenTable{tokens: make(map[string]string)}
}

func (t *tokenTable) set(id, token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tokens[id] = token
}

func (t *tokenTable) get(id string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.tokens[id]
	return v, ok
}

func (t *tokenTable) delete(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tokens, id)
}
