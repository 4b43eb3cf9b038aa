package redisstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/loopstate/agentcore/store"
)

const instanceKeyPrefix = "agentcore:instance:"

// Store is a Redis-backed store.Store: the Locker half guards access with
// SET NX PX + Lua CAS unlock, the instance half persists the encoded
// Instance as a plain string value via store.EncodeInstance/DecodeInstance.
type Store struct {
	*Locker
	client *redis.Client
}

// New builds a Store against the given client. opts configures lock TTL and
// retry/backoff; an opts whose TTL is not positive is replaced as a whole by
// store.DefaultLockOptions().
func New(client *redis.Client, opts store.LockOptions) (*Store, error) {
	locker, err := NewLocker(client, opts)
	if err != nil {
		return nil, err
	}
	return &Store{Locker: locker, client: client}, nil
}

// Read implements store.Store.
func (s *Store) Read(ctx context.Context, id string) (*store.Instance, error) {
	raw, err := s.client.Get(ctx, instanceKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redisstore: read: %w", err)
	}
	return store.DecodeInstance(raw)
}

// Write implements store.Store. Instance records have no TTL of their own;
// they stay until Cleanup or Clear removes them.
func (s *Store) Write(ctx context.Context, id string, data *store.Instance) error {
	encoded, err := store.EncodeInstance(data)
	if err != nil {
		return fmt.Errorf("redisstore: write: %w", err)
	}
	if err := s.client.Set(ctx, instanceKeyPrefix+id, encoded, 0).Err(); err != nil {
		return fmt.Errorf("redisstore: write: %w", err)
	}
	return nil
}

// Cleanup implements store.Store: removes the instance record and releases
// its lock.
func (s *Store) Cleanup(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, instanceKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("redisstore: cleanup: %w", err)
	}
	_, err := s.Unlock(ctx, id)
	return err
}

// Clear implements store.Store; intended for test setup/teardown against a
// dedicated Redis database, not production use (SPEC §4.3 "Clear ... for
// test resets").
func (s *Store) Clear(ctx context.Context) error {
	for _, prefix := range []string{instanceKeyPrefix, lockKeyPrefix} {
		iter := s.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
		for iter.Next(ctx) {
			if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
				return fmt.Errorf("redisstore: clear: %w", err)
			}
		}
		if err := iter.Err(); err != nil {
			return err
		}
	}
	return nil
}
