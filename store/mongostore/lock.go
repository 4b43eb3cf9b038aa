// Package mongostore implements the Concurrent State Store (SPEC §4.3)
// against MongoDB, the other half of SPEC §6's "the State Store MAY be
// backed by an external store" allowance alongside store/redisstore.
// Locks and instance records are collections keyed by their natural _id
// (the instance subject), following the retrieval pack's Mongo session
// store's idiom of an upsertable document per logical entity
// (features/session/mongo/clients/mongo/client.go's CreateSession/
// UpsertRun), adapted here from session/run metadata to the State Store's
// lock-and-instance shape and to the mongo-driver v2 API.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/loopstate/agentcore/store"
)

type lockDocument struct {
	ID        string    `bson:"_id"`
	Token     string    `bson:"token"`
	ExpiresAt time.Time `bson:"expiresAt"`
}

// Locker is a Mongo-backed lock provider, usable standalone or composed
// into a Store via New.
type Locker struct {
	coll   *mongo.Collection
	opts   store.LockOptions
	tokens tokenTable
}

// NewLocker builds a Locker against the given collection.
func NewLocker(coll *mongo.Collection, opts store.LockOptions) (*Locker, error) {
	if coll == nil {
		return nil, errors.New("mongostore: collection is required")
	}
	if opts.TTL <= 0 {
		opts = store.DefaultLockOptions()
	}
	return &Locker{coll: coll, opts: opts, tokens: newTokenTable()}, nil
}

// Lock implements store.Store's Lock half (SPEC §4.3 "Lock protocol"):
// retries tryAcquire with backoff, matching the in-process MemoryStore's
// acquireWithRetry shape.
func (l *Locker) Lock(ctx context.Context, id string) (bool, error) {
	token := uuid.NewString()
	delay := l.opts.InitialDelay
	for attempt := 0; attempt < l.opts.MaxRetries; attempt++ {
		ok, err := l.tryAcquire(ctx, id, token)
		if err != nil {
			return false, fmt.Errorf("mongostore: lock: %w", err)
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

// tryAcquire first tries to steal an expired holder's lock document, then
// falls back to inserting a fresh one; a duplicate-key error on insert means
// a live lock is already held (SPEC §4.3 "TTL semantics").
func (l *Locker) tryAcquire(ctx context.Context, id, token string) (bool, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(l.opts.TTL)

	filter := bson.M{"_id": id, "expiresAt": bson.M{"$lte": now}}
	update := bson.M{"$set": bson.M{"token": token, "expiresAt": expiresAt}}
	res, err := l.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, err
	}
	if res.MatchedCount == 1 {
		return true, nil
	}

	_, err = l.coll.InsertOne(ctx, lockDocument{ID: id, Token: token, ExpiresAt: expiresAt})
	if err == nil {
		return true, nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	return false, err
}

// Unlock releases id's lock if and only if this Locker still holds the
// token it acquired it with.
func (l *Locker) Unlock(ctx context.Context, id string) (bool, error) {
	token, ok := l.tokens.get(id)
	if !ok {
		return true, nil
	}
	_, err := l.coll.DeleteOne(ctx, bson.M{"_id": id, "token": token})
	if err != nil {
		return false, fmt.Errorf("mongostore: unlock: %w", err)
	}
	l.tokens.delete(id)
	return true, nil
}

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
