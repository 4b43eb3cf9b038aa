package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/loopstate/agentcore/store"
)

type instanceDocument struct {
	ID        string    `bson:"_id"`
	Data      string    `bson:"data"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

// Store is a MongoDB-backed store.Store: the embedded Locker guards access
// with a collection of steal-on-expiry lock documents, the instance half
// persists each Instance as an opaque encoded blob (store.EncodeInstance)
// rather than a typed document — model.Part's text/tool_use/tool_result
// union has no natural fixed Mongo schema, and the wire codec already
// exists for store/redisstore, so reusing it here avoids a second,
// divergent serialization of the same type.
type Store struct {
	*Locker
	instances *mongo.Collection
}

// New builds a Store using two collections from db: "agent_instances" for
// instance records and "agent_locks" for the lock half. Mongo's default
// unique index on _id is sufficient for both, since each is keyed by
// instance subject; no extra index creation is needed.
func New(db *mongo.Database, opts store.LockOptions) (*Store, error) {
	if db == nil {
		return nil, errors.New("mongostore: database is required")
	}
	locker, err := NewLocker(db.Collection("agent_locks"), opts)
	if err != nil {
		return nil, err
	}
	return &Store{Locker: locker, instances: db.Collection("agent_instances")}, nil
}

// Read implements store.Store.
func (s *Store) Read(ctx context.Context, id string) (*store.Instance, error) {
	var doc instanceDocument
	err := s.instances.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mongostore: read: %w", err)
	}
	return store.DecodeInstance([]byte(doc.Data))
}

// Write implements store.Store.
func (s *Store) Write(ctx context.Context, id string, data *store.Instance) error {
	encoded, err := store.EncodeInstance(data)
	if err != nil {
		return fmt.Errorf("mongostore: write: %w", err)
	}
	doc := instanceDocument{ID: id, Data: string(encoded), UpdatedAt: time.Now().UTC()}
	_, err = s.instances.ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongostore: write: %w", err)
	}
	return nil
}

// Cleanup implements store.Store: removes the instance record and releases
// its lock.
func (s *Store) Cleanup(ctx context.Context, id string) error {
	if _, err := s.instances.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("mongostore: cleanup: %w", err)
	}
	_, err := s.Unlock(ctx, id)
	return err
}

// Clear implements store.Store; intended for test setup/teardown against a
// dedicated database, not production use (SPEC §4.3 "Clear ... for test
// resets").
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.instances.DeleteMany(ctx, bson.M{}); err != nil {
		return fmt.Errorf("mongostore: clear: %w", err)
	}
	if _, err := s.Locker.coll.DeleteMany(ctx, bson.M{}); err != nil {
		return fmt.Errorf("mongostore: clear: %w", err)
	}
	return nil
}
