// Package docstore describes the remote document store the portal syncs
// against: collections of schemaless documents with point reads and writes,
// filtered queries and live subscriptions.
package docstore

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("docstore: document not found")

type Document struct {
	ID   string
	Data map[string]any
}

// Timestamp is the store-native time value. Stores return it for every
// field that was written as a time.Time or Timestamp.
type Timestamp struct {
	Seconds int64
	Nanos   int32
}

func TimestampOf(t time.Time) Timestamp {
	return Timestamp{Seconds: t.Unix(), Nanos: int32(t.Nanosecond())}
}

func (ts Timestamp) AsTime() time.Time {
	return time.Unix(ts.Seconds, int64(ts.Nanos)).UTC()
}

// Unsubscribe stops a live query. Calling it more than once is a no-op.
type Unsubscribe func()

// Store is implemented by memory.Store, store.Store (Postgres) and
// rpc.Client.
type Store interface {
	// Add creates a document with a generated id.
	Add(ctx context.Context, collection string, data map[string]any) (string, error)
	// Set creates or replaces a document.
	Set(ctx context.Context, collection, id string, data map[string]any) error
	// Update merges fields into an existing document; ErrNotFound if absent.
	Update(ctx context.Context, collection, id string, fields map[string]any) error
	Get(ctx context.Context, collection, id string) (*Document, error)
	Query(ctx context.Context, q Query) ([]Document, error)
	// Watch delivers the full result set of q once immediately and again
	// after every change to q's collection. onError is terminal: no further
	// snapshots arrive after it is called.
	Watch(ctx context.Context, q Query, onSnapshot func([]Document), onError func(error)) (Unsubscribe, error)
}
