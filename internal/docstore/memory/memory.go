// Package memory is an in-process docstore.Store for tests and dev runs.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"healthcare-portal/internal/docstore"
)

type watcher struct {
	q       docstore.Query
	onSnap  func([]docstore.Document)
	changed chan struct{}
	stop    chan struct{}
}

type Store struct {
	mu       sync.RWMutex
	data     map[string]map[string]map[string]any // collection -> id -> doc
	watchers map[*watcher]struct{}
}

func New() *Store {
	return &Store{
		data:     make(map[string]map[string]map[string]any),
		watchers: make(map[*watcher]struct{}),
	}
}

func (s *Store) Add(ctx context.Context, collection string, data map[string]any) (string, error) {
	id := uuid.New().String()
	return id, s.Set(ctx, collection, id, data)
}

func (s *Store) Set(_ context.Context, collection, id string, data map[string]any) error {
	doc := docstore.NormalizeMap(data)
	s.mu.Lock()
	coll, ok := s.data[collection]
	if !ok {
		coll = make(map[string]map[string]any)
		s.data[collection] = coll
	}
	coll[id] = doc
	s.mu.Unlock()

	s.notify(collection)
	return nil
}

func (s *Store) Update(_ context.Context, collection, id string, fields map[string]any) error {
	s.mu.Lock()
	cur, ok := s.data[collection][id]
	if !ok {
		s.mu.Unlock()
		return docstore.ErrNotFound
	}
	merged := make(map[string]any, len(cur)+len(fields))
	for k, v := range cur {
		merged[k] = v
	}
	for k, v := range docstore.NormalizeMap(fields) {
		merged[k] = v
	}
	s.data[collection][id] = merged
	s.mu.Unlock()

	s.notify(collection)
	return nil
}

func (s *Store) Get(_ context.Context, collection, id string) (*docstore.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.data[collection][id]
	if !ok {
		return nil, docstore.ErrNotFound
	}
	return &docstore.Document{ID: id, Data: docstore.NormalizeMap(d)}, nil
}

func (s *Store) Query(_ context.Context, q docstore.Query) ([]docstore.Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return s.run(q), nil
}

func (s *Store) run(q docstore.Query) []docstore.Document {
	s.mu.RLock()
	coll := s.data[q.Collection]
	docs := make([]docstore.Document, 0, len(coll))
	for id, d := range coll {
		docs = append(docs, docstore.Document{ID: id, Data: docstore.NormalizeMap(d)})
	}
	s.mu.RUnlock()
	return docstore.Apply(docs, q)
}

// Watch runs the subscription on its own goroutine. Changes that arrive
// while a snapshot is being delivered coalesce into one further snapshot.
func (s *Store) Watch(ctx context.Context, q docstore.Query, onSnap func([]docstore.Document), _ func(error)) (docstore.Unsubscribe, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	w := &watcher{
		q:       q,
		onSnap:  onSnap,
		changed: make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
	w.changed <- struct{}{}

	s.mu.Lock()
	s.watchers[w] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, w)
			s.mu.Unlock()
			close(w.stop)
		})
	}

	go func() {
		for {
			select {
			case <-w.stop:
				return
			case <-ctx.Done():
				unsub()
				return
			case <-w.changed:
			}
			snap := s.run(w.q)
			select {
			case <-w.stop:
				return
			default:
			}
			w.onSnap(snap)
		}
	}()
	return unsub, nil
}

// Watchers reports live subscriptions. Test-only helper.
func (s *Store) Watchers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.watchers)
}

func (s *Store) notify(collection string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for w := range s.watchers {
		if w.q.Collection != collection {
			continue
		}
		select {
		case w.changed <- struct{}{}:
		default:
		}
	}
}
