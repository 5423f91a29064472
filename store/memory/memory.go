// Package memory provides an in-process store.Store backed by plain maps.
//
// The memory store is intended for tests and for embedding in tools that do
// not need persistence. Transactions take an exclusive lock for their whole
// duration, which trivially gives snapshot reads; batches stage operations
// and apply them under the same lock at Commit. Writes are only visible
// after a successful commit, so a failed transaction or an uncommitted
// batch leaves no trace.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/rbaliyan/docevent/store"
)

// Store is an in-memory document store.
// The zero value is not usable; use New.
type Store struct {
	mu   sync.RWMutex
	data map[string]map[string]map[string]any // collection -> id -> fields
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		data: make(map[string]map[string]map[string]any),
	}
}

// Get fetches a single document by id.
func (s *Store) Get(ctx context.Context, collection, id string) (*store.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getLocked(s.data, collection, id)
}

// GetAll fetches multiple documents by id, skipping missing ones.
func (s *Store) GetAll(ctx context.Context, collection string, ids []string) ([]*store.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAllLocked(s.data, collection, ids)
}

// Find runs a field-equality query against a collection.
func (s *Store) Find(ctx context.Context, collection string, q store.Query) ([]*store.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findLocked(s.data, collection, q)
}

// Batch opens a new staged write batch.
func (s *Store) Batch() store.Batch {
	return &batch{store: s}
}

// RunTransaction executes fn under an exclusive lock. Reads inside fn
// observe the state as of transaction start; writes are staged and applied
// only when fn returns nil.
func (s *Store) RunTransaction(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{base: s.data}
	if err := fn(tx); err != nil {
		return err
	}
	return applyOps(s.data, tx.ops)
}

// Dump returns a deep copy of a collection's current contents, keyed by
// document id. Intended for test assertions.
func (s *Store) Dump(collection string) map[string]map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]map[string]any)
	for id, fields := range s.data[collection] {
		out[id] = cloneFields(fields)
	}
	return out
}

// op is a single staged write, replayed against live data at commit time.
type op func(data map[string]map[string]map[string]any) error

// applyOps replays staged operations against a scratch copy first, so a
// failing operation (for example a violated precondition) leaves the live
// data untouched, then swaps the result in.
func applyOps(data map[string]map[string]map[string]any, ops []op) error {
	scratch := cloneData(data)
	for _, o := range ops {
		if err := o(scratch); err != nil {
			return err
		}
	}
	for name := range data {
		delete(data, name)
	}
	for name, coll := range scratch {
		data[name] = coll
	}
	return nil
}

// batch stages writes against the store and applies them on Commit.
type batch struct {
	store     *Store
	ops       []op
	committed bool
}

func (b *batch) Set(ctx context.Context, collection, id string, data map[string]any, merge bool) error {
	fields := cloneFields(data)
	b.ops = append(b.ops, func(d map[string]map[string]map[string]any) error {
		return setLocked(d, collection, id, fields, merge)
	})
	return nil
}

func (b *batch) Create(ctx context.Context, collection, id string, data map[string]any) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	fields := cloneFields(data)
	b.ops = append(b.ops, func(d map[string]map[string]map[string]any) error {
		return createLocked(d, collection, id, fields)
	})
	return id, nil
}

func (b *batch) Update(ctx context.Context, collection, id string, fields map[string]any, pre *store.Precondition) error {
	staged := cloneFields(fields)
	b.ops = append(b.ops, func(d map[string]map[string]map[string]any) error {
		return updateLocked(d, collection, id, staged, pre)
	})
	return nil
}

func (b *batch) Delete(ctx context.Context, collection, id string, pre *store.Precondition) error {
	b.ops = append(b.ops, func(d map[string]map[string]map[string]any) error {
		return deleteLocked(d, collection, id, pre)
	})
	return nil
}

func (b *batch) Commit(ctx context.Context) error {
	if b.committed {
		return fmt.Errorf("batch already committed")
	}
	b.committed = true
	if err := ctx.Err(); err != nil {
		return err
	}
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	return applyOps(b.store.data, b.ops)
}

// memTx reads from the live data (safe, the store lock is held for the
// whole transaction) and stages writes like a batch. Reads do not observe
// the transaction's own staged writes, matching the reads-before-writes
// discipline of the dispatch strategies.
type memTx struct {
	base map[string]map[string]map[string]any
	ops  []op
}

func (t *memTx) Get(ctx context.Context, collection, id string) (*store.Document, error) {
	return getLocked(t.base, collection, id)
}

func (t *memTx) GetAll(ctx context.Context, collection string, ids []string) ([]*store.Document, error) {
	return getAllLocked(t.base, collection, ids)
}

func (t *memTx) Find(ctx context.Context, collection string, q store.Query) ([]*store.Document, error) {
	return findLocked(t.base, collection, q)
}

func (t *memTx) Set(ctx context.Context, collection, id string, data map[string]any, merge bool) error {
	fields := cloneFields(data)
	t.ops = append(t.ops, func(d map[string]map[string]map[string]any) error {
		return setLocked(d, collection, id, fields, merge)
	})
	return nil
}

func (t *memTx) Create(ctx context.Context, collection, id string, data map[string]any) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	fields := cloneFields(data)
	t.ops = append(t.ops, func(d map[string]map[string]map[string]any) error {
		return createLocked(d, collection, id, fields)
	})
	return id, nil
}

func (t *memTx) Update(ctx context.Context, collection, id string, fields map[string]any, pre *store.Precondition) error {
	staged := cloneFields(fields)
	t.ops = append(t.ops, func(d map[string]map[string]map[string]any) error {
		return updateLocked(d, collection, id, staged, pre)
	})
	return nil
}

func (t *memTx) Delete(ctx context.Context, collection, id string, pre *store.Precondition) error {
	t.ops = append(t.ops, func(d map[string]map[string]map[string]any) error {
		return deleteLocked(d, collection, id, pre)
	})
	return nil
}

// Shared read/write primitives. Callers hold the appropriate lock.

func getLocked(data map[string]map[string]map[string]any, collection, id string) (*store.Document, error) {
	fields, ok := data[collection][id]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", store.ErrNotFound, collection, id)
	}
	return &store.Document{ID: id, Data: cloneFields(fields)}, nil
}

func getAllLocked(data map[string]map[string]map[string]any, collection string, ids []string) ([]*store.Document, error) {
	var docs []*store.Document
	for _, id := range ids {
		if fields, ok := data[collection][id]; ok {
			docs = append(docs, &store.Document{ID: id, Data: cloneFields(fields)})
		}
	}
	return docs, nil
}

func findLocked(data map[string]map[string]map[string]any, collection string, q store.Query) ([]*store.Document, error) {
	var docs []*store.Document
	for id, fields := range data[collection] {
		doc := &store.Document{ID: id, Data: cloneFields(fields)}
		if !q.Matches(doc) {
			continue
		}
		docs = append(docs, doc)
		if q.Limit > 0 && len(docs) >= q.Limit {
			break
		}
	}
	return docs, nil
}

func setLocked(data map[string]map[string]map[string]any, collection, id string, fields map[string]any, merge bool) error {
	coll := ensureCollection(data, collection)
	if merge {
		if existing, ok := coll[id]; ok {
			merged := cloneFields(existing)
			for k, v := range fields {
				merged[k] = v
			}
			coll[id] = merged
			return nil
		}
	}
	coll[id] = cloneFields(fields)
	return nil
}

func createLocked(data map[string]map[string]map[string]any, collection, id string, fields map[string]any) error {
	coll := ensureCollection(data, collection)
	if _, ok := coll[id]; ok {
		return fmt.Errorf("%w: %s/%s", store.ErrExists, collection, id)
	}
	coll[id] = cloneFields(fields)
	return nil
}

func updateLocked(data map[string]map[string]map[string]any, collection, id string, fields map[string]any, pre *store.Precondition) error {
	coll := ensureCollection(data, collection)
	existing, ok := coll[id]
	if err := pre.Check(ok); err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s/%s", store.ErrNotFound, collection, id)
	}
	updated := cloneFields(existing)
	for k, v := range fields {
		updated[k] = v
	}
	coll[id] = updated
	return nil
}

func deleteLocked(data map[string]map[string]map[string]any, collection, id string, pre *store.Precondition) error {
	coll := ensureCollection(data, collection)
	_, ok := coll[id]
	if err := pre.Check(ok); err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	delete(coll, id)
	return nil
}

func ensureCollection(data map[string]map[string]map[string]any, name string) map[string]map[string]any {
	coll, ok := data[name]
	if !ok {
		coll = make(map[string]map[string]any)
		data[name] = coll
	}
	return coll
}

func cloneFields(fields map[string]any) map[string]any {
	if fields == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func cloneData(data map[string]map[string]map[string]any) map[string]map[string]map[string]any {
	out := make(map[string]map[string]map[string]any, len(data))
	for name, coll := range data {
		c := make(map[string]map[string]any, len(coll))
		for id, fields := range coll {
			c[id] = cloneFields(fields)
		}
		out[name] = c
	}
	return out
}

// Compile-time checks
var _ store.Store = (*Store)(nil)
var _ store.Batch = (*batch)(nil)
var _ store.Tx = (*memTx)(nil)
