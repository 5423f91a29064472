// Package redis implements the store boundary on Redis.
//
// Redis Schema:
//
//	String: {prefix}doc:{collection}:{id} - encoded document fields
//	Set:    {prefix}ids:{collection}      - document ids per collection
//	String: {prefix}version               - commit counter, watched by transactions
//
// Documents are serialized with a pluggable codec (JSON by default, see
// store/codec). Batches apply through a MULTI/EXEC pipeline, giving an
// atomic write group. Transactions use optimistic concurrency: the commit
// counter is WATCHed and bumped by every commit, so any interleaved commit
// aborts the transaction, which is retried a bounded number of times before
// surfacing a conflict. That internal retry is independent of any retrying
// the caller performs.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rbaliyan/docevent/store"
	"github.com/rbaliyan/docevent/store/codec"
)

// DefaultTxRetries is how often an aborted optimistic transaction is
// re-attempted before the conflict is surfaced.
const DefaultTxRetries = 3

// Store implements store.Store on Redis.
type Store struct {
	client    *redis.Client
	codec     codec.Codec
	prefix    string
	txRetries int
}

// New creates a Redis-backed store using the default key prefix "docevent:"
// and the JSON codec.
func New(client *redis.Client) *Store {
	return &Store{
		client:    client,
		codec:     codec.Default,
		prefix:    "docevent:",
		txRetries: DefaultTxRetries,
	}
}

// WithKeyPrefix sets a custom key prefix.
func (s *Store) WithKeyPrefix(prefix string) *Store {
	s.prefix = prefix
	return s
}

// WithCodec sets a custom document codec, e.g. codec.MsgPack{}.
func (s *Store) WithCodec(c codec.Codec) *Store {
	if c != nil {
		s.codec = c
	}
	return s
}

// WithTxRetries sets how often aborted transactions are re-attempted.
func (s *Store) WithTxRetries(n int) *Store {
	if n > 0 {
		s.txRetries = n
	}
	return s
}

func (s *Store) docKey(collection, id string) string {
	return s.prefix + "doc:" + collection + ":" + id
}

func (s *Store) idsKey(collection string) string {
	return s.prefix + "ids:" + collection
}

func (s *Store) versionKey() string {
	return s.prefix + "version"
}

// Get fetches a single document by id.
func (s *Store) Get(ctx context.Context, collection, id string) (*store.Document, error) {
	return s.get(ctx, s.client, collection, id)
}

// GetAll fetches multiple documents by id in one MGET.
func (s *Store) GetAll(ctx context.Context, collection string, ids []string) ([]*store.Document, error) {
	return s.getAll(ctx, s.client, collection, ids)
}

// Find runs a field-equality query. Redis has no native document queries,
// so the whole collection is fetched and filtered in process.
func (s *Store) Find(ctx context.Context, collection string, q store.Query) ([]*store.Document, error) {
	return s.find(ctx, s.client, collection, q)
}

// Batch opens a new staged write batch.
func (s *Store) Batch() store.Batch {
	return &batch{store: s}
}

// RunTransaction executes fn with reads pinned under WATCH and staged
// writes applied in one MULTI/EXEC. Aborted transactions are retried up to
// the configured attempt count; fn must be safe to run more than once.
func (s *Store) RunTransaction(ctx context.Context, fn func(tx store.Tx) error) error {
	var err error
	for attempt := 0; attempt < s.txRetries; attempt++ {
		err = s.client.Watch(ctx, func(rtx *redis.Tx) error {
			t := &tx{store: s, r: rtx}
			if err := fn(t); err != nil {
				return err
			}
			resolved, err := s.resolveOps(ctx, rtx, t.ops)
			if err != nil {
				return err
			}
			_, err = rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				s.applyOps(ctx, pipe, resolved)
				return nil
			})
			return err
		}, s.versionKey())

		if !errors.Is(err, redis.TxFailedErr) {
			return mapError(err)
		}
	}
	return fmt.Errorf("%w: transaction aborted after %d attempts", store.ErrConflict, s.txRetries)
}

// Shared reads over either the client or an open WATCH transaction.

func (s *Store) get(ctx context.Context, c redis.Cmdable, collection, id string) (*store.Document, error) {
	data, err := c.Get(ctx, s.docKey(collection, id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s/%s", store.ErrNotFound, collection, id)
		}
		return nil, mapError(fmt.Errorf("get: %w", err))
	}
	fields, err := s.codec.Decode(data)
	if err != nil {
		return nil, err
	}
	return &store.Document{ID: id, Data: fields}, nil
}

func (s *Store) getAll(ctx context.Context, c redis.Cmdable, collection string, ids []string) ([]*store.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.docKey(collection, id)
	}

	values, err := c.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, mapError(fmt.Errorf("mget: %w", err))
	}

	var docs []*store.Document
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue // missing id
		}
		fields, err := s.codec.Decode([]byte(raw))
		if err != nil {
			return nil, err
		}
		docs = append(docs, &store.Document{ID: ids[i], Data: fields})
	}
	return docs, nil
}

func (s *Store) find(ctx context.Context, c redis.Cmdable, collection string, q store.Query) ([]*store.Document, error) {
	ids, err := c.SMembers(ctx, s.idsKey(collection)).Result()
	if err != nil {
		return nil, mapError(fmt.Errorf("smembers: %w", err))
	}
	all, err := s.getAll(ctx, c, collection, ids)
	if err != nil {
		return nil, err
	}

	var docs []*store.Document
	for _, doc := range all {
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

// writeOp is a staged write, resolved against current contents at commit
// time (merge-style operations need the existing fields).
type writeOp struct {
	kind       opKind
	collection string
	id         string
	fields     map[string]any
	merge      bool
	pre        *store.Precondition
}

type opKind int

const (
	opSet opKind = iota
	opCreate
	opUpdate
	opDelete
)

// resolvedOp carries the final bytes (or deletion) for one document.
type resolvedOp struct {
	collection string
	id         string
	data       []byte // nil for deletes
	delete     bool
}

// resolveOps turns staged operations into final document contents, reading
// current state through c. Inside a transaction c is the WATCHed
// connection, so these reads are protected by the version key.
func (s *Store) resolveOps(ctx context.Context, c redis.Cmdable, ops []writeOp) ([]resolvedOp, error) {
	// Later operations in the same group observe earlier staged writes.
	staged := make(map[string]map[string]any) // docKey -> fields, nil = deleted
	current := func(op writeOp) (map[string]any, bool, error) {
		key := s.docKey(op.collection, op.id)
		if fields, ok := staged[key]; ok {
			return fields, fields != nil, nil
		}
		doc, err := s.get(ctx, c, op.collection, op.id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, false, nil
			}
			return nil, false, err
		}
		return doc.Data, true, nil
	}

	var resolved []resolvedOp
	for _, op := range ops {
		existing, exists, err := current(op)
		if err != nil {
			return nil, err
		}

		var fields map[string]any
		switch op.kind {
		case opSet:
			if op.merge && exists {
				fields = mergeFields(existing, op.fields)
			} else {
				fields = op.fields
			}
		case opCreate:
			if exists {
				return nil, fmt.Errorf("%w: %s/%s", store.ErrExists, op.collection, op.id)
			}
			fields = op.fields
		case opUpdate:
			if err := op.pre.Check(exists); err != nil {
				return nil, fmt.Errorf("update %s/%s: %w", op.collection, op.id, err)
			}
			if !exists {
				return nil, fmt.Errorf("%w: %s/%s", store.ErrNotFound, op.collection, op.id)
			}
			fields = mergeFields(existing, op.fields)
		case opDelete:
			if err := op.pre.Check(exists); err != nil {
				return nil, fmt.Errorf("delete %s/%s: %w", op.collection, op.id, err)
			}
			staged[s.docKey(op.collection, op.id)] = nil
			resolved = append(resolved, resolvedOp{collection: op.collection, id: op.id, delete: true})
			continue
		}

		data, err := s.codec.Encode(fields)
		if err != nil {
			return nil, err
		}
		staged[s.docKey(op.collection, op.id)] = fields
		resolved = append(resolved, resolvedOp{collection: op.collection, id: op.id, data: data})
	}
	return resolved, nil
}

// applyOps queues resolved writes plus the commit-counter bump.
func (s *Store) applyOps(ctx context.Context, pipe redis.Pipeliner, ops []resolvedOp) {
	for _, op := range ops {
		if op.delete {
			pipe.Del(ctx, s.docKey(op.collection, op.id))
			pipe.SRem(ctx, s.idsKey(op.collection), op.id)
			continue
		}
		pipe.Set(ctx, s.docKey(op.collection, op.id), op.data, 0)
		pipe.SAdd(ctx, s.idsKey(op.collection), op.id)
	}
	pipe.Incr(ctx, s.versionKey())
}

// batch stages writes and applies them in one MULTI/EXEC at Commit.
type batch struct {
	store     *Store
	ops       []writeOp
	committed bool
}

func (b *batch) Set(ctx context.Context, collection, id string, data map[string]any, merge bool) error {
	b.ops = append(b.ops, writeOp{kind: opSet, collection: collection, id: id, fields: cloneFields(data), merge: merge})
	return nil
}

func (b *batch) Create(ctx context.Context, collection, id string, data map[string]any) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	b.ops = append(b.ops, writeOp{kind: opCreate, collection: collection, id: id, fields: cloneFields(data)})
	return id, nil
}

func (b *batch) Update(ctx context.Context, collection, id string, fields map[string]any, pre *store.Precondition) error {
	b.ops = append(b.ops, writeOp{kind: opUpdate, collection: collection, id: id, fields: cloneFields(fields), pre: pre})
	return nil
}

func (b *batch) Delete(ctx context.Context, collection, id string, pre *store.Precondition) error {
	b.ops = append(b.ops, writeOp{kind: opDelete, collection: collection, id: id, pre: pre})
	return nil
}

func (b *batch) Commit(ctx context.Context) error {
	if b.committed {
		return errors.New("batch already committed")
	}
	b.committed = true
	if len(b.ops) == 0 {
		return nil
	}

	resolved, err := b.store.resolveOps(ctx, b.store.client, b.ops)
	if err != nil {
		return err
	}
	_, err = b.store.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		b.store.applyOps(ctx, pipe, resolved)
		return nil
	})
	return mapError(err)
}

// tx stages writes like a batch; reads go through the WATCHed connection.
type tx struct {
	store *Store
	r     *redis.Tx
	ops   []writeOp
}

func (t *tx) Get(ctx context.Context, collection, id string) (*store.Document, error) {
	return t.store.get(ctx, t.r, collection, id)
}

func (t *tx) GetAll(ctx context.Context, collection string, ids []string) ([]*store.Document, error) {
	return t.store.getAll(ctx, t.r, collection, ids)
}

func (t *tx) Find(ctx context.Context, collection string, q store.Query) ([]*store.Document, error) {
	return t.store.find(ctx, t.r, collection, q)
}

func (t *tx) Set(ctx context.Context, collection, id string, data map[string]any, merge bool) error {
	t.ops = append(t.ops, writeOp{kind: opSet, collection: collection, id: id, fields: cloneFields(data), merge: merge})
	return nil
}

func (t *tx) Create(ctx context.Context, collection, id string, data map[string]any) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	t.ops = append(t.ops, writeOp{kind: opCreate, collection: collection, id: id, fields: cloneFields(data)})
	return id, nil
}

func (t *tx) Update(ctx context.Context, collection, id string, fields map[string]any, pre *store.Precondition) error {
	t.ops = append(t.ops, writeOp{kind: opUpdate, collection: collection, id: id, fields: cloneFields(fields), pre: pre})
	return nil
}

func (t *tx) Delete(ctx context.Context, collection, id string, pre *store.Precondition) error {
	t.ops = append(t.ops, writeOp{kind: opDelete, collection: collection, id: id, pre: pre})
	return nil
}

func mergeFields(existing, updates map[string]any) map[string]any {
	out := make(map[string]any, len(existing)+len(updates))
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range updates {
		out[k] = v
	}
	return out
}

func cloneFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) ||
		errors.Is(err, store.ErrExists) ||
		errors.Is(err, store.ErrPreconditionFailed) ||
		errors.Is(err, store.ErrConflict) ||
		errors.Is(err, store.ErrTransient) {
		return err
	}
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return store.Transient(err)
	}
	return err
}

// Compile-time checks
var _ store.Store = (*Store)(nil)
var _ store.Batch = (*batch)(nil)
var _ store.Tx = (*tx)(nil)
