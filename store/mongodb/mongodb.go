// Package mongodb implements the store boundary on MongoDB.
//
// Documents live one collection per store collection with their fields at
// the top level and the document id as "_id". Transactions use MongoDB
// sessions via Session.WithTransaction, which retries the callback on
// transient transaction errors before giving up; that driver-level retry is
// independent of any retrying the caller performs. Batches stage write
// models and apply them inside a single transaction at Commit, giving an
// atomic write group without read consistency.
//
// MongoDB transactions require a replica set or sharded cluster.
package mongodb

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/rbaliyan/docevent/store"
)

// Store implements store.Store on a MongoDB database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// New creates a MongoDB-backed store. The database's client must be
// connected to a replica set or sharded cluster for transactions to work.
// The store does not own the client and will not disconnect it.
func New(db *mongo.Database) *Store {
	return &Store{
		client: db.Client(),
		db:     db,
	}
}

// Get fetches a single document by id.
func (s *Store) Get(ctx context.Context, collection, id string) (*store.Document, error) {
	return getDoc(ctx, s.db, collection, id)
}

// GetAll fetches multiple documents by id in one query.
func (s *Store) GetAll(ctx context.Context, collection string, ids []string) ([]*store.Document, error) {
	return getAllDocs(ctx, s.db, collection, ids)
}

// Find runs a field-equality query against a collection.
func (s *Store) Find(ctx context.Context, collection string, q store.Query) ([]*store.Document, error) {
	return findDocs(ctx, s.db, collection, q)
}

// Batch opens a new staged write batch.
func (s *Store) Batch() store.Batch {
	return &batch{store: s}
}

// RunTransaction executes fn inside a MongoDB transaction. The driver may
// re-invoke fn on transient transaction errors (write conflicts, primary
// step-down) before the commit deadline.
func (s *Store) RunTransaction(ctx context.Context, fn func(tx store.Tx) error) error {
	session, err := s.client.StartSession()
	if err != nil {
		return mapError(fmt.Errorf("start session: %w", err))
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (any, error) {
		return nil, fn(&tx{db: s.db, ctx: sessCtx})
	})
	return mapError(err)
}

// tx scopes reads and writes to an open session. The session context is
// fixed at transaction start; per-call contexts are ignored because every
// operation must run on the session to be part of the transaction.
type tx struct {
	db  *mongo.Database
	ctx mongo.SessionContext
}

func (t *tx) Get(ctx context.Context, collection, id string) (*store.Document, error) {
	return getDoc(t.ctx, t.db, collection, id)
}

func (t *tx) GetAll(ctx context.Context, collection string, ids []string) ([]*store.Document, error) {
	return getAllDocs(t.ctx, t.db, collection, ids)
}

func (t *tx) Find(ctx context.Context, collection string, q store.Query) ([]*store.Document, error) {
	return findDocs(t.ctx, t.db, collection, q)
}

func (t *tx) Set(ctx context.Context, collection, id string, data map[string]any, merge bool) error {
	return setDoc(t.ctx, t.db, collection, id, data, merge)
}

func (t *tx) Create(ctx context.Context, collection, id string, data map[string]any) (string, error) {
	return createDoc(t.ctx, t.db, collection, id, data)
}

func (t *tx) Update(ctx context.Context, collection, id string, fields map[string]any, pre *store.Precondition) error {
	return updateDoc(t.ctx, t.db, collection, id, fields, pre)
}

func (t *tx) Delete(ctx context.Context, collection, id string, pre *store.Precondition) error {
	return deleteDoc(t.ctx, t.db, collection, id, pre)
}

// batch stages writes and applies them in one transaction at Commit.
type batch struct {
	store     *Store
	ops       []func(ctx context.Context, db *mongo.Database) error
	committed bool
}

func (b *batch) Set(ctx context.Context, collection, id string, data map[string]any, merge bool) error {
	fields := cloneFields(data)
	b.ops = append(b.ops, func(ctx context.Context, db *mongo.Database) error {
		return setDoc(ctx, db, collection, id, fields, merge)
	})
	return nil
}

func (b *batch) Create(ctx context.Context, collection, id string, data map[string]any) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	fields := cloneFields(data)
	b.ops = append(b.ops, func(ctx context.Context, db *mongo.Database) error {
		_, err := createDoc(ctx, db, collection, id, fields)
		return err
	})
	return id, nil
}

func (b *batch) Update(ctx context.Context, collection, id string, fields map[string]any, pre *store.Precondition) error {
	staged := cloneFields(fields)
	b.ops = append(b.ops, func(ctx context.Context, db *mongo.Database) error {
		return updateDoc(ctx, db, collection, id, staged, pre)
	})
	return nil
}

func (b *batch) Delete(ctx context.Context, collection, id string, pre *store.Precondition) error {
	b.ops = append(b.ops, func(ctx context.Context, db *mongo.Database) error {
		return deleteDoc(ctx, db, collection, id, pre)
	})
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

	session, err := b.store.client.StartSession()
	if err != nil {
		return mapError(fmt.Errorf("start session: %w", err))
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (any, error) {
		for _, op := range b.ops {
			if err := op(sessCtx, b.store.db); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return mapError(err)
}

// Shared operations, usable both directly and inside a session context.

func getDoc(ctx context.Context, db *mongo.Database, collection, id string) (*store.Document, error) {
	var raw bson.M
	err := db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(&raw)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s/%s", store.ErrNotFound, collection, id)
		}
		return nil, mapError(fmt.Errorf("find: %w", err))
	}
	return toDocument(raw), nil
}

func getAllDocs(ctx context.Context, db *mongo.Database, collection string, ids []string) ([]*store.Document, error) {
	cursor, err := db.Collection(collection).Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, mapError(fmt.Errorf("find: %w", err))
	}
	defer cursor.Close(ctx)

	byID := make(map[string]*store.Document)
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return nil, mapError(fmt.Errorf("decode: %w", err))
		}
		doc := toDocument(raw)
		byID[doc.ID] = doc
	}
	if err := cursor.Err(); err != nil {
		return nil, mapError(err)
	}

	// Preserve the order of the requested ids.
	var docs []*store.Document
	for _, id := range ids {
		if doc, ok := byID[id]; ok {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func findDocs(ctx context.Context, db *mongo.Database, collection string, q store.Query) ([]*store.Document, error) {
	filter := bson.M{}
	for field, value := range q.Filters {
		filter[field] = value
	}

	opts := options.Find()
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	cursor, err := db.Collection(collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, mapError(fmt.Errorf("find: %w", err))
	}
	defer cursor.Close(ctx)

	var docs []*store.Document
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return nil, mapError(fmt.Errorf("decode: %w", err))
		}
		docs = append(docs, toDocument(raw))
	}
	if err := cursor.Err(); err != nil {
		return nil, mapError(err)
	}
	return docs, nil
}

func setDoc(ctx context.Context, db *mongo.Database, collection, id string, data map[string]any, merge bool) error {
	coll := db.Collection(collection)
	if merge {
		_, err := coll.UpdateOne(ctx,
			bson.M{"_id": id},
			bson.M{"$set": bson.M(data)},
			options.Update().SetUpsert(true))
		return mapError(err)
	}
	_, err := coll.ReplaceOne(ctx, bson.M{"_id": id}, bson.M(data), options.Replace().SetUpsert(true))
	return mapError(err)
}

func createDoc(ctx context.Context, db *mongo.Database, collection, id string, data map[string]any) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	doc := bson.M{"_id": id}
	for k, v := range data {
		doc[k] = v
	}
	if _, err := db.Collection(collection).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", fmt.Errorf("%w: %s/%s", store.ErrExists, collection, id)
		}
		return "", mapError(fmt.Errorf("insert: %w", err))
	}
	return id, nil
}

func updateDoc(ctx context.Context, db *mongo.Database, collection, id string, fields map[string]any, pre *store.Precondition) error {
	coll := db.Collection(collection)
	if pre != nil {
		exists, err := docExists(ctx, coll, id)
		if err != nil {
			return err
		}
		if err := pre.Check(exists); err != nil {
			return fmt.Errorf("update %s/%s: %w", collection, id, err)
		}
	}

	result, err := coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M(fields)})
	if err != nil {
		return mapError(fmt.Errorf("update: %w", err))
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: %s/%s", store.ErrNotFound, collection, id)
	}
	return nil
}

func deleteDoc(ctx context.Context, db *mongo.Database, collection, id string, pre *store.Precondition) error {
	coll := db.Collection(collection)
	if pre != nil {
		exists, err := docExists(ctx, coll, id)
		if err != nil {
			return err
		}
		if err := pre.Check(exists); err != nil {
			return fmt.Errorf("delete %s/%s: %w", collection, id, err)
		}
	}

	if _, err := coll.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return mapError(fmt.Errorf("delete: %w", err))
	}
	return nil
}

func docExists(ctx context.Context, coll *mongo.Collection, id string) (bool, error) {
	count, err := coll.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return false, mapError(fmt.Errorf("count: %w", err))
	}
	return count > 0, nil
}

func toDocument(raw bson.M) *store.Document {
	doc := &store.Document{Data: make(map[string]any, len(raw))}
	for k, v := range raw {
		if k == "_id" {
			doc.ID = fmt.Sprint(v)
			continue
		}
		doc.Data[k] = v
	}
	return doc
}

func cloneFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// mapError converts driver errors to store sentinels, marking temporary
// driver conditions transient so callers can retry them.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) ||
		errors.Is(err, store.ErrExists) ||
		errors.Is(err, store.ErrPreconditionFailed) ||
		errors.Is(err, store.ErrTransient) {
		return err
	}
	if isTransient(err) {
		return store.Transient(err)
	}
	return err
}

func isTransient(err error) bool {
	if mongo.IsTimeout(err) || mongo.IsNetworkError(err) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var se mongo.ServerError
	if errors.As(err, &se) {
		return se.HasErrorLabel("TransientTransactionError") ||
			se.HasErrorLabel("UnknownTransactionCommitResult")
	}
	return false
}

// Compile-time checks
var _ store.Store = (*Store)(nil)
var _ store.Batch = (*batch)(nil)
var _ store.Tx = (*tx)(nil)
