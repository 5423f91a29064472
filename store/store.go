// Package store defines the document-store boundary consumed by the
// dispatcher: direct reads, staged write batches, and atomic read-write
// transactions over named collections of schema-less documents.
//
// The same Reader and Writer shapes are served both by the plain store and
// by an open transaction, so handler code is written once and runs unchanged
// in either mode.
//
// Backends:
//   - mongodb: MongoDB replica sets (see store/mongodb)
//   - redis: Redis with optimistic transactions (see store/redis)
//   - memory: in-process store for tests and embedding (see store/memory)
package store

import (
	"context"
	"errors"
	"fmt"
	"reflect"
)

// Store errors. Backends map their driver errors onto these sentinels so
// callers can classify failures without importing driver packages.
// Use errors.Is() as they may be wrapped with additional context.
var (
	// ErrNotFound indicates the requested document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrExists indicates a create collided with an existing document.
	ErrExists = errors.New("document already exists")

	// ErrPreconditionFailed indicates an update or delete precondition
	// was not satisfied.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrConflict indicates a write conflict detected by the backend's
	// transaction machinery.
	ErrConflict = errors.New("write conflict")

	// ErrTransient marks a failure the backend considers temporary:
	// unavailability, timeouts, aborted transactions. Operations failing
	// with ErrTransient are safe to retry.
	ErrTransient = errors.New("transient store error")
)

// Transient wraps err so that IsTransient reports true for it.
// Backends use this to surface driver-specific temporary failures.
func Transient(err error) error {
	if err == nil {
		return ErrTransient
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// IsTransient reports whether err is a temporary store failure worth
// retrying. Conflicts are transient by definition: the backend aborted the
// operation, it did not fail it.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrConflict)
}

// Document is a single stored document: an identifier plus schema-less
// field data.
type Document struct {
	ID   string
	Data map[string]any
}

// Field returns the value of a top-level field, or nil if absent.
func (d *Document) Field(name string) any {
	if d == nil || d.Data == nil {
		return nil
	}
	return d.Data[name]
}

// Query selects documents by top-level field equality.
// A nil or empty Filters matches every document in the collection.
type Query struct {
	// Filters maps field names to required values.
	Filters map[string]any

	// Limit bounds the number of returned documents. Zero means no limit.
	Limit int
}

// Matches reports whether doc satisfies every filter in the query.
// Backends without native query support evaluate this in process.
// Comparison is deep, so slice- and map-valued fields (routine after a
// codec round trip) match structurally instead of panicking.
func (q Query) Matches(doc *Document) bool {
	for field, want := range q.Filters {
		if !reflect.DeepEqual(doc.Field(field), want) {
			return false
		}
	}
	return true
}

// Precondition constrains an update or delete.
type Precondition struct {
	// Exists, when non-nil, requires the target document to exist (true)
	// or to be absent (false).
	Exists *bool
}

// MustExist returns a precondition requiring the target document to exist.
func MustExist() *Precondition {
	t := true
	return &Precondition{Exists: &t}
}

// MustNotExist returns a precondition requiring the target to be absent.
func MustNotExist() *Precondition {
	f := false
	return &Precondition{Exists: &f}
}

// Check evaluates the precondition against the observed existence of the
// target document. A nil precondition always passes.
func (p *Precondition) Check(exists bool) error {
	if p == nil || p.Exists == nil {
		return nil
	}
	if *p.Exists != exists {
		if exists {
			return fmt.Errorf("%w: document exists", ErrPreconditionFailed)
		}
		return fmt.Errorf("%w: document missing", ErrPreconditionFailed)
	}
	return nil
}

// Reader provides read access to the store: fetch-by-key, batched
// fetch-by-key, and query execution. Implemented both by the plain store
// (direct reads) and by an open transaction (snapshot reads); the two are
// substitutable from the caller's point of view.
type Reader interface {
	// Get fetches a single document by id.
	// Returns ErrNotFound if the document does not exist.
	Get(ctx context.Context, collection, id string) (*Document, error)

	// GetAll fetches multiple documents by id in one round trip.
	// Missing ids are skipped; the result preserves the order of the
	// ids that were found.
	GetAll(ctx context.Context, collection string, ids []string) ([]*Document, error)

	// Find runs a query against a collection.
	Find(ctx context.Context, collection string, q Query) ([]*Document, error)
}

// Writer provides write access to the store. Inside a Batch, operations are
// staged and applied atomically at Commit; inside a transaction, they apply
// when the transaction commits. The shape is identical in both modes.
type Writer interface {
	// Set stores data under id, creating the document if needed.
	// When merge is true, only the given fields are written and other
	// fields are preserved; otherwise the document is replaced.
	Set(ctx context.Context, collection, id string, data map[string]any, merge bool) error

	// Create inserts a new document. An empty id asks the store to
	// generate one; the chosen id is returned. Creating an existing id
	// fails with ErrExists.
	Create(ctx context.Context, collection, id string, data map[string]any) (string, error)

	// Update writes individual fields of an existing document.
	// The optional precondition is evaluated against the target first.
	Update(ctx context.Context, collection, id string, fields map[string]any, pre *Precondition) error

	// Delete removes a document. The optional precondition is evaluated
	// against the target first. Deleting an absent document without a
	// precondition is a no-op.
	Delete(ctx context.Context, collection, id string, pre *Precondition) error
}

// Batch accumulates staged write operations and applies them as one atomic
// write group on Commit. A batch provides no read consistency: reads
// performed alongside a batch observe the store as of the read, not as of
// the commit. A batch that is never committed applies nothing.
type Batch interface {
	Writer

	// Commit applies all staged operations atomically.
	// After Commit the batch must not be reused.
	Commit(ctx context.Context) error
}

// Tx is an open read-write transaction: reads observe a consistent
// snapshot, writes become visible atomically when the surrounding
// RunTransaction callback returns nil.
type Tx interface {
	Reader
	Writer
}

// Store is the full document-store contract: direct reads, write batches,
// and a transaction runner.
type Store interface {
	Reader

	// Batch opens a new write batch.
	Batch() Batch

	// RunTransaction executes fn inside an atomic transaction and commits
	// if fn returns nil. The backend may re-invoke fn on detected write
	// conflicts before giving up; fn must therefore be safe to run more
	// than once.
	RunTransaction(ctx context.Context, fn func(tx Tx) error) error
}
