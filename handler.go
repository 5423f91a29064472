package docevent

import (
	"context"
	"fmt"

	"github.com/rbaliyan/docevent/store"
)

// Kind identifies a handler's store capability. The set is closed: a
// handler acquires its kind by embedding one of the hook types below, so
// dispatch-mode selection is an exhaustive match with no unknown-kind gap.
type Kind int

const (
	// KindSimple handlers touch no store state.
	KindSimple Kind = iota
	// KindRead handlers read before handling, via direct reads.
	KindRead
	// KindWrite handlers stage writes into a shared batch.
	KindWrite
	// KindReadWrite handlers read and write inside one transaction.
	KindReadWrite
)

// String returns a string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindSimple:
		return "simple"
	case KindRead:
		return "read"
	case KindWrite:
		return "write"
	case KindReadWrite:
		return "readwrite"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Handler performs the effect of a single atomic event. A subscriber
// creates a fresh handler per event, so handlers may carry private mutable
// state, but every method except the hooks may run more than once, because
// the whole dispatch is re-invoked on retry. No handler method may assume
// it runs exactly once.
//
// Concrete handlers embed one of SimpleHooks, ReadHooks, WriteHooks or
// ReadWriteHooks and implement the methods of the matching capability
// interface. The embedded hooks carry the kind tag and default no-op
// OnSuccess and Rollback, either of which the handler may override.
type Handler interface {
	kind() Kind

	// OnSuccess runs once after the dispatch fully committed.
	OnSuccess(ctx context.Context) error

	// Rollback is the compensating hook, invoked once per handler when
	// the dispatch terminally fails. Errors returned from hooks are not
	// swallowed; a failing Rollback masks the error that triggered it.
	Rollback(ctx context.Context) error
}

// SimpleHandler is a handler with no store capability.
type SimpleHandler interface {
	Handler

	// HandleEvent performs the event's effect.
	HandleEvent(ctx context.Context) error
}

// ReadHandler reads store state before handling. PrepareHandleEvent always
// runs before any handler's HandleEvent; the reader is backed by direct
// reads, or by the transaction when a transactional handler is co-dispatched.
type ReadHandler interface {
	Handler

	// PrepareHandleEvent reads whatever HandleEvent will need.
	PrepareHandleEvent(ctx context.Context, r store.Reader) error

	// HandleEvent performs the event's effect using the prepared state.
	HandleEvent(ctx context.Context) error
}

// WriteHandler stages writes into the write batch shared by the dispatch.
// The writes commit atomically with every other handler's writes: as a
// batch, or inside the transaction when one is open.
type WriteHandler interface {
	Handler

	// HandleEvent stages the event's writes.
	HandleEvent(ctx context.Context, w store.Writer) error
}

// ReadWriteHandler reads and writes under one atomic transaction with
// snapshot-consistent reads. Its presence upgrades the whole dispatch to
// transactional execution.
type ReadWriteHandler interface {
	Handler

	// PrepareHandleEvent reads through the transaction.
	PrepareHandleEvent(ctx context.Context, r store.Reader) error

	// HandleEvent writes through the transaction.
	HandleEvent(ctx context.Context, w store.Writer) error
}

// hooks is the shared default implementation embedded by all hook types.
type hooks struct{}

func (hooks) OnSuccess(context.Context) error { return nil }
func (hooks) Rollback(context.Context) error  { return nil }

// SimpleHooks marks a handler as KindSimple and provides default no-op
// OnSuccess and Rollback. Embed it and implement HandleEvent:
//
//	type auditHandler struct {
//	    docevent.SimpleHooks
//	    event *docevent.AtomicEvent
//	}
//
//	func (h *auditHandler) HandleEvent(ctx context.Context) error {
//	    log.Printf("handled %s", h.event.Name())
//	    return nil
//	}
type SimpleHooks struct{ hooks }

func (SimpleHooks) kind() Kind { return KindSimple }

// ReadHooks marks a handler as KindRead with default no-op hooks.
type ReadHooks struct{ hooks }

func (ReadHooks) kind() Kind { return KindRead }

// WriteHooks marks a handler as KindWrite with default no-op hooks.
type WriteHooks struct{ hooks }

func (WriteHooks) kind() Kind { return KindWrite }

// ReadWriteHooks marks a handler as KindReadWrite with default no-op hooks.
type ReadWriteHooks struct{ hooks }

func (ReadWriteHooks) kind() Kind { return KindReadWrite }

// Subscriber is a long-lived registration that produces handlers. Given an
// atomic event it returns a fresh handler, or nil to decline. It is asked
// once per atomic event per publish call, before the retry loop begins, and
// must be safe for concurrent use by concurrent publishes.
type Subscriber interface {
	HandlerFor(event *AtomicEvent) Handler
}

// SubscriberFunc adapts a function to the Subscriber interface.
type SubscriberFunc func(event *AtomicEvent) Handler

// HandlerFor calls fn.
func (fn SubscriberFunc) HandlerFor(event *AtomicEvent) Handler { return fn(event) }
