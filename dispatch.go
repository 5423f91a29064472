package docevent

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/rbaliyan/docevent/store"
)

// Mode is the execution strategy chosen for one publish call from the
// capability mix of its handlers.
type Mode int

const (
	// ModeSimple invokes handlers directly, no store involvement.
	ModeSimple Mode = iota
	// ModeReadOnly runs read phases against direct store reads.
	ModeReadOnly
	// ModeBatched stages all writes into one batch, committed last.
	ModeBatched
	// ModeTransactional runs everything inside one atomic transaction.
	ModeTransactional
)

// String returns a string representation of the mode.
func (m Mode) String() string {
	switch m {
	case ModeSimple:
		return "simple"
	case ModeReadOnly:
		return "readonly"
	case ModeBatched:
		return "batched"
	case ModeTransactional:
		return "transactional"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// selectMode picks the dispatch mode for a handler set. A single
// transactional handler upgrades the whole set to transactional execution;
// otherwise any write handler forces a batch, any read handler forces the
// read phase, and a set of plain handlers runs simple.
func selectMode(handlers []Handler) Mode {
	mode := ModeSimple
	for _, h := range handlers {
		switch h.kind() {
		case KindReadWrite:
			return ModeTransactional
		case KindWrite:
			if mode < ModeBatched {
				mode = ModeBatched
			}
		case KindRead:
			if mode < ModeReadOnly {
				mode = ModeReadOnly
			}
		}
	}
	return mode
}

// validateHandlers checks that every handler implements the capability
// interface its kind promises. This closes the gap between the kind tag
// (fixed by the embedded hooks) and the methods the strategies will call.
func validateHandlers(handlers []Handler) error {
	for _, h := range handlers {
		var ok bool
		switch h.kind() {
		case KindSimple:
			_, ok = h.(SimpleHandler)
		case KindRead:
			_, ok = h.(ReadHandler)
		case KindWrite:
			_, ok = h.(WriteHandler)
		case KindReadWrite:
			_, ok = h.(ReadWriteHandler)
		}
		if !ok {
			return fmt.Errorf("%w: %T does not implement the %s capability interface",
				ErrInvalidHandler, h, h.kind())
		}
	}
	return nil
}

// dispatcher runs one publish call's handler set under its chosen mode.
// It is re-run as a whole on every retry attempt; handlers see the same
// sequencing each time.
type dispatcher struct {
	store    store.Store
	handlers []Handler
	mode     Mode
	logger   *slog.Logger
	recovery bool
}

// run executes one attempt.
func (d *dispatcher) run(ctx context.Context) error {
	switch d.mode {
	case ModeSimple:
		return d.runSimple(ctx)
	case ModeReadOnly:
		return d.runReadOnly(ctx)
	case ModeBatched:
		return d.runBatched(ctx)
	case ModeTransactional:
		return d.runTransactional(ctx)
	default:
		return fmt.Errorf("unknown dispatch mode %v", d.mode)
	}
}

// runSimple invokes every handler in registration order. Only simple
// handlers can be present, or the mode would not have been selected.
func (d *dispatcher) runSimple(ctx context.Context) error {
	for _, h := range d.handlers {
		if err := d.call(ctx, h, func() error {
			return h.(SimpleHandler).HandleEvent(ctx)
		}); err != nil {
			return err
		}
	}
	return nil
}

// runReadOnly runs every read handler's prepare phase against direct store
// reads, then every handler's handle phase.
func (d *dispatcher) runReadOnly(ctx context.Context) error {
	if err := d.prepare(ctx, d.store, false); err != nil {
		return err
	}
	for _, h := range d.handlers {
		var err error
		switch h.kind() {
		case KindRead:
			err = d.call(ctx, h, func() error { return h.(ReadHandler).HandleEvent(ctx) })
		case KindSimple:
			err = d.call(ctx, h, func() error { return h.(SimpleHandler).HandleEvent(ctx) })
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// runBatched runs read prepares against direct reads (a batch gives no
// read consistency), then stages every write handler's writes into one
// batch and commits it after all handlers ran. A failure before commit
// persists nothing.
func (d *dispatcher) runBatched(ctx context.Context) error {
	if err := d.prepare(ctx, d.store, false); err != nil {
		return err
	}

	b := d.store.Batch()
	for _, h := range d.handlers {
		var err error
		switch h.kind() {
		case KindWrite:
			err = d.call(ctx, h, func() error { return h.(WriteHandler).HandleEvent(ctx, b) })
		case KindRead:
			err = d.call(ctx, h, func() error { return h.(ReadHandler).HandleEvent(ctx) })
		case KindSimple:
			err = d.call(ctx, h, func() error { return h.(SimpleHandler).HandleEvent(ctx) })
		}
		if err != nil {
			return err
		}
	}
	return b.Commit(ctx)
}

// runTransactional runs the whole handler set inside one transaction:
// first every read-capable handler's prepare phase through transactional
// reads (snapshot consistency), then every handler's handle phase, with
// write-capable handlers writing through the transaction. The store's
// runner commits only if the callback returns nil and may internally
// re-invoke it on write conflicts.
func (d *dispatcher) runTransactional(ctx context.Context) error {
	return d.store.RunTransaction(ctx, func(tx store.Tx) error {
		if err := d.prepareTx(ctx, tx); err != nil {
			return err
		}
		for _, h := range d.handlers {
			var err error
			switch h.kind() {
			case KindReadWrite:
				err = d.call(ctx, h, func() error { return h.(ReadWriteHandler).HandleEvent(ctx, tx) })
			case KindWrite:
				err = d.call(ctx, h, func() error { return h.(WriteHandler).HandleEvent(ctx, tx) })
			case KindRead:
				err = d.call(ctx, h, func() error { return h.(ReadHandler).HandleEvent(ctx) })
			case KindSimple:
				err = d.call(ctx, h, func() error { return h.(SimpleHandler).HandleEvent(ctx) })
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// prepare runs the prepare phase of read handlers against r, in
// registration order. Reads always complete before any handle phase runs.
func (d *dispatcher) prepare(ctx context.Context, r store.Reader, includeReadWrite bool) error {
	for _, h := range d.handlers {
		switch h.kind() {
		case KindRead:
			if err := d.call(ctx, h, func() error {
				return h.(ReadHandler).PrepareHandleEvent(ctx, r)
			}); err != nil {
				return err
			}
		case KindReadWrite:
			if !includeReadWrite {
				continue
			}
			if err := d.call(ctx, h, func() error {
				return h.(ReadWriteHandler).PrepareHandleEvent(ctx, r)
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// prepareTx runs read and read-write prepare phases through the
// transaction, so read handlers co-dispatched with a transactional one get
// snapshot reads too.
func (d *dispatcher) prepareTx(ctx context.Context, tx store.Tx) error {
	return d.prepare(ctx, tx, true)
}

// call invokes one handler step, converting panics to errors when recovery
// is enabled so a panicking handler cannot tear down the publisher.
func (d *dispatcher) call(ctx context.Context, h Handler, fn func() error) (err error) {
	if d.recovery {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("handler panic recovered",
					"handler", fmt.Sprintf("%T", h),
					"panic", r,
					"stack", string(debug.Stack()))
				err = fmt.Errorf("handler %T panic: %v", h, r)
			}
		}()
	}
	return fn()
}
