// Package docevent provides an in-process domain-event dispatcher layered
// on a transactional document store. Subscribers react to published events
// by producing typed handlers; the publisher classifies the handlers by
// their store capability, executes them under the matching consistency
// envelope, retries transient failures with capped linear backoff, and
// invokes compensating rollback hooks on unrecoverable failure.
//
// Handler capabilities and execution modes:
//   - Simple handlers (no store access) are invoked directly.
//   - Read handlers get a prepare phase with direct store reads.
//   - Write handlers stage writes into one shared batch, committed once
//     after every handler ran.
//   - ReadWrite handlers upgrade the entire publish call to a single
//     atomic transaction with snapshot reads; co-published write and
//     simple handlers run inside it and commit with it.
//
// One mode is chosen per publish call from the capability mix; a single
// transactional handler is enough to make everything commit atomically.
// Within an attempt, handlers run strictly sequentially in registration
// order, all reads before any write.
//
// Basic example:
//
//	type reserveStock struct {
//	    docevent.ReadWriteHooks
//	    orderID string
//	    stock   *store.Document
//	}
//
//	func (h *reserveStock) PrepareHandleEvent(ctx context.Context, r store.Reader) error {
//	    doc, err := r.Get(ctx, "stock", h.orderID)
//	    if err != nil {
//	        return err
//	    }
//	    h.stock = doc
//	    return nil
//	}
//
//	func (h *reserveStock) HandleEvent(ctx context.Context, w store.Writer) error {
//	    n, _ := h.stock.Field("reserved").(int64)
//	    return w.Update(ctx, "stock", h.orderID, map[string]any{"reserved": n + 1}, store.MustExist())
//	}
//
//	pub := docevent.New(mongodb.New(db))
//	pub.AddSubscriberFunc(func(ev *docevent.AtomicEvent) docevent.Handler {
//	    if ev.Name() != "order.placed" {
//	        return nil
//	    }
//	    return &reserveStock{orderID: currentOrder}
//	})
//
//	orderPlaced := docevent.NewEvent("order.placed",
//	    docevent.WithRetryMax(5),
//	    docevent.WithRetryIntervalExtendFactor(100*time.Millisecond),
//	    docevent.WithRetryIntervalMax(time.Second))
//
//	if err := pub.Publish(ctx, orderPlaced); err != nil {
//	    log.Fatal(err)
//	}
//
// Retry semantics: each atomic event carries retryMax (total attempt
// bound), a backoff growth step and a backoff ceiling; the Nth retry waits
// N times the step, capped. Events published together, including members
// of a Combine bundle, share one combined policy: the tightest attempt
// bound, the slowest backoff, and retryability only when every event
// agrees. When retries are exhausted Publish returns a RetryExhaustedError
// wrapping the final attempt's error; non-retryable errors return
// unchanged. Either way every handler's Rollback hook runs first, and on
// success every handler's OnSuccess hook runs after the commit.
//
// Publisher Options:
//   - WithLogger: set logger. Default is slog.Default().
//   - WithTracing: enable/disable OpenTelemetry tracing. Default is true.
//   - WithMetrics: enable/disable OpenTelemetry metrics. Default is true.
//   - WithRecovery: enable/disable panic recovery in handlers. Default is true.
//   - WithRetryJitter: spread backoff delays. Default is 0.
//
// Store backends live in store/mongodb, store/redis and store/memory; see
// package store for the boundary contract.
package docevent
