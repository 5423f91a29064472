package docevent

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/rbaliyan/docevent/store"
)

const (
	publisherRunning = 1
	publisherStopped = 0
)

const otelScope = "github.com/rbaliyan/docevent"

// Span and metric attribute keys
const (
	attrKeyPublishID = "publish.id"
	attrKeyEvent     = "event.name"
	attrKeyMode      = "dispatch.mode"
)

// Publisher dispatches domain events to subscribers against a document
// store. It owns an append-only subscriber list and, per publish call,
// collects one handler per subscriber per atomic event, selects an
// execution mode from the handler capability mix, and drives the shared
// retry, rollback and success-notification lifecycle.
//
// A Publisher is safe for concurrent use; concurrent publish calls are
// independent and interleave freely. Any mutual exclusion between events
// touching the same documents must come from the store's own transaction
// conflict detection.
type Publisher struct {
	status int32
	id     string
	store  store.Store

	subscribers []Subscriber
	mu          sync.RWMutex

	logger          *slog.Logger
	tracingEnabled  bool
	metricsEnabled  bool
	recoveryEnabled bool
	retryJitter     float64

	// sleep is the backoff primitive, replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a publisher over the given store.
//
// Example:
//
//	st := memory.New()
//	pub := docevent.New(st, docevent.WithRetryJitter(0.2))
//	pub.AddSubscriber(ordersSubscriber)
//
//	err := pub.Publish(ctx, orderPlaced)
func New(st store.Store, opts ...Option) *Publisher {
	o := newPublisherOptions(opts...)
	return &Publisher{
		status:          publisherRunning,
		id:              uuid.NewString(),
		store:           st,
		logger:          o.logger.With("component", "docevent"),
		tracingEnabled:  o.tracingEnabled,
		metricsEnabled:  o.metricsEnabled,
		recoveryEnabled: o.recoveryEnabled,
		retryJitter:     o.retryJitter,
		sleep:           sleepContext,
	}
}

// ID returns the publisher instance id.
func (p *Publisher) ID() string { return p.id }

// Running returns true if the publisher accepts publishes.
func (p *Publisher) Running() bool {
	return atomic.LoadInt32(&p.status) == publisherRunning
}

// Close stops the publisher. In-flight publishes finish; subsequent calls
// to Publish fail with ErrPublisherClosed.
func (p *Publisher) Close() {
	atomic.CompareAndSwapInt32(&p.status, publisherRunning, publisherStopped)
}

// AddSubscriber appends a subscriber. Registration is append-only and
// process-lifetime; there is no removal.
func (p *Publisher) AddSubscriber(s Subscriber) {
	if s == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers = append(p.subscribers, s)
}

// AddSubscriberFunc appends a function subscriber.
func (p *Publisher) AddSubscriberFunc(fn func(event *AtomicEvent) Handler) {
	if fn == nil {
		return
	}
	p.AddSubscriber(SubscriberFunc(fn))
}

// Publish dispatches events to all subscribers as one logical unit:
// combined events are expanded, each subscriber is asked for one handler
// per atomic event, and the resulting handler set executes under a single
// mode with a single retry policy combined from every event published.
//
// Publish returns nil once the dispatch committed and every handler's
// OnSuccess hook ran. On terminal failure (a non-retryable error, or
// retryable errors through the combined attempt bound) every handler's
// Rollback hook runs in registration order and the error is returned, as
// a RetryExhaustedError when the attempt bound was spent. Errors from the
// hooks themselves propagate unswallowed. An empty publish is a no-op.
func (p *Publisher) Publish(ctx context.Context, events ...Event) error {
	if !p.Running() {
		return ErrPublisherClosed
	}

	atomics := expandEvents(events)
	if len(atomics) == 0 {
		return nil
	}

	publishID := uuid.NewString()
	eventName := dispatchName(events)

	handlers := p.collectHandlers(atomics)
	if len(handlers) == 0 {
		return nil
	}
	if err := validateHandlers(handlers); err != nil {
		return err
	}

	mode := selectMode(handlers)
	logger := p.logger.With(
		"publish_id", publishID,
		"event", eventName,
		"mode", mode.String(),
	)

	ctx = withDispatchContext(ctx, &dispatchContextData{
		publishID: publishID,
		eventName: eventName,
		mode:      mode,
		logger:    logger,
	})

	if p.metricsEnabled {
		meter := otel.Meter(otelScope)
		published, _ := meter.Int64Counter("docevent.published",
			metric.WithDescription("Total number of publish calls"))
		published.Add(ctx, 1, metric.WithAttributes(
			attribute.String(attrKeyEvent, eventName),
			attribute.String(attrKeyMode, mode.String())))
	}

	if p.tracingEnabled {
		tracer := otel.Tracer(otelScope)
		var span trace.Span
		ctx, span = tracer.Start(ctx, eventName+".publish",
			trace.WithAttributes(
				attribute.String(attrKeyPublishID, publishID),
				attribute.String(attrKeyEvent, eventName),
				attribute.String(attrKeyMode, mode.String()),
				attribute.Int("event.count", len(atomics)),
				attribute.Int("handler.count", len(handlers))),
			trace.WithSpanKind(trace.SpanKindProducer))
		defer span.End()
	}

	d := &dispatcher{
		store:    p.store,
		handlers: handlers,
		mode:     mode,
		logger:   logger,
		recovery: p.recoveryEnabled,
	}
	policy := combinePolicies(atomics)

	if err := p.dispatchWithRetry(ctx, policy, d, logger, eventName); err != nil {
		logger.Error("dispatch failed, rolling back", "error", err)
		if p.metricsEnabled {
			meter := otel.Meter(otelScope)
			failures, _ := meter.Int64Counter("docevent.failures",
				metric.WithDescription("Total number of terminally failed publish calls"))
			failures.Add(ctx, 1, metric.WithAttributes(
				attribute.String(attrKeyEvent, eventName),
				attribute.String(attrKeyMode, mode.String()),
				attribute.Bool("retry.exhausted", IsRetryExhausted(err))))
		}
		for _, h := range handlers {
			if rbErr := h.Rollback(ctx); rbErr != nil {
				// Hook errors are the caller's responsibility; this
				// masks the dispatch error.
				return rbErr
			}
		}
		return err
	}

	for _, h := range handlers {
		if err := h.OnSuccess(ctx); err != nil {
			return err
		}
	}
	logger.Debug("dispatch complete", "handlers", len(handlers))
	return nil
}

// collectHandlers asks every subscriber for a handler per atomic event,
// discarding declines. Order is subscriber-then-event: all handlers of the
// first subscriber (events in publish order), then the next subscriber's.
// Handler creation happens once, before the retry loop begins.
func (p *Publisher) collectHandlers(atomics []*AtomicEvent) []Handler {
	p.mu.RLock()
	subscribers := make([]Subscriber, len(p.subscribers))
	copy(subscribers, p.subscribers)
	p.mu.RUnlock()

	var handlers []Handler
	for _, sub := range subscribers {
		for _, ev := range atomics {
			if h := sub.HandlerFor(ev); h != nil {
				handlers = append(handlers, h)
			}
		}
	}
	return handlers
}

// dispatchWithRetry runs attempts under the combined policy: a retryable
// failure schedules the next attempt after a linearly growing, capped
// backoff; a retry chain that eventually succeeds makes the whole dispatch
// succeed. On give-up the terminal error is returned, wrapped in
// RetryExhaustedError when the attempt bound was spent on retryable errors.
func (p *Publisher) dispatchWithRetry(ctx context.Context, policy RetryPolicy, d *dispatcher, logger *slog.Logger, eventName string) error {
	for attempt := 0; ; attempt++ {
		err := d.run(ctx)
		if err == nil {
			return nil
		}

		if giveUp(policy, err, attempt) {
			if policy.IsRetryableError(err) {
				return &RetryExhaustedError{Attempts: attempt + 1, LastErr: err}
			}
			return err
		}

		delay := jittered(backoffDelay(policy, attempt), p.retryJitter)
		logger.Warn("attempt failed, retrying",
			"attempt", attempt+1,
			"max", policy.RetryMax(),
			"delay", delay,
			"error", err)

		if p.metricsEnabled {
			meter := otel.Meter(otelScope)
			retries, _ := meter.Int64Counter("docevent.retries",
				metric.WithDescription("Total number of dispatch retries"))
			retries.Add(ctx, 1, metric.WithAttributes(attribute.String(attrKeyEvent, eventName)))
		}

		if sleepErr := p.sleep(ctx, delay); sleepErr != nil {
			// Cancelled during backoff: surface the attempt's error,
			// the caller asked for the dispatch outcome.
			return err
		}
	}
}

// dispatchName derives the name used in logs and traces for a publish
// call: the single event's name, or a comma-joined list for several.
func dispatchName(events []Event) string {
	name := ""
	for _, ev := range events {
		if ev == nil {
			continue
		}
		if name != "" {
			name += ","
		}
		name += ev.Name()
	}
	return name
}
