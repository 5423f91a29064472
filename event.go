package docevent

import (
	"time"
)

// Retry defaults applied by NewEvent when no option overrides them.
var (
	// DefaultRetryMax is the default total attempt bound (1 = no retries).
	DefaultRetryMax = 1

	// DefaultRetryIntervalExtendFactor is the default backoff growth step.
	DefaultRetryIntervalExtendFactor = 100 * time.Millisecond

	// DefaultRetryIntervalMax is the default backoff ceiling.
	DefaultRetryIntervalMax = 5 * time.Second
)

// RetryPolicy describes how failed dispatch attempts are retried. Every
// atomic event carries one, and a group of events published together is
// governed by their combined policy (see combinePolicies).
type RetryPolicy interface {
	// RetryMax bounds total attempts, including the first. Always >= 1.
	RetryMax() int

	// RetryIntervalExtendFactor is the step the backoff delay grows by
	// per attempt: the Nth retry waits N times this value, capped.
	RetryIntervalExtendFactor() time.Duration

	// RetryIntervalMax caps the backoff delay.
	RetryIntervalMax() time.Duration

	// IsRetryableError reports whether a failed attempt with this error
	// may be retried.
	IsRetryableError(err error) bool
}

// Event is something that can be published: either a single AtomicEvent or
// a CombinedEvent bundling several. The set is closed; combined events are
// expanded before dispatch and never reach a handler.
type Event interface {
	// Name identifies the event for subscribers, logs and traces.
	Name() string

	expand(dst []*AtomicEvent) []*AtomicEvent
}

// AtomicEvent is a single named occurrence carrying its own retry policy.
type AtomicEvent struct {
	name        string
	retryMax    int
	retryExtend time.Duration
	retryCap    time.Duration
	retryable   func(error) bool
}

// EventOption configures an AtomicEvent.
type EventOption func(*AtomicEvent)

// WithRetryMax sets the total attempt bound, including the first attempt.
// Values below 1 are clamped to 1 (never retry).
func WithRetryMax(n int) EventOption {
	return func(e *AtomicEvent) {
		if n < 1 {
			n = 1
		}
		e.retryMax = n
	}
}

// WithRetryIntervalExtendFactor sets the backoff growth step.
func WithRetryIntervalExtendFactor(d time.Duration) EventOption {
	return func(e *AtomicEvent) {
		if d > 0 {
			e.retryExtend = d
		}
	}
}

// WithRetryIntervalMax sets the backoff ceiling.
func WithRetryIntervalMax(d time.Duration) EventOption {
	return func(e *AtomicEvent) {
		if d > 0 {
			e.retryCap = d
		}
	}
}

// WithRetryableError sets the event's retryable-error predicate, replacing
// the default classification (see IsRetryable).
func WithRetryableError(fn func(error) bool) EventOption {
	return func(e *AtomicEvent) {
		if fn != nil {
			e.retryable = fn
		}
	}
}

// NewEvent creates an atomic event.
//
// Example:
//
//	orderPlaced := docevent.NewEvent("order.placed",
//	    docevent.WithRetryMax(5),
//	    docevent.WithRetryIntervalExtendFactor(200*time.Millisecond),
//	    docevent.WithRetryIntervalMax(2*time.Second))
func NewEvent(name string, opts ...EventOption) *AtomicEvent {
	e := &AtomicEvent{
		name:        name,
		retryMax:    DefaultRetryMax,
		retryExtend: DefaultRetryIntervalExtendFactor,
		retryCap:    DefaultRetryIntervalMax,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name returns the event name.
func (e *AtomicEvent) Name() string { return e.name }

func (e *AtomicEvent) String() string { return e.name }

// RetryMax returns the total attempt bound.
func (e *AtomicEvent) RetryMax() int { return e.retryMax }

// RetryIntervalExtendFactor returns the backoff growth step.
func (e *AtomicEvent) RetryIntervalExtendFactor() time.Duration { return e.retryExtend }

// RetryIntervalMax returns the backoff ceiling.
func (e *AtomicEvent) RetryIntervalMax() time.Duration { return e.retryCap }

// IsRetryableError reports whether err may be retried for this event.
// Without a custom predicate this is IsRetryable.
func (e *AtomicEvent) IsRetryableError(err error) bool {
	if e.retryable != nil {
		return e.retryable(err)
	}
	return IsRetryable(err)
}

func (e *AtomicEvent) expand(dst []*AtomicEvent) []*AtomicEvent {
	return append(dst, e)
}

// CombinedEvent is a named bundle of atomic events published as one logical
// unit: one dispatch, one shared retry and rollback lifecycle.
type CombinedEvent struct {
	name   string
	events []*AtomicEvent
}

// Combine bundles atomic events under one name. Expansion is a single
// level: the members are dispatched in the given order.
func Combine(name string, events ...*AtomicEvent) *CombinedEvent {
	return &CombinedEvent{name: name, events: events}
}

// Name returns the bundle name.
func (e *CombinedEvent) Name() string { return e.name }

func (e *CombinedEvent) String() string { return e.name }

// Events returns the bundled atomic events in dispatch order.
func (e *CombinedEvent) Events() []*AtomicEvent {
	out := make([]*AtomicEvent, len(e.events))
	copy(out, e.events)
	return out
}

func (e *CombinedEvent) expand(dst []*AtomicEvent) []*AtomicEvent {
	return append(dst, e.events...)
}

// expandEvents flattens published events into their atomic members.
func expandEvents(events []Event) []*AtomicEvent {
	var atomics []*AtomicEvent
	for _, ev := range events {
		if ev == nil {
			continue
		}
		atomics = ev.expand(atomics)
	}
	return atomics
}

// combinedPolicy is the aggregate retry view over the atomic events of one
// publish call: the tightest attempt bound, the slowest backoff curve, and
// retryability only when every member agrees. It lives for one dispatch.
type combinedPolicy struct {
	events []*AtomicEvent
}

// combinePolicies derives the single retry policy governing a publish call.
func combinePolicies(events []*AtomicEvent) RetryPolicy {
	return &combinedPolicy{events: events}
}

func (p *combinedPolicy) RetryMax() int {
	bound := 1
	for i, e := range p.events {
		if i == 0 || e.RetryMax() < bound {
			bound = e.RetryMax()
		}
	}
	return bound
}

func (p *combinedPolicy) RetryIntervalExtendFactor() time.Duration {
	var factor time.Duration
	for _, e := range p.events {
		if e.RetryIntervalExtendFactor() > factor {
			factor = e.RetryIntervalExtendFactor()
		}
	}
	return factor
}

func (p *combinedPolicy) RetryIntervalMax() time.Duration {
	var ceiling time.Duration
	for _, e := range p.events {
		if e.RetryIntervalMax() > ceiling {
			ceiling = e.RetryIntervalMax()
		}
	}
	return ceiling
}

func (p *combinedPolicy) IsRetryableError(err error) bool {
	for _, e := range p.events {
		if !e.IsRetryableError(err) {
			return false
		}
	}
	return len(p.events) > 0
}

// Compile-time checks
var _ Event = (*AtomicEvent)(nil)
var _ Event = (*CombinedEvent)(nil)
var _ RetryPolicy = (*AtomicEvent)(nil)
var _ RetryPolicy = (*combinedPolicy)(nil)
