package docevent

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rbaliyan/docevent/store"
)

// callLog records handler invocations in order across a dispatch.
type callLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *callLog) add(entry string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
}

func (l *callLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *callLog) count(entry string) int {
	n := 0
	for _, e := range l.all() {
		if e == entry {
			n++
		}
	}
	return n
}

// fakeSimple is a recording no-capability handler.
type fakeSimple struct {
	SimpleHooks
	name       string
	log        *callLog
	handle     func(ctx context.Context) error
	successErr error
	rollbackEr error
}

func (h *fakeSimple) HandleEvent(ctx context.Context) error {
	h.log.add(h.name + ".handle")
	if h.handle != nil {
		return h.handle(ctx)
	}
	return nil
}

func (h *fakeSimple) OnSuccess(ctx context.Context) error {
	h.log.add(h.name + ".success")
	return h.successErr
}

func (h *fakeSimple) Rollback(ctx context.Context) error {
	h.log.add(h.name + ".rollback")
	return h.rollbackEr
}

// fakeRead is a recording read-only handler.
type fakeRead struct {
	ReadHooks
	name    string
	log     *callLog
	prepare func(ctx context.Context, r store.Reader) error
}

func (h *fakeRead) PrepareHandleEvent(ctx context.Context, r store.Reader) error {
	h.log.add(h.name + ".prepare")
	if h.prepare != nil {
		return h.prepare(ctx, r)
	}
	return nil
}

func (h *fakeRead) HandleEvent(ctx context.Context) error {
	h.log.add(h.name + ".handle")
	return nil
}

func (h *fakeRead) Rollback(ctx context.Context) error {
	h.log.add(h.name + ".rollback")
	return nil
}

// fakeWrite is a recording write-batch handler.
type fakeWrite struct {
	WriteHooks
	name   string
	log    *callLog
	handle func(ctx context.Context, w store.Writer) error
}

func (h *fakeWrite) HandleEvent(ctx context.Context, w store.Writer) error {
	h.log.add(h.name + ".handle")
	if h.handle != nil {
		return h.handle(ctx, w)
	}
	return nil
}

func (h *fakeWrite) Rollback(ctx context.Context) error {
	h.log.add(h.name + ".rollback")
	return nil
}

// fakeReadWrite is a recording transactional handler.
type fakeReadWrite struct {
	ReadWriteHooks
	name    string
	log     *callLog
	prepare func(ctx context.Context, r store.Reader) error
	handle  func(ctx context.Context, w store.Writer) error
}

func (h *fakeReadWrite) PrepareHandleEvent(ctx context.Context, r store.Reader) error {
	h.log.add(h.name + ".prepare")
	if h.prepare != nil {
		return h.prepare(ctx, r)
	}
	return nil
}

func (h *fakeReadWrite) HandleEvent(ctx context.Context, w store.Writer) error {
	h.log.add(h.name + ".handle")
	if h.handle != nil {
		return h.handle(ctx, w)
	}
	return nil
}

func (h *fakeReadWrite) Rollback(ctx context.Context) error {
	h.log.add(h.name + ".rollback")
	return nil
}

func TestSelectMode(t *testing.T) {
	log := &callLog{}
	simple := &fakeSimple{name: "s", log: log}
	read := &fakeRead{name: "r", log: log}
	write := &fakeWrite{name: "w", log: log}
	rw := &fakeReadWrite{name: "rw", log: log}

	tests := []struct {
		name     string
		handlers []Handler
		want     Mode
	}{
		{"empty", nil, ModeSimple},
		{"simple only", []Handler{simple}, ModeSimple},
		{"read only", []Handler{simple, read}, ModeReadOnly},
		{"write wins over read", []Handler{read, write, simple}, ModeBatched},
		{"transactional wins over all", []Handler{simple, read, write, rw}, ModeTransactional},
		{"single transactional upgrades", []Handler{rw}, ModeTransactional},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := selectMode(tt.handlers); got != tt.want {
				t.Errorf("selectMode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestModeString(t *testing.T) {
	modes := map[Mode]string{
		ModeSimple:        "simple",
		ModeReadOnly:      "readonly",
		ModeBatched:       "batched",
		ModeTransactional: "transactional",
	}
	for mode, want := range modes {
		if got := mode.String(); got != want {
			t.Errorf("Mode(%d).String() = %q, want %q", int(mode), got, want)
		}
	}
}

func TestKindString(t *testing.T) {
	kinds := map[Kind]string{
		KindSimple:    "simple",
		KindRead:      "read",
		KindWrite:     "write",
		KindReadWrite: "readwrite",
	}
	for kind, want := range kinds {
		if got := kind.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", int(kind), got, want)
		}
	}
}

// badWrite claims write capability via its hooks but implements no
// HandleEvent, so validation must reject it.
type badWrite struct {
	WriteHooks
}

func TestValidateHandlers(t *testing.T) {
	log := &callLog{}

	t.Run("valid set passes", func(t *testing.T) {
		handlers := []Handler{
			&fakeSimple{name: "s", log: log},
			&fakeRead{name: "r", log: log},
			&fakeWrite{name: "w", log: log},
			&fakeReadWrite{name: "rw", log: log},
		}
		if err := validateHandlers(handlers); err != nil {
			t.Fatalf("validateHandlers() = %v, want nil", err)
		}
	})

	t.Run("kind without capability methods fails", func(t *testing.T) {
		err := validateHandlers([]Handler{&badWrite{}})
		if !errors.Is(err, ErrInvalidHandler) {
			t.Fatalf("validateHandlers() = %v, want ErrInvalidHandler", err)
		}
	})
}
