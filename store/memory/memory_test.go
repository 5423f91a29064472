package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/rbaliyan/docevent/store"
)

func commit(t *testing.T, b store.Batch) {
	t.Helper()
	if err := b.Commit(context.Background()); err != nil {
		t.Fatalf("Commit() = %v", err)
	}
}

func TestGetNotFound(t *testing.T) {
	s := New()
	_, err := s.Get(context.Background(), "orders", "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get() = %v, want ErrNotFound", err)
	}
}

func TestBatchSetAndGet(t *testing.T) {
	s := New()
	ctx := context.Background()

	b := s.Batch()
	if err := b.Set(ctx, "orders", "o1", map[string]any{"status": "placed", "qty": 2}, false); err != nil {
		t.Fatalf("Set() = %v", err)
	}
	commit(t, b)

	doc, err := s.Get(ctx, "orders", "o1")
	if err != nil {
		t.Fatalf("Get() = %v", err)
	}
	want := map[string]any{"status": "placed", "qty": 2}
	if diff := cmp.Diff(want, doc.Data); diff != "" {
		t.Errorf("document data mismatch (-want +got):\n%s", diff)
	}
}

func TestSetMerge(t *testing.T) {
	s := New()
	ctx := context.Background()

	b := s.Batch()
	b.Set(ctx, "orders", "o1", map[string]any{"status": "placed", "qty": 2}, false)
	commit(t, b)

	t.Run("merge preserves other fields", func(t *testing.T) {
		b := s.Batch()
		b.Set(ctx, "orders", "o1", map[string]any{"status": "shipped"}, true)
		commit(t, b)

		got := s.Dump("orders")["o1"]
		want := map[string]any{"status": "shipped", "qty": 2}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("merged document mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("replace drops other fields", func(t *testing.T) {
		b := s.Batch()
		b.Set(ctx, "orders", "o1", map[string]any{"status": "cancelled"}, false)
		commit(t, b)

		got := s.Dump("orders")["o1"]
		want := map[string]any{"status": "cancelled"}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("replaced document mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestCreate(t *testing.T) {
	s := New()
	ctx := context.Background()

	t.Run("generates id when empty", func(t *testing.T) {
		b := s.Batch()
		id, err := b.Create(ctx, "orders", "", map[string]any{"status": "placed"})
		if err != nil {
			t.Fatalf("Create() = %v", err)
		}
		if id == "" {
			t.Fatal("Create() returned empty id")
		}
		commit(t, b)
		if _, err := s.Get(ctx, "orders", id); err != nil {
			t.Errorf("Get(generated id) = %v", err)
		}
	})

	t.Run("existing id fails", func(t *testing.T) {
		b := s.Batch()
		b.Create(ctx, "orders", "dup", map[string]any{})
		commit(t, b)

		b = s.Batch()
		b.Create(ctx, "orders", "dup", map[string]any{})
		if err := b.Commit(ctx); !errors.Is(err, store.ErrExists) {
			t.Errorf("Commit() = %v, want ErrExists", err)
		}
	})
}

func TestUpdatePreconditions(t *testing.T) {
	s := New()
	ctx := context.Background()
	b := s.Batch()
	b.Set(ctx, "orders", "o1", map[string]any{"status": "placed"}, false)
	commit(t, b)

	t.Run("update missing fails", func(t *testing.T) {
		b := s.Batch()
		b.Update(ctx, "orders", "missing", map[string]any{"status": "x"}, nil)
		if err := b.Commit(ctx); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("Commit() = %v, want ErrNotFound", err)
		}
	})

	t.Run("must exist on missing fails precondition", func(t *testing.T) {
		b := s.Batch()
		b.Update(ctx, "orders", "missing", map[string]any{"status": "x"}, store.MustExist())
		if err := b.Commit(ctx); !errors.Is(err, store.ErrPreconditionFailed) {
			t.Errorf("Commit() = %v, want ErrPreconditionFailed", err)
		}
	})

	t.Run("update merges fields", func(t *testing.T) {
		b := s.Batch()
		b.Update(ctx, "orders", "o1", map[string]any{"qty": 3}, store.MustExist())
		commit(t, b)
		got := s.Dump("orders")["o1"]
		want := map[string]any{"status": "placed", "qty": 3}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("updated document mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestDelete(t *testing.T) {
	s := New()
	ctx := context.Background()
	b := s.Batch()
	b.Set(ctx, "orders", "o1", map[string]any{}, false)
	commit(t, b)

	t.Run("deletes existing", func(t *testing.T) {
		b := s.Batch()
		b.Delete(ctx, "orders", "o1", nil)
		commit(t, b)
		if _, err := s.Get(ctx, "orders", "o1"); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("Get() after delete = %v, want ErrNotFound", err)
		}
	})

	t.Run("missing without precondition is a no-op", func(t *testing.T) {
		b := s.Batch()
		b.Delete(ctx, "orders", "missing", nil)
		commit(t, b)
	})

	t.Run("must exist on missing fails", func(t *testing.T) {
		b := s.Batch()
		b.Delete(ctx, "orders", "missing", store.MustExist())
		if err := b.Commit(ctx); !errors.Is(err, store.ErrPreconditionFailed) {
			t.Errorf("Commit() = %v, want ErrPreconditionFailed", err)
		}
	})
}

func TestGetAll(t *testing.T) {
	s := New()
	ctx := context.Background()
	b := s.Batch()
	b.Set(ctx, "orders", "a", map[string]any{"n": 1}, false)
	b.Set(ctx, "orders", "b", map[string]any{"n": 2}, false)
	commit(t, b)

	docs, err := s.GetAll(ctx, "orders", []string{"a", "missing", "b"})
	if err != nil {
		t.Fatalf("GetAll() = %v", err)
	}
	var ids []string
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	if diff := cmp.Diff([]string{"a", "b"}, ids); diff != "" {
		t.Errorf("GetAll order mismatch (-want +got):\n%s", diff)
	}
}

func TestFind(t *testing.T) {
	s := New()
	ctx := context.Background()
	b := s.Batch()
	b.Set(ctx, "orders", "a", map[string]any{"status": "placed", "tags": []any{"rush"}}, false)
	b.Set(ctx, "orders", "b", map[string]any{"status": "shipped"}, false)
	b.Set(ctx, "orders", "c", map[string]any{"status": "placed"}, false)
	commit(t, b)

	t.Run("filter matches", func(t *testing.T) {
		docs, err := s.Find(ctx, "orders", store.Query{Filters: map[string]any{"status": "placed"}})
		if err != nil {
			t.Fatalf("Find() = %v", err)
		}
		if len(docs) != 2 {
			t.Errorf("Find() returned %d documents, want 2", len(docs))
		}
	})

	t.Run("limit bounds results", func(t *testing.T) {
		docs, err := s.Find(ctx, "orders", store.Query{Limit: 1})
		if err != nil {
			t.Fatalf("Find() = %v", err)
		}
		if len(docs) != 1 {
			t.Errorf("Find() returned %d documents, want 1", len(docs))
		}
	})

	t.Run("slice-valued filter", func(t *testing.T) {
		docs, err := s.Find(ctx, "orders", store.Query{Filters: map[string]any{"tags": []any{"rush"}}})
		if err != nil {
			t.Fatalf("Find() = %v", err)
		}
		if len(docs) != 1 || docs[0].ID != "a" {
			t.Errorf("Find() = %v, want the one tagged document", docs)
		}
	})

	t.Run("empty query matches all", func(t *testing.T) {
		docs, err := s.Find(ctx, "orders", store.Query{})
		if err != nil {
			t.Fatalf("Find() = %v", err)
		}
		if len(docs) != 3 {
			t.Errorf("Find() returned %d documents, want 3", len(docs))
		}
	})
}

func TestBatchAtomicity(t *testing.T) {
	s := New()
	ctx := context.Background()

	t.Run("uncommitted batch applies nothing", func(t *testing.T) {
		b := s.Batch()
		b.Set(ctx, "orders", "o1", map[string]any{}, false)
		if docs := s.Dump("orders"); len(docs) != 0 {
			t.Errorf("staged write visible before commit: %v", docs)
		}
	})

	t.Run("failing op rolls back the whole batch", func(t *testing.T) {
		b := s.Batch()
		b.Set(ctx, "orders", "o1", map[string]any{}, false)
		b.Update(ctx, "orders", "missing", map[string]any{}, store.MustExist())
		if err := b.Commit(ctx); err == nil {
			t.Fatal("Commit() = nil, want error")
		}
		if docs := s.Dump("orders"); len(docs) != 0 {
			t.Errorf("partial batch applied: %v", docs)
		}
	})

	t.Run("double commit fails", func(t *testing.T) {
		b := s.Batch()
		commit(t, b)
		if err := b.Commit(ctx); err == nil {
			t.Error("second Commit() = nil, want error")
		}
	})
}

func TestRunTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("commits on nil", func(t *testing.T) {
		s := New()
		err := s.RunTransaction(ctx, func(tx store.Tx) error {
			_, err := tx.Create(ctx, "accounts", "alice", map[string]any{"balance": 100})
			return err
		})
		if err != nil {
			t.Fatalf("RunTransaction() = %v", err)
		}
		if got := s.Dump("accounts")["alice"]["balance"]; got != 100 {
			t.Errorf("balance = %v, want 100", got)
		}
	})

	t.Run("discards on error", func(t *testing.T) {
		s := New()
		boom := errors.New("boom")
		err := s.RunTransaction(ctx, func(tx store.Tx) error {
			if _, err := tx.Create(ctx, "accounts", "alice", map[string]any{}); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("RunTransaction() = %v, want callback error", err)
		}
		if docs := s.Dump("accounts"); len(docs) != 0 {
			t.Errorf("transaction applied writes despite failure: %v", docs)
		}
	})

	t.Run("reads observe transaction start state", func(t *testing.T) {
		s := New()
		b := s.Batch()
		b.Set(ctx, "accounts", "alice", map[string]any{"balance": 100}, false)
		commit(t, b)

		err := s.RunTransaction(ctx, func(tx store.Tx) error {
			if err := tx.Set(ctx, "accounts", "alice", map[string]any{"balance": 50}, false); err != nil {
				return err
			}
			doc, err := tx.Get(ctx, "accounts", "alice")
			if err != nil {
				return err
			}
			if got := doc.Field("balance"); got != 100 {
				t.Errorf("read inside transaction = %v, want pre-write 100", got)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("RunTransaction() = %v", err)
		}
		if got := s.Dump("accounts")["alice"]["balance"]; got != 50 {
			t.Errorf("committed balance = %v, want 50", got)
		}
	})

	t.Run("cancelled context fails fast", func(t *testing.T) {
		s := New()
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		err := s.RunTransaction(cancelled, func(tx store.Tx) error { return nil })
		if !errors.Is(err, context.Canceled) {
			t.Errorf("RunTransaction() = %v, want context.Canceled", err)
		}
	})
}

func TestDocumentIsolation(t *testing.T) {
	s := New()
	ctx := context.Background()
	b := s.Batch()
	b.Set(ctx, "orders", "o1", map[string]any{"status": "placed"}, false)
	commit(t, b)

	doc, err := s.Get(ctx, "orders", "o1")
	if err != nil {
		t.Fatalf("Get() = %v", err)
	}
	doc.Data["status"] = "mutated"

	fresh, err := s.Get(ctx, "orders", "o1")
	if err != nil {
		t.Fatalf("Get() = %v", err)
	}
	if got := fresh.Field("status"); got != "placed" {
		t.Errorf("stored data mutated through a returned document: %v", got)
	}
}
