package storage

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"aidledger/internal/core"
)

type widget struct {
	ID    string     `json:"id"`
	Name  string     `json:"name"`
	Price core.Money `json:"price"`
	Flag  bool       `json:"flag"`
}

func newSQLite(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "data", "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": newSQLite(t),
	}
}

func TestStoreContract(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			for _, w := range []widget{
				{ID: "w-2", Name: "second", Price: core.Cents(200)},
				{ID: "w-1", Name: "first", Price: core.Cents(100)},
			} {
				if err := Insert(ctx, s, "widgets", w); err != nil {
					t.Fatalf("Insert: %v", err)
				}
			}

			got, err := All[widget](ctx, s, "widgets")
			if err != nil {
				t.Fatalf("All: %v", err)
			}
			if len(got) != 2 || got[0].ID != "w-2" || got[1].ID != "w-1" {
				t.Fatalf("expected insertion order, got %+v", got)
			}

			// Update merges onto the stored record.
			if err := s.Update(ctx, "widgets", "w-1", map[string]any{
				"flag":  true,
				"price": core.Cents(150),
			}); err != nil {
				t.Fatalf("Update: %v", err)
			}
			got, _ = All[widget](ctx, s, "widgets")
			if got[1].Name != "first" || !got[1].Flag || got[1].Price.Cents != 150 {
				t.Fatalf("update did not merge: %+v", got[1])
			}

			err = s.Update(ctx, "widgets", "missing", map[string]any{"flag": true})
			if !errors.Is(err, core.ErrRecordNotFound) {
				t.Fatalf("expected ErrRecordNotFound, got %v", err)
			}

			if err := s.Update(ctx, "widgets", "w-1", map[string]any{"id": "other"}); err == nil {
				t.Fatal("expected id to be immutable")
			}

			if err := Replace(ctx, s, "widgets", []widget{{ID: "w-3", Name: "third"}}); err != nil {
				t.Fatalf("Replace: %v", err)
			}
			got, _ = All[widget](ctx, s, "widgets")
			if len(got) != 1 || got[0].ID != "w-3" {
				t.Fatalf("expected replaced collection, got %+v", got)
			}

			if err := s.Add(ctx, "widgets", Document{ID: "w-3", Body: json.RawMessage(`{"id":"w-3"}`)}); err == nil {
				t.Fatal("expected duplicate id to be rejected")
			}

			empty, err := All[widget](ctx, s, "nothing")
			if err != nil || len(empty) != 0 {
				t.Fatalf("expected empty collection, got %v, %v", empty, err)
			}
		})
	}
}

func TestSetBatch(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			bs, ok := s.(BatchSetter)
			if !ok {
				t.Fatal("store should support batch writes")
			}

			a, _ := EncodeAll([]widget{{ID: "a-1"}, {ID: "a-2"}})
			b, _ := EncodeAll([]widget{{ID: "b-1"}})
			if err := bs.SetBatch(ctx, map[string][]Document{"a": a, "b": b}); err != nil {
				t.Fatalf("SetBatch: %v", err)
			}

			gotA, _ := All[widget](ctx, s, "a")
			gotB, _ := All[widget](ctx, s, "b")
			if len(gotA) != 2 || len(gotB) != 1 {
				t.Fatalf("unexpected sizes a=%d b=%d", len(gotA), len(gotB))
			}

			// A batch with an invalid collection must not apply any part.
			dup := []Document{{ID: "x", Body: json.RawMessage(`{"id":"x"}`)}, {ID: "x", Body: json.RawMessage(`{"id":"x"}`)}}
			if err := bs.SetBatch(ctx, map[string][]Document{"a": nil, "b": dup}); err == nil {
				t.Fatal("expected duplicate ids to fail the batch")
			}
			gotA, _ = All[widget](ctx, s, "a")
			if len(gotA) != 2 {
				t.Fatalf("failed batch modified collection a: %+v", gotA)
			}
		})
	}
}

func TestEncodeRequiresID(t *testing.T) {
	if _, err := Encode(widget{Name: "anon"}); err == nil {
		t.Fatal("expected error for record without id")
	}
}

func TestGenerateIDIsPrefixedAndUnique(t *testing.T) {
	s := NewMemoryStore()
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := s.GenerateID("grant")
		if len(id) <= len("grant-") || id[:6] != "grant-" {
			t.Fatalf("unexpected id %q", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestSQLiteCount(t *testing.T) {
	ctx := context.Background()
	repo := newSQLite(t)
	if err := Insert(ctx, repo, "widgets", widget{ID: "w-1"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	n, err := repo.Count(ctx, "widgets")
	if err != nil || n != 1 {
		t.Fatalf("Count = %d, %v", n, err)
	}
}
