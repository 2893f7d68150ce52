package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryStore keeps collections in process memory. It is the default backend
// and the store used by the engine tests.
type MemoryStore struct {
	mu    sync.Mutex
	colls map[string][]Document
	ids   func(prefix string) string
}

var (
	_ Store       = (*MemoryStore)(nil)
	_ BatchSetter = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{colls: make(map[string][]Document), ids: NewID}
}

func (s *MemoryStore) GetAll(_ context.Context, collection string) ([]Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := s.colls[collection]
	out := make([]Document, len(docs))
	for i, d := range docs {
		out[i] = cloneDoc(d)
	}
	return out, nil
}

func (s *MemoryStore) Add(_ context.Context, collection string, doc Document) error {
	if doc.ID == "" {
		return fmt.Errorf("add to %s: empty id", collection)
	}
	if !json.Valid(doc.Body) {
		return fmt.Errorf("add to %s: invalid json body", collection)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.colls[collection] {
		if d.ID == doc.ID {
			return fmt.Errorf("add to %s: duplicate id %s", collection, doc.ID)
		}
	}
	s.colls[collection] = append(s.colls[collection], cloneDoc(doc))
	return nil
}

func (s *MemoryStore) Update(_ context.Context, collection, id string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := s.colls[collection]
	for i, d := range docs {
		if d.ID != id {
			continue
		}
		merged, err := mergeFields(d.Body, fields)
		if err != nil {
			return err
		}
		docs[i] = Document{ID: id, Body: merged}
		return nil
	}
	return notFound(collection, id)
}

func (s *MemoryStore) Set(_ context.Context, collection string, docs []Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setLocked(collection, docs)
}

// SetBatch replaces every named collection under one lock.
func (s *MemoryStore) SetBatch(_ context.Context, batch map[string][]Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for coll, docs := range batch {
		if err := validateDocs(coll, docs); err != nil {
			return err
		}
	}
	for coll, docs := range batch {
		if err := s.setLocked(coll, docs); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) GenerateID(prefix string) string {
	return s.ids(prefix)
}

func (s *MemoryStore) setLocked(collection string, docs []Document) error {
	if err := validateDocs(collection, docs); err != nil {
		return err
	}
	out := make([]Document, len(docs))
	for i, d := range docs {
		out[i] = cloneDoc(d)
	}
	s.colls[collection] = out
	return nil
}

func validateDocs(collection string, docs []Document) error {
	seen := make(map[string]struct{}, len(docs))
	for _, d := range docs {
		if d.ID == "" {
			return fmt.Errorf("set %s: empty id", collection)
		}
		if _, dup := seen[d.ID]; dup {
			return fmt.Errorf("set %s: duplicate id %s", collection, d.ID)
		}
		seen[d.ID] = struct{}{}
	}
	return nil
}

func cloneDoc(d Document) Document {
	return Document{ID: d.ID, Body: append(json.RawMessage(nil), d.Body...)}
}
