package storage

import (
	"context"
	"encoding/json"
	"fmt"
)

// All decodes every document of a collection into T.
func All[T any](ctx context.Context, s Store, collection string) ([]T, error) {
	docs, err := s.GetAll(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", collection, err)
	}
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		var v T
		if err := json.Unmarshal(d.Body, &v); err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", collection, d.ID, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Insert encodes v and appends it to the collection.
func Insert[T any](ctx context.Context, s Store, collection string, v T) error {
	doc, err := Encode(v)
	if err != nil {
		return err
	}
	if err := s.Add(ctx, collection, doc); err != nil {
		return fmt.Errorf("add %s %s: %w", collection, doc.ID, err)
	}
	return nil
}

// EncodeAll encodes a slice of records, preserving order.
func EncodeAll[T any](items []T) ([]Document, error) {
	docs := make([]Document, 0, len(items))
	for _, it := range items {
		doc, err := Encode(it)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Replace overwrites the whole collection with items.
func Replace[T any](ctx context.Context, s Store, collection string, items []T) error {
	docs, err := EncodeAll(items)
	if err != nil {
		return err
	}
	if err := s.Set(ctx, collection, docs); err != nil {
		return fmt.Errorf("set %s: %w", collection, err)
	}
	return nil
}
