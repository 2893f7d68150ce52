// Package storage implements the collection store the allocation engines
// persist through: whole-collection reads, appends, partial-field updates and
// bulk replacement of a collection.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"aidledger/internal/core"
)

// Collection names.
const (
	Sponsors     = "sponsors"
	Periods      = "budget_periods"
	PoolEntries  = "pool_entries"
	GatedGrants  = "gated_grants"
	PooledGrants = "pooled_grants"
	Recipients   = "recipients"
	Frequency    = "frequency_counters"
)

// Document is one stored record. Body is the JSON encoding of the record and
// must carry the same id under the "id" key.
type Document struct {
	ID   string
	Body json.RawMessage
}

// Store is the persistence contract. Implementations keep insertion order for
// GetAll and merge Update fields onto the stored record.
type Store interface {
	GetAll(ctx context.Context, collection string) ([]Document, error)
	Add(ctx context.Context, collection string, doc Document) error
	Update(ctx context.Context, collection, id string, fields map[string]any) error
	Set(ctx context.Context, collection string, docs []Document) error
	GenerateID(prefix string) string
}

// BatchSetter is implemented by stores that can replace several collections
// in one write.
type BatchSetter interface {
	SetBatch(ctx context.Context, batch map[string][]Document) error
}

// NewID returns prefix-<uuid>.
func NewID(prefix string) string {
	if prefix == "" {
		return uuid.NewString()
	}
	return prefix + "-" + uuid.NewString()
}

// Encode marshals v into a Document, taking the id from its "id" field.
func Encode(v any) (Document, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return Document{}, fmt.Errorf("encode record: %w", err)
	}
	id := gjson.GetBytes(body, "id").String()
	if id == "" {
		return Document{}, fmt.Errorf("encode record: missing id")
	}
	return Document{ID: id, Body: body}, nil
}

// mergeFields applies fields onto a stored JSON body. Keys are applied in
// sorted order so the result is deterministic.
func mergeFields(body []byte, fields map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == "id" {
			return nil, fmt.Errorf("merge fields: id is immutable")
		}
		if strings.ContainsAny(k, ".*?|#@") {
			return nil, fmt.Errorf("merge fields: invalid field name %q", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := append([]byte(nil), body...)
	for _, k := range keys {
		var err error
		out, err = sjson.SetBytes(out, k, fields[k])
		if err != nil {
			return nil, fmt.Errorf("merge field %s: %w", k, err)
		}
	}
	return out, nil
}

func notFound(collection, id string) error {
	return &core.NotFoundError{Collection: collection, ID: id}
}
