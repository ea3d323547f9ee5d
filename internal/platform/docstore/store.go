// Package docstore is a small JSON document store keyed by (collection, id).
// Every operation touches a single document and is durable before it
// returns. Backends: Postgres JSONB, Redis, SQLite and process memory.
package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("document not found")
	ErrAlreadyExists = errors.New("document already exists")
	// ErrStoreFailure wraps any backend error that is not one of the above.
	ErrStoreFailure = errors.New("document store failure")
	ErrNotObject    = errors.New("document must be a JSON object")
)

// Fields is a set of top-level document fields, each already JSON encoded.
type Fields map[string]json.RawMessage

type Store interface {
	Find(ctx context.Context, collection, id string) (json.RawMessage, error)
	// UpsertFields merges fields into the top level of the document and
	// creates it when absent. Fields not named keep their stored value.
	UpsertFields(ctx context.Context, collection, id string, fields Fields) error
	// Replace overwrites the whole document. It fails with ErrNotFound when
	// the document does not exist.
	Replace(ctx context.Context, collection, id string, doc json.RawMessage) error
	Insert(ctx context.Context, collection, id string, doc json.RawMessage) error
}

// Pinger is implemented by backends that can report readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Collection binds a Store to one collection name.
type Collection struct {
	Store Store
	Name  string
}

func NewCollection(store Store, name string) Collection {
	return Collection{Store: store, Name: name}
}

func (c Collection) Find(ctx context.Context, id string) (json.RawMessage, error) {
	return c.Store.Find(ctx, c.Name, id)
}

func (c Collection) UpsertFields(ctx context.Context, id string, fields Fields) error {
	return c.Store.UpsertFields(ctx, c.Name, id, fields)
}

func (c Collection) Replace(ctx context.Context, id string, doc json.RawMessage) error {
	return c.Store.Replace(ctx, c.Name, id, doc)
}

func (c Collection) Insert(ctx context.Context, id string, doc json.RawMessage) error {
	return c.Store.Insert(ctx, c.Name, id, doc)
}

// FindInto loads a document and decodes it into v.
func (c Collection) FindInto(ctx context.Context, id string, v any) error {
	doc, err := c.Find(ctx, id)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(doc, v); err != nil {
		return fmt.Errorf("decode %s/%s: %w", c.Name, id, err)
	}
	return nil
}

// FieldsOf encodes v and splits the resulting JSON object into its
// top-level fields. When names are given only those fields are kept.
func FieldsOf(v any, names ...string) (Fields, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var all Fields
	if err := json.Unmarshal(raw, &all); err != nil || all == nil {
		return nil, ErrNotObject
	}
	if len(names) == 0 {
		return all, nil
	}
	picked := make(Fields, len(names))
	for _, name := range names {
		if value, ok := all[name]; ok {
			picked[name] = value
		}
	}
	return picked, nil
}

// MergeFields applies fields on top of doc. An empty doc is treated as {}.
func MergeFields(doc json.RawMessage, fields Fields) (json.RawMessage, error) {
	current := Fields{}
	if len(bytes.TrimSpace(doc)) > 0 {
		if err := json.Unmarshal(doc, &current); err != nil || current == nil {
			return nil, ErrNotObject
		}
	}
	for name, value := range fields {
		current[name] = value
	}
	return json.Marshal(current)
}

func checkObject(doc json.RawMessage) error {
	trimmed := bytes.TrimSpace(doc)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return ErrNotObject
	}
	return nil
}

func checkFields(fields Fields) error {
	for name, value := range fields {
		if !json.Valid(value) {
			return fmt.Errorf("%w: field %q is not valid JSON", ErrNotObject, name)
		}
	}
	return nil
}

func storeErr(op, collection, id string, err error) error {
	return fmt.Errorf("docstore: %s %s/%s: %w: %w", op, collection, id, ErrStoreFailure, err)
}
