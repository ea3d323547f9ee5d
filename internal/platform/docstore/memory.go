package docstore

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
)

type memoryKey struct {
	collection string
	id         string
}

// Memory keeps documents in process memory. Used by tests and local runs.
type Memory struct {
	mu   sync.RWMutex
	docs map[memoryKey]json.RawMessage
}

func NewMemory() *Memory {
	return &Memory{docs: make(map[memoryKey]json.RawMessage)}
}

func (m *Memory) Find(ctx context.Context, collection, id string) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeErr("find", collection, id, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[memoryKey{collection, id}]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(doc), nil
}

func (m *Memory) UpsertFields(ctx context.Context, collection, id string, fields Fields) error {
	if err := ctx.Err(); err != nil {
		return storeErr("upsert", collection, id, err)
	}
	if err := checkFields(fields); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memoryKey{collection, id}
	merged, err := MergeFields(m.docs[key], fields)
	if err != nil {
		return err
	}
	m.docs[key] = merged
	return nil
}

func (m *Memory) Replace(ctx context.Context, collection, id string, doc json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return storeErr("replace", collection, id, err)
	}
	if err := checkObject(doc); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memoryKey{collection, id}
	if _, ok := m.docs[key]; !ok {
		return ErrNotFound
	}
	m.docs[key] = slices.Clone(doc)
	return nil
}

func (m *Memory) Insert(ctx context.Context, collection, id string, doc json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return storeErr("insert", collection, id, err)
	}
	if err := checkObject(doc); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memoryKey{collection, id}
	if _, ok := m.docs[key]; ok {
		return ErrAlreadyExists
	}
	m.docs[key] = slices.Clone(doc)
	return nil
}

func (m *Memory) Ping(ctx context.Context) error {
	return ctx.Err()
}
