package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	coll := NewCollection(store, fmt.Sprintf("test_%s", t.Name()))

	t.Run("find missing", func(t *testing.T) {
		_, err := coll.Find(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("insert then find", func(t *testing.T) {
		require.NoError(t, coll.Insert(ctx, "a", json.RawMessage(`{"name":"alpha","n":1}`)))
		doc, err := coll.Find(ctx, "a")
		require.NoError(t, err)
		assert.JSONEq(t, `{"name":"alpha","n":1}`, string(doc))

		err = coll.Insert(ctx, "a", json.RawMessage(`{"name":"again"}`))
		assert.ErrorIs(t, err, ErrAlreadyExists)
	})

	t.Run("upsert merges top level", func(t *testing.T) {
		require.NoError(t, coll.UpsertFields(ctx, "a", Fields{
			"n":     json.RawMessage(`2`),
			"extra": json.RawMessage(`{"nested":true}`),
		}))
		doc, err := coll.Find(ctx, "a")
		require.NoError(t, err)
		assert.JSONEq(t, `{"name":"alpha","n":2,"extra":{"nested":true}}`, string(doc))
	})

	t.Run("upsert creates", func(t *testing.T) {
		require.NoError(t, coll.UpsertFields(ctx, "b", Fields{"state": json.RawMessage(`"LIVE"`)}))
		doc, err := coll.Find(ctx, "b")
		require.NoError(t, err)
		assert.JSONEq(t, `{"state":"LIVE"}`, string(doc))
	})

	t.Run("replace overwrites", func(t *testing.T) {
		require.NoError(t, coll.Replace(ctx, "a", json.RawMessage(`{"name":"beta"}`)))
		doc, err := coll.Find(ctx, "a")
		require.NoError(t, err)
		assert.JSONEq(t, `{"name":"beta"}`, string(doc))

		err = coll.Replace(ctx, "nope", json.RawMessage(`{}`))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("rejects non objects", func(t *testing.T) {
		assert.ErrorIs(t, coll.Insert(ctx, "c", json.RawMessage(`[1,2]`)), ErrNotObject)
		assert.ErrorIs(t, coll.Replace(ctx, "a", json.RawMessage(`"x"`)), ErrNotObject)
		assert.ErrorIs(t, coll.UpsertFields(ctx, "a", Fields{"bad": json.RawMessage(`{`)}), ErrNotObject)
	})

	t.Run("collections are disjoint", func(t *testing.T) {
		other := NewCollection(store, coll.Name+"_other")
		_, err := other.Find(ctx, "a")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("concurrent upserts keep every field", func(t *testing.T) {
		const writers = 8
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				assert.NoError(t, coll.UpsertFields(ctx, "shared", Fields{
					fmt.Sprintf("f%d", i): json.RawMessage(`true`),
				}))
			}(i)
		}
		wg.Wait()

		var doc map[string]bool
		require.NoError(t, coll.FindInto(ctx, "shared", &doc))
		assert.Len(t, doc, writers)
	})
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestSQLiteStore(t *testing.T) {
	store, err := OpenSQLite(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	exerciseStore(t, store)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	doc := json.RawMessage(`{"a":1}`)
	require.NoError(t, store.Insert(ctx, "c", "1", doc))
	doc[5] = '9'

	got, err := store.Find(ctx, "c", "1")
	require.NoError(t, err)
	got[5] = '7'

	again, err := store.Find(ctx, "c", "1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(again))
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMemory().Find(ctx, "c", "1")
	assert.ErrorIs(t, err, ErrStoreFailure)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMergeFields(t *testing.T) {
	merged, err := MergeFields(json.RawMessage(`{"a":1,"b":{"c":2}}`), Fields{"b": json.RawMessage(`{"d":3}`)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1,"b":{"d":3}}`, string(merged), "merge is top level only")

	merged, err = MergeFields(nil, Fields{"a": json.RawMessage(`1`)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(merged))

	_, err = MergeFields(json.RawMessage(`[]`), Fields{})
	assert.ErrorIs(t, err, ErrNotObject)
}

func TestFieldsOf(t *testing.T) {
	type doc struct {
		State string `json:"state"`
		Count int    `json:"count"`
		Skip  string `json:"skip"`
	}
	fields, err := FieldsOf(doc{State: "LIVE", Count: 3, Skip: "x"}, "state", "count", "absent")
	require.NoError(t, err)
	assert.Equal(t, Fields{"state": json.RawMessage(`"LIVE"`), "count": json.RawMessage(`3`)}, fields)

	_, err = FieldsOf([]int{1})
	assert.ErrorIs(t, err, ErrNotObject)
}
