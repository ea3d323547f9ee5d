package matches

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cketlive/scoring/internal/match"
	"github.com/cketlive/scoring/internal/platform/docstore"
)

// countingStore records how often Find reaches the backend and can hold a
// Find until released.
type countingStore struct {
	docstore.Store
	finds atomic.Int32

	gate    atomic.Bool
	started chan struct{}
	release chan struct{}
}

func newCountingStore() *countingStore {
	return &countingStore{
		Store:   docstore.NewMemory(),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (s *countingStore) Find(ctx context.Context, collection, id string) (json.RawMessage, error) {
	s.finds.Add(1)
	doc, err := s.Store.Find(ctx, collection, id)
	if s.gate.CompareAndSwap(true, false) {
		s.started <- struct{}{}
		<-s.release
	}
	return doc, err
}

type failingStore struct {
	docstore.Store
}

func (failingStore) Replace(context.Context, string, string, json.RawMessage) error {
	return errors.New("connection reset")
}

func sampleMatch(id string) *match.State {
	return &match.State{
		MatchID:          id,
		Lifecycle:        match.StateCreated,
		ScoreStreamState: match.StreamNotStreaming,
		Innings:          1,
		Teams: map[string]*match.Team{
			"a": {TeamID: "a", TeamName: "Alpha", BatLineup: []string{"a1", "a2"}},
			"b": {TeamID: "b", TeamName: "Bravo", BatLineup: []string{"b1", "b2"}},
		},
		Updates: []match.UpdateSummary{},
	}
}

func TestRepository_CreateThenRead(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(docstore.NewMemory(), NewCache(4), nil)

	created := sampleMatch("m1")
	require.NoError(t, repo.Create(ctx, "m1", created))

	got, err := repo.Read(ctx, "m1")
	require.NoError(t, err)
	if diff := cmp.Diff(created, got); diff != "" {
		t.Fatalf("read after create (-want +got):\n%s", diff)
	}

	err = repo.Create(ctx, "m1", created)
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestRepository_ReadMissing(t *testing.T) {
	repo := NewRepository(docstore.NewMemory(), nil, nil)
	_, err := repo.Read(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrMatchNotFound)
}

func TestRepository_ReadHitSkipsStore(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore()
	repo := NewRepository(store, NewCache(4), nil)
	require.NoError(t, repo.Create(ctx, "m1", sampleMatch("m1")))

	for i := 0; i < 3; i++ {
		_, err := repo.Read(ctx, "m1")
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, store.finds.Load())
}

func TestRepository_UpdateMerges(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(docstore.NewMemory(), NewCache(4), nil)
	require.NoError(t, repo.Create(ctx, "m1", sampleMatch("m1")))
	_, err := repo.Read(ctx, "m1")
	require.NoError(t, err)

	fields, err := docstore.FieldsOf(&match.State{Lifecycle: match.StateLive, BattingTeamID: "a"}, "state", "battingTeamID")
	require.NoError(t, err)
	require.NoError(t, repo.Update(ctx, "m1", fields))

	got, err := repo.Read(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, match.StateLive, got.Lifecycle)
	assert.Equal(t, "a", got.BattingTeamID)
	assert.Equal(t, "Alpha", got.Teams["a"].TeamName, "untouched fields survive")
}

func TestRepository_ReplaceVisibleToNextRead(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(docstore.NewMemory(), NewCache(4), nil)
	require.NoError(t, repo.Create(ctx, "m1", sampleMatch("m1")))
	_, err := repo.Read(ctx, "m1")
	require.NoError(t, err)

	next := sampleMatch("m1")
	next.Description = "replaced"
	require.NoError(t, repo.Replace(ctx, "m1", next))

	got, err := repo.Read(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "replaced", got.Description)

	err = repo.Replace(ctx, "missing", next)
	assert.ErrorIs(t, err, ErrMatchNotFound)
}

func TestRepository_RacingReadDoesNotCacheOverwrittenState(t *testing.T) {
	ctx := context.Background()
	store := newCountingStore()
	repo := NewRepository(store, NewCache(4), nil)
	require.NoError(t, repo.Create(ctx, "m1", sampleMatch("m1")))

	store.gate.Store(true)
	done := make(chan *match.State)
	go func() {
		state, err := repo.Read(ctx, "m1")
		assert.NoError(t, err)
		done <- state
	}()

	<-store.started // the reader holds the old document
	next := sampleMatch("m1")
	next.Description = "after write"
	require.NoError(t, repo.Replace(ctx, "m1", next))
	close(store.release)

	raced := <-done
	assert.Empty(t, raced.Description, "the racing read saw the document it loaded")

	got, err := repo.Read(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "after write", got.Description)
	assert.EqualValues(t, 2, store.finds.Load())
}

func TestRepository_ConcurrentUpdatesLastWriterWins(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(docstore.NewMemory(), NewCache(4), nil)
	require.NoError(t, repo.Create(ctx, "m1", sampleMatch("m1")))

	descriptions := []string{"first", "second"}
	var wg sync.WaitGroup
	for _, d := range descriptions {
		wg.Add(1)
		go func(d string) {
			defer wg.Done()
			fields, err := docstore.FieldsOf(&match.State{Description: d}, "description")
			assert.NoError(t, err)
			assert.NoError(t, repo.Update(ctx, "m1", fields))
		}(d)
	}
	wg.Wait()

	got, err := repo.Read(ctx, "m1")
	require.NoError(t, err)
	assert.Contains(t, descriptions, got.Description)
}

func TestRepository_StoreFailure(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(failingStore{Store: docstore.NewMemory()}, NewCache(4), nil)
	require.NoError(t, repo.Create(ctx, "m1", sampleMatch("m1")))
	_, err := repo.Read(ctx, "m1")
	require.NoError(t, err)

	err = repo.Replace(ctx, "m1", sampleMatch("m1"))
	assert.ErrorIs(t, err, docstore.ErrStoreFailure)

	_, ok := repo.cache.Get("m1")
	assert.False(t, ok, "a failed write still drops the cached entry")
}
