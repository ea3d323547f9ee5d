// Package matches owns every read and write of match state: a typed store
// adapter, the process-local cache and the repository that composes them.
package matches

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cketlive/scoring/internal/match"
	"github.com/cketlive/scoring/internal/platform/docstore"
	"github.com/cketlive/scoring/internal/platform/metrics"
)

var (
	ErrMatchNotFound = errors.New("match not found")
	ErrAlreadyExists = errors.New("match already exists")
)

var cacheLookupsTotal = metrics.NewCounterVec(metrics.Opts{
	Name: "match_cache_lookups_total",
	Help: "Match repository reads by cache result.",
}, []string{"result"})

func init() {
	metrics.Default.MustRegister(cacheLookupsTotal)
}

// Repository reads through the cache and writes through to the store.
// Writes invalidate the cache entry before the store is touched and again
// once it acknowledged, so a concurrent read never re-populates the cache
// with the document that was just overwritten. Concurrent writers are not
// coordinated: the last one to reach the store wins.
type Repository struct {
	store *Store
	cache *Cache
	log   *slog.Logger
}

func NewRepository(store docstore.Store, cache *Cache, log *slog.Logger) *Repository {
	if cache == nil {
		cache = NewCache(0)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Repository{store: NewStore(store), cache: cache, log: log}
}

func (r *Repository) Read(ctx context.Context, id string) (*match.State, error) {
	state, gen, ok := r.cache.Lookup(id)
	if ok {
		cacheLookupsTotal.WithLabelValues("hit").Inc()
		return state, nil
	}
	cacheLookupsTotal.WithLabelValues("miss").Inc()

	state, err := r.store.Find(ctx, id)
	if err != nil {
		return nil, r.storeError(id, err)
	}
	if !r.cache.PutIfCurrent(id, state, gen) {
		r.log.Debug("match changed while loading, not caching", "match_id", id)
	}
	return state, nil
}

// Update merges fields into the stored match.
func (r *Repository) Update(ctx context.Context, id string, fields docstore.Fields) error {
	r.cache.Invalidate(id)
	defer r.cache.Invalidate(id)
	if err := r.store.UpsertFields(ctx, id, fields); err != nil {
		return r.storeError(id, err)
	}
	return nil
}

// Replace overwrites the stored match with state.
func (r *Repository) Replace(ctx context.Context, id string, state *match.State) error {
	r.cache.Invalidate(id)
	defer r.cache.Invalidate(id)
	if err := r.store.Replace(ctx, id, state); err != nil {
		return r.storeError(id, err)
	}
	return nil
}

// Create inserts a new match. The cache is left untouched.
func (r *Repository) Create(ctx context.Context, id string, state *match.State) error {
	if err := r.store.Insert(ctx, id, state); err != nil {
		return r.storeError(id, err)
	}
	return nil
}

func (r *Repository) storeError(id string, err error) error {
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrMatchNotFound, id)
	case errors.Is(err, docstore.ErrAlreadyExists):
		return fmt.Errorf("%w: %s", ErrAlreadyExists, id)
	case errors.Is(err, docstore.ErrStoreFailure):
		return err
	default:
		return fmt.Errorf("match %s: %w: %w", id, docstore.ErrStoreFailure, err)
	}
}
