package matches

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cketlive/scoring/internal/match"
	"github.com/cketlive/scoring/internal/platform/docstore"
)

// CollectionName is the document collection holding match states.
const CollectionName = "matches"

// Store is the typed accessor for the matches collection.
type Store struct {
	docs docstore.Collection
}

func NewStore(store docstore.Store) *Store {
	return &Store{docs: docstore.NewCollection(store, CollectionName)}
}

func (s *Store) Find(ctx context.Context, id string) (*match.State, error) {
	var state match.State
	if err := s.docs.FindInto(ctx, id, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *Store) Insert(ctx context.Context, id string, state *match.State) error {
	doc, err := encode(id, state)
	if err != nil {
		return err
	}
	return s.docs.Insert(ctx, id, doc)
}

func (s *Store) Replace(ctx context.Context, id string, state *match.State) error {
	doc, err := encode(id, state)
	if err != nil {
		return err
	}
	return s.docs.Replace(ctx, id, doc)
}

func (s *Store) UpsertFields(ctx context.Context, id string, fields docstore.Fields) error {
	return s.docs.UpsertFields(ctx, id, fields)
}

func encode(id string, state *match.State) (json.RawMessage, error) {
	if state == nil {
		return nil, fmt.Errorf("match %s: nil state", id)
	}
	return json.Marshal(state)
}
