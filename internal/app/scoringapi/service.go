// Package scoringapi exposes the scoring pipeline and the roster records
// over HTTP.
package scoringapi

import (
	"context"
	"fmt"
	"io"

	"github.com/cketlive/scoring/internal/app/pipeline"
	"github.com/cketlive/scoring/internal/app/roster"
	"github.com/cketlive/scoring/internal/match"
)

// Service joins the operations that touch both the match pipeline and the
// roster records.
type Service struct {
	Pipeline *pipeline.Pipeline
	Roster   *roster.Service
}

func NewService(p *pipeline.Pipeline, r *roster.Service) *Service {
	return &Service{Pipeline: p, Roster: r}
}

// CreateMatch builds a match from two saved teams, stores it and lists it
// on the user's dashboard.
func (s *Service) CreateMatch(ctx context.Context, userID string, req roster.CreateMatchRequest) (roster.MatchSummary, error) {
	initial, err := s.Roster.BuildMatch(ctx, req)
	if err != nil {
		return roster.MatchSummary{}, err
	}
	state, err := s.Pipeline.CreateMatch(ctx, initial)
	if err != nil {
		return roster.MatchSummary{}, err
	}
	summary := roster.Summary(state, []string{req.Teams[0].TeamID, req.Teams[1].TeamID})
	if err := s.Roster.AddMatch(ctx, userID, summary); err != nil {
		return roster.MatchSummary{}, fmt.Errorf("list match %s for %s: %w", state.MatchID, userID, err)
	}
	return summary, nil
}

// SelectPlayers loads the picked players and applies SELECT_PLAYERS to the
// match.
func (s *Service) SelectPlayers(ctx context.Context, matchID string, picks map[string][]string) (*match.State, error) {
	sel, err := s.Roster.Selection(ctx, picks)
	if err != nil {
		return nil, err
	}
	return s.Pipeline.SelectPlayers(ctx, matchID, sel)
}

func (s *Service) BulkImport(ctx context.Context, userID string, r io.Reader) (int, error) {
	return s.Roster.BulkImport(ctx, userID, r)
}
