package pipeline

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/cketlive/scoring/internal/match"
	"github.com/cketlive/scoring/internal/platform/docstore"
)

var ErrTeamsRequired = errors.New("battingTeamID and bowlingTeamID must name two different teams of the match")

// ReadMatch returns the current state without touching the queues.
func (p *Pipeline) ReadMatch(ctx context.Context, matchID string) (*match.State, error) {
	if matchID == "" {
		return nil, ErrMatchIDRequired
	}
	return p.Repo.Read(ctx, matchID)
}

// CreateMatch builds the initial state through the reducer and inserts it.
// Nothing is published.
func (p *Pipeline) CreateMatch(ctx context.Context, initial *match.State) (*match.State, error) {
	if initial == nil || initial.MatchID == "" {
		return nil, ErrMatchIDRequired
	}
	ctx, span := p.tracer().Start(ctx, "pipeline.create_match")
	defer span.End()

	state, err := p.Reduce(nil, match.CreateMatch{Match: initial})
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrReducerRejection, err)
		runsTotal.WithLabelValues("create_match", outcomeOf(err)).Inc()
		return nil, err
	}
	err = p.Repo.Create(ctx, state.MatchID, state)
	runsTotal.WithLabelValues("create_match", outcomeOf(err)).Inc()
	if err != nil {
		return nil, err
	}
	p.logger().InfoContext(ctx, "match created", "match_id", state.MatchID)
	return state, nil
}

// StartMatchRequest is the administrative field-set that moves a match
// to LIVE.
type StartMatchRequest struct {
	BattingTeamID string                 `json:"battingTeamID"`
	BowlingTeamID string                 `json:"bowlingTeamID"`
	Teams         map[string]*match.Team `json:"teams,omitempty"`
}

// StartMatch writes the LIVE state and team designations directly as a
// partial update. It bypasses the reducer and publishes nothing.
func (p *Pipeline) StartMatch(ctx context.Context, matchID string, req StartMatchRequest) error {
	if matchID == "" {
		return ErrMatchIDRequired
	}
	if req.BattingTeamID == "" || req.BowlingTeamID == "" || req.BattingTeamID == req.BowlingTeamID {
		return ErrTeamsRequired
	}
	current, err := p.Repo.Read(ctx, matchID)
	if err != nil {
		return err
	}
	teams := current.Teams
	if req.Teams != nil {
		if !sameRosters(current.Teams, req.Teams) {
			return ErrTeamsRequired
		}
		teams = maps.Clone(req.Teams)
	}
	if teams[req.BattingTeamID] == nil || teams[req.BowlingTeamID] == nil {
		return ErrTeamsRequired
	}

	update := &match.State{
		Lifecycle:     match.StateLive,
		BattingTeamID: req.BattingTeamID,
		BowlingTeamID: req.BowlingTeamID,
		Teams:         teams,
	}
	names := []string{"state", "battingTeamID", "bowlingTeamID"}
	if req.Teams != nil {
		names = append(names, "teams")
	}
	fields, err := docstore.FieldsOf(update, names...)
	if err != nil {
		return err
	}
	err = p.Repo.Update(ctx, matchID, fields)
	runsTotal.WithLabelValues("start_match", outcomeOf(err)).Inc()
	return err
}

// sameRosters reports whether next keeps exactly the teams fixed at creation.
func sameRosters(current, next map[string]*match.Team) bool {
	if len(current) != len(next) {
		return false
	}
	for id, t := range next {
		if t == nil || current[id] == nil {
			return false
		}
	}
	return true
}
