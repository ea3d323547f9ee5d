// Package roster keeps the records around matches: saved teams, their
// players and each user's dashboard of teams and matches.
package roster

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/nats-io/nuid"
	"golang.org/x/sync/errgroup"

	"github.com/cketlive/scoring/internal/match"
)

var (
	ErrUserRequired     = errors.New("user is required")
	ErrTeamNameRequired = errors.New("teamName is required")
	ErrTeamIDRequired   = errors.New("team id is required")
	ErrTwoTeamsRequired = errors.New("a match needs two different saved teams")
)

// LineupSize is how many saved players make up a playing side.
const LineupSize = 11

// MatchReader is used to refresh dashboard scores from live matches.
type MatchReader interface {
	Read(ctx context.Context, id string) (*match.State, error)
}

type Service struct {
	Repo    *Repository
	Matches MatchReader
	NewID   func() string
}

func NewService(repo *Repository, matches MatchReader) *Service {
	return &Service{
		Repo:    repo,
		Matches: matches,
		NewID:   nuid.Next,
	}
}

type CreateTeamRequest struct {
	TeamID   string         `json:"teamID"`
	TeamName string         `json:"teamName"`
	Players  []match.Player `json:"players"`
}

// CreateTeam stores the players under fresh ids, saves the team and lists
// it on the user's dashboard.
func (s *Service) CreateTeam(ctx context.Context, userID string, req CreateTeamRequest) (TeamRef, error) {
	if strings.TrimSpace(userID) == "" {
		return TeamRef{}, ErrUserRequired
	}
	name := strings.TrimSpace(req.TeamName)
	if name == "" {
		return TeamRef{}, ErrTeamNameRequired
	}
	teamID := strings.TrimSpace(req.TeamID)
	if teamID == "" {
		teamID = s.NewID()
	}

	players := s.withFreshIDs(req.Players)
	if err := s.Repo.InsertPlayers(ctx, players); err != nil {
		return TeamRef{}, err
	}
	team := Team{TeamID: teamID, TeamName: name, PlayerIDs: playerIDs(players)}
	if err := s.Repo.InsertTeam(ctx, team); err != nil {
		return TeamRef{}, err
	}

	ref := TeamRef{TeamID: teamID, TeamName: name, NoOfPlayers: len(team.PlayerIDs)}
	user, err := s.Repo.EnsureUser(ctx, userID)
	if err != nil {
		return TeamRef{}, err
	}
	user.Teams = append(user.Teams, ref)
	if err := s.Repo.SaveUser(ctx, user); err != nil {
		return TeamRef{}, err
	}
	return ref, nil
}

// TeamWithPlayers is a saved team with its player records keyed by id.
type TeamWithPlayers struct {
	Team
	Players map[string]match.Player `json:"players"`
}

func (s *Service) GetTeam(ctx context.Context, teamID string) (TeamWithPlayers, error) {
	if strings.TrimSpace(teamID) == "" {
		return TeamWithPlayers{}, ErrTeamIDRequired
	}
	team, err := s.Repo.FindTeam(ctx, teamID)
	if err != nil {
		return TeamWithPlayers{}, err
	}
	players, err := s.Repo.FindPlayers(ctx, team.PlayerIDs)
	if err != nil {
		return TeamWithPlayers{}, err
	}
	out := TeamWithPlayers{Team: team, Players: make(map[string]match.Player, len(players))}
	for _, p := range players {
		out.Players[p.ID] = p
	}
	return out, nil
}

// EditTeam appends new players to a saved team and returns their ids.
// Concurrent edits of one team are read-modify-write and may lose an
// append.
func (s *Service) EditTeam(ctx context.Context, teamID string, newPlayers []match.Player) ([]string, error) {
	if strings.TrimSpace(teamID) == "" {
		return nil, ErrTeamIDRequired
	}
	team, err := s.Repo.FindTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	players := s.withFreshIDs(newPlayers)
	if err := s.Repo.InsertPlayers(ctx, players); err != nil {
		return nil, err
	}
	ids := playerIDs(players)
	team.PlayerIDs = append(team.PlayerIDs, ids...)
	if err := s.Repo.ReplaceTeam(ctx, team); err != nil {
		return nil, err
	}
	return ids, nil
}

// Dashboard returns the user's document with team sizes and match scores
// refreshed. Teams or matches that no longer exist are left out or keep
// their last summary.
func (s *Service) Dashboard(ctx context.Context, userID string) (User, error) {
	if strings.TrimSpace(userID) == "" {
		return User{}, ErrUserRequired
	}
	user, err := s.Repo.EnsureUser(ctx, userID)
	if err != nil {
		return User{}, err
	}

	var mu sync.Mutex
	teams := make([]*TeamRef, len(user.Teams))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(lookupConcurrency)
	for i, ref := range user.Teams {
		g.Go(func() error {
			team, err := s.Repo.FindTeam(gctx, ref.TeamID)
			if errors.Is(err, ErrTeamNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			teams[i] = &TeamRef{TeamID: team.TeamID, TeamName: team.TeamName, NoOfPlayers: len(team.PlayerIDs)}
			return nil
		})
	}
	if s.Matches != nil {
		matchIDs := slices.Collect(maps.Keys(user.Matches))
		for _, id := range matchIDs {
			g.Go(func() error {
				state, err := s.Matches.Read(gctx, id)
				if err != nil {
					// A missing or unreadable match keeps its stored summary.
					return nil
				}
				scores := teamScores(state)
				mu.Lock()
				summary := user.Matches[id]
				summary.Teams = scores
				user.Matches[id] = summary
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return User{}, err
	}

	user.Teams = user.Teams[:0]
	for _, ref := range teams {
		if ref != nil {
			user.Teams = append(user.Teams, *ref)
		}
	}
	return user, nil
}

func (s *Service) AddMatch(ctx context.Context, userID string, summary MatchSummary) error {
	if strings.TrimSpace(userID) == "" {
		return ErrUserRequired
	}
	user, err := s.Repo.EnsureUser(ctx, userID)
	if err != nil {
		return err
	}
	user.Matches[summary.ID] = summary
	return s.Repo.SaveUser(ctx, user)
}

// RemoveMatch drops a match from the user's list. The match itself is kept.
func (s *Service) RemoveMatch(ctx context.Context, userID, matchID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrUserRequired
	}
	user, err := s.Repo.EnsureUser(ctx, userID)
	if err != nil {
		return err
	}
	delete(user.Matches, matchID)
	return s.Repo.SaveUser(ctx, user)
}

// RemoveTeam drops a team from the user's list. The team itself is kept.
func (s *Service) RemoveTeam(ctx context.Context, userID, teamID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrUserRequired
	}
	user, err := s.Repo.EnsureUser(ctx, userID)
	if err != nil {
		return err
	}
	user.Teams = slices.DeleteFunc(user.Teams, func(t TeamRef) bool { return t.TeamID == teamID })
	return s.Repo.SaveUser(ctx, user)
}

type TeamPick struct {
	TeamID string `json:"teamID"`
}

type CreateMatchRequest struct {
	MatchID     string           `json:"matchID"`
	Teams       []TeamPick       `json:"teams"`
	ShortNames  []string         `json:"shortNames"`
	Description string           `json:"description"`
	Properties  match.Properties `json:"properties"`
}

// BuildMatch assembles the initial state of a match from two saved teams.
// The first LineupSize players of each team form its lineup.
func (s *Service) BuildMatch(ctx context.Context, req CreateMatchRequest) (*match.State, error) {
	if len(req.Teams) < 2 || req.Teams[0].TeamID == "" || req.Teams[1].TeamID == "" || req.Teams[0].TeamID == req.Teams[1].TeamID {
		return nil, ErrTwoTeamsRequired
	}
	matchID := strings.TrimSpace(req.MatchID)
	if matchID == "" {
		matchID = s.NewID()
	}

	picks := req.Teams[:2]
	built := make([]*match.Team, len(picks))
	g, gctx := errgroup.WithContext(ctx)
	for i, pick := range picks {
		g.Go(func() error {
			team, err := s.Repo.FindTeam(gctx, pick.TeamID)
			if err != nil {
				return err
			}
			lineup := team.PlayerIDs[:min(LineupSize, len(team.PlayerIDs))]
			players, err := s.Repo.FindPlayers(gctx, lineup)
			if err != nil {
				return err
			}
			shortName := ""
			if i < len(req.ShortNames) {
				shortName = req.ShortNames[i]
			}
			built[i] = playingTeam(team, shortName, players)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	state := &match.State{
		MatchID:     matchID,
		Description: req.Description,
		Properties:  req.Properties,
		Teams:       map[string]*match.Team{},
	}
	for _, t := range built {
		state.Teams[t.TeamID] = t
	}
	return state, nil
}

// Summary is the dashboard entry of a freshly created match.
func Summary(state *match.State, order []string) MatchSummary {
	names := make([]string, 0, len(order))
	scores := make([]TeamScore, 0, len(order))
	for _, id := range order {
		if t := state.Teams[id]; t != nil {
			names = append(names, t.TeamName)
			scores = append(scores, TeamScore{TeamShortName: t.TeamShortName, Score: t.Score})
		}
	}
	return MatchSummary{
		ID:               state.MatchID,
		MatchID:          state.MatchID,
		Name:             strings.Join(names, " vs "),
		Description:      state.Description,
		State:            "NOT_STARTED",
		StateDescription: "Match is not started",
		Teams:            scores,
	}
}

// Selection builds a SELECT_PLAYERS action from saved player ids per team.
// Only the first LineupSize ids of each team are used.
func (s *Service) Selection(ctx context.Context, picks map[string][]string) (match.SelectPlayers, error) {
	sel := match.SelectPlayers{PlayerInfo: map[string]match.TeamSelection{}}
	if len(picks) == 0 {
		return sel, ErrTwoTeamsRequired
	}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for teamID, ids := range picks {
		g.Go(func() error {
			lineup := ids[:min(LineupSize, len(ids))]
			players, err := s.Repo.FindPlayers(gctx, lineup)
			if err != nil {
				return err
			}
			entry := match.TeamSelection{BatLineup: playerIDs(players), Players: map[string]match.Player{}}
			for _, p := range players {
				entry.Players[p.ID] = p
			}
			mu.Lock()
			sel.PlayerInfo[teamID] = entry
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return match.SelectPlayers{}, err
	}
	return sel, nil
}

func playingTeam(team Team, shortName string, players []match.Player) *match.Team {
	t := &match.Team{
		TeamID:        team.TeamID,
		TeamName:      team.TeamName,
		TeamShortName: shortName,
		PlayerIDs:     playerIDs(players),
		Players:       make(map[string]*match.PlayingPlayer, len(players)),
	}
	t.BatLineup = slices.Clone(t.PlayerIDs)
	for _, p := range players {
		t.Players[p.ID] = &match.PlayingPlayer{Player: p}
	}
	return t
}

func teamScores(state *match.State) []TeamScore {
	ids := make([]string, 0, len(state.Teams))
	for id := range state.Teams {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	scores := make([]TeamScore, 0, len(ids))
	for _, id := range ids {
		t := state.Teams[id]
		if t == nil {
			continue
		}
		scores = append(scores, TeamScore{TeamShortName: t.TeamShortName, Score: t.Score})
	}
	return scores
}

func (s *Service) withFreshIDs(players []match.Player) []match.Player {
	out := make([]match.Player, 0, len(players))
	for _, p := range players {
		out = append(out, match.Player{
			ID:        s.NewID(),
			FirstName: strings.TrimSpace(p.FirstName),
			LastName:  strings.TrimSpace(p.LastName),
			Role:      strings.TrimSpace(p.Role),
		})
	}
	return out
}

func playerIDs(players []match.Player) []string {
	ids := make([]string, 0, len(players))
	for _, p := range players {
		ids = append(ids, p.ID)
	}
	return ids
}
