package roster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/cketlive/scoring/internal/match"
	"github.com/cketlive/scoring/internal/platform/docstore"
)

const (
	TeamsCollection   = "teams"
	PlayersCollection = "players"
	UsersCollection   = "users"
)

// lookupConcurrency bounds the parallel document reads of one request.
const lookupConcurrency = 8

var (
	ErrTeamNotFound = errors.New("team not found")
	ErrTeamExists   = errors.New("team already exists")
)

// Team is a saved squad. PlayerIDs point into the players collection.
type Team struct {
	TeamID    string   `json:"teamID"`
	TeamName  string   `json:"teamName"`
	PlayerIDs []string `json:"playerIDs"`
}

// TeamRef is a team as listed on a user's dashboard.
type TeamRef struct {
	TeamID      string `json:"teamID"`
	TeamName    string `json:"teamName"`
	NoOfPlayers int    `json:"noOfPlayers"`
}

type TeamScore struct {
	TeamShortName string      `json:"teamShortName"`
	Score         match.Score `json:"score"`
}

// MatchSummary is a match as listed on a user's dashboard.
type MatchSummary struct {
	ID               string      `json:"id"`
	MatchID          string      `json:"matchID"`
	Name             string      `json:"name"`
	Description      string      `json:"description"`
	State            string      `json:"state"`
	StateDescription string      `json:"stateDescription"`
	Teams            []TeamScore `json:"teams"`
}

type User struct {
	ID          string                  `json:"id"`
	Teams       []TeamRef               `json:"teams"`
	Matches     map[string]MatchSummary `json:"matches"`
	Tournaments []string                `json:"tournaments"`
}

// Repository stores teams, players and users as documents.
type Repository struct {
	teams   docstore.Collection
	players docstore.Collection
	users   docstore.Collection
}

func NewRepository(store docstore.Store) *Repository {
	return &Repository{
		teams:   docstore.NewCollection(store, TeamsCollection),
		players: docstore.NewCollection(store, PlayersCollection),
		users:   docstore.NewCollection(store, UsersCollection),
	}
}

func (r *Repository) InsertTeam(ctx context.Context, team Team) error {
	doc, err := encodeDoc(team)
	if err != nil {
		return err
	}
	if err := r.teams.Insert(ctx, team.TeamID, doc); err != nil {
		if errors.Is(err, docstore.ErrAlreadyExists) {
			return fmt.Errorf("%w: %s", ErrTeamExists, team.TeamID)
		}
		return err
	}
	return nil
}

func (r *Repository) FindTeam(ctx context.Context, teamID string) (Team, error) {
	var team Team
	if err := r.teams.FindInto(ctx, teamID, &team); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return Team{}, fmt.Errorf("%w: %s", ErrTeamNotFound, teamID)
		}
		return Team{}, err
	}
	return team, nil
}

func (r *Repository) ReplaceTeam(ctx context.Context, team Team) error {
	doc, err := encodeDoc(team)
	if err != nil {
		return err
	}
	if err := r.teams.Replace(ctx, team.TeamID, doc); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrTeamNotFound, team.TeamID)
		}
		return err
	}
	return nil
}

// InsertPlayers stores each player under its ID.
func (r *Repository) InsertPlayers(ctx context.Context, players []match.Player) error {
	for _, p := range players {
		doc, err := encodeDoc(p)
		if err != nil {
			return err
		}
		if err := r.players.Insert(ctx, p.ID, doc); err != nil {
			return err
		}
	}
	return nil
}

// FindPlayers loads the given players in parallel. Missing ids are
// skipped and the found players keep the order of ids.
func (r *Repository) FindPlayers(ctx context.Context, ids []string) ([]match.Player, error) {
	found := make([]*match.Player, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(lookupConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			var p match.Player
			err := r.players.FindInto(gctx, id, &p)
			if errors.Is(err, docstore.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			p.ID = id
			found[i] = &p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	players := make([]match.Player, 0, len(ids))
	for _, p := range found {
		if p != nil {
			players = append(players, *p)
		}
	}
	return players, nil
}

// EnsureUser returns the user document, creating an empty one on first
// use.
func (r *Repository) EnsureUser(ctx context.Context, userID string) (User, error) {
	var user User
	err := r.users.FindInto(ctx, userID, &user)
	if err == nil {
		return normalizeUser(user, userID), nil
	}
	if !errors.Is(err, docstore.ErrNotFound) {
		return User{}, err
	}

	user = normalizeUser(User{}, userID)
	doc, err := encodeDoc(user)
	if err != nil {
		return User{}, err
	}
	err = r.users.Insert(ctx, userID, doc)
	if errors.Is(err, docstore.ErrAlreadyExists) {
		// Created by a concurrent request.
		return r.EnsureUser(ctx, userID)
	}
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (r *Repository) SaveUser(ctx context.Context, user User) error {
	doc, err := encodeDoc(normalizeUser(user, user.ID))
	if err != nil {
		return err
	}
	return r.users.Replace(ctx, user.ID, doc)
}

func normalizeUser(u User, id string) User {
	u.ID = id
	if u.Teams == nil {
		u.Teams = []TeamRef{}
	}
	if u.Matches == nil {
		u.Matches = map[string]MatchSummary{}
	}
	if u.Tournaments == nil {
		u.Tournaments = []string{}
	}
	return u
}

func encodeDoc(v any) (json.RawMessage, error) {
	return json.Marshal(v)
}
