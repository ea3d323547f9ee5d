package roster

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/cketlive/scoring/internal/match"
)

var ErrInvalidCSV = errors.New("invalid players csv")

var requiredColumns = []string{"first_name", "last_name", "role", "team_name"}

// BulkImport reads players from CSV with a header row naming at least
// first_name, last_name, role and team_name, and creates one team per
// distinct team name. Any parse error fails the whole import before
// anything is stored. It returns the number of teams created.
func (s *Service) BulkImport(ctx context.Context, userID string, r io.Reader) (int, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, ErrUserRequired
	}
	teams, err := parsePlayersCSV(r)
	if err != nil {
		return 0, err
	}

	refs := make([]TeamRef, len(teams))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(lookupConcurrency)
	for i, req := range teams {
		g.Go(func() error {
			ref, err := s.createTeamRecords(gctx, req)
			refs[i] = ref
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	user, err := s.Repo.EnsureUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	user.Teams = append(user.Teams, refs...)
	if err := s.Repo.SaveUser(ctx, user); err != nil {
		return 0, err
	}
	return len(teams), nil
}

// createTeamRecords stores a team and its players without touching the
// user document.
func (s *Service) createTeamRecords(ctx context.Context, req CreateTeamRequest) (TeamRef, error) {
	players := s.withFreshIDs(req.Players)
	if err := s.Repo.InsertPlayers(ctx, players); err != nil {
		return TeamRef{}, err
	}
	team := Team{TeamID: s.NewID(), TeamName: req.TeamName, PlayerIDs: playerIDs(players)}
	if err := s.Repo.InsertTeam(ctx, team); err != nil {
		return TeamRef{}, err
	}
	return TeamRef{TeamID: team.TeamID, TeamName: team.TeamName, NoOfPlayers: len(team.PlayerIDs)}, nil
}

// parsePlayersCSV groups rows by capitalised team name, in order of first
// appearance.
func parsePlayersCSV(r io.Reader) ([]CreateTeamRequest, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = 0

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: file is empty", ErrInvalidCSV)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCSV, err)
	}
	columns := map[string]int{}
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := columns[name]; !ok {
			return nil, fmt.Errorf("%w: missing column %q", ErrInvalidCSV, name)
		}
	}

	var teams []CreateTeamRequest
	index := map[string]int{}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCSV, err)
		}
		if blank(record) {
			continue
		}
		field := func(name string) string { return strings.TrimSpace(record[columns[name]]) }

		teamName := capitalise(field("team_name"))
		if teamName == "" {
			line, _ := reader.FieldPos(0)
			return nil, fmt.Errorf("%w: line %d has no team_name", ErrInvalidCSV, line)
		}
		i, ok := index[teamName]
		if !ok {
			i = len(teams)
			index[teamName] = i
			teams = append(teams, CreateTeamRequest{TeamName: teamName})
		}
		teams[i].Players = append(teams[i].Players, match.Player{
			FirstName: field("first_name"),
			LastName:  field("last_name"),
			Role:      field("role"),
		})
	}
	if len(teams) == 0 {
		return nil, fmt.Errorf("%w: no players", ErrInvalidCSV)
	}
	return teams, nil
}

func blank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// capitalise upper-cases the first letter and lower-cases the rest.
func capitalise(s string) string {
	if s == "" {
		return s
	}
	first, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(first)) + strings.ToLower(s[size:])
}
