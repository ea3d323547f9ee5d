// Package scoring is the cricket state-transition function. Reduce is pure:
// it never mutates its input and performs no I/O.
package scoring

import (
	"errors"
	"fmt"
	"slices"

	"github.com/cketlive/scoring/internal/match"
)

// ErrRejected reports an action that is not valid for the current state.
var ErrRejected = errors.New("action rejected")

const (
	ballsPerOver   = 6
	maxRunsOffBall = 7
)

func rejectf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrRejected, fmt.Sprintf(format, args...))
}

// Reduce applies a to prev and returns the next state. prev is nil exactly
// once per match, for CREATE_MATCH.
func Reduce(prev *match.State, a match.Action) (*match.State, error) {
	if a == nil {
		return nil, rejectf("nil action")
	}
	if create, ok := a.(match.CreateMatch); ok {
		return createMatch(prev, create)
	}
	if prev == nil {
		return nil, rejectf("%s requires an existing match", a.Type())
	}
	if prev.Lifecycle == match.StateCompleted {
		if _, ok := a.(match.RequestScoreStream); !ok {
			return nil, rejectf("match %s is completed", prev.MatchID)
		}
	}

	next, err := prev.Clone()
	if err != nil {
		return nil, err
	}

	switch act := a.(type) {
	case match.Ball:
		err = applyBall(next, act)
	case match.PickBatter:
		err = pickBatter(next, act)
	case match.PickBowler:
		err = pickBowler(next, act)
	case match.StartInnings:
		err = startInnings(next, act)
	case match.SelectPlayers:
		err = selectPlayers(next, act)
	case match.RequestScoreStream:
		next.ScoreStreamState = match.StreamRequested
		appendSummary(next, match.UpdateSummary{Type: act.Type()})
	case match.GenericAction:
		err = applyGeneric(next, act)
	default:
		err = rejectf("unsupported action %s", a.Type())
	}
	if err != nil {
		return nil, err
	}
	return next, nil
}

func createMatch(prev *match.State, c match.CreateMatch) (*match.State, error) {
	if prev != nil {
		return nil, rejectf("match %s already exists", prev.MatchID)
	}
	if c.Match == nil {
		return nil, rejectf("CREATE_MATCH carries no match")
	}
	if len(c.Match.Teams) != 2 {
		return nil, rejectf("a match needs exactly two teams, got %d", len(c.Match.Teams))
	}
	next, err := c.Match.Clone()
	if err != nil {
		return nil, err
	}

	next.Lifecycle = match.StateCreated
	if next.ScoreStreamState == "" {
		next.ScoreStreamState = match.StreamNotStreaming
	}
	if next.Innings == 0 {
		next.Innings = 1
	}
	next.Updates = []match.UpdateSummary{}
	for id, team := range next.Teams {
		if team == nil {
			return nil, rejectf("team %s is empty", id)
		}
		team.TeamID = id
		normalizeTeam(team)
	}
	return next, nil
}

func normalizeTeam(t *match.Team) {
	if t.PlayerIDs == nil {
		t.PlayerIDs = []string{}
	}
	if t.BatLineup == nil {
		t.BatLineup = slices.Clone(t.PlayerIDs)
	}
	if t.BatOrder == nil {
		t.BatOrder = []string{}
	}
	if t.CurrentBatterIDs == nil {
		t.CurrentBatterIDs = []string{}
	}
	if t.BowlOrder == nil {
		t.BowlOrder = []string{}
	}
	if t.OutBatters == nil {
		t.OutBatters = map[string]bool{}
	}
	if t.Wickets == nil {
		t.Wickets = []match.Wicket{}
	}
	if t.Players == nil {
		t.Players = map[string]*match.PlayingPlayer{}
	}
	if t.Manhattan == nil {
		t.Manhattan = []int{}
	}
	if t.Worm == nil {
		t.Worm = []int{}
	}
}

func selectPlayers(next *match.State, s match.SelectPlayers) error {
	if next.Lifecycle != match.StateCreated {
		return rejectf("players can only be selected before the match starts")
	}
	if len(s.PlayerInfo) == 0 {
		return rejectf("no players selected")
	}
	for teamID, sel := range s.PlayerInfo {
		team, ok := next.Teams[teamID]
		if !ok {
			return rejectf("team %s is not part of match %s", teamID, next.MatchID)
		}
		if len(sel.BatLineup) < 2 {
			return rejectf("team %s needs at least two players", teamID)
		}
		players := make(map[string]*match.PlayingPlayer, len(sel.BatLineup))
		for _, id := range sel.BatLineup {
			p, ok := sel.Players[id]
			if !ok {
				return rejectf("player %s has no roster entry", id)
			}
			p.ID = id
			players[id] = &match.PlayingPlayer{Player: p}
		}
		team.BatLineup = slices.Clone(sel.BatLineup)
		team.PlayerIDs = slices.Clone(sel.BatLineup)
		team.Players = players
	}
	appendSummary(next, match.UpdateSummary{Type: match.ActionSelectPlayers})
	return nil
}

func startInnings(next *match.State, s match.StartInnings) error {
	switch next.Lifecycle {
	case match.StateCreated, match.StateInningsBreak:
	case match.StateLive:
		if bat := next.Batting(); bat != nil && len(bat.CurrentBatterIDs) > 0 {
			return rejectf("innings %d is already in progress", next.Innings)
		}
	default:
		return rejectf("cannot start an innings while match is %s", next.Lifecycle)
	}
	if next.Innings == 0 {
		next.Innings = 1
	}

	if s.BattingTeamID != "" {
		if _, ok := next.Teams[s.BattingTeamID]; !ok {
			return rejectf("unknown batting team %s", s.BattingTeamID)
		}
		next.BattingTeamID = s.BattingTeamID
	}
	if s.BowlingTeamID != "" {
		if _, ok := next.Teams[s.BowlingTeamID]; !ok {
			return rejectf("unknown bowling team %s", s.BowlingTeamID)
		}
		next.BowlingTeamID = s.BowlingTeamID
	}
	bat, bowl := next.Batting(), next.Bowling()
	if bat == nil || bowl == nil || next.BattingTeamID == next.BowlingTeamID {
		return rejectf("a batting and a bowling team must be designated")
	}

	if len(s.CurrentBatterIDs) != 2 || s.CurrentBatterIDs[0] == s.CurrentBatterIDs[1] {
		return rejectf("two distinct opening batters are required")
	}
	for _, id := range s.CurrentBatterIDs {
		if !slices.Contains(bat.BatLineup, id) {
			return rejectf("batter %s is not in the lineup of %s", id, bat.TeamID)
		}
		if bat.OutBatters[id] {
			return rejectf("batter %s is already out", id)
		}
	}
	striker := s.CurrentStrikerID
	if striker == "" {
		striker = s.CurrentBatterIDs[0]
	}
	if !slices.Contains(s.CurrentBatterIDs, striker) {
		return rejectf("striker %s is not one of the opening batters", striker)
	}
	if _, ok := bowl.Players[s.CurrentBowlerID]; !ok {
		return rejectf("bowler %s is not in team %s", s.CurrentBowlerID, bowl.TeamID)
	}

	bat.CurrentBatterIDs = slices.Clone(s.CurrentBatterIDs)
	bat.CurrentStrikerID = striker
	for _, id := range s.CurrentBatterIDs {
		bat.BatOrder = appendUnique(bat.BatOrder, id)
	}
	bowl.CurrentBowlerID = s.CurrentBowlerID
	bowl.BowlOrder = appendUnique(bowl.BowlOrder, s.CurrentBowlerID)

	next.Lifecycle = match.StateLive
	appendSummary(next, match.UpdateSummary{Type: match.ActionStartInnings})
	return nil
}

func pickBatter(next *match.State, p match.PickBatter) error {
	bat, _, err := liveTeams(next)
	if err != nil {
		return err
	}
	if len(bat.CurrentBatterIDs) >= 2 {
		return rejectf("two batters are already at the crease")
	}
	if !slices.Contains(bat.BatLineup, p.BatterID) {
		return rejectf("batter %s is not in the lineup of %s", p.BatterID, bat.TeamID)
	}
	if bat.OutBatters[p.BatterID] {
		return rejectf("batter %s is already out", p.BatterID)
	}
	if slices.Contains(bat.CurrentBatterIDs, p.BatterID) {
		return rejectf("batter %s is already at the crease", p.BatterID)
	}

	bat.CurrentBatterIDs = append(bat.CurrentBatterIDs, p.BatterID)
	bat.BatOrder = appendUnique(bat.BatOrder, p.BatterID)
	if p.Striker || bat.CurrentStrikerID == "" {
		bat.CurrentStrikerID = p.BatterID
	}
	appendSummary(next, match.UpdateSummary{Type: match.ActionPickBatter})
	return nil
}

func pickBowler(next *match.State, p match.PickBowler) error {
	_, bowl, err := liveTeams(next)
	if err != nil {
		return err
	}
	if _, ok := bowl.Players[p.BowlerID]; !ok {
		return rejectf("bowler %s is not in team %s", p.BowlerID, bowl.TeamID)
	}
	if p.BowlerID == bowl.LastBowlerID {
		return rejectf("bowler %s cannot bowl consecutive overs", p.BowlerID)
	}

	bowl.CurrentBowlerID = p.BowlerID
	bowl.BowlOrder = appendUnique(bowl.BowlOrder, p.BowlerID)
	appendSummary(next, match.UpdateSummary{Type: match.ActionPickBowler})
	return nil
}

func applyGeneric(next *match.State, g match.GenericAction) error {
	switch g.Kind {
	case match.ActionEndInnings:
		if _, _, err := liveTeams(next); err != nil {
			return err
		}
		appendSummary(next, match.UpdateSummary{Type: g.Kind})
		endInnings(next)
		return nil
	case match.ActionEndMatch:
		var description, winner string
		if err := g.Field("description", &description); err != nil {
			return rejectf("%v", err)
		}
		if err := g.Field("winnerTeamID", &winner); err != nil {
			return rejectf("%v", err)
		}
		result := match.Result{State: match.ResultNoResult, Description: description}
		if winner != "" {
			if _, ok := next.Teams[winner]; !ok {
				return rejectf("unknown winner %s", winner)
			}
			result.State = match.ResultWin
			result.WinnerTeamID = winner
		}
		appendSummary(next, match.UpdateSummary{Type: g.Kind})
		completeWith(next, result)
		return nil
	default:
		return rejectf("unsupported action %s", g.Kind)
	}
}

func liveTeams(next *match.State) (*match.Team, *match.Team, error) {
	if next.Lifecycle != match.StateLive {
		return nil, nil, rejectf("match %s is not live", next.MatchID)
	}
	bat, bowl := next.Batting(), next.Bowling()
	if bat == nil || bowl == nil {
		return nil, nil, rejectf("batting and bowling teams are not designated")
	}
	return bat, bowl, nil
}

func appendSummary(next *match.State, u match.UpdateSummary) {
	u.Innings = next.Innings
	if bat := next.Batting(); bat != nil && u.Type != match.ActionBall {
		u.Over = bat.Score.Overs
		u.Ball = bat.Score.Balls
	}
	next.Updates = append(next.Updates, u)
}

func appendUnique(list []string, id string) []string {
	if slices.Contains(list, id) {
		return list
	}
	return append(list, id)
}

func swapStrike(bat *match.Team) {
	for _, id := range bat.CurrentBatterIDs {
		if id != bat.CurrentStrikerID {
			bat.CurrentStrikerID = id
			return
		}
	}
}
