package scoring

import (
	"fmt"
	"slices"

	"github.com/cketlive/scoring/internal/match"
)

func applyBall(next *match.State, b match.Ball) error {
	bat, bowl, err := liveTeams(next)
	if err != nil {
		return err
	}
	if b.Runs < 0 || b.Runs > maxRunsOffBall {
		return rejectf("runs off a ball must be between 0 and %d, got %d", maxRunsOffBall, b.Runs)
	}
	strikerID := bat.CurrentStrikerID
	if strikerID == "" || len(bat.CurrentBatterIDs) < 2 {
		return rejectf("striker and non-striker must be selected")
	}
	bowlerID := bowl.CurrentBowlerID
	if bowlerID == "" {
		return rejectf("bowler must be selected")
	}
	striker, bowler := bat.Players[strikerID], bowl.Players[bowlerID]
	if striker == nil || bowler == nil {
		return rejectf("striker %s or bowler %s has no player record", strikerID, bowlerID)
	}
	if err := validateDismissal(bat, b, strikerID); err != nil {
		return err
	}

	summary := match.UpdateSummary{
		Type:    match.ActionBall,
		Innings: next.Innings,
		Over:    bat.Score.Overs,
		Ball:    bat.Score.Balls + 1,
		Extra:   b.Extra,
	}

	legal := true
	total := b.Runs
	switch b.Extra {
	case "":
		creditBatter(striker, b.Runs)
		bowler.Bowler.Runs += b.Runs
	case match.ExtraWide:
		legal = false
		total = 1 + b.Runs
		bat.Extras.Wides += total
		bowler.Bowler.Runs += total
		bowler.Bowler.Wides++
	case match.ExtraNoBall:
		legal = false
		total = 1 + b.Runs
		bat.Extras.NoBalls++
		creditBatter(striker, b.Runs)
		bowler.Bowler.Runs += total
		bowler.Bowler.NoBalls++
	case match.ExtraBye:
		bat.Extras.Byes += b.Runs
		striker.Batter.Balls++
	case match.ExtraLegBye:
		bat.Extras.LegByes += b.Runs
		striker.Batter.Balls++
	default:
		return rejectf("unknown extra %q", b.Extra)
	}
	bat.Score.Runs += total
	summary.Runs = total
	if !legal {
		summary.Ball = bat.Score.Balls
	}

	if legal {
		bat.Score.Balls++
		bowler.Bowler.Balls++
	}
	if b.Runs%2 == 1 {
		swapStrike(bat)
	}
	if b.Wicket != nil {
		dismiss(bat, bowler, b.Wicket, strikerID)
		summary.Wicket = true
	}
	next.Updates = append(next.Updates, summary)

	if legal && bat.Score.Balls == ballsPerOver {
		endOver(bat, bowl, bowler)
	}
	if inningsOver(next, bat, bowl) {
		endInnings(next)
	}
	return nil
}

func creditBatter(p *match.PlayingPlayer, runs int) {
	p.Batter.Runs += runs
	p.Batter.Balls++
	switch runs {
	case 4:
		p.Batter.Fours++
	case 6:
		p.Batter.Sixes++
	}
}

func validateDismissal(bat *match.Team, b match.Ball, strikerID string) error {
	w := b.Wicket
	if w == nil {
		return nil
	}
	switch w.Kind {
	case match.DismissalBowled, match.DismissalCaught, match.DismissalLBW,
		match.DismissalStumped, match.DismissalRunOut, match.DismissalHitWicket:
	default:
		return rejectf("unknown dismissal %q", w.Kind)
	}
	switch b.Extra {
	case match.ExtraWide:
		if w.Kind != match.DismissalRunOut && w.Kind != match.DismissalStumped {
			return rejectf("%s is not possible off a wide", w.Kind)
		}
	case match.ExtraNoBall:
		if w.Kind != match.DismissalRunOut {
			return rejectf("%s is not possible off a no-ball", w.Kind)
		}
	}
	outID := w.BatterID
	if outID == "" {
		outID = strikerID
	}
	if !slices.Contains(bat.CurrentBatterIDs, outID) {
		return rejectf("batter %s is not at the crease", outID)
	}
	if outID != strikerID && w.Kind != match.DismissalRunOut {
		return rejectf("only a run out can dismiss the non-striker")
	}
	return nil
}

func dismiss(bat *match.Team, bowler *match.PlayingPlayer, w *match.Dismissal, strikerID string) {
	outID := w.BatterID
	if outID == "" {
		outID = strikerID
	}
	bat.Score.Wickets++
	bat.OutBatters[outID] = true
	bat.Wickets = append(bat.Wickets, match.Wicket{
		BatterID:  outID,
		BowlerID:  bowler.ID,
		FielderID: w.FielderID,
		Kind:      w.Kind,
		Over:      bat.Score.Overs,
		Ball:      bat.Score.Balls,
		TeamScore: bat.Score.Runs,
	})
	if p := bat.Players[outID]; p != nil {
		p.Batter.Out = true
		p.Batter.Dismissal = w.Kind
	}
	if w.Kind != match.DismissalRunOut {
		bowler.Bowler.Wickets++
	}
	bat.CurrentBatterIDs = slices.DeleteFunc(bat.CurrentBatterIDs, func(id string) bool { return id == outID })
	if bat.CurrentStrikerID == outID {
		bat.CurrentStrikerID = ""
	}
}

func endOver(bat, bowl *match.Team, bowler *match.PlayingPlayer) {
	bat.Score.Overs++
	bat.Score.Balls = 0
	overRuns := closeOver(bat)
	if overRuns == 0 {
		bowler.Bowler.Maidens++
	}
	swapStrike(bat)
	bowl.LastBowlerID = bowl.CurrentBowlerID
	bowl.CurrentBowlerID = ""
}

// closeOver records the runs of the over just finished in the manhattan
// and worm series and returns them.
func closeOver(bat *match.Team) int {
	previous := 0
	if n := len(bat.Worm); n > 0 {
		previous = bat.Worm[n-1]
	}
	overRuns := bat.Score.Runs - previous
	bat.Manhattan = append(bat.Manhattan, overRuns)
	bat.Worm = append(bat.Worm, bat.Score.Runs)
	return overRuns
}

func inningsOver(next *match.State, bat, bowl *match.Team) bool {
	if len(bat.BatLineup) >= 2 && bat.Score.Wickets >= len(bat.BatLineup)-1 {
		return true
	}
	if next.Properties.Overs > 0 && bat.Score.Overs >= next.Properties.Overs {
		return true
	}
	return next.Innings >= 2 && bat.Score.Runs > bowl.Score.Runs
}

func endInnings(next *match.State) {
	bat, bowl := next.Batting(), next.Bowling()
	if bat.Score.Balls > 0 {
		closeOver(bat)
	}
	bat.CurrentBatterIDs = []string{}
	bat.CurrentStrikerID = ""
	bowl.CurrentBowlerID = ""
	bowl.LastBowlerID = ""

	if next.Innings >= 2 {
		complete(next)
		return
	}
	next.Innings++
	next.BattingTeamID, next.BowlingTeamID = next.BowlingTeamID, next.BattingTeamID
	next.Lifecycle = match.StateInningsBreak
}

// complete decides the result once the second innings ends. The team batting
// second is the chasing side.
func complete(next *match.State) {
	chasing, defending := next.Batting(), next.Bowling()
	switch {
	case chasing.Score.Runs > defending.Score.Runs:
		left := len(chasing.BatLineup) - 1 - chasing.Score.Wickets
		completeWith(next, match.Result{
			State:        match.ResultWin,
			WinnerTeamID: chasing.TeamID,
			Description:  fmt.Sprintf("%s won by %d wickets", chasing.TeamName, left),
		})
	case chasing.Score.Runs < defending.Score.Runs:
		completeWith(next, match.Result{
			State:        match.ResultWin,
			WinnerTeamID: defending.TeamID,
			Description:  fmt.Sprintf("%s won by %d runs", defending.TeamName, defending.Score.Runs-chasing.Score.Runs),
		})
	default:
		completeWith(next, match.Result{State: match.ResultTie, Description: "match tied"})
	}
}

func completeWith(next *match.State, r match.Result) {
	for _, t := range next.Teams {
		if t == nil {
			continue
		}
		t.CurrentBatterIDs = []string{}
		t.CurrentStrikerID = ""
		t.CurrentBowlerID = ""
	}
	next.Result = r
	next.Lifecycle = match.StateCompleted
}
