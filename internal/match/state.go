package match

import (
	"fmt"

	"github.com/mitchellh/copystructure"
)

// Lifecycle is the coarse state of a match.
type Lifecycle string

const (
	StateCreated      Lifecycle = "CREATED"
	StateLive         Lifecycle = "LIVE"
	StateInningsBreak Lifecycle = "INNINGS_BREAK"
	StateCompleted    Lifecycle = "COMPLETED"
)

type StreamState string

const (
	StreamNotStreaming StreamState = "NOT_STREAMING"
	StreamRequested    StreamState = "STREAM_REQUESTED"
)

const (
	ResultWin      = "WIN"
	ResultTie      = "TIE"
	ResultNoResult = "NO_RESULT"
)

// State is the authoritative document for one match. It is only ever
// produced by the reducer from a previous state and an action.
type State struct {
	MatchID          string           `json:"matchId"`
	Lifecycle        Lifecycle        `json:"state"`
	ScoreStreamState StreamState      `json:"scoreStreamState"`
	Description      string           `json:"description"`
	Properties       Properties       `json:"properties"`
	Innings          int              `json:"innings"`
	BattingTeamID    string           `json:"battingTeamID,omitempty"`
	BowlingTeamID    string           `json:"bowlingTeamID,omitempty"`
	Teams            map[string]*Team `json:"teams"`
	Updates          []UpdateSummary  `json:"updates"`
	Result           Result           `json:"result"`
}

type Properties struct {
	// Overs per innings, 0 for an unlimited innings.
	Overs int    `json:"overs,omitempty"`
	Venue string `json:"venue,omitempty"`
}

type Team struct {
	TeamID           string                    `json:"teamID"`
	TeamName         string                    `json:"teamName"`
	TeamShortName    string                    `json:"teamShortName"`
	PlayerIDs        []string                  `json:"playerIDs"`
	BatLineup        []string                  `json:"batLineup"`
	BatOrder         []string                  `json:"batOrder"`
	CurrentBatterIDs []string                  `json:"currentBatterIDs"`
	CurrentStrikerID string                    `json:"currentStrikerID,omitempty"`
	CurrentBowlerID  string                    `json:"currentBowlerID,omitempty"`
	LastBowlerID     string                    `json:"lastBowlerID,omitempty"`
	BowlOrder        []string                  `json:"bowlOrder"`
	OutBatters       map[string]bool           `json:"outBatters"`
	Wickets          []Wicket                  `json:"wickets"`
	Score            Score                     `json:"score"`
	Extras           Extras                    `json:"extras"`
	Players          map[string]*PlayingPlayer `json:"players"`
	Manhattan        []int                     `json:"manhattan"`
	Worm             []int                     `json:"worm"`
}

type Score struct {
	Runs    int `json:"score"`
	Wickets int `json:"wickets"`
	Overs   int `json:"over"`
	Balls   int `json:"ball"`
}

type Extras struct {
	Wides   int `json:"wides"`
	NoBalls int `json:"noBalls"`
	Byes    int `json:"byes"`
	LegByes int `json:"legByes"`
}

func (e Extras) Total() int {
	return e.Wides + e.NoBalls + e.Byes + e.LegByes
}

type Wicket struct {
	BatterID  string        `json:"batterID"`
	BowlerID  string        `json:"bowlerID"`
	FielderID string        `json:"fielderID,omitempty"`
	Kind      DismissalKind `json:"kind"`
	Over      int           `json:"over"`
	Ball      int           `json:"ball"`
	TeamScore int           `json:"teamScore"`
}

// Player is a roster entry as stored in the players collection.
type Player struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Role      string `json:"role"`
}

type PlayingPlayer struct {
	Player
	Batter BattingFigures `json:"batter"`
	Bowler BowlingFigures `json:"bowler"`
}

type BattingFigures struct {
	Runs      int           `json:"runs"`
	Balls     int           `json:"balls"`
	Fours     int           `json:"fours"`
	Sixes     int           `json:"sixes"`
	Out       bool          `json:"out"`
	Dismissal DismissalKind `json:"dismissal,omitempty"`
}

type BowlingFigures struct {
	Balls   int `json:"balls"`
	Runs    int `json:"runs"`
	Wickets int `json:"wickets"`
	Maidens int `json:"maidens"`
	Wides   int `json:"wides"`
	NoBalls int `json:"noBalls"`
}

// UpdateSummary is the record appended to State.Updates for every accepted
// action.
type UpdateSummary struct {
	Type    ActionType `json:"type"`
	Innings int        `json:"innings"`
	Over    int        `json:"over"`
	Ball    int        `json:"ball"`
	Runs    int        `json:"runs"`
	Extra   ExtraKind  `json:"extra,omitempty"`
	Wicket  bool       `json:"wicket,omitempty"`
}

type Result struct {
	State        string `json:"state"`
	WinnerTeamID string `json:"winnerTeamID,omitempty"`
	Description  string `json:"description,omitempty"`
}

// Batting returns the team currently designated to bat, or nil.
func (s *State) Batting() *Team {
	if s == nil || s.BattingTeamID == "" {
		return nil
	}
	return s.Teams[s.BattingTeamID]
}

// Bowling returns the team currently designated to bowl, or nil.
func (s *State) Bowling() *Team {
	if s == nil || s.BowlingTeamID == "" {
		return nil
	}
	return s.Teams[s.BowlingTeamID]
}

// Clone returns a deep copy of s that shares no maps, slices or pointers
// with s.
func (s *State) Clone() (*State, error) {
	if s == nil {
		return nil, nil
	}
	copied, err := copystructure.Copy(s)
	if err != nil {
		return nil, fmt.Errorf("clone match %s: %w", s.MatchID, err)
	}
	return copied.(*State), nil
}
