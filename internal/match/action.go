package match

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidAction      = errors.New("invalid action payload")
	ErrActionTypeRequired = errors.New("action type is required")
)

// ActionType tags an action envelope on the wire.
type ActionType string

const (
	ActionCreateMatch        ActionType = "CREATE_MATCH"
	ActionBall               ActionType = "BALL"
	ActionPickBatter         ActionType = "PICK_BATTER"
	ActionPickBowler         ActionType = "PICK_BOWLER"
	ActionStartInnings       ActionType = "START_INNINGS"
	ActionSelectPlayers      ActionType = "SELECT_PLAYERS"
	ActionRequestScoreStream ActionType = "REQUEST_SCORE_STREAM"
	ActionEndInnings         ActionType = "END_INNINGS"
	ActionEndMatch           ActionType = "END_MATCH"
)

type ExtraKind string

const (
	ExtraWide   ExtraKind = "WIDE"
	ExtraNoBall ExtraKind = "NO_BALL"
	ExtraBye    ExtraKind = "BYE"
	ExtraLegBye ExtraKind = "LEG_BYE"
)

type DismissalKind string

const (
	DismissalBowled    DismissalKind = "BOWLED"
	DismissalCaught    DismissalKind = "CAUGHT"
	DismissalLBW       DismissalKind = "LBW"
	DismissalStumped   DismissalKind = "STUMPED"
	DismissalRunOut    DismissalKind = "RUN_OUT"
	DismissalHitWicket DismissalKind = "HIT_WICKET"
)

// Action is the closed set of state transitions a match accepts. Every
// variant lives in this package.
type Action interface {
	Type() ActionType
	action()
}

type CreateMatch struct {
	Match *State `json:"match"`
}

type Ball struct {
	// Runs run or hit off the delivery, excluding the wide/no-ball penalty.
	Runs   int        `json:"runs"`
	Extra  ExtraKind  `json:"extra,omitempty"`
	Wicket *Dismissal `json:"wicket,omitempty"`
}

type Dismissal struct {
	Kind DismissalKind `json:"kind"`
	// BatterID defaults to the striker.
	BatterID  string `json:"batterID,omitempty"`
	FielderID string `json:"fielderID,omitempty"`
}

type PickBatter struct {
	BatterID string `json:"batterID"`
	Striker  bool   `json:"striker,omitempty"`
}

type PickBowler struct {
	BowlerID string `json:"bowlerID"`
}

type StartInnings struct {
	CurrentBatterIDs []string `json:"currentBatterIDs"`
	CurrentStrikerID string   `json:"currentStrikerID,omitempty"`
	CurrentBowlerID  string   `json:"currentBowlerID"`
	BattingTeamID    string   `json:"battingTeamID,omitempty"`
	BowlingTeamID    string   `json:"bowlingTeamID,omitempty"`
}

type SelectPlayers struct {
	PlayerInfo map[string]TeamSelection `json:"playerInfo"`
}

type TeamSelection struct {
	BatLineup []string          `json:"batLineup"`
	Players   map[string]Player `json:"players"`
}

type RequestScoreStream struct{}

// GenericAction carries any action tag that has no dedicated variant, such
// as END_INNINGS and END_MATCH. The reducer decides whether it is valid.
type GenericAction struct {
	Kind   ActionType
	Fields map[string]json.RawMessage
}

func (CreateMatch) Type() ActionType        { return ActionCreateMatch }
func (Ball) Type() ActionType               { return ActionBall }
func (PickBatter) Type() ActionType         { return ActionPickBatter }
func (PickBowler) Type() ActionType         { return ActionPickBowler }
func (StartInnings) Type() ActionType       { return ActionStartInnings }
func (SelectPlayers) Type() ActionType      { return ActionSelectPlayers }
func (RequestScoreStream) Type() ActionType { return ActionRequestScoreStream }
func (g GenericAction) Type() ActionType    { return g.Kind }

func (CreateMatch) action()        {}
func (Ball) action()               {}
func (PickBatter) action()         {}
func (PickBowler) action()         {}
func (StartInnings) action()       {}
func (SelectPlayers) action()      {}
func (RequestScoreStream) action() {}
func (GenericAction) action()      {}

func (g GenericAction) MarshalJSON() ([]byte, error) {
	if g.Fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(g.Fields)
}

// Field decodes one named field of a generic action into v. A missing field
// leaves v untouched.
func (g GenericAction) Field(name string, v any) error {
	raw, ok := g.Fields[name]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: field %q: %v", ErrInvalidAction, name, err)
	}
	return nil
}

// Envelope is the wire form of an action: {type, matchId, ...fields}.
type Envelope struct {
	MatchID string
	Action  Action
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.Action == nil {
		return nil, ErrInvalidAction
	}
	body, err := json.Marshal(e.Action)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	fields["type"], _ = json.Marshal(e.Action.Type())
	if e.MatchID != "" {
		fields["matchId"], _ = json.Marshal(e.MatchID)
	}
	return json.Marshal(fields)
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	var head struct {
		MatchID string `json:"matchId"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}
	action, err := DecodeAction(data)
	if err != nil {
		return err
	}
	e.MatchID = head.MatchID
	e.Action = action
	return nil
}

// DecodeAction turns a tagged JSON object into its typed variant. Unknown
// tags decode into GenericAction.
func DecodeAction(data []byte) (Action, error) {
	var head struct {
		Type ActionType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}
	kind := ActionType(strings.ToUpper(strings.TrimSpace(string(head.Type))))

	switch kind {
	case "":
		return nil, ErrActionTypeRequired
	case ActionCreateMatch:
		return decodeInto[CreateMatch](data)
	case ActionBall:
		return decodeInto[Ball](data)
	case ActionPickBatter:
		return decodeInto[PickBatter](data)
	case ActionPickBowler:
		return decodeInto[PickBowler](data)
	case ActionStartInnings:
		return decodeInto[StartInnings](data)
	case ActionSelectPlayers:
		return decodeInto[SelectPlayers](data)
	case ActionRequestScoreStream:
		return RequestScoreStream{}, nil
	}

	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}
	delete(fields, "type")
	delete(fields, "matchId")
	return GenericAction{Kind: kind, Fields: fields}, nil
}

func decodeInto[T Action](data []byte) (Action, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}
	return v, nil
}
