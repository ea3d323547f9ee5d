// Package contracts holds the messages published to the match queues.
package contracts

import "github.com/cketlive/scoring/internal/match"

// UpdateMessage is published to the update-log queue for every action the
// pipeline accepts, before the action is applied.
type UpdateMessage struct {
	Update  match.Envelope `json:"update"`
	MatchID string         `json:"matchId"`
}

// ScoreMessage is published to the score queue with the full state after a
// score-affecting action. StreamState is only set for stream requests.
type ScoreMessage struct {
	MatchID     string            `json:"matchId"`
	StreamState match.StreamState `json:"streamState,omitempty"`
	Score       *match.State      `json:"score"`
}
