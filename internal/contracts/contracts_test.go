package contracts

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cketlive/scoring/internal/match"
)

func TestUpdateMessage_WireShape(t *testing.T) {
	msg := UpdateMessage{
		MatchID: "m1",
		Update:  match.Envelope{MatchID: "m1", Action: match.PickBowler{BowlerID: "b7"}},
	}
	payload, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"matchId":"m1","update":{"type":"PICK_BOWLER","matchId":"m1","bowlerID":"b7"}}`, string(payload))

	var decoded UpdateMessage
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, msg, decoded)
}

func TestScoreMessage_StreamStateOptional(t *testing.T) {
	payload, err := json.Marshal(ScoreMessage{MatchID: "m1", Score: &match.State{MatchID: "m1"}})
	require.NoError(t, err)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(payload, &fields))
	assert.NotContains(t, fields, "streamState")
	assert.Contains(t, fields, "score")

	payload, err = json.Marshal(ScoreMessage{MatchID: "m1", StreamState: match.StreamRequested})
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"streamState":"STREAM_REQUESTED"`)
}
