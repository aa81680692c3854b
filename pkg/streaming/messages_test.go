package streaming

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markerrelay/relay/pkg/core"
)

func TestEnvelopeSerialization(t *testing.T) {
	payload := SnapshotPayload{Cycle: 42, Markers: core.Snapshot{{ID: 7, X: 1, Y: 2, Rotation: 90}}}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	env := Envelope{Type: TypeSnapshot, Payload: raw}
	data, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded Envelope
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, TypeSnapshot, decoded.Type)

	var sp SnapshotPayload
	require.NoError(t, json.Unmarshal(decoded.Payload, &sp))
	assert.Equal(t, uint64(42), sp.Cycle)
	assert.Equal(t, payload.Markers, sp.Markers)
}

func TestTransitionPayload_OmitsEmptyGeo(t *testing.T) {
	data, err := json.Marshal(TransitionPayload{MarkerID: 3, Kind: "enter"})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "geo")
	assert.NotContains(t, string(data), "reason")
}
