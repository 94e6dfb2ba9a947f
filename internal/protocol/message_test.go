package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeKeepsPayloadVerbatim(t *testing.T) {
	raw := []byte(`{"type":"offer","peerId":"p1","payload":{"type":"offer","sdp":"v=0\r\n"}}`)

	env, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, EventOffer, env.Type)
	assert.Equal(t, "p1", env.PeerID)
	assert.JSONEq(t, `{"type":"offer","sdp":"v=0\r\n"}`, string(env.Payload))
}

func TestDecodeRejectsMalformed(t *testing.T) {
	_, err := Decode([]byte(`{"sessionId":"1121"}`))
	assert.ErrorIs(t, err, ErrMissingType)

	_, err = Decode([]byte(`not json`))
	var syntaxErr *json.SyntaxError
	assert.ErrorAs(t, err, &syntaxErr)
}

func TestEncodeOmitsEmptyFields(t *testing.T) {
	b, err := Encode(Envelope{Type: EventRoomBusy})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"room-busy"}`, string(b))
}

func TestIsNegotiation(t *testing.T) {
	assert.True(t, EventOffer.IsNegotiation())
	assert.True(t, EventAnswer.IsNegotiation())
	assert.True(t, EventICECandidate.IsNegotiation())
	assert.False(t, EventJoinRoom.IsNegotiation())
}
