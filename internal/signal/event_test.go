package signal

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTripKeepsOpaquePayload(t *testing.T) {
	offer := json.RawMessage(`{"type":"offer","sdp":"v=0\r\no=- 1 2 IN IP4 127.0.0.1"}`)

	env, err := NewEnvelope(EventIncomingCall, IncomingCallPayload{
		Offer:      offer,
		From:       "alice",
		Kind:       CallKindVideo,
		FromHandle: "h-1",
	})
	require.NoError(t, err)

	var wire []byte
	wire, err = json.Marshal(env)
	require.NoError(t, err)

	var got Envelope
	require.NoError(t, json.Unmarshal(wire, &got))
	assert.Equal(t, EventIncomingCall, got.Type)

	var p IncomingCallPayload
	require.NoError(t, got.Decode(&p))
	assert.JSONEq(t, string(offer), string(p.Offer))
	assert.Equal(t, Handle("h-1"), p.FromHandle)
}

func TestDecodeRejectsEmptyPayload(t *testing.T) {
	var p AddressedPayload
	assert.Error(t, Envelope{Type: EventEndCall}.Decode(&p))
}

func TestNewHandleIsUnique(t *testing.T) {
	assert.NotEqual(t, NewHandle(), NewHandle())
}
