// Package signal defines the relay's wire vocabulary: connection handles,
// the JSON envelope and the payloads of every signaling event.
//
// Offer, answer and candidate bodies are opaque json.RawMessage values. The
// relay forwards them as-is and never inspects their contents.
package signal

import (
	"encoding/json"
	"fmt"
)

type EventType string

// Inbound events, sent by clients.
const (
	EventInviteCall        EventType = "invite-call"
	EventAnswerCall        EventType = "answer-call"
	EventNegotiationUpdate EventType = "negotiation-update"
	EventRejectCall        EventType = "reject-call"
	EventEndCall           EventType = "end-call"
)

// Outbound events, produced by the relay.
const (
	EventConnected                 EventType = "connected"
	EventPresenceUpdate            EventType = "presence-update"
	EventIncomingCall              EventType = "incoming-call"
	EventCallAccepted              EventType = "call-accepted"
	EventNegotiationUpdateIncoming EventType = "negotiation-update-incoming"
	EventCallRejected              EventType = "call-rejected"
	EventCallEnded                 EventType = "call-ended"
)

// Envelope is the single frame shape in both directions.
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into an envelope of the given type.
func NewEnvelope(t EventType, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("signal: marshal %s: %w", t, err)
	}
	return Envelope{Type: t, Payload: raw}, nil
}

// Decode unmarshals the payload into dst.
func (e Envelope) Decode(dst any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("signal: %s has no payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("signal: decode %s: %w", e.Type, err)
	}
	return nil
}

type CallKind string

const (
	CallKindAudio CallKind = "audio"
	CallKindVideo CallKind = "video"
)
