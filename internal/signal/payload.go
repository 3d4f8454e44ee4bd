package signal

import "encoding/json"

// --- inbound ---

// InvitePayload addresses the target by identity; it is the only event that does.
type InvitePayload struct {
	Target string          `json:"target"`
	Offer  json.RawMessage `json:"offer"`
	Kind   CallKind        `json:"kind"`
	Name   string          `json:"name,omitempty"`
}

type AnswerPayload struct {
	To     Handle          `json:"to"`
	Answer json.RawMessage `json:"answer"`
}

type CandidatePayload struct {
	To        Handle          `json:"to"`
	Candidate json.RawMessage `json:"candidate"`
}

// AddressedPayload is used by reject-call and end-call.
type AddressedPayload struct {
	To Handle `json:"to"`
}

// --- outbound ---

type ConnectedPayload struct {
	Handle   Handle `json:"handle"`
	Identity string `json:"identity"`
}

type OnlineUser struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type PresencePayload struct {
	Users []OnlineUser `json:"users"`
}

type IncomingCallPayload struct {
	Offer      json.RawMessage `json:"offer"`
	From       string          `json:"from"`
	Name       string          `json:"name,omitempty"`
	Kind       CallKind        `json:"kind,omitempty"`
	FromHandle Handle          `json:"fromHandle"`
}

type CallAcceptedPayload struct {
	Answer     json.RawMessage `json:"answer"`
	From       string          `json:"from"`
	FromHandle Handle          `json:"fromHandle"`
}

type CandidateIncomingPayload struct {
	Candidate  json.RawMessage `json:"candidate"`
	FromHandle Handle          `json:"fromHandle"`
}

// PeerPayload is carried by call-rejected and call-ended.
type PeerPayload struct {
	From       string `json:"from"`
	FromHandle Handle `json:"fromHandle"`
}
