package signal

import (
	"errors"

	"github.com/google/uuid"
)

// Handle addresses one open connection. It is valid only while that
// connection is open and is never reused.
type Handle string

func NewHandle() Handle { return Handle(uuid.NewString()) }

func (h Handle) String() string { return string(h) }

var ErrEndpointClosed = errors.New("signal: endpoint closed")

// Endpoint is a live, addressable client connection.
type Endpoint interface {
	Handle() Handle
	Identity() string
	Name() string

	// Send queues env for delivery without waiting on the remote peer.
	Send(env Envelope) error
	Close() error
}
