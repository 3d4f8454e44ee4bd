package signaling

import (
	"errors"

	"call-relay/internal/session"
)

var (
	ErrUnreachable   = errors.New("signaling: destination not connected")
	ErrMalformed     = errors.New("signaling: malformed event")
	ErrUnknownEvent  = errors.New("signaling: unknown event")
	ErrRateLimited   = errors.New("signaling: rate limit exceeded")
	ErrSendQueueFull = errors.New("signaling: send queue full")
)

// dropReason is the low-cardinality label used in logs and metrics.
func dropReason(err error) string {
	switch {
	case errors.Is(err, ErrUnreachable):
		return "unreachable"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrUnknownEvent):
		return "unknown_event"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrSendQueueFull):
		return "send_queue_full"
	case errors.Is(err, session.ErrBusy):
		return "busy"
	default:
		return "internal"
	}
}
