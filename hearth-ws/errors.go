package hearthws

import (
	"errors"
	"strings"
)

// Connect-time failures. These are the only errors a connecting client ever
// observes, as a transport-level rejection of the handshake.
var (
	ErrUnauthenticated    = errors.New("no credentials presented")
	ErrInvalidCredentials = errors.New("credential validation failed")
	ErrForbidden          = errors.New("principal may not open a realtime session")
)

// Client errors on an established connection. Both map to a 400 result; the
// connection stays open.
var (
	ErrUnknownFrameType = errors.New("unknown frame type")
	ErrBadFrame         = errors.New("malformed frame payload")
)

// AccessDeniedError is a domain-level authorization failure inside a frame
// handler, e.g. acting on a chat the user is not a member of. The connection
// stays open; the sender gets an error frame.
type AccessDeniedError struct {
	Reason string
}

func (e *AccessDeniedError) Error() string {
	return "access denied: " + e.Reason
}

// IsGone checks if the error is a GoneException (HTTP 410), indicating the
// WebSocket connection no longer exists. This is the trigger for lazy
// stale-connection pruning.
func IsGone(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "GoneException") ||
		strings.Contains(err.Error(), "410")
}
