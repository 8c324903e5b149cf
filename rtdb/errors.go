package rtdb

import (
	"errors"
)


// errors surfaced by the sync layer. Callers match with `errors.Is`.
var (
	// no connection, or the store answered with a non-2xx status
	ErrRemoteUnavailable = errors.New("remote unavailable")
	// the provider has not reached Ready
	ErrNotReady = errors.New("not ready")
	// a key or value could not be parsed from the wire
	ErrDecode = errors.New("decode error")
	// a wait deadline elapsed
	ErrTimedOut = errors.New("timed out")
	// updates must carry a value. Use delete to remove.
	ErrNullValue = errors.New("value must not be null")
	ErrInvalidPath = errors.New("invalid path")
	ErrNotFound = errors.New("not found")
	ErrAuthExpired = errors.New("auth token expired")
	ErrClosed = errors.New("closed")
)
