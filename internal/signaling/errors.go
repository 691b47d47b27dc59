package signaling

import "errors"

var (
	ErrIDTaken         = errors.New("peer id already registered")
	ErrPeerUnavailable = errors.New("peer unavailable")
	ErrNotOwner        = errors.New("claim held by another owner")
	ErrClosed          = errors.New("signaling connection closed")
)
