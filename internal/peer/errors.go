package peer

import "errors"

var (
	ErrNotConnected = errors.New("not connected to host")
	ErrSuperseded   = errors.New("connection attempt superseded")
)
