package transport

import "errors"

var (
	ErrAddrInUse       = errors.New("address already in use")
	ErrPeerUnavailable = errors.New("peer unavailable")
	ErrClosed          = errors.New("transport closed")
	ErrNotOpen         = errors.New("connection not open")
	ErrBufferFull      = errors.New("send buffer full")
	ErrIDInUse         = errors.New("connection id already in use")
)
