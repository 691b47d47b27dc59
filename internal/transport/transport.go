// Package transport provides the peer connection abstraction between the
// host and its controllers. This allows swapping WebRTC, WebSocket, or mock
// implementations without changing game logic.
package transport

import (
	"context"
	"time"
)

// Conn is one reliable, ordered duplex channel to a remote peer.
type Conn interface {
	// ID identifies the remote peer. On the host side this is the
	// connection identity the game core keys players by.
	ID() string

	// Open reports whether Send can currently succeed.
	Open() bool

	// Send queues a frame for delivery. It returns ErrNotOpen once the
	// connection is closing.
	Send(data []byte) error

	// Close tears the connection down. Close handlers fire exactly once.
	Close() error

	// OnMessage registers the handler for inbound frames. Frames that
	// arrive before a handler is set are buffered.
	OnMessage(handler MessageHandler)

	// OnClose registers the close handler. If the connection is already
	// closed the handler runs immediately.
	OnClose(handler CloseHandler)
}

// Listener accepts inbound connections at a claimed address.
type Listener interface {
	Addr() string
	OnConnection(handler ConnectHandler)
	Close() error
}

// Dialer opens outbound connections to a listener address.
type Dialer interface {
	Dial(ctx context.Context, addr string) (Conn, error)
}

// Network can both claim addresses and dial them.
type Network interface {
	Dialer

	// Listen claims addr. It returns ErrAddrInUse if another listener
	// already holds it.
	Listen(ctx context.Context, addr string) (Listener, error)
}

// MessageHandler is called for every inbound frame.
type MessageHandler func(data []byte)

// CloseHandler is called once when a connection closes. err is nil for a
// clean close.
type CloseHandler func(err error)

// ConnectHandler is called when a listener accepts a connection.
type ConnectHandler func(conn Conn)

// Config holds transport configuration.
type Config struct {
	MaxMessageSize int
	SendBufferSize int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	ICEServers     []string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxMessageSize: 64 * 1024,
		SendBufferSize: 256,
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		PingInterval:   25 * time.Second,
		ICEServers: []string{
			"stun:stun.l.google.com:19302",
			"stun:stun1.l.google.com:19302",
		},
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = d.SendBufferSize
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	return c
}
