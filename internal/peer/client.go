package peer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/LemmyAI/duelo/internal/protocol"
	"github.com/LemmyAI/duelo/internal/transport"
)

// Status is the controller's view of its link to the host.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusError        Status = "error"
)

// Defaults for ClientConfig.
const (
	DefaultRetryDelay  = 3000 * time.Millisecond
	DefaultDialTimeout = 10 * time.Second
)

// Human-readable connection errors.
const (
	MsgHostNotFound   = "host not found: check the room code"
	MsgConnectionLost = "connection lost"
)

// ClientConfig holds client configuration.
type ClientConfig struct {
	RetryDelay  time.Duration // Wait before redialing a lost host (default: 3s)
	DialTimeout time.Duration // Bound on each automatic redial (default: 10s)
}

// StatusEvent is one state transition.
type StatusEvent struct {
	Status Status
	Error  string
}

// Client keeps a single connection to the host and redials it after an
// unexpected drop.
type Client struct {
	dialer transport.Dialer
	cfg    ClientConfig
	codec  protocol.Codec
	clock  clock.Clock
	log    *zap.Logger

	onMessage func(protocol.Payload)
	onStatus  func(StatusEvent)

	mu       sync.Mutex
	status   Status
	errMsg   string
	conn     transport.Conn
	gen      uint64
	lastAddr string
	retry    *clock.Timer
	closed   bool
	events   []StatusEvent

	deliverMu sync.Mutex
}

// ClientOption configures a Client.
type ClientOption func(*Client)

func WithClientCodec(c protocol.Codec) ClientOption {
	return func(cl *Client) { cl.codec = c }
}

func WithClientClock(c clock.Clock) ClientOption {
	return func(cl *Client) { cl.clock = c }
}

func WithClientLogger(l *zap.Logger) ClientOption {
	return func(cl *Client) { cl.log = l }
}

// OnMessage sets the receiver of every decoded host payload.
func OnMessage(fn func(protocol.Payload)) ClientOption {
	return func(cl *Client) { cl.onMessage = fn }
}

// OnStatus sets the receiver of status transitions. Events arrive in
// order and never under the client's lock. The receiver may Send but must
// not call Connect, Reset or Close.
func OnStatus(fn func(StatusEvent)) ClientOption {
	return func(cl *Client) { cl.onStatus = fn }
}

// NewClient creates a disconnected client.
func NewClient(dialer transport.Dialer, cfg ClientConfig, opts ...ClientOption) *Client {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	c := &Client{
		dialer:    dialer,
		cfg:       cfg,
		codec:     protocol.JSON,
		clock:     clock.New(),
		log:       zap.NewNop(),
		onMessage: func(protocol.Payload) {},
		onStatus:  func(StatusEvent) {},
		status:    StatusDisconnected,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.Named("client")
	return c
}

// Status returns the current status and error message.
func (c *Client) Status() (Status, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status, c.errMsg
}

// Connect dials addr, replacing any existing connection.
func (c *Client) Connect(ctx context.Context, addr string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return transport.ErrClosed
	}
	c.stopRetryLocked()
	old := c.conn
	c.conn = nil
	c.gen++
	gen := c.gen
	c.setStatusLocked(StatusConnecting, "")
	c.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	c.flushEvents()

	return c.dial(ctx, addr, gen, false)
}

// Send encodes p and sends it to the host.
func (c *Client) Send(p protocol.Payload) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.status == StatusConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}
	data, err := c.codec.Marshal(p)
	if err != nil {
		return err
	}
	return conn.Send(data)
}

// Reset drops the connection, cancels any pending redial and clears the
// error.
func (c *Client) Reset() {
	c.shutdown(false)
}

// Close is Reset followed by refusing every future transition.
func (c *Client) Close() error {
	c.shutdown(true)
	return nil
}

func (c *Client) shutdown(final bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.stopRetryLocked()
	c.gen++
	old := c.conn
	c.conn = nil
	c.setStatusLocked(StatusDisconnected, "")
	c.closed = final
	c.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	c.flushEvents()
}

func (c *Client) dial(ctx context.Context, addr string, gen uint64, retrying bool) error {
	conn, err := c.dialer.Dial(ctx, addr)

	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return ErrSuperseded
	}
	if err != nil {
		msg := describe(err)
		if retrying {
			c.setStatusLocked(StatusReconnecting, msg)
			c.armRetryLocked()
		} else {
			c.setStatusLocked(StatusError, msg)
		}
		c.mu.Unlock()
		c.flushEvents()
		c.log.Warn("❌ dial failed", zap.String("addr", addr), zap.Bool("retry", retrying), zap.Error(err))
		return err
	}

	c.conn = conn
	c.lastAddr = addr
	c.setStatusLocked(StatusConnected, "")
	c.mu.Unlock()
	c.flushEvents()
	c.log.Info("✅ connected to host", zap.String("addr", addr))

	conn.OnMessage(func(data []byte) {
		p, err := c.codec.Unmarshal(data)
		if err != nil {
			c.log.Warn("dropping malformed frame", zap.Error(err))
			return
		}
		c.onMessage(p)
	})
	conn.OnClose(func(err error) {
		c.handleClose(gen, err)
	})
	return nil
}

func (c *Client) handleClose(gen uint64, err error) {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	switch {
	case c.status == StatusConnected:
		c.setStatusLocked(StatusReconnecting, MsgConnectionLost)
		c.armRetryLocked()
	case err != nil:
		c.setStatusLocked(StatusError, describe(err))
	default:
		c.setStatusLocked(StatusDisconnected, "")
	}
	c.mu.Unlock()
	c.flushEvents()
	c.log.Warn("🔌 host connection closed", zap.Error(err))
}

func (c *Client) armRetryLocked() {
	c.stopRetryLocked()
	gen := c.gen
	c.retry = c.clock.AfterFunc(c.cfg.RetryDelay, func() {
		c.redial(gen)
	})
}

func (c *Client) stopRetryLocked() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

func (c *Client) redial(gen uint64) {
	c.mu.Lock()
	if c.closed || gen != c.gen || c.status != StatusReconnecting {
		c.mu.Unlock()
		return
	}
	c.retry = nil
	c.gen++
	next := c.gen
	addr := c.lastAddr
	c.setStatusLocked(StatusConnecting, c.errMsg)
	c.mu.Unlock()
	c.flushEvents()

	c.log.Info("🔄 redialing host", zap.String("addr", addr))
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DialTimeout)
	defer cancel()
	_ = c.dial(ctx, addr, next, true)
}

func (c *Client) setStatusLocked(s Status, msg string) {
	if s == c.status && msg == c.errMsg {
		return
	}
	c.status, c.errMsg = s, msg
	c.events = append(c.events, StatusEvent{Status: s, Error: msg})
}

// flushEvents delivers queued status events in order, one deliverer at a
// time.
func (c *Client) flushEvents() {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	for {
		c.mu.Lock()
		if len(c.events) == 0 {
			c.mu.Unlock()
			return
		}
		ev := c.events[0]
		c.events = c.events[1:]
		c.mu.Unlock()

		c.onStatus(ev)
	}
}

func describe(err error) string {
	if errors.Is(err, transport.ErrPeerUnavailable) {
		return MsgHostNotFound
	}
	return "connection error: " + err.Error()
}
