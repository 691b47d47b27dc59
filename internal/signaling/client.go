package signaling

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	clientHandshakeTimeout = 10 * time.Second
	clientWriteTimeout     = 10 * time.Second
)

// Client is one registered peer's connection to a signaling server.
type Client struct {
	id      string
	ws      *websocket.Conn
	out     chan Message
	done    chan struct{}
	once    sync.Once
	started atomic.Bool
}

// Dial connects to the signaling server at url and registers id. It
// returns ErrIDTaken when another peer holds id.
func Dial(ctx context.Context, url, id string) (*Client, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial signaling: %w", err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(clientHandshakeTimeout)
	}
	_ = ws.SetWriteDeadline(deadline)
	_ = ws.SetReadDeadline(deadline)

	if err := ws.WriteJSON(Message{Type: TypeRegister, Src: id}); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("register: %w", err)
	}

	var reply Message
	if err := ws.ReadJSON(&reply); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("register: %w", err)
	}

	switch reply.Type {
	case TypeRegistered:
	case TypeError:
		_ = ws.Close()
		if p, ok := reply.ErrorCode(); ok && p.Code == CodeUnavailableID {
			return nil, ErrIDTaken
		}
		return nil, fmt.Errorf("register rejected: %s", reply.Payload)
	default:
		_ = ws.Close()
		return nil, fmt.Errorf("register: unexpected %s reply", reply.Type)
	}

	_ = ws.SetWriteDeadline(time.Time{})
	_ = ws.SetReadDeadline(time.Time{})

	return &Client{
		id:   id,
		ws:   ws,
		out:  make(chan Message, subscriptionBuffer),
		done: make(chan struct{}),
	}, nil
}

// ID returns the registered peer id.
func (c *Client) ID() string { return c.id }

// Start begins delivering incoming frames to handler. Handler runs on the
// read goroutine, one frame at a time.
func (c *Client) Start(handler func(Message)) {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	go c.writePump()
	go c.readPump(handler)
}

// Send queues msg for the server. Src is filled in with this client's id.
func (c *Client) Send(msg Message) error {
	msg.Src = c.id
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.out <- msg:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close disconnects from the server.
func (c *Client) Close() error {
	c.once.Do(func() {
		close(c.done)
		if !c.started.Load() {
			_ = c.ws.Close()
		}
	})
	return nil
}

func (c *Client) readPump(handler func(Message)) {
	defer c.Close()
	for {
		var msg Message
		if err := c.ws.ReadJSON(&msg); err != nil {
			return
		}
		handler(msg)
	}
}

func (c *Client) writePump() {
	defer c.ws.Close()
	for {
		select {
		case msg := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(clientWriteTimeout))
			if err := c.ws.WriteJSON(msg); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(time.Second))
			_ = c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
