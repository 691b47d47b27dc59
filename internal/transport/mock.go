package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MockNetwork is an in-memory Network for tests. Each direction of a
// connection is delivered by its own goroutine, so frames keep their order
// and handlers never run on the sender's stack.
type MockNetwork struct {
	mu        sync.Mutex
	listeners map[string]*MockListener
}

// NewMockNetwork creates an empty mock network.
func NewMockNetwork() *MockNetwork {
	return &MockNetwork{
		listeners: make(map[string]*MockListener),
	}
}

// Listen claims addr.
func (n *MockNetwork) Listen(_ context.Context, addr string) (Listener, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, taken := n.listeners[addr]; taken {
		return nil, fmt.Errorf("%w: %s", ErrAddrInUse, addr)
	}
	l := &MockListener{network: n, addr: addr}
	n.listeners[addr] = l
	return l, nil
}

// Dial connects to addr under a fresh random peer id.
func (n *MockNetwork) Dial(ctx context.Context, addr string) (Conn, error) {
	return n.DialAs(ctx, addr, uuid.New().String()[:8])
}

// DialAs connects to addr with a caller-chosen peer id, which becomes the
// connection identity seen by the listener.
func (n *MockNetwork) DialAs(ctx context.Context, addr, peerID string) (*MockConn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n.mu.Lock()
	l, ok := n.listeners[addr]
	n.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPeerUnavailable, addr)
	}

	local := newMockConn(addr)
	remote := newMockConn(peerID)
	local.remote, remote.remote = remote, local
	go local.pump()
	go remote.pump()

	l.accept(remote)
	return local, nil
}

func (n *MockNetwork) release(addr string, l *MockListener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.listeners[addr] == l {
		delete(n.listeners, addr)
	}
}

// MockListener is the host end of a MockNetwork address.
type MockListener struct {
	network *MockNetwork
	addr    string

	mu      sync.Mutex
	handler ConnectHandler
	pending []*MockConn
	conns   []*MockConn
	closed  bool
}

func (l *MockListener) Addr() string { return l.addr }

// OnConnection registers the accept handler and hands it any connections
// that arrived earlier.
func (l *MockListener) OnConnection(handler ConnectHandler) {
	l.mu.Lock()
	l.handler = handler
	pending := l.pending
	l.pending = nil
	l.mu.Unlock()

	for _, c := range pending {
		handler(c)
	}
}

// Close releases the address and closes every accepted connection.
func (l *MockListener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	conns := l.conns
	l.conns = nil
	l.mu.Unlock()

	l.network.release(l.addr, l)
	for _, c := range conns {
		_ = c.Close()
	}
	return nil
}

// Conns returns the host-side connections accepted so far.
func (l *MockListener) Conns() []*MockConn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*MockConn{}, l.conns...)
}

func (l *MockListener) accept(c *MockConn) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		_ = c.Close()
		return
	}
	l.conns = append(l.conns, c)
	handler := l.handler
	if handler == nil {
		l.pending = append(l.pending, c)
	}
	l.mu.Unlock()

	if handler != nil {
		handler(c)
	}
}

type mockFrame struct {
	data  []byte
	close bool
	err   error
}

// MockConn is one end of an in-memory connection.
type MockConn struct {
	Hooks

	id     string
	remote *MockConn

	mu    sync.Mutex
	open  bool
	queue []mockFrame
	sent  [][]byte
	wake  chan struct{}
}

func newMockConn(id string) *MockConn {
	return &MockConn{
		id:   id,
		open: true,
		wake: make(chan struct{}, 1),
	}
}

func (c *MockConn) ID() string { return c.id }

func (c *MockConn) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Send records the frame and queues it for the remote end.
func (c *MockConn) Send(data []byte) error {
	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return ErrNotOpen
	}
	c.sent = append(c.sent, data)
	c.mu.Unlock()

	c.remote.enqueue(mockFrame{data: data})
	return nil
}

// Close closes both ends. Frames already queued are delivered before the
// close handlers run.
func (c *MockConn) Close() error {
	c.Drop(nil)
	return nil
}

// Drop closes both ends reporting err, simulating a transport failure.
func (c *MockConn) Drop(err error) {
	c.shutdown(err)
	c.remote.shutdown(err)
}

func (c *MockConn) OnMessage(handler MessageHandler) { c.SetMessage(handler) }

func (c *MockConn) OnClose(handler CloseHandler) { c.SetClose(handler) }

// Sent returns every frame sent from this end.
func (c *MockConn) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte{}, c.sent...)
}

func (c *MockConn) shutdown(err error) {
	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return
	}
	c.open = false
	c.queue = append(c.queue, mockFrame{close: true, err: err})
	c.mu.Unlock()
	c.signal()
}

func (c *MockConn) enqueue(f mockFrame) {
	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return
	}
	c.queue = append(c.queue, f)
	c.mu.Unlock()
	c.signal()
}

func (c *MockConn) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *MockConn) pump() {
	for range c.wake {
		for {
			c.mu.Lock()
			if len(c.queue) == 0 {
				c.mu.Unlock()
				break
			}
			f := c.queue[0]
			c.queue = c.queue[1:]
			c.mu.Unlock()

			if f.close {
				c.FireClose(f.err)
				return
			}
			c.Deliver(f.data)
		}
	}
}
