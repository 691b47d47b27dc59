package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// PeerPath is the URL prefix under which WSNetwork serves listener
// addresses.
const PeerPath = "/peer/"

// WSNetwork is a direct WebSocket Network for LAN play. The host mounts it
// on its HTTP server under PeerPath; controllers dial baseURL + PeerPath + addr.
type WSNetwork struct {
	config   Config
	baseURL  string
	upgrader websocket.Upgrader
	dialer   *websocket.Dialer
	log      *zap.Logger

	mu        sync.Mutex
	listeners map[string]*wsListener
}

// NewWSNetwork creates a WebSocket network. baseURL is only needed for
// dialing, e.g. "ws://192.168.0.10:8080".
func NewWSNetwork(config Config, baseURL string, logger *zap.Logger) *WSNetwork {
	return &WSNetwork{
		config:  config,
		baseURL: strings.TrimRight(baseURL, "/"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		dialer:    &websocket.Dialer{HandshakeTimeout: config.WriteTimeout},
		log:       logger.Named("ws"),
		listeners: make(map[string]*wsListener),
	}
}

// Listen claims addr on this process.
func (n *WSNetwork) Listen(_ context.Context, addr string) (Listener, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, taken := n.listeners[addr]; taken {
		return nil, fmt.Errorf("%w: %s", ErrAddrInUse, addr)
	}
	l := &wsListener{network: n, addr: addr}
	n.listeners[addr] = l
	return l, nil
}

// ServeHTTP upgrades requests for PeerPath/<addr>?id=<peer>.
func (n *WSNetwork) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	addr := strings.TrimPrefix(r.URL.Path, PeerPath)

	n.mu.Lock()
	l, ok := n.listeners[addr]
	n.mu.Unlock()
	if !ok {
		http.Error(w, "peer unavailable", http.StatusNotFound)
		return
	}

	peerID := r.URL.Query().Get("id")
	if peerID == "" {
		peerID = uuid.New().String()[:8]
	}
	if l.holds(peerID) {
		n.log.Warn("🚫 peer id already connected", zap.String("addr", addr), zap.String("peer", peerID))
		http.Error(w, "peer id in use", http.StatusConflict)
		return
	}

	ws, err := n.upgrader.Upgrade(w, r, nil)
	if err != nil {
		n.log.Warn("upgrade failed", zap.String("addr", addr), zap.Error(err))
		return
	}

	c := newWSConn(peerID, ws, n.config)
	c.onDone = func() { l.forget(c) }
	n.log.Debug("🔌 peer connected", zap.String("addr", addr), zap.String("peer", peerID))
	l.accept(c)
	c.start()
}

// Dial connects to the listener at addr.
func (n *WSNetwork) Dial(ctx context.Context, addr string) (Conn, error) {
	if n.baseURL == "" {
		return nil, errors.New("ws network has no base url")
	}

	id := uuid.New().String()[:8]
	u := n.baseURL + PeerPath + url.PathEscape(addr) + "?id=" + url.QueryEscape(id)
	ws, resp, err := n.dialer.DialContext(ctx, u, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrPeerUnavailable, addr)
		}
		if resp != nil && resp.StatusCode == http.StatusConflict {
			return nil, fmt.Errorf("%w: %s", ErrIDInUse, id)
		}
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	c := newWSConn(addr, ws, n.config)
	c.start()
	return c, nil
}

func (n *WSNetwork) release(addr string, l *wsListener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.listeners[addr] == l {
		delete(n.listeners, addr)
	}
}

type wsListener struct {
	network *WSNetwork
	addr    string

	mu      sync.Mutex
	handler ConnectHandler
	pending []Conn
	conns   map[*wsConn]struct{}
	closed  bool
}

func (l *wsListener) Addr() string { return l.addr }

func (l *wsListener) OnConnection(handler ConnectHandler) {
	l.mu.Lock()
	l.handler = handler
	pending := l.pending
	l.pending = nil
	l.mu.Unlock()

	for _, c := range pending {
		handler(c)
	}
}

func (l *wsListener) Close() error {
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
	for c := range conns {
		_ = c.Close()
	}
	return nil
}

func (l *wsListener) accept(c *wsConn) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		_ = c.Close()
		return
	}
	if l.conns == nil {
		l.conns = make(map[*wsConn]struct{})
	}
	l.conns[c] = struct{}{}
	handler := l.handler
	if handler == nil {
		l.pending = append(l.pending, c)
	}
	l.mu.Unlock()

	if handler != nil {
		handler(c)
	}
}

// holds reports whether a live conn already uses id.
func (l *wsListener) holds(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for c := range l.conns {
		if c.id == id && c.Open() {
			return true
		}
	}
	return false
}

func (l *wsListener) forget(c *wsConn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.conns, c)
}

// wsConn runs one read goroutine and one write pump per socket.
type wsConn struct {
	Hooks

	id     string
	ws     *websocket.Conn
	config Config
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	open   atomic.Bool
	err    atomic.Value
	onDone func()
}

func newWSConn(id string, ws *websocket.Conn, config Config) *wsConn {
	config = config.withDefaults()
	c := &wsConn{
		id:     id,
		ws:     ws,
		config: config,
		send:   make(chan []byte, config.SendBufferSize),
		done:   make(chan struct{}),
	}
	c.open.Store(true)
	ws.SetReadLimit(int64(config.MaxMessageSize))
	return c
}

func (c *wsConn) start() {
	go c.writePump()
	go c.readPump()
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Open() bool { return c.open.Load() }

func (c *wsConn) Send(data []byte) error {
	if !c.open.Load() {
		return ErrNotOpen
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrNotOpen
	default:
		return ErrBufferFull
	}
}

func (c *wsConn) Close() error {
	c.shutdown(nil)
	return nil
}

func (c *wsConn) OnMessage(handler MessageHandler) { c.SetMessage(handler) }

func (c *wsConn) OnClose(handler CloseHandler) { c.SetClose(handler) }

func (c *wsConn) shutdown(err error) {
	c.once.Do(func() {
		if err != nil {
			c.err.Store(err)
		}
		c.open.Store(false)
		close(c.done)
	})
}

func (c *wsConn) readPump() {
	defer func() {
		c.shutdown(nil)
		var err error
		if v := c.err.Load(); v != nil {
			err = v.(error)
		}
		c.FireClose(err)
		if c.onDone != nil {
			c.onDone()
		}
	}()

	pongWait := c.config.ReadTimeout
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.open.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.shutdown(err)
			}
			return
		}
		c.Deliver(data)
	}
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case data := <-c.send:
			if err := c.write(websocket.BinaryMessage, data); err != nil {
				c.shutdown(err)
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.shutdown(err)
				return
			}
		case <-c.done:
			c.flush()
			_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes whatever was queued before the close so a final KICK still
// reaches the peer.
func (c *wsConn) flush() {
	for {
		select {
		case data := <-c.send:
			if err := c.write(websocket.BinaryMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *wsConn) write(messageType int, data []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	return c.ws.WriteMessage(messageType, data)
}
