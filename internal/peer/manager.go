// Package peer sits between the transports and the game: the host-side
// Manager tracks controller connections, and the controller-side Client
// keeps one connection to the host alive.
package peer

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/LemmyAI/duelo/internal/metrics"
	"github.com/LemmyAI/duelo/internal/protocol"
	"github.com/LemmyAI/duelo/internal/transport"
)

// DefaultKickGrace is how long a kicked connection stays open so the KICK
// frame can drain.
const DefaultKickGrace = 500 * time.Millisecond

// Handler receives connection events. game.Host implements it.
type Handler interface {
	ConnectionOpened(connID string)
	HandleMessage(connID string, p protocol.Payload)
	HandleDisconnect(connID string)
}

// Manager owns the host's live connections.
type Manager struct {
	mu        sync.RWMutex
	conns     map[string]transport.Conn
	listeners []transport.Listener
	handler   Handler

	codec     protocol.Codec
	clock     clock.Clock
	kickGrace time.Duration
	metrics   *metrics.Metrics
	log       *zap.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

func WithCodec(c protocol.Codec) ManagerOption {
	return func(m *Manager) { m.codec = c }
}

func WithManagerClock(c clock.Clock) ManagerOption {
	return func(m *Manager) { m.clock = c }
}

func WithKickGrace(d time.Duration) ManagerOption {
	return func(m *Manager) { m.kickGrace = d }
}

func WithMetrics(mt *metrics.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = mt }
}

func WithManagerLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) { m.log = l }
}

// NewManager creates a manager with no connections. Call SetHandler before
// accepting any.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		conns:     make(map[string]transport.Conn),
		codec:     protocol.JSON,
		clock:     clock.New(),
		kickGrace: DefaultKickGrace,
		metrics:   metrics.NewNop(),
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.Named("peer")
	return m
}

// SetHandler installs the receiver of connection events.
func (m *Manager) SetHandler(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

// Serve accepts every connection the listener produces.
func (m *Manager) Serve(l transport.Listener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, l)
	m.mu.Unlock()

	m.log.Info("🎧 accepting controllers", zap.String("addr", l.Addr()))
	l.OnConnection(m.Accept)
}

// Accept registers conn under its ID and wires its events to the handler.
// A conn whose ID is already registered is closed without ever reaching the
// handler.
func (m *Manager) Accept(conn transport.Conn) {
	id := conn.ID()

	m.mu.Lock()
	if _, exists := m.conns[id]; exists {
		m.mu.Unlock()
		m.log.Warn("🚫 refusing duplicate connection id", zap.String("conn", id))
		_ = conn.Close()
		return
	}
	m.metrics.ConnectionsOpen.Inc()
	m.conns[id] = conn
	h := m.handler
	m.mu.Unlock()

	m.log.Info("📱 controller connected", zap.String("conn", id))
	if h != nil {
		h.ConnectionOpened(id)
	}

	conn.OnMessage(func(data []byte) {
		p, err := m.codec.Unmarshal(data)
		if err != nil {
			m.log.Warn("dropping malformed frame", zap.String("conn", id), zap.Error(err))
			return
		}
		m.metrics.MessagesReceived.WithLabelValues(string(p.Type())).Inc()
		if h != nil {
			h.HandleMessage(id, p)
		}
	})

	conn.OnClose(func(err error) {
		m.mu.Lock()
		registered := m.conns[id] == conn
		if registered {
			delete(m.conns, id)
			m.metrics.ConnectionsOpen.Dec()
		}
		m.mu.Unlock()

		if !registered {
			m.log.Debug("ignoring close of unregistered conn", zap.String("conn", id))
			return
		}

		if err != nil {
			m.log.Warn("❎ controller connection failed", zap.String("conn", id), zap.Error(err))
		} else {
			m.log.Info("❎ controller disconnected", zap.String("conn", id))
		}
		if h != nil {
			h.HandleDisconnect(id)
		}
	})
}

// Broadcast sends p to every open connection. Failures are logged and
// skipped.
func (m *Manager) Broadcast(p protocol.Payload) {
	data, err := m.codec.Marshal(p)
	if err != nil {
		m.log.Error("encode broadcast", zap.String("type", protocol.MessageTypeName(p)), zap.Error(err))
		return
	}

	m.mu.RLock()
	conns := make([]transport.Conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	for _, c := range conns {
		m.send(c, data)
	}
}

// SendTo sends p to one connection, if it is open.
func (m *Manager) SendTo(connID string, p protocol.Payload) {
	conn := m.get(connID)
	if conn == nil {
		return
	}
	data, err := m.codec.Marshal(p)
	if err != nil {
		m.log.Error("encode message", zap.String("type", protocol.MessageTypeName(p)), zap.Error(err))
		return
	}
	m.send(conn, data)
}

// Kick tells a controller it was removed and closes the connection after
// the kick grace period.
func (m *Manager) Kick(connID, message string) {
	conn := m.get(connID)
	if conn == nil || !conn.Open() {
		return
	}
	data, err := m.codec.Marshal(protocol.NewKick(message))
	if err != nil {
		m.log.Error("encode kick", zap.Error(err))
		return
	}
	m.send(conn, data)
	m.log.Info("👢 kicking controller", zap.String("conn", connID))

	m.clock.AfterFunc(m.kickGrace, func() {
		_ = conn.Close()
	})
}

// Count returns the number of registered connections.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// Close shuts every listener and connection.
func (m *Manager) Close() error {
	m.mu.Lock()
	listeners := m.listeners
	m.listeners = nil
	conns := make([]transport.Conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	var err error
	for _, l := range listeners {
		err = multierr.Append(err, l.Close())
	}
	for _, c := range conns {
		err = multierr.Append(err, c.Close())
	}
	return err
}

func (m *Manager) get(connID string) transport.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conns[connID]
}

func (m *Manager) send(c transport.Conn, data []byte) {
	if !c.Open() {
		return
	}
	if err := c.Send(data); err != nil {
		m.metrics.SendFailures.Inc()
		m.log.Warn("send failed", zap.String("conn", c.ID()), zap.Error(err))
	}
}
