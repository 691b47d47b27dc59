package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/LemmyAI/duelo/internal/metrics"
)

// Config holds signaling server settings.
type Config struct {
	ClaimTTL        time.Duration
	RefreshInterval time.Duration
	RegisterTimeout time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	RateLimit       rate.Limit
	RateBurst       int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ClaimTTL:        30 * time.Second,
		RefreshInterval: 10 * time.Second,
		RegisterTimeout: 10 * time.Second,
		ReadTimeout:     60 * time.Second,
		WriteTimeout:    10 * time.Second,
		PingInterval:    25 * time.Second,
		MaxMessageSize:  64 * 1024,
		RateLimit:       50,
		RateBurst:       100,
	}
}

// Server relays signaling frames between registered peers.
type Server struct {
	broker   Broker
	cfg      Config
	clock    clock.Clock
	metrics  *metrics.Metrics
	log      *zap.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[*session]struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithClock sets the clock driving claim refreshes.
func WithClock(c clock.Clock) Option {
	return func(s *Server) { s.clock = c }
}

// WithMetrics sets the collectors the server reports to.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the server logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.log = l }
}

// NewServer creates a signaling server on top of broker.
func NewServer(broker Broker, cfg Config, opts ...Option) *Server {
	s := &Server{
		broker:  broker,
		cfg:     cfg,
		clock:   clock.New(),
		metrics: metrics.NewNop(),
		log:     zap.NewNop(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sessions: make(map[*session]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("signal")
	return s
}

// ServeHTTP upgrades the request and runs the peer session until the
// socket closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sess := &session{
		server:   s,
		ws:       ws,
		owner:    uuid.New().String(),
		out:      make(chan Message, subscriptionBuffer),
		done:     make(chan struct{}),
		contacts: make(map[string]struct{}),
		limiter:  rate.NewLimiter(s.cfg.RateLimit, s.cfg.RateBurst),
	}
	sess.run(ctx)
}

// PeerCount returns the number of registered sessions.
func (s *Server) PeerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close disconnects every session. The broker is left open.
func (s *Server) Close() error {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for ss := range s.sessions {
		sessions = append(sessions, ss)
	}
	s.mu.Unlock()

	for _, ss := range sessions {
		ss.close()
	}
	return nil
}

func (s *Server) track(ss *session) {
	s.mu.Lock()
	s.sessions[ss] = struct{}{}
	s.mu.Unlock()
	s.metrics.SignalPeers.Inc()
}

func (s *Server) untrack(ss *session) {
	s.mu.Lock()
	delete(s.sessions, ss)
	s.mu.Unlock()
	s.metrics.SignalPeers.Dec()
}

type session struct {
	server  *Server
	ws      *websocket.Conn
	owner   string
	id      string
	sub     Subscription
	out     chan Message
	done    chan struct{}
	once    sync.Once
	limiter *rate.Limiter

	mu       sync.Mutex
	contacts map[string]struct{}
}

func (ss *session) run(ctx context.Context) {
	s := ss.server
	defer ss.ws.Close()

	if err := ss.register(ctx); err != nil {
		s.log.Debug("registration failed", zap.Error(err))
		return
	}

	s.track(ss)
	s.log.Info("📡 peer registered", zap.String("peer", ss.id))

	defer func() {
		s.untrack(ss)
		ss.farewell(ctx)
		_ = ss.sub.Close()
		if err := s.broker.Release(ctx, ss.id, ss.owner); err != nil {
			s.log.Warn("release claim failed", zap.String("peer", ss.id), zap.Error(err))
		}
		s.log.Info("📴 peer left", zap.String("peer", ss.id))
	}()

	go ss.writePump(ctx)
	ss.readLoop(ctx)
	ss.close()
}

func (ss *session) register(ctx context.Context) error {
	s := ss.server

	_ = ss.ws.SetReadDeadline(time.Now().Add(s.cfg.RegisterTimeout))
	var msg Message
	if err := ss.ws.ReadJSON(&msg); err != nil {
		return err
	}

	if msg.Type != TypeRegister || msg.Src == "" {
		s.metrics.SignalRejected.WithLabelValues(CodeInvalidMessage).Inc()
		ss.writeDirect(newError(CodeInvalidMessage, ""))
		return errors.New("first frame must be REGISTER with an id")
	}

	if err := s.broker.Claim(ctx, msg.Src, ss.owner, s.cfg.ClaimTTL); err != nil {
		if errors.Is(err, ErrIDTaken) {
			s.metrics.SignalRejected.WithLabelValues(CodeUnavailableID).Inc()
			ss.writeDirect(newError(CodeUnavailableID, msg.Src))
		}
		return err
	}

	sub, err := s.broker.Subscribe(ctx, msg.Src)
	if err != nil {
		_ = s.broker.Release(ctx, msg.Src, ss.owner)
		return err
	}

	ss.id = msg.Src
	ss.sub = sub
	ss.writeDirect(Message{Type: TypeRegistered, Src: ss.id})
	return nil
}

func (ss *session) readLoop(ctx context.Context) {
	s := ss.server

	ss.ws.SetReadLimit(s.cfg.MaxMessageSize)
	_ = ss.ws.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	ss.ws.SetPongHandler(func(string) error {
		return ss.ws.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	})

	for {
		_, data, err := ss.ws.ReadMessage()
		if err != nil {
			return
		}

		if !ss.limiter.Allow() {
			s.metrics.SignalRejected.WithLabelValues(CodeRateLimited).Inc()
			ss.reply(newError(CodeRateLimited, ""))
			continue
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil || !msg.Type.relayable() || msg.Dst == "" {
			s.metrics.SignalRejected.WithLabelValues(CodeInvalidMessage).Inc()
			ss.reply(newError(CodeInvalidMessage, msg.Dst))
			continue
		}

		msg.Src = ss.id
		ss.remember(msg.Dst)

		if err := s.broker.Publish(ctx, msg); err != nil {
			if errors.Is(err, ErrPeerUnavailable) {
				s.metrics.SignalRejected.WithLabelValues(CodePeerUnavailable).Inc()
				ss.reply(newError(CodePeerUnavailable, msg.Dst))
				continue
			}
			s.log.Warn("relay failed", zap.String("from", ss.id), zap.String("to", msg.Dst), zap.Error(err))
			continue
		}
		s.metrics.SignalRelayed.WithLabelValues(string(msg.Type)).Inc()
	}
}

func (ss *session) writePump(ctx context.Context) {
	s := ss.server

	refresh := s.clock.Ticker(s.cfg.RefreshInterval)
	ping := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		refresh.Stop()
		ping.Stop()
		ss.close()
	}()

	in := ss.sub.C()
	for {
		select {
		case msg, ok := <-in:
			if !ok {
				return
			}
			ss.remember(msg.Src)
			if err := ss.write(msg); err != nil {
				return
			}
		case msg := <-ss.out:
			if err := ss.write(msg); err != nil {
				return
			}
		case <-refresh.C:
			if err := s.broker.Refresh(ctx, ss.id, ss.owner, s.cfg.ClaimTTL); err != nil {
				s.log.Warn("claim refresh failed", zap.String("peer", ss.id), zap.Error(err))
			}
		case <-ping.C:
			_ = ss.ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := ss.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ss.done:
			return
		}
	}
}

func (ss *session) write(msg Message) error {
	_ = ss.ws.SetWriteDeadline(time.Now().Add(ss.server.cfg.WriteTimeout))
	return ss.ws.WriteJSON(msg)
}

// writeDirect is only used before the write pump starts.
func (ss *session) writeDirect(msg Message) {
	_ = ss.write(msg)
}

func (ss *session) reply(msg Message) {
	select {
	case ss.out <- msg:
	default:
	}
}

func (ss *session) remember(peer string) {
	if peer == "" {
		return
	}
	ss.mu.Lock()
	ss.contacts[peer] = struct{}{}
	ss.mu.Unlock()
}

// farewell tells every peer this session talked to that it is gone, so
// half-negotiated connections fail fast instead of timing out.
func (ss *session) farewell(ctx context.Context) {
	ss.mu.Lock()
	peers := make([]string, 0, len(ss.contacts))
	for p := range ss.contacts {
		peers = append(peers, p)
	}
	ss.mu.Unlock()

	for _, p := range peers {
		_ = ss.server.broker.Publish(ctx, Message{Type: TypeLeave, Src: ss.id, Dst: p})
	}
}

func (ss *session) close() {
	ss.once.Do(func() {
		close(ss.done)
		_ = ss.ws.Close()
	})
}
