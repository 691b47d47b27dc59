package controller

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/LemmyAI/duelo/internal/modes/crash"
	"github.com/LemmyAI/duelo/internal/modes/roulette"
	"github.com/LemmyAI/duelo/internal/peer"
	"github.com/LemmyAI/duelo/internal/protocol"
	"github.com/LemmyAI/duelo/internal/transport"
)

// MsgMissingFields is shown when Join is called without a name or code.
const MsgMissingFields = "enter your name and the room code"

// UpdateKind says what changed in a Session.
type UpdateKind int

const (
	UpdateStatus UpdateKind = iota
	UpdateState
	UpdateError
	UpdateKicked
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateStatus:
		return "status"
	case UpdateState:
		return "state"
	case UpdateError:
		return "error"
	case UpdateKicked:
		return "kicked"
	default:
		return "unknown"
	}
}

// Update is delivered to the session's observer after every change.
type Update struct {
	Kind    UpdateKind
	Status  peer.Status
	Message string
}

// Session is one player's connection to a room.
type Session struct {
	client   *peer.Client
	store    *Store
	log      *zap.Logger
	onUpdate func(Update)
}

type sessionOptions struct {
	client   []peer.ClientOption
	log      *zap.Logger
	onUpdate func(Update)
}

// Option configures a Session.
type Option func(*sessionOptions)

// WithClientOptions passes options through to the underlying peer.Client.
func WithClientOptions(opts ...peer.ClientOption) Option {
	return func(o *sessionOptions) { o.client = append(o.client, opts...) }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *sessionOptions) { o.log = l }
}

// OnUpdate sets the observer. It runs on transport goroutines and must not
// block.
func OnUpdate(fn func(Update)) Option {
	return func(o *sessionOptions) { o.onUpdate = fn }
}

// NewSession creates a session that has not joined any room.
func NewSession(dialer transport.Dialer, cfg peer.ClientConfig, opts ...Option) *Session {
	o := sessionOptions{
		log:      zap.NewNop(),
		onUpdate: func(Update) {},
	}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Session{
		store:    NewStore(""),
		log:      o.log.Named("controller"),
		onUpdate: o.onUpdate,
	}
	clientOpts := append([]peer.ClientOption{
		peer.WithClientLogger(o.log),
	}, o.client...)
	clientOpts = append(clientOpts, peer.OnStatus(s.handleStatus), peer.OnMessage(s.handleMessage))
	s.client = peer.NewClient(dialer, cfg, clientOpts...)
	return s
}

// Join connects to the room and identifies as name once connected. The
// code is matched without regard to case.
func (s *Session) Join(ctx context.Context, name, code string) error {
	name = strings.TrimSpace(name)
	code = strings.ToUpper(strings.TrimSpace(code))
	if name == "" || code == "" {
		s.store.SetError(MsgMissingFields)
		s.onUpdate(Update{Kind: UpdateError, Message: MsgMissingFields})
		return ErrMissingFields
	}

	s.store.Reset("")
	s.store.setName(name)
	s.log.Info("🎮 joining room", zap.String("code", code), zap.String("name", name))
	return s.client.Connect(ctx, code)
}

// Store returns the session's state.
func (s *Session) Store() *Store { return s.store }

// Status returns the connection status and its error message.
func (s *Session) Status() (peer.Status, string) { return s.client.Status() }

// BetCrash confirms a crash bet.
func (s *Session) BetCrash(amount float64) error {
	return s.Act(crash.ActionConfirmBet, amount)
}

// CashOut takes the current crash multiplier.
func (s *Session) CashOut() error {
	return s.Act(crash.ActionCashOut, nil)
}

// BetRoulette confirms a roulette bet.
func (s *Session) BetRoulette(color roulette.Color, amount float64) error {
	return s.Act(roulette.ActionConfirmBet, roulette.Bet{Color: color, Amount: amount})
}

// Act sends a raw PLAYER_ACTION.
func (s *Session) Act(action string, value any) error {
	msg, err := protocol.NewPlayerAction(action, value)
	if err != nil {
		return err
	}
	return s.client.Send(msg)
}

// Leave disconnects and forgets the room.
func (s *Session) Leave() {
	s.client.Reset()
	s.store.Reset("")
}

// Close leaves the room for good.
func (s *Session) Close() error {
	return s.client.Close()
}

func (s *Session) handleStatus(ev peer.StatusEvent) {
	switch ev.Status {
	case peer.StatusConnected:
		s.store.SetError("")
		if err := s.client.Send(protocol.NewIdentify(s.store.Name())); err != nil {
			s.log.Warn("identify failed", zap.Error(err))
		}
	case peer.StatusReconnecting:
		s.store.SetError(ev.Error)
	case peer.StatusError:
		s.store.Reset(ev.Error)
	}
	s.onUpdate(Update{Kind: UpdateStatus, Status: ev.Status, Message: ev.Error})
}

func (s *Session) handleMessage(p protocol.Payload) {
	switch msg := p.(type) {
	case *protocol.StateSync:
		applied, err := s.store.Apply(msg.State)
		if err != nil {
			s.log.Warn("dropping bad snapshot", zap.Error(err))
			return
		}
		if applied {
			s.onUpdate(Update{Kind: UpdateState})
		}
	case *protocol.Error:
		s.store.SetError(msg.Message)
		s.onUpdate(Update{Kind: UpdateError, Message: msg.Message})
	case *protocol.Kick:
		s.log.Info("👢 kicked by host", zap.String("message", msg.Message))
		s.client.Reset()
		s.store.Reset(msg.Message)
		s.onUpdate(Update{Kind: UpdateKicked, Message: msg.Message})
	default:
		s.log.Debug("ignoring message", zap.String("type", protocol.MessageTypeName(p)))
	}
}
