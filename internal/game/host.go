// Package game implements the authoritative host: the roster, the phase
// state machine, the join and reconnect protocol, the round manager and
// the snapshot fan-out. Game modes plug in through Mode.
package game

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/LemmyAI/duelo/internal/metrics"
	"github.com/LemmyAI/duelo/internal/protocol"
	"github.com/LemmyAI/duelo/internal/random"
	"github.com/LemmyAI/duelo/internal/room"
)

// Config holds game rules.
type Config struct {
	InitialScore  float64       // Score at join and at every new main round (default: 150)
	TargetScore   float64       // Reaching it wins the main round (default: 300)
	BankruptScore float64       // At or below it a player is bankrupt (default: 0)
	RoundsToWin   int           // Main rounds needed to win the game (default: 5)
	TotalRounds   int           // Main rounds before the game ends on score (default: 9)
	BriefingDelay time.Duration // Auto-continue after a round briefing; 0 waits for the operator
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		InitialScore:  150,
		TargetScore:   300,
		BankruptScore: 0,
		RoundsToWin:   5,
		TotalRounds:   9,
	}
}

// Tombstone remembers a player who dropped mid-game so they can reclaim
// their seat by name.
type Tombstone struct {
	ID       string
	Name     string
	PrePause protocol.Phase
}

// Host is the authoritative game state. Every entry point takes the lock,
// mutates, and broadcasts one snapshot if anything changed.
type Host struct {
	mu      sync.Mutex
	cfg     Config
	out     Broadcaster
	clock   clock.Clock
	rnd     random.Random
	log     *zap.Logger
	metrics *metrics.Metrics

	roster     *room.Roster
	phase      protocol.Phase
	tombstones []Tombstone

	modes     map[string]Mode
	modeOrder []string
	selected  string
	active    Mode

	currentRound int
	roundsWon    map[string]int
	briefing     *protocol.Briefing
	winner       *protocol.PlayerView

	seq   uint64
	dirty bool

	epoch    uint64
	timerSeq uint64
	timers   map[uint64]*clock.Timer
	closed   bool
}

// Option configures a Host.
type Option func(*Host)

// WithClock sets the clock gameplay timers run on.
func WithClock(c clock.Clock) Option {
	return func(h *Host) { h.clock = c }
}

// WithRandom sets the randomness source handed to modes.
func WithRandom(r random.Random) Option {
	return func(h *Host) { h.rnd = r }
}

// WithLogger sets the host logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Host) { h.log = l }
}

// WithMetrics sets the collectors the host reports to.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Host) { h.metrics = m }
}

// NewHost creates a host in the lobby. Modes are offered in the given
// order.
func NewHost(cfg Config, out Broadcaster, modes []Mode, opts ...Option) *Host {
	h := &Host{
		cfg:       cfg,
		out:       out,
		clock:     clock.New(),
		rnd:       random.New(),
		log:       zap.NewNop(),
		metrics:   metrics.NewNop(),
		roster:    room.NewRoster(),
		phase:     protocol.PhaseLobby,
		modes:     make(map[string]Mode, len(modes)),
		roundsWon: make(map[string]int),
		timers:    make(map[uint64]*clock.Timer),
	}
	for _, m := range modes {
		h.modes[modeKey(m.Name())] = m
		h.modeOrder = append(h.modeOrder, m.Name())
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.Named("game")
	return h
}

// ConnectionOpened sends the current snapshot to a freshly accepted
// connection.
func (h *Host) ConnectionOpened(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	defer h.flushLocked()
	if h.closed {
		return
	}

	msg, err := protocol.NewStateSync(h.snapshotLocked())
	if err != nil {
		h.log.Error("build snapshot", zap.Error(err))
		return
	}
	h.out.SendTo(connID, msg)
}

// HandleMessage routes a decoded controller message.
func (h *Host) HandleMessage(connID string, p protocol.Payload) {
	switch m := p.(type) {
	case *protocol.Identify:
		h.HandleIdentify(connID, m.Name)
	case *protocol.PlayerAction:
		h.HandleAction(connID, m.Action, m.Value)
	default:
		h.log.Debug("ignoring controller message",
			zap.String("conn", connID),
			zap.String("type", protocol.MessageTypeName(p)))
	}
}

// HandleIdentify joins, rejoins or rejects a controller by name.
func (h *Host) HandleIdentify(connID, name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	defer h.flushLocked()
	if h.closed {
		return
	}

	if h.roster.Get(connID) != nil && h.tombstoneByID(connID) < 0 {
		return
	}

	if i := h.tombstoneByName(name); i >= 0 {
		h.reconnectLocked(i, connID)
		return
	}

	p, err := h.roster.Join(connID, name, h.cfg.InitialScore, h.clock.Now())
	switch {
	case errors.Is(err, room.ErrNameInUse):
		h.rejectLocked(connID, name, protocol.MsgNameInUse, "name_in_use")
		return
	case errors.Is(err, room.ErrRoomFull):
		h.rejectLocked(connID, name, protocol.MsgRoomFull, "room_full")
		return
	case errors.Is(err, room.ErrIDInUse):
		h.rejectLocked(connID, name, protocol.MsgConnInUse, "conn_in_use")
		return
	case err != nil:
		h.log.Error("join failed", zap.String("name", name), zap.Error(err))
		return
	}

	if h.active != nil {
		p.ModeData = h.active.NewPlayerData()
	}
	h.dirty = true
	h.log.Info("✅ player joined",
		zap.String("name", p.Name),
		zap.String("conn", connID),
		zap.Int("slot", p.Slot))
}

func (h *Host) reconnectLocked(i int, connID string) {
	t := h.tombstones[i]
	if _, err := h.roster.Rehome(t.ID, connID); err != nil {
		if errors.Is(err, room.ErrIDInUse) {
			h.rejectLocked(connID, t.Name, protocol.MsgConnInUse, "conn_in_use")
			return
		}
		h.log.Error("rehome failed", zap.String("name", t.Name), zap.Error(err))
		return
	}
	h.tombstones = append(h.tombstones[:i], h.tombstones[i+1:]...)
	h.metrics.Reconnects.Inc()
	h.dirty = true
	h.log.Info("🔄 player reconnected",
		zap.String("name", t.Name),
		zap.String("old_conn", t.ID),
		zap.String("conn", connID))

	if len(h.tombstones) == 0 {
		h.setPhaseLocked(t.PrePause)
	}
}

func (h *Host) rejectLocked(connID, name, message, reason string) {
	h.metrics.IdentifyRejected.WithLabelValues(reason).Inc()
	h.log.Info("🚫 identify rejected",
		zap.String("name", name),
		zap.String("conn", connID),
		zap.String("reason", reason))
	h.out.SendTo(connID, protocol.NewError(message))
}

// HandleDisconnect pauses the game when a player drops mid-game, or
// removes them from the lobby.
func (h *Host) HandleDisconnect(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	defer h.flushLocked()
	if h.closed {
		return
	}

	p := h.roster.Get(connID)
	if p == nil || h.tombstoneByID(connID) >= 0 {
		return
	}

	switch h.phase {
	case protocol.PhaseLobby, protocol.PhaseGameOver:
		_, _ = h.roster.Leave(connID)
		h.dirty = true
		h.log.Info("❎ player left", zap.String("name", p.Name), zap.String("conn", connID))
		return
	}

	prePause := h.phase
	if h.phase == protocol.PhasePaused && len(h.tombstones) > 0 {
		prePause = h.tombstones[0].PrePause
	}
	h.tombstones = append(h.tombstones, Tombstone{ID: connID, Name: p.Name, PrePause: prePause})
	h.metrics.Pauses.Inc()
	h.log.Warn("⏸️ player dropped mid-game, pausing",
		zap.String("name", p.Name),
		zap.String("conn", connID),
		zap.String("phase", string(prePause)))
	h.setPhaseLocked(protocol.PhasePaused)
}

// HandleAction forwards gameplay input to the active mode.
func (h *Host) HandleAction(connID, action string, value json.RawMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	defer h.flushLocked()
	if h.closed {
		return
	}

	p := h.roster.Get(connID)
	if p == nil || h.tombstoneByID(connID) >= 0 {
		return
	}
	if h.phase == protocol.PhasePaused || h.active == nil {
		return
	}
	h.active.HandleAction(dispatcher{h}, p.ID, action, value)
}

// Snapshot returns the current projection without broadcasting it.
func (h *Host) Snapshot() protocol.Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshotLocked()
}

// Phase returns the current phase.
func (h *Host) Phase() protocol.Phase {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.phase
}

// Tombstones returns the players awaiting reconnection.
func (h *Host) Tombstones() []Tombstone {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Tombstone(nil), h.tombstones...)
}

// Close stops every timer. The host ignores controller input afterwards,
// and operator calls return ErrClosed.
func (h *Host) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.stopTimersLocked()
}

func (h *Host) setPhaseLocked(phase protocol.Phase) {
	if phase == h.phase {
		h.dirty = true
		return
	}
	h.stopTimersLocked()
	h.phase = phase
	h.dirty = true

	if h.active == nil || !h.active.Owns(phase) {
		return
	}
	if h.briefing != nil {
		// The round is settled; only the briefing is outstanding.
		if h.cfg.BriefingDelay > 0 {
			h.afterLocked(h.cfg.BriefingDelay, h.continueLocked)
		}
		return
	}
	h.active.Enter(dispatcher{h}, phase)
}

func (h *Host) tombstoneByName(name string) int {
	for i, t := range h.tombstones {
		if strings.EqualFold(t.Name, name) {
			return i
		}
	}
	return -1
}

func (h *Host) tombstoneByID(id string) int {
	for i, t := range h.tombstones {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func (h *Host) flushLocked() {
	if !h.dirty || h.closed {
		return
	}
	h.dirty = false
	h.seq++

	msg, err := protocol.NewStateSync(h.snapshotLocked())
	if err != nil {
		h.log.Error("build snapshot", zap.Error(err))
		return
	}
	h.out.Broadcast(msg)
	h.metrics.SnapshotsSent.Inc()
}

func (h *Host) snapshotLocked() protocol.Snapshot {
	s := protocol.Snapshot{
		Seq:                 h.seq,
		GamePhase:           h.phase,
		AllPlayers:          []protocol.PlayerView{},
		CurrentRound:        h.currentRound,
		TotalRounds:         h.cfg.TotalRounds,
		MainRoundsWon:       make(map[string]int, len(h.roundsWon)),
		SelectedGameMode:    h.selected,
		AvailableModes:      append([]string{}, h.modeOrder...),
		DisconnectedPlayers: []string{},
		RoundBriefing:       h.briefing,
		WinningPlayer:       h.winner,
	}
	for name, won := range h.roundsWon {
		s.MainRoundsWon[name] = won
	}
	for _, t := range h.tombstones {
		s.DisconnectedPlayers = append(s.DisconnectedPlayers, t.Name)
	}
	for _, p := range h.roster.Players() {
		s.AllPlayers = append(s.AllPlayers, h.playerViewLocked(p))
	}
	if h.active != nil {
		raw, err := json.Marshal(h.active.View())
		if err != nil {
			h.log.Error("marshal mode state", zap.String("mode", h.active.Name()), zap.Error(err))
		} else {
			s.ModeState = raw
		}
	}
	return s
}

func (h *Host) playerViewLocked(p *room.Player) protocol.PlayerView {
	v := protocol.PlayerView{
		ID:         p.ID,
		Name:       p.Name,
		Score:      p.Score,
		Slot:       p.Slot,
		KeyLabel:   p.KeyLabel,
		ControlKey: p.ControlKey,
		Connected:  h.tombstoneByID(p.ID) < 0,
	}
	if h.active != nil && p.ModeData != nil {
		raw, err := json.Marshal(h.active.PlayerView(p))
		if err == nil {
			v.ModeData = raw
		}
	}
	return v
}
