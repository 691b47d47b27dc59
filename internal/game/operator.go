package game

import (
	"strings"

	"go.uber.org/zap"

	"github.com/LemmyAI/duelo/internal/protocol"
)

// StartGame moves the lobby to mode selection.
func (h *Host) StartGame() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	defer h.flushLocked()
	if h.closed {
		return ErrClosed
	}

	if h.phase != protocol.PhaseLobby {
		return ErrWrongPhase
	}
	if h.roster.IsEmpty() {
		return ErrNoPlayers
	}
	h.setPhaseLocked(protocol.PhaseCustomization)
	return nil
}

// SelectMode picks the mode Begin will start. Names match without regard
// to case.
func (h *Host) SelectMode(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	defer h.flushLocked()
	if h.closed {
		return ErrClosed
	}

	if h.phase != protocol.PhaseCustomization {
		return ErrWrongPhase
	}
	mode, ok := h.modes[modeKey(name)]
	if !ok {
		return ErrUnknownMode
	}
	h.selected = mode.Name()
	h.dirty = true
	return nil
}

// Begin starts the selected mode from round one.
func (h *Host) Begin() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	defer h.flushLocked()
	if h.closed {
		return ErrClosed
	}

	if h.phase != protocol.PhaseCustomization {
		return ErrWrongPhase
	}
	mode, ok := h.modes[modeKey(h.selected)]
	if !ok {
		return ErrNoModeSelected
	}
	if h.roster.IsEmpty() {
		return ErrNoPlayers
	}

	h.active = mode
	h.currentRound = 1
	h.roundsWon = make(map[string]int)
	h.briefing = nil
	h.winner = nil
	for _, p := range h.roster.Players() {
		p.Score = h.cfg.InitialScore
		p.ModeData = mode.NewPlayerData()
	}
	h.dirty = true
	h.log.Info("🎮 game started", zap.String("mode", mode.Name()), zap.Int("players", h.roster.Len()))

	mode.Start(dispatcher{h})
	return nil
}

// Continue dismisses the round briefing.
func (h *Host) Continue() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	defer h.flushLocked()
	if h.closed {
		return ErrClosed
	}

	if h.briefing == nil || h.phase == protocol.PhasePaused {
		return ErrWrongPhase
	}
	h.continueLocked()
	return nil
}

// Kick removes a player and tells their controller. Kicking mid-game
// returns everyone to the lobby.
func (h *Host) Kick(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	defer h.flushLocked()
	if h.closed {
		return ErrClosed
	}

	p := h.roster.Get(id)
	if p == nil {
		return ErrUnknownPlayer
	}

	_, _ = h.roster.Leave(id)
	if i := h.tombstoneByID(id); i >= 0 {
		h.tombstones = append(h.tombstones[:i], h.tombstones[i+1:]...)
	}
	h.dirty = true
	h.metrics.Kicks.Inc()
	h.log.Info("👢 player kicked", zap.String("name", p.Name), zap.String("conn", id))
	h.out.Kick(id, protocol.MsgKicked)

	switch h.phase {
	case protocol.PhaseLobby, protocol.PhaseCustomization, protocol.PhaseGameOver:
	default:
		h.resetToLobbyLocked()
	}
	return nil
}

// Abandon gives up on missing players and returns to the lobby. Connected
// players keep their seats.
func (h *Host) Abandon() {
	h.mu.Lock()
	defer h.mu.Unlock()
	defer h.flushLocked()
	if h.closed {
		return
	}

	h.resetToLobbyLocked()
}

func (h *Host) resetToLobbyLocked() {
	h.stopTimersLocked()

	for _, t := range h.tombstones {
		_, _ = h.roster.Leave(t.ID)
		h.log.Info("❎ abandoned disconnected player", zap.String("name", t.Name))
	}
	h.tombstones = nil

	for _, p := range h.roster.Players() {
		p.Score = h.cfg.InitialScore
		p.ModeData = nil
	}
	h.active = nil
	h.currentRound = 0
	h.roundsWon = make(map[string]int)
	h.briefing = nil
	h.winner = nil
	h.phase = protocol.PhaseLobby
	h.dirty = true
}

func modeKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
