package game

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/LemmyAI/duelo/internal/protocol"
	"github.com/LemmyAI/duelo/internal/random"
	"github.com/LemmyAI/duelo/internal/room"
)

// Mode is a pluggable game mode. The host calls it with its lock held;
// a mode touches shared state only through the Dispatcher it is handed.
// A Dispatcher may be captured by the timer callbacks it schedules, which
// also run under the lock, but by nothing else.
type Mode interface {
	Name() string

	// Owns reports whether phase belongs to this mode.
	Owns(phase protocol.Phase) bool

	// Start begins a fresh game: reset every counter and enter the
	// mode's first phase.
	Start(d Dispatcher)

	// Enter runs on every transition into a phase the mode owns,
	// including the restore after a pause. It re-arms whatever timers
	// that phase needs.
	Enter(d Dispatcher, phase protocol.Phase)

	// HandleAction applies one player's input.
	HandleAction(d Dispatcher, playerID, action string, value json.RawMessage)

	// ResetRound prepares the next round and enters its first phase.
	// newMainRound also resets per-main-round counters.
	ResetRound(d Dispatcher, newMainRound bool)

	// NewPlayerData returns fresh per-player state for ModeData.
	NewPlayerData() any

	// PlayerView projects a player's ModeData for the snapshot.
	PlayerView(p *room.Player) any

	// View projects the mode's own state for the snapshot.
	View() any
}

// Dispatcher is the mutation surface the host exposes to modes.
type Dispatcher interface {
	Phase() protocol.Phase

	// SetPhase moves the state machine. Changing to a different phase
	// cancels every pending timer before the mode's Enter runs.
	SetPhase(phase protocol.Phase)

	// Players returns the roster ordered by slot.
	Players() []*room.Player
	Player(id string) *room.Player

	// After runs fn once after d, unless the phase changes first.
	After(d time.Duration, fn func())

	// Every runs fn every d until the phase changes.
	Every(d time.Duration, fn func())

	Now() time.Time
	Rand() random.Random
	Config() Config

	// ContinueOrEndRound hands a finished round to the round manager.
	ContinueOrEndRound()

	// MarkDirty schedules a snapshot broadcast.
	MarkDirty()

	Logger() *zap.Logger
}

// dispatcher adapts Host to Dispatcher. It is only valid while the host
// lock is held.
type dispatcher struct {
	h *Host
}

var _ Dispatcher = dispatcher{}

func (d dispatcher) Phase() protocol.Phase         { return d.h.phase }
func (d dispatcher) SetPhase(phase protocol.Phase) { d.h.setPhaseLocked(phase) }
func (d dispatcher) Players() []*room.Player       { return d.h.roster.Players() }
func (d dispatcher) Player(id string) *room.Player { return d.h.roster.Get(id) }
func (d dispatcher) After(dur time.Duration, fn func()) {
	d.h.afterLocked(dur, fn)
}
func (d dispatcher) Every(dur time.Duration, fn func()) {
	d.h.everyLocked(dur, fn)
}
func (d dispatcher) Now() time.Time      { return d.h.clock.Now() }
func (d dispatcher) Rand() random.Random { return d.h.rnd }
func (d dispatcher) Config() Config      { return d.h.cfg }
func (d dispatcher) ContinueOrEndRound() { d.h.continueOrEndRoundLocked() }
func (d dispatcher) MarkDirty()          { d.h.dirty = true }
func (d dispatcher) Logger() *zap.Logger { return d.h.log }
