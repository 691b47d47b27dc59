package game

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/LemmyAI/duelo/internal/game/gametest"
	"github.com/LemmyAI/duelo/internal/protocol"
	"github.com/LemmyAI/duelo/internal/random"
	"github.com/LemmyAI/duelo/internal/room"
)

const (
	stubTick    = 100 * time.Millisecond
	stubSettle  = 500 * time.Millisecond
	stubBetting = protocol.PhaseCrashBetting
	stubActive  = protocol.PhaseCrashActive
	stubEnded   = protocol.PhaseCrashEnded
)

// stubMode is a minimal mode: "go" starts a ticker, "score" adds points,
// "end" settles the round and hands it to the round manager after
// stubSettle.
type stubMode struct {
	mu      sync.Mutex
	ticks   int
	starts  int
	resets  []bool
	enters  []protocol.Phase
	actions []string
}

type stubPlayer struct {
	Bet int `json:"bet"`
}

func (m *stubMode) Name() string { return "stub" }

func (m *stubMode) Owns(phase protocol.Phase) bool {
	return phase == stubBetting || phase == stubActive || phase == stubEnded
}

func (m *stubMode) Start(d Dispatcher) {
	m.mu.Lock()
	m.starts++
	m.ticks = 0
	m.mu.Unlock()
	d.SetPhase(stubBetting)
}

func (m *stubMode) Enter(d Dispatcher, phase protocol.Phase) {
	m.mu.Lock()
	m.enters = append(m.enters, phase)
	m.mu.Unlock()

	switch phase {
	case stubActive:
		d.Every(stubTick, func() {
			m.mu.Lock()
			m.ticks++
			m.mu.Unlock()
			d.MarkDirty()
		})
	case stubEnded:
		d.After(stubSettle, d.ContinueOrEndRound)
	}
}

func (m *stubMode) HandleAction(d Dispatcher, playerID, action string, value json.RawMessage) {
	m.mu.Lock()
	m.actions = append(m.actions, playerID+":"+action)
	m.mu.Unlock()

	switch action {
	case "go":
		d.SetPhase(stubActive)
	case "end":
		d.SetPhase(stubEnded)
	case "score":
		var delta float64
		if err := json.Unmarshal(value, &delta); err == nil {
			d.Player(playerID).Score += delta
			d.MarkDirty()
		}
	}
}

func (m *stubMode) ResetRound(d Dispatcher, newMainRound bool) {
	m.mu.Lock()
	m.resets = append(m.resets, newMainRound)
	m.mu.Unlock()
	d.SetPhase(stubBetting)
}

func (m *stubMode) NewPlayerData() any { return &stubPlayer{} }

func (m *stubMode) PlayerView(p *room.Player) any { return p.ModeData }

func (m *stubMode) View() any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]int{"ticks": m.ticks}
}

func (m *stubMode) Ticks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ticks
}

func (m *stubMode) Resets() []bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]bool(nil), m.resets...)
}

type fixture struct {
	host  *Host
	out   *gametest.Recorder
	mode  *stubMode
	clock *clock.Mock
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	f := &fixture{
		out:   gametest.NewRecorder(),
		mode:  &stubMode{},
		clock: clock.NewMock(),
	}
	f.host = NewHost(cfg, f.out, []Mode{f.mode},
		WithClock(f.clock),
		WithRandom(random.NewMock()),
		WithLogger(zaptest.NewLogger(t)))
	t.Cleanup(f.host.Close)
	return f
}

// playing joins Ana (c1) and Beto (c2) and starts the stub mode.
func (f *fixture) playing(t *testing.T) {
	t.Helper()
	f.host.HandleIdentify("c1", "Ana")
	f.host.HandleIdentify("c2", "Beto")
	require.NoError(t, f.host.StartGame())
	require.NoError(t, f.host.SelectMode("stub"))
	require.NoError(t, f.host.Begin())
	require.Equal(t, stubBetting, f.host.Phase())
}

func (f *fixture) action(connID, action string, value any) {
	var raw json.RawMessage
	if value != nil {
		raw, _ = json.Marshal(value)
	}
	f.host.HandleAction(connID, action, raw)
}

// advance moves the mock clock one step at a time so self-rescheduling
// timers get a chance to re-arm between steps.
func (f *fixture) advance(step time.Duration, n int) {
	for i := 0; i < n; i++ {
		f.clock.Add(step)
	}
}

func playerNamed(s protocol.Snapshot, name string) *protocol.PlayerView {
	for i := range s.AllPlayers {
		if s.AllPlayers[i].Name == name {
			return &s.AllPlayers[i]
		}
	}
	return nil
}
