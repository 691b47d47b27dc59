package game

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LemmyAI/duelo/internal/protocol"
	"github.com/LemmyAI/duelo/internal/room"
)

// finishRound ends the current stub round with the given score changes
// and waits for the round manager to run.
func (f *fixture) finishRound(t *testing.T, ana, beto float64) {
	t.Helper()
	if ana != 0 {
		f.action("c1", "score", ana)
	}
	if beto != 0 {
		f.action("c2", "score", beto)
	}
	resets := len(f.mode.Resets())
	f.action("c1", "end", nil)
	require.Equal(t, stubEnded, f.host.Phase())

	f.clock.Add(stubSettle)
	require.Eventually(t, func() bool {
		s := f.host.Snapshot()
		return s.RoundBriefing != nil ||
			s.GamePhase != stubEnded ||
			len(f.mode.Resets()) > resets
	}, time.Second, 5*time.Millisecond)
}

func TestRounds_ContinueWithoutBriefing(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.playing(t)

	f.finishRound(t, 20, -20)

	assert.Equal(t, stubBetting, f.host.Phase())
	assert.Equal(t, []bool{false}, f.mode.Resets())
	s := f.host.Snapshot()
	assert.Nil(t, s.RoundBriefing)
	assert.Equal(t, 1, s.CurrentRound)
	assert.Equal(t, 170.0, playerNamed(s, "Ana").Score, "scores carry across sub-rounds")
}

func TestRounds_TargetReachedPublishesBriefing(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.playing(t)

	f.finishRound(t, 150, 0)

	s := f.host.Snapshot()
	require.NotNil(t, s.RoundBriefing)
	assert.Equal(t, "Ana", s.RoundBriefing.Winner)
	assert.False(t, s.RoundBriefing.Draw)
	assert.Equal(t, []protocol.ScoreLine{{Name: "Ana", Score: 300}, {Name: "Beto", Score: 150}}, s.RoundBriefing.Scores)
	assert.Equal(t, map[string]int{"Ana": 1}, s.MainRoundsWon)
	assert.Equal(t, stubEnded, s.GamePhase, "waits for the operator")

	require.NoError(t, f.host.Continue())

	s = f.host.Snapshot()
	assert.Nil(t, s.RoundBriefing)
	assert.Equal(t, 2, s.CurrentRound)
	assert.Equal(t, stubBetting, s.GamePhase)
	assert.Equal(t, []bool{true}, f.mode.Resets())
	for _, p := range s.AllPlayers {
		assert.Equal(t, 150.0, p.Score)
	}

	assert.ErrorIs(t, f.host.Continue(), ErrWrongPhase)
}

func TestRounds_BankruptOpponentLoses(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.playing(t)

	f.finishRound(t, 0, -150)

	s := f.host.Snapshot()
	require.NotNil(t, s.RoundBriefing)
	assert.Equal(t, "Ana", s.RoundBriefing.Winner)
}

func TestRounds_RoundsToWinEndsGame(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RoundsToWin = 2
	f := newFixture(t, cfg)
	f.playing(t)

	f.finishRound(t, 0, 150)
	require.NoError(t, f.host.Continue())
	f.finishRound(t, 0, 150)

	s := f.host.Snapshot()
	assert.Equal(t, protocol.PhaseGameOver, s.GamePhase)
	require.NotNil(t, s.WinningPlayer)
	assert.Equal(t, "Beto", s.WinningPlayer.Name)
	assert.Equal(t, 2, s.MainRoundsWon["Beto"])
	assert.Nil(t, s.RoundBriefing)

	// A controller dropping after the game is over just leaves.
	f.host.HandleDisconnect("c1")
	assert.Equal(t, protocol.PhaseGameOver, f.host.Phase())
	assert.Len(t, f.host.Snapshot().AllPlayers, 1)
}

func TestRounds_TotalRoundsEndsOnScore(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TotalRounds = 1
	f := newFixture(t, cfg)
	f.playing(t)

	f.finishRound(t, 150, 0)
	require.NoError(t, f.host.Continue())

	s := f.host.Snapshot()
	assert.Equal(t, protocol.PhaseGameOver, s.GamePhase)
	require.NotNil(t, s.WinningPlayer)
	assert.Equal(t, "Ana", s.WinningPlayer.Name)
}

func TestRounds_TotalRoundsDraw(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TotalRounds = 1
	f := newFixture(t, cfg)
	f.playing(t)

	f.finishRound(t, -150, -150)

	s := f.host.Snapshot()
	require.NotNil(t, s.RoundBriefing)
	assert.True(t, s.RoundBriefing.Draw)
	assert.Empty(t, s.MainRoundsWon)

	require.NoError(t, f.host.Continue())

	s = f.host.Snapshot()
	assert.Equal(t, protocol.PhaseGameOver, s.GamePhase)
	assert.Nil(t, s.WinningPlayer)
}

func TestRounds_BriefingAutoContinues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BriefingDelay = 3 * time.Second
	f := newFixture(t, cfg)
	f.playing(t)

	f.finishRound(t, 150, 0)
	require.NotNil(t, f.host.Snapshot().RoundBriefing)

	f.clock.Add(cfg.BriefingDelay)
	require.Eventually(t, func() bool {
		return f.host.Phase() == stubBetting
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, f.host.Snapshot().CurrentRound)
}

func TestRounds_PauseDuringBriefing(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.playing(t)
	f.finishRound(t, 150, 0)

	f.host.HandleDisconnect("c2")
	require.Equal(t, protocol.PhasePaused, f.host.Phase())
	assert.ErrorIs(t, f.host.Continue(), ErrWrongPhase)

	f.host.HandleIdentify("c3", "Beto")

	s := f.host.Snapshot()
	assert.Equal(t, stubEnded, s.GamePhase)
	require.NotNil(t, s.RoundBriefing, "briefing survives the pause")
	assert.Equal(t, 1, s.MainRoundsWon["Ana"], "outcome is not settled twice")

	f.mode.mu.Lock()
	enters := append([]protocol.Phase(nil), f.mode.enters...)
	f.mode.mu.Unlock()
	assert.Equal(t, []protocol.Phase{stubBetting, stubEnded}, enters)

	require.NoError(t, f.host.Continue())
	assert.Equal(t, stubBetting, f.host.Phase())
}

func TestRoundWinner(t *testing.T) {
	cfg := DefaultConfig()
	mk := func(a, b float64) []*room.Player {
		return []*room.Player{{Name: "Ana", Score: a, Slot: 1}, {Name: "Beto", Score: b, Slot: 2}}
	}

	tests := []struct {
		name   string
		scores [2]float64
		want   string
	}{
		{"first reaches target", [2]float64{300, 200}, "Ana"},
		{"second reaches target", [2]float64{100, 320}, "Beto"},
		{"first bankrupt", [2]float64{0, 40}, "Beto"},
		{"second bankrupt", [2]float64{12, -5}, "Ana"},
		{"both bankrupt", [2]float64{0, 0}, ""},
		{"nobody finished", [2]float64{150, 150}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := roundWinner(mk(tt.scores[0], tt.scores[1]), cfg)
			if tt.want == "" {
				assert.Nil(t, w)
				return
			}
			require.NotNil(t, w)
			assert.Equal(t, tt.want, w.Name)
		})
	}
}

func TestLeader(t *testing.T) {
	assert.Nil(t, leader(nil))
	assert.Nil(t, leader([]*room.Player{{Name: "a", Score: 10}, {Name: "b", Score: 10}}))
	assert.Equal(t, "b", leader([]*room.Player{{Name: "a", Score: 10}, {Name: "b", Score: 11}}).Name)
}
