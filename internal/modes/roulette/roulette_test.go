package roulette_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/LemmyAI/duelo/internal/game"
	"github.com/LemmyAI/duelo/internal/game/gametest"
	"github.com/LemmyAI/duelo/internal/modes/roulette"
	"github.com/LemmyAI/duelo/internal/protocol"
	"github.com/LemmyAI/duelo/internal/random"
)

type harness struct {
	t     *testing.T
	host  *game.Host
	clock *clock.Mock
	rnd   *random.Mock
	cfg   roulette.Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		clock: clock.NewMock(),
		rnd:   random.NewMock(),
		cfg:   roulette.DefaultConfig(),
	}
	h.host = game.NewHost(game.DefaultConfig(), gametest.NewRecorder(), []game.Mode{roulette.New(h.cfg)},
		game.WithClock(h.clock),
		game.WithRandom(h.rnd),
		game.WithLogger(zaptest.NewLogger(t)))
	t.Cleanup(h.host.Close)

	h.host.HandleIdentify("c1", "Ana")
	h.host.HandleIdentify("c2", "Beto")
	require.NoError(t, h.host.StartGame())
	require.NoError(t, h.host.SelectMode(roulette.Name))
	require.NoError(t, h.host.Begin())
	require.Equal(t, protocol.PhaseRouletteBetting, h.host.Phase())
	return h
}

func (h *harness) bet(connID string, color roulette.Color, amount float64) {
	raw, _ := json.Marshal(roulette.Bet{Color: color, Amount: amount})
	h.host.HandleAction(connID, roulette.ActionConfirmBet, raw)
}

func (h *harness) view() roulette.View {
	h.t.Helper()
	var v roulette.View
	require.NoError(h.t, json.Unmarshal(h.host.Snapshot().ModeState, &v))
	return v
}

func (h *harness) player(name string) (protocol.PlayerView, roulette.Player) {
	h.t.Helper()
	for _, p := range h.host.Snapshot().AllPlayers {
		if p.Name == name {
			var data roulette.Player
			require.NoError(h.t, json.Unmarshal(p.ModeData, &data))
			return p, data
		}
	}
	h.t.Fatalf("no player %q", name)
	return protocol.PlayerView{}, roulette.Player{}
}

func (h *harness) waitPhase(phase protocol.Phase) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.host.Phase() == phase },
		time.Second, 2*time.Millisecond, "want phase %s", phase)
}

// spin runs the bet-settle delay and the spin itself.
func (h *harness) spin() {
	h.t.Helper()
	h.clock.Add(h.cfg.BetSettle)
	h.waitPhase(protocol.PhaseRouletteSpinning)
	h.clock.Add(h.cfg.Spin)
	h.waitPhase(protocol.PhaseRouletteEnded)
}

func TestRoulette_BetValidation(t *testing.T) {
	h := newHarness(t)

	h.bet("c1", "PURPLE", 10)
	h.bet("c1", roulette.Red, 0)
	h.bet("c1", roulette.Red, 151)
	h.host.HandleAction("c1", roulette.ActionConfirmBet, json.RawMessage(`"RED"`))
	h.host.HandleAction("c1", roulette.ActionConfirmBet, nil)
	_, ana := h.player("Ana")
	assert.Nil(t, ana.Bet)

	h.bet("c1", roulette.Red, 150)
	_, ana = h.player("Ana")
	require.NotNil(t, ana.Bet)
	assert.Equal(t, roulette.Bet{Color: roulette.Red, Amount: 150}, *ana.Bet)

	h.clock.Add(10 * time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, protocol.PhaseRouletteBetting, h.host.Phase(), "waits for every player")
}

func TestRoulette_RedWins(t *testing.T) {
	h := newHarness(t)
	h.rnd.QueueIntn(1)

	h.bet("c1", roulette.Red, 20)
	h.bet("c2", roulette.Black, 30)
	h.spin()

	v := h.view()
	require.NotNil(t, v.Result)
	assert.Equal(t, roulette.Result{WinningColor: roulette.Red, WinningNumber: 1, WinningSegmentIndex: 1}, *v.Result)
	assert.Equal(t, "Ana", v.RoundWinner)
	assert.Equal(t, "Beto", v.RoundLoser)

	ana, _ := h.player("Ana")
	beto, _ := h.player("Beto")
	assert.Equal(t, 170.0, ana.Score)
	assert.Equal(t, 120.0, beto.Score)

	h.host.HandleAction("c1", roulette.ActionConfirmBet, json.RawMessage(`{"color":"RED","amount":5}`))

	h.clock.Add(h.cfg.ResultDisplay)
	h.waitPhase(protocol.PhaseRouletteBetting)
	v = h.view()
	assert.Equal(t, 2, v.Iteration)
	assert.Nil(t, v.Result)
	_, anaData := h.player("Ana")
	assert.Nil(t, anaData.Bet)
}

func TestRoulette_GreenPaysFive(t *testing.T) {
	h := newHarness(t)
	h.rnd.QueueIntn(5)

	h.bet("c1", roulette.Green, 10)
	h.bet("c2", roulette.Green, 20)
	h.spin()

	ana, _ := h.player("Ana")
	beto, _ := h.player("Beto")
	assert.Equal(t, 190.0, ana.Score)
	assert.Equal(t, 230.0, beto.Score)
	assert.Equal(t, "Beto", h.view().RoundWinner, "biggest profit wins")
}

func TestRoulette_AllLostBiggerStakeLoses(t *testing.T) {
	h := newHarness(t)
	h.rnd.QueueIntn(0)

	h.bet("c1", roulette.Red, 10)
	h.bet("c2", roulette.Black, 40)
	h.spin()

	v := h.view()
	assert.Empty(t, v.RoundWinner)
	assert.Equal(t, "Beto", v.RoundLoser)

	ana, _ := h.player("Ana")
	assert.Equal(t, 140.0, ana.Score)
}

func TestRoulette_BankruptEndsMainRound(t *testing.T) {
	h := newHarness(t)
	h.rnd.QueueIntn(2)

	h.bet("c1", roulette.Red, 150)
	h.bet("c2", roulette.Black, 10)
	h.spin()

	h.clock.Add(h.cfg.ResultDisplay)
	require.Eventually(t, func() bool {
		return h.host.Snapshot().RoundBriefing != nil
	}, time.Second, 2*time.Millisecond)

	s := h.host.Snapshot()
	assert.Equal(t, "Beto", s.RoundBriefing.Winner)
	assert.Equal(t, 1, s.MainRoundsWon["Beto"])

	require.NoError(t, h.host.Continue())
	assert.Equal(t, protocol.PhaseRouletteBetting, h.host.Phase())
	assert.Equal(t, 1, h.view().Iteration)
	ana, _ := h.player("Ana")
	assert.Equal(t, 150.0, ana.Score)
}

func TestRoulette_PauseDuringSpinRestartsIt(t *testing.T) {
	h := newHarness(t)
	h.rnd.QueueIntn(3)

	h.bet("c1", roulette.Red, 10)
	h.bet("c2", roulette.Red, 10)
	h.clock.Add(h.cfg.BetSettle)
	h.waitPhase(protocol.PhaseRouletteSpinning)

	h.clock.Add(h.cfg.Spin - time.Second)
	h.host.HandleDisconnect("c1")
	h.clock.Add(h.cfg.Spin)
	time.Sleep(10 * time.Millisecond)
	require.Equal(t, protocol.PhasePaused, h.host.Phase())
	assert.Nil(t, h.view().Result)

	h.host.HandleIdentify("c7", "ANA")
	require.Equal(t, protocol.PhaseRouletteSpinning, h.host.Phase())
	_, ana := h.player("Ana")
	require.NotNil(t, ana.Bet)

	h.clock.Add(h.cfg.Spin)
	h.waitPhase(protocol.PhaseRouletteEnded)
	require.NotNil(t, h.view().Result)
	assert.Equal(t, 3, h.view().Result.WinningNumber)
}
