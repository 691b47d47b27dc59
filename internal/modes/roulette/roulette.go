// Package roulette implements the Roulette betting mode on a ten-segment
// wheel.
package roulette

import (
	"encoding/json"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/LemmyAI/duelo/internal/game"
	"github.com/LemmyAI/duelo/internal/protocol"
	"github.com/LemmyAI/duelo/internal/room"
)

// Name is the mode's selection key.
const Name = "Roulette"

// ActionConfirmBet places a {color, amount} bet.
const ActionConfirmBet = "CONFIRM_ROULETTE_BET"

// Color is a bettable wheel color.
type Color string

const (
	Red   Color = "RED"
	Black Color = "BLACK"
	Green Color = "GREEN"
)

// Payouts are gross multipliers: a winning bet gains amount × (payout − 1).
var Payouts = map[Color]float64{
	Red:   2,
	Black: 2,
	Green: 5,
}

// Segment is one slot of the wheel.
type Segment struct {
	Number int   `json:"number"`
	Color  Color `json:"color"`
}

// Wheel lists the segments in display order.
var Wheel = []Segment{
	{0, Green}, {1, Red}, {2, Black}, {3, Red}, {4, Black},
	{5, Green}, {6, Red}, {7, Black}, {8, Red}, {9, Black},
}

// Config holds the mode timings.
type Config struct {
	BetSettle     time.Duration // All bets in → spin (default: 1.5s)
	Spin          time.Duration // Spin → result (default: 5s)
	ResultDisplay time.Duration // Result → round manager (default: 2.8s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BetSettle:     1500 * time.Millisecond,
		Spin:          5000 * time.Millisecond,
		ResultDisplay: 2800 * time.Millisecond,
	}
}

// Bet is a player's stake for the current spin.
type Bet struct {
	Color  Color   `json:"color"`
	Amount float64 `json:"amount"`
}

// Player is the per-player state kept in room.Player.ModeData.
type Player struct {
	Bet *Bet `json:"bet"`
}

// Result is where the ball landed.
type Result struct {
	WinningColor        Color `json:"winningColor"`
	WinningNumber       int   `json:"winningNumber"`
	WinningSegmentIndex int   `json:"winningSegmentIndex"`
}

// View is the mode's share of the snapshot.
type View struct {
	Result      *Result   `json:"rouletteResult"`
	Iteration   int       `json:"rouletteIteration"`
	RoundWinner string    `json:"roundWinner,omitempty"`
	RoundLoser  string    `json:"roundLoser,omitempty"`
	Wheel       []Segment `json:"wheel"`
}

// Mode is the Roulette game. Its state is only touched under the host
// lock.
type Mode struct {
	cfg Config

	result    *Result
	iteration int
	winner    string
	loser     string
	armed     bool
}

var _ game.Mode = (*Mode)(nil)

func New(cfg Config) *Mode {
	return &Mode{cfg: cfg}
}

func (m *Mode) Name() string { return Name }

func (m *Mode) Owns(phase protocol.Phase) bool {
	switch phase {
	case protocol.PhaseRouletteBetting, protocol.PhaseRouletteSpinning, protocol.PhaseRouletteEnded:
		return true
	}
	return false
}

func (m *Mode) Start(d game.Dispatcher) {
	m.iteration = 0
	m.ResetRound(d, true)
}

func (m *Mode) Enter(d game.Dispatcher, phase protocol.Phase) {
	switch phase {
	case protocol.PhaseRouletteBetting:
		m.armed = false
		m.maybeSpin(d)
	case protocol.PhaseRouletteSpinning:
		d.After(m.cfg.Spin, func() { m.land(d) })
	case protocol.PhaseRouletteEnded:
		d.After(m.cfg.ResultDisplay, d.ContinueOrEndRound)
	}
}

func (m *Mode) HandleAction(d game.Dispatcher, playerID, action string, value json.RawMessage) {
	if action != ActionConfirmBet || d.Phase() != protocol.PhaseRouletteBetting {
		return
	}
	p := d.Player(playerID)
	if p == nil {
		return
	}

	var bet Bet
	if err := protocol.DecodeActionValue(action, value, &bet); err != nil {
		d.Logger().Debug("bad roulette bet", zap.String("player", p.Name), zap.Error(err))
		return
	}
	if _, ok := Payouts[bet.Color]; !ok || bet.Amount <= 0 || p.Score < bet.Amount {
		return
	}

	playerData(p).Bet = &bet
	d.MarkDirty()
	m.maybeSpin(d)
}

func (m *Mode) ResetRound(d game.Dispatcher, newMainRound bool) {
	m.result = nil
	m.winner, m.loser = "", ""
	m.armed = false
	if newMainRound {
		m.iteration = 1
	} else {
		m.iteration++
	}
	for _, p := range d.Players() {
		playerData(p).Bet = nil
	}
	d.MarkDirty()
	d.SetPhase(protocol.PhaseRouletteBetting)
}

func (m *Mode) NewPlayerData() any { return &Player{} }

func (m *Mode) PlayerView(p *room.Player) any { return playerData(p) }

func (m *Mode) View() any {
	return View{
		Result:      m.result,
		Iteration:   m.iteration,
		RoundWinner: m.winner,
		RoundLoser:  m.loser,
		Wheel:       Wheel,
	}
}

func (m *Mode) maybeSpin(d game.Dispatcher) {
	if m.armed {
		return
	}
	players := d.Players()
	if len(players) == 0 {
		return
	}
	for _, p := range players {
		if playerData(p).Bet == nil {
			return
		}
	}
	m.armed = true
	d.After(m.cfg.BetSettle, func() {
		d.SetPhase(protocol.PhaseRouletteSpinning)
	})
}

// land draws the result and settles every bet.
func (m *Mode) land(d game.Dispatcher) {
	idx := d.Rand().Intn(len(Wheel))
	seg := Wheel[idx]
	m.result = &Result{
		WinningColor:        seg.Color,
		WinningNumber:       seg.Number,
		WinningSegmentIndex: idx,
	}

	players := d.Players()
	var winner, loser *room.Player
	best := 0.0
	allLost, someonePlayed := true, false
	for _, p := range players {
		bet := playerData(p).Bet
		if bet == nil {
			continue
		}
		someonePlayed = true
		if bet.Color == seg.Color {
			allLost = false
			profit := bet.Amount * (Payouts[bet.Color] - 1)
			p.Score += profit
			if profit > best {
				best, winner = profit, p
			}
			continue
		}
		p.Score = math.Max(0, p.Score-bet.Amount)
		if loser == nil {
			loser = p
		}
	}

	if len(players) > 1 {
		switch {
		case winner != nil:
			loser = nil
			for _, p := range players {
				if p != winner {
					loser = p
					break
				}
			}
		case allLost && someonePlayed:
			loser = players[0]
			if stake(players[1]) > stake(players[0]) {
				loser = players[1]
			}
		}
	}

	m.winner, m.loser = "", ""
	if winner != nil {
		m.winner = winner.Name
	}
	if loser != nil {
		m.loser = loser.Name
	}

	d.Logger().Info("🎡 wheel landed",
		zap.Int("number", seg.Number),
		zap.String("color", string(seg.Color)),
		zap.String("winner", m.winner))
	d.MarkDirty()
	d.SetPhase(protocol.PhaseRouletteEnded)
}

func stake(p *room.Player) float64 {
	if bet := playerData(p).Bet; bet != nil {
		return bet.Amount
	}
	return 0
}

// playerData returns the player's Roulette state, creating it when the
// player has none yet.
func playerData(p *room.Player) *Player {
	if data, ok := p.ModeData.(*Player); ok {
		return data
	}
	data := &Player{}
	p.ModeData = data
	return data
}
