// Package crash implements the Crash betting mode: players stake points,
// a multiplier climbs until it crashes, and whoever cashed out in time
// collects bet × multiplier.
package crash

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/LemmyAI/duelo/internal/game"
	"github.com/LemmyAI/duelo/internal/protocol"
	"github.com/LemmyAI/duelo/internal/room"
)

// Name is the mode's selection key.
const Name = "Crash"

// Player actions.
const (
	ActionConfirmBet = "CONFIRM_CRASH_BET"
	ActionCashOut    = "CASH_OUT"
)

// Config tunes the curve and the timings.
type Config struct {
	BetOptions []float64 // Suggested stakes; the first is the default selection

	BetSettle time.Duration // All bets in → countdown (default: 1s)
	Countdown time.Duration // Countdown → takeoff (default: 3.8s)
	Tick      time.Duration // Multiplier step interval (default: 55ms)
	PostCrash time.Duration // Crash → round manager (default: 1.5s)

	Increment float64 // Multiplier gain per tick (default: 0.01)
	Cap       float64 // Forced crash point (default: 50)

	BaseProbability float64       // Per-tick crash chance (default: 0.004)
	PerMultiplier   float64       // Added per whole multiplier unit (default: 0.0025)
	PerSecond       float64       // Added per whole second airborne (default: 0.0008)
	MinMultiplier   float64       // No crash below this multiplier (default: 1.05)
	MinDuration     time.Duration // No crash before this long airborne (default: 1.5s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BetOptions:      []float64{10, 25, 50},
		BetSettle:       1000 * time.Millisecond,
		Countdown:       3800 * time.Millisecond,
		Tick:            55 * time.Millisecond,
		PostCrash:       1500 * time.Millisecond,
		Increment:       0.01,
		Cap:             50,
		BaseProbability: 0.004,
		PerMultiplier:   0.0025,
		PerSecond:       0.0008,
		MinMultiplier:   1.05,
		MinDuration:     1500 * time.Millisecond,
	}
}

// Player is the per-player state kept in room.Player.ModeData.
type Player struct {
	CurrentRoundBetAmount      *float64 `json:"currentRoundBetAmount"`
	SelectedBetForConfirmation float64  `json:"selectedBetForConfirmation"`
	HasCashedOut               bool     `json:"hasCashedOut"`
	CashOutMultiplier          *float64 `json:"cashOutMultiplier"`
}

// Point is one sample of the multiplier curve.
type Point struct {
	Time       int     `json:"time"`
	Multiplier float64 `json:"multiplier"`
}

// CatchUp tells the trailing player what multiplier would draw level.
type CatchUp struct {
	LaggingPlayerName string `json:"laggingPlayerName"`
	LeadingPlayerName string `json:"leadingPlayerName"`
	MultiplierNeeded  string `json:"multiplierNeeded"`
}

// View is the mode's share of the snapshot.
type View struct {
	GraphData         []Point   `json:"graphData"`
	CurrentMultiplier float64   `json:"currentMultiplier"`
	ActualCrashPoint  *float64  `json:"actualCrashPointValue"`
	CrashMessage      []string  `json:"crashMessage"`
	IsDrawOutcome     bool      `json:"isDrawCrashOutcome"`
	Iteration         int       `json:"crashIterationCount"`
	RoundWinner       string    `json:"roundWinner,omitempty"`
	RoundLoser        string    `json:"roundLoser,omitempty"`
	CatchUpInfo       *CatchUp  `json:"catchUpInfo"`
	BetOptions        []float64 `json:"betOptions"`
}

// Mode is the Crash game. Its state is only touched under the host lock.
type Mode struct {
	cfg Config

	graph      []Point
	multiplier float64
	crashPoint *float64
	messages   []string
	iteration  int
	ticks      int
	winner     string
	loser      string
	catchUp    *CatchUp
	armed      bool
}

var _ game.Mode = (*Mode)(nil)

// New creates the mode.
func New(cfg Config) *Mode {
	if len(cfg.BetOptions) == 0 {
		cfg.BetOptions = DefaultConfig().BetOptions
	}
	m := &Mode{cfg: cfg}
	m.clear()
	return m
}

func (m *Mode) Name() string { return Name }

func (m *Mode) Owns(phase protocol.Phase) bool {
	switch phase {
	case protocol.PhaseCrashBetting, protocol.PhaseCrashReady,
		protocol.PhaseCrashActive, protocol.PhaseCrashEnded:
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
	case protocol.PhaseCrashBetting:
		m.armed = false
		m.maybeSettleBets(d)
	case protocol.PhaseCrashReady:
		d.After(m.cfg.Countdown, func() {
			d.SetPhase(protocol.PhaseCrashActive)
		})
	case protocol.PhaseCrashActive:
		d.Every(m.cfg.Tick, func() { m.tick(d) })
	case protocol.PhaseCrashEnded:
		d.After(m.cfg.PostCrash, d.ContinueOrEndRound)
	}
}

func (m *Mode) HandleAction(d game.Dispatcher, playerID, action string, value json.RawMessage) {
	p := d.Player(playerID)
	if p == nil {
		return
	}

	switch action {
	case ActionConfirmBet:
		if d.Phase() != protocol.PhaseCrashBetting {
			return
		}
		var amount float64
		if err := protocol.DecodeActionValue(action, value, &amount); err != nil {
			d.Logger().Debug("bad crash bet", zap.String("player", p.Name), zap.Error(err))
			return
		}
		if amount <= 0 || amount > p.Score {
			return
		}
		data := playerData(p)
		data.CurrentRoundBetAmount = &amount
		data.SelectedBetForConfirmation = amount
		d.MarkDirty()
		m.refreshCatchUp(d)
		m.maybeSettleBets(d)

	case ActionCashOut:
		if d.Phase() != protocol.PhaseCrashActive {
			return
		}
		data := playerData(p)
		if data.HasCashedOut || data.CurrentRoundBetAmount == nil {
			return
		}
		at := m.multiplier
		p.Score += *data.CurrentRoundBetAmount * at
		data.HasCashedOut = true
		data.CashOutMultiplier = &at
		d.MarkDirty()
		m.refreshCatchUp(d)
		d.Logger().Info("💰 cashed out",
			zap.String("player", p.Name),
			zap.Float64("multiplier", at),
			zap.Float64("score", p.Score))
	}
}

func (m *Mode) ResetRound(d game.Dispatcher, newMainRound bool) {
	m.clear()
	if newMainRound {
		m.iteration = 1
	} else {
		m.iteration++
	}

	for _, p := range d.Players() {
		data := playerData(p)
		data.HasCashedOut = false
		data.CashOutMultiplier = nil
		data.CurrentRoundBetAmount = nil
		if newMainRound {
			data.SelectedBetForConfirmation = m.cfg.BetOptions[0]
		}
	}
	m.refreshCatchUp(d)
	d.MarkDirty()
	d.SetPhase(protocol.PhaseCrashBetting)
}

func (m *Mode) NewPlayerData() any {
	return &Player{SelectedBetForConfirmation: m.cfg.BetOptions[0]}
}

func (m *Mode) PlayerView(p *room.Player) any {
	return playerData(p)
}

func (m *Mode) View() any {
	return View{
		GraphData:         m.graph,
		CurrentMultiplier: m.multiplier,
		ActualCrashPoint:  m.crashPoint,
		CrashMessage:      m.messages,
		IsDrawOutcome:     m.crashPoint != nil && m.winner == "",
		Iteration:         m.iteration,
		RoundWinner:       m.winner,
		RoundLoser:        m.loser,
		CatchUpInfo:       m.catchUp,
		BetOptions:        m.cfg.BetOptions,
	}
}

func (m *Mode) clear() {
	m.graph = []Point{{Time: 0, Multiplier: 1}}
	m.multiplier = 1
	m.crashPoint = nil
	m.messages = nil
	m.ticks = 0
	m.winner = ""
	m.loser = ""
	m.armed = false
}

// maybeSettleBets starts the countdown once every player has a stake.
func (m *Mode) maybeSettleBets(d game.Dispatcher) {
	if m.armed {
		return
	}
	players := d.Players()
	if len(players) == 0 {
		return
	}
	for _, p := range players {
		if playerData(p).CurrentRoundBetAmount == nil {
			return
		}
	}
	m.armed = true
	d.After(m.cfg.BetSettle, func() {
		d.SetPhase(protocol.PhaseCrashReady)
	})
}

func (m *Mode) tick(d game.Dispatcher) {
	next := round2(m.multiplier + m.cfg.Increment)
	airborne := time.Duration(m.ticks) * m.cfg.Tick

	canCrash := next >= m.cfg.MinMultiplier && airborne >= m.cfg.MinDuration
	if canCrash && (next >= m.cfg.Cap || d.Rand().Float64() < m.probability(next, airborne)) {
		m.crash(d, next)
		return
	}

	m.ticks++
	m.multiplier = next
	m.graph = append(m.graph, Point{Time: m.ticks, Multiplier: next})
	d.MarkDirty()
}

// probability is the chance the curve crashes on a tick that would reach
// next after airborne time in flight.
func (m *Mode) probability(next float64, airborne time.Duration) float64 {
	return m.cfg.BaseProbability +
		m.cfg.PerMultiplier*math.Floor(next) +
		m.cfg.PerSecond*math.Floor(airborne.Seconds())
}

// crash settles the round: whoever did not cash out loses the stake.
func (m *Mode) crash(d game.Dispatcher, at float64) {
	m.crashPoint = &at
	m.messages = nil

	players := d.Players()
	var cashed, crashed []*room.Player
	for _, p := range players {
		data := playerData(p)
		bet := 0.0
		if data.CurrentRoundBetAmount != nil {
			bet = *data.CurrentRoundBetAmount
		}
		if data.HasCashedOut && data.CashOutMultiplier != nil {
			cashed = append(cashed, p)
			mult := *data.CashOutMultiplier
			m.messages = append(m.messages, fmt.Sprintf("%s cashed out at %.2fx and won %.2f (bet %.0f)",
				p.Name, mult, bet*mult, bet))
			continue
		}
		crashed = append(crashed, p)
		p.Score = math.Max(0, p.Score-bet)
		m.messages = append(m.messages, fmt.Sprintf("%s crashed and lost %.0f", p.Name, bet))
	}

	switch {
	case len(cashed) == 1 && len(crashed) == 1:
		m.winner, m.loser = cashed[0].Name, crashed[0].Name
	case len(cashed) == 2:
		a, b := *playerData(cashed[0]).CashOutMultiplier, *playerData(cashed[1]).CashOutMultiplier
		if a > b {
			m.winner, m.loser = cashed[0].Name, cashed[1].Name
		} else if b > a {
			m.winner, m.loser = cashed[1].Name, cashed[0].Name
		}
	}

	d.Logger().Info("💥 crashed",
		zap.Float64("at", at),
		zap.Int("iteration", m.iteration),
		zap.String("winner", m.winner))

	m.refreshCatchUp(d)
	d.MarkDirty()
	d.SetPhase(protocol.PhaseCrashEnded)
}

// refreshCatchUp recomputes the multiplier the trailing player needs on
// their selected stake to draw level.
func (m *Mode) refreshCatchUp(d game.Dispatcher) {
	m.catchUp = nil
	players := d.Players()
	if len(players) < 2 {
		return
	}
	lagging, leading := players[0], players[1]
	if lagging.Score == leading.Score {
		return
	}
	if lagging.Score > leading.Score {
		lagging, leading = leading, lagging
	}

	bet := playerData(lagging).SelectedBetForConfirmation
	if bet == 0 {
		bet = m.cfg.BetOptions[0]
	}
	if bet <= 0 {
		return
	}
	needed := (leading.Score-lagging.Score)/bet + 1
	if needed <= 1.01 {
		return
	}
	m.catchUp = &CatchUp{
		LaggingPlayerName: lagging.Name,
		LeadingPlayerName: leading.Name,
		MultiplierNeeded:  fmt.Sprintf("%.2f", needed),
	}
}

// playerData returns the player's Crash state, creating it when the
// player has none yet.
func playerData(p *room.Player) *Player {
	if data, ok := p.ModeData.(*Player); ok {
		return data
	}
	data := &Player{}
	p.ModeData = data
	return data
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
