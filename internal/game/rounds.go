package game

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/LemmyAI/duelo/internal/protocol"
	"github.com/LemmyAI/duelo/internal/room"
)

// continueOrEndRoundLocked is the round manager. A mode calls it once a
// round's outcome is settled.
func (h *Host) continueOrEndRoundLocked() {
	if h.active == nil {
		return
	}
	d := dispatcher{h}

	players := h.roster.Players()
	bankrupt, reached := false, false
	for _, p := range players {
		if p.Score <= h.cfg.BankruptScore {
			bankrupt = true
		}
		if p.Score >= h.cfg.TargetScore {
			reached = true
		}
	}
	if !bankrupt && !reached {
		h.active.ResetRound(d, false)
		return
	}

	winner := roundWinner(players, h.cfg)
	if winner != nil {
		h.roundsWon[winner.Name]++
		if h.roundsWon[winner.Name] >= h.cfg.RoundsToWin {
			h.endGameLocked(winner)
			return
		}
	}

	b := &protocol.Briefing{
		Title:  fmt.Sprintf("Round %d complete", h.currentRound),
		Draw:   winner == nil,
		Scores: make([]protocol.ScoreLine, 0, len(players)),
	}
	if winner != nil {
		b.Winner = winner.Name
	}
	for _, p := range players {
		b.Scores = append(b.Scores, protocol.ScoreLine{Name: p.Name, Score: p.Score})
	}
	h.briefing = b
	h.dirty = true
	h.log.Info("🏁 main round over",
		zap.Int("round", h.currentRound),
		zap.String("winner", b.Winner))

	if h.cfg.BriefingDelay > 0 {
		h.afterLocked(h.cfg.BriefingDelay, h.continueLocked)
	}
}

// roundWinner picks the main-round winner: whoever reached the target,
// or whoever outscored a bankrupt opponent.
func roundWinner(players []*room.Player, cfg Config) *room.Player {
	if len(players) == 0 {
		return nil
	}
	p1 := players[0]
	var p2 *room.Player
	if len(players) > 1 {
		p2 = players[1]
	}

	if p1.Score >= cfg.TargetScore || (p2 != nil && p2.Score <= cfg.BankruptScore && p1.Score > p2.Score) {
		return p1
	}
	if p2 != nil && (p2.Score >= cfg.TargetScore || (p1.Score <= cfg.BankruptScore && p2.Score > p1.Score)) {
		return p2
	}
	return nil
}

// continueLocked dismisses the briefing and starts the next main round,
// or ends the game once the round limit is passed.
func (h *Host) continueLocked() {
	if h.briefing == nil || h.active == nil {
		return
	}
	h.briefing = nil
	h.currentRound++
	h.dirty = true

	if h.currentRound > h.cfg.TotalRounds {
		h.endGameLocked(leader(h.roster.Players()))
		return
	}

	for _, p := range h.roster.Players() {
		p.Score = h.cfg.InitialScore
	}
	h.active.ResetRound(dispatcher{h}, true)
}

// leader returns the unique highest scorer, or nil on a tie.
func leader(players []*room.Player) *room.Player {
	var best *room.Player
	tie := false
	for _, p := range players {
		switch {
		case best == nil || p.Score > best.Score:
			best, tie = p, false
		case p.Score == best.Score:
			tie = true
		}
	}
	if tie {
		return nil
	}
	return best
}

func (h *Host) endGameLocked(winner *room.Player) {
	h.briefing = nil
	if winner != nil {
		v := h.playerViewLocked(winner)
		h.winner = &v
		h.log.Info("🏆 game over", zap.String("winner", winner.Name))
	} else {
		h.winner = nil
		h.log.Info("🏆 game over in a draw")
	}
	h.setPhaseLocked(protocol.PhaseGameOver)
}
