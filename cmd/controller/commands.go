package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/LemmyAI/duelo/internal/controller"
	"github.com/LemmyAI/duelo/internal/modes/roulette"
	"github.com/LemmyAI/duelo/internal/peer"
	"github.com/LemmyAI/duelo/internal/protocol"
)

const usage = `commands:
  join NAME CODE          join a room
  bet AMOUNT              confirm a crash bet
  cashout                 cash out the running crash multiplier
  roulette COLOR AMOUNT   bet on RED, BLACK or GREEN
  status                  show the room and your seat
  leave                   disconnect
  quit                    exit`

var errQuit = errors.New("quit")

// player is the part of controller.Session the prompt drives.
type player interface {
	Join(ctx context.Context, name, code string) error
	BetCrash(amount float64) error
	CashOut() error
	BetRoulette(color roulette.Color, amount float64) error
	Leave()
	Store() *controller.Store
	Status() (peer.Status, string)
}

var _ player = (*controller.Session)(nil)

// execute runs one line of input. It returns errQuit on quit.
func execute(ctx context.Context, p player, line string, out io.Writer) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	switch cmd, args := strings.ToLower(fields[0]), fields[1:]; cmd {
	case "join":
		if len(args) != 2 {
			return errors.New("usage: join NAME CODE")
		}
		return p.Join(ctx, args[0], args[1])
	case "bet":
		if len(args) != 1 {
			return errors.New("usage: bet AMOUNT")
		}
		amount, err := parseAmount(args[0])
		if err != nil {
			return err
		}
		return p.BetCrash(amount)
	case "cashout", "cash":
		return p.CashOut()
	case "roulette":
		if len(args) != 2 {
			return errors.New("usage: roulette COLOR AMOUNT")
		}
		color := roulette.Color(strings.ToUpper(args[0]))
		if _, ok := roulette.Payouts[color]; !ok {
			return fmt.Errorf("unknown color %q", args[0])
		}
		amount, err := parseAmount(args[1])
		if err != nil {
			return err
		}
		return p.BetRoulette(color, amount)
	case "status":
		printStatus(out, p)
		return nil
	case "leave":
		p.Leave()
		return nil
	case "help", "?":
		fmt.Fprintln(out, usage)
		return nil
	case "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q (try help)", cmd)
	}
}

func parseAmount(s string) (float64, error) {
	amount, err := strconv.ParseFloat(s, 64)
	if err != nil || amount <= 0 {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	return amount, nil
}

func printStatus(out io.Writer, p player) {
	status, msg := p.Status()
	line := "connection: " + string(status)
	if msg != "" {
		line += " (" + msg + ")"
	}
	fmt.Fprintln(out, line)

	store := p.Store()
	if e := store.Error(); e != "" && e != msg {
		fmt.Fprintln(out, "message:", e)
	}
	state := store.State()
	if state.GamePhase == "" {
		return
	}
	fmt.Fprintf(out, "phase: %s  round: %d/%d\n", state.GamePhase, state.CurrentRound, state.TotalRounds)
	if state.GamePhase == protocol.PhasePaused {
		fmt.Fprintf(out, "waiting for: %s\n", strings.Join(state.DisconnectedPlayers, ", "))
	}
	for _, pv := range state.AllPlayers {
		marker := " "
		if me, ok := store.Me(); ok && me.ID == pv.ID {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %d. %-12s %8.2f  wins: %d\n", marker, pv.Slot, pv.Name, pv.Score, state.MainRoundsWon[pv.Name])
	}
	if b := state.RoundBriefing; b != nil {
		fmt.Fprintf(out, "%s: winner %s\n", b.Title, b.Winner)
	}
	if w := state.WinningPlayer; w != nil {
		fmt.Fprintf(out, "🏆 %s wins the game\n", w.Name)
	}
}
