package game

import "errors"

var (
	ErrWrongPhase     = errors.New("action not allowed in current phase")
	ErrNoPlayers      = errors.New("at least one player is required")
	ErrUnknownMode    = errors.New("unknown game mode")
	ErrNoModeSelected = errors.New("no game mode selected")
	ErrUnknownPlayer  = errors.New("unknown player")
	ErrClosed         = errors.New("host closed")
)
