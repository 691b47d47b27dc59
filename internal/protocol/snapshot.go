package protocol

import "encoding/json"

// Phase is the single authoritative position of the host state machine.
type Phase string

const (
	PhaseLobby         Phase = "PLAYER_SETUP"
	PhaseCustomization Phase = "GAME_CUSTOMIZATION"
	PhasePaused        Phase = "GAME_PAUSED_DISCONNECTED"

	PhaseCrashBetting Phase = "CRASH_BETTING"
	PhaseCrashReady   Phase = "CRASH_READY"
	PhaseCrashActive  Phase = "CRASH_ACTIVE"
	PhaseCrashEnded   Phase = "CRASH_ENDED"

	PhaseRouletteBetting  Phase = "ROULETTE_BETTING"
	PhaseRouletteSpinning Phase = "ROULETTE_SPINNING"
	PhaseRouletteEnded    Phase = "ROULETTE_ENDED"

	PhaseGameOver Phase = "GAME_OVER"
)

// Snapshot is the full projection of host state pushed after every
// change. Every field is always present in what the host sends.
type Snapshot struct {
	Seq                 uint64          `json:"seq"`
	GamePhase           Phase           `json:"gamePhase"`
	AllPlayers          []PlayerView    `json:"allPlayers"`
	CurrentRound        int             `json:"currentRound"`
	TotalRounds         int             `json:"totalRounds"`
	MainRoundsWon       map[string]int  `json:"mainRoundsWon"`
	SelectedGameMode    string          `json:"selectedGameMode"`
	AvailableModes      []string        `json:"availableModes"`
	DisconnectedPlayers []string        `json:"disconnectedPlayers"`
	RoundBriefing       *Briefing       `json:"roundBriefing"`
	WinningPlayer       *PlayerView     `json:"winningPlayer"`
	ModeState           json.RawMessage `json:"modeState"`
}

// PlayerView is one roster entry as controllers see it.
type PlayerView struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Score      float64         `json:"score"`
	Slot       int             `json:"slot"`
	KeyLabel   string          `json:"keyLabel"`
	ControlKey string          `json:"controlKey"`
	Connected  bool            `json:"connected"`
	ModeData   json.RawMessage `json:"modeData,omitempty"`
}

// Briefing summarizes a finished main round while the host waits to
// continue.
type Briefing struct {
	Title  string      `json:"title"`
	Winner string      `json:"winner,omitempty"`
	Draw   bool        `json:"draw"`
	Scores []ScoreLine `json:"scores"`
}

type ScoreLine struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}
