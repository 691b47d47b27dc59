// Package room holds the player roster of a duelo room and the short
// codes controllers use to find it.
package room

import (
	"sort"
	"strings"
	"time"
)

// MaxPlayers is the roster capacity.
const MaxPlayers = 2

// Control keys per slot.
const (
	Player1ControlKey = "ArrowLeft"
	Player2ControlKey = "ArrowRight"
	Player1KeyLabel   = "←"
	Player2KeyLabel   = "→"
)

// Player in a room
type Player struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Score      float64   `json:"score"`
	Slot       int       `json:"slot"`
	KeyLabel   string    `json:"keyLabel"`
	ControlKey string    `json:"controlKey"`
	JoinedAt   time.Time `json:"joinedAt"`

	// ModeData is owned by the active game mode.
	ModeData any `json:"-"`
}

// Roster is the ordered set of players. It is not safe for concurrent use;
// the game host guards it with its own lock.
type Roster struct {
	players map[string]*Player
}

// NewRoster creates an empty roster.
func NewRoster() *Roster {
	return &Roster{players: make(map[string]*Player)}
}

// Join adds a player at the lowest free slot. Names are compared
// case-insensitively.
func (r *Roster) Join(id, name string, score float64, joinedAt time.Time) (*Player, error) {
	if _, taken := r.players[id]; taken {
		return nil, ErrIDInUse
	}
	if r.ByName(name) != nil {
		return nil, ErrNameInUse
	}
	if len(r.players) >= MaxPlayers {
		return nil, ErrRoomFull
	}

	slot := r.freeSlot()
	p := &Player{
		ID:         id,
		Name:       name,
		Score:      score,
		Slot:       slot,
		KeyLabel:   Player1KeyLabel,
		ControlKey: Player1ControlKey,
		JoinedAt:   joinedAt,
	}
	if slot == 2 {
		p.KeyLabel = Player2KeyLabel
		p.ControlKey = Player2ControlKey
	}
	r.players[id] = p
	return p, nil
}

func (r *Roster) freeSlot() int {
	taken := make(map[int]bool, len(r.players))
	for _, p := range r.players {
		taken[p.Slot] = true
	}
	for slot := 1; ; slot++ {
		if !taken[slot] {
			return slot
		}
	}
}

// Leave removes a player.
func (r *Roster) Leave(id string) (*Player, error) {
	p, ok := r.players[id]
	if !ok {
		return nil, ErrNotInRoom
	}
	delete(r.players, id)
	return p, nil
}

// Rehome moves a player onto a new connection identity, keeping
// everything else.
func (r *Roster) Rehome(oldID, newID string) (*Player, error) {
	p, ok := r.players[oldID]
	if !ok {
		return nil, ErrNotInRoom
	}
	if _, taken := r.players[newID]; taken && newID != oldID {
		return nil, ErrIDInUse
	}
	delete(r.players, oldID)
	p.ID = newID
	r.players[newID] = p
	return p, nil
}

// Get returns the player with the given id, or nil.
func (r *Roster) Get(id string) *Player {
	return r.players[id]
}

// ByName finds a player by case-insensitive name.
func (r *Roster) ByName(name string) *Player {
	for _, p := range r.players {
		if strings.EqualFold(p.Name, name) {
			return p
		}
	}
	return nil
}

// Players returns the players ordered by slot.
func (r *Roster) Players() []*Player {
	out := make([]*Player, 0, len(r.players))
	for _, p := range r.players {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out
}

// Len returns the number of players.
func (r *Roster) Len() int {
	return len(r.players)
}

// IsEmpty returns true if the room has no players
func (r *Roster) IsEmpty() bool {
	return len(r.players) == 0
}
