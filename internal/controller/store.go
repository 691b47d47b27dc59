// Package controller is the player's side of a room: it joins the host,
// keeps the latest merged snapshot and turns player input into actions.
package controller

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/LemmyAI/duelo/internal/protocol"
)

// Store holds the controller's copy of the host state. Snapshots are merged
// key by key, so a document missing a field keeps the previous value.
type Store struct {
	mu    sync.RWMutex
	name  string
	doc   map[string]json.RawMessage
	state protocol.Snapshot
	me    *protocol.PlayerView
	err   string
}

// NewStore creates an empty store for the player called name.
func NewStore(name string) *Store {
	return &Store{
		name: strings.TrimSpace(name),
		doc:  make(map[string]json.RawMessage),
	}
}

// Apply merges one GAME_STATE_SYNC document. It reports false when the
// document is older than the state already held.
func (s *Store) Apply(raw json.RawMessage) (bool, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return false, fmt.Errorf("%w: snapshot: %v", protocol.ErrMalformed, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if seqRaw, ok := fields["seq"]; ok && len(s.doc) > 0 {
		var seq uint64
		if err := json.Unmarshal(seqRaw, &seq); err == nil && seq != 0 && seq <= s.state.Seq {
			return false, nil
		}
	}

	merged := make(map[string]json.RawMessage, len(s.doc)+len(fields))
	for k, v := range s.doc {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return false, fmt.Errorf("encode merged snapshot: %w", err)
	}
	var state protocol.Snapshot
	if err := json.Unmarshal(data, &state); err != nil {
		return false, fmt.Errorf("%w: snapshot: %v", protocol.ErrMalformed, err)
	}

	s.doc = merged
	s.state = state
	s.me = findPlayer(state.AllPlayers, s.name)
	return true, nil
}

// State returns the merged snapshot.
func (s *Store) State() protocol.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Me returns this controller's roster entry, matched by name without
// regard to case.
func (s *Store) Me() (protocol.PlayerView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.me == nil {
		return protocol.PlayerView{}, false
	}
	return *s.me, true
}

// Name returns the player name the store matches against.
func (s *Store) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

// SetError records the message to show the player. An empty message
// clears it.
func (s *Store) SetError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = msg
}

// Error returns the last message recorded with SetError.
func (s *Store) Error() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Reset forgets all state and sets the message shown on the join screen.
func (s *Store) Reset(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = make(map[string]json.RawMessage)
	s.state = protocol.Snapshot{}
	s.me = nil
	s.err = msg
}

func findPlayer(players []protocol.PlayerView, name string) *protocol.PlayerView {
	for i := range players {
		if strings.EqualFold(players[i].Name, name) {
			p := players[i]
			return &p
		}
	}
	return nil
}

func (s *Store) setName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = strings.TrimSpace(name)
	s.me = findPlayer(s.state.AllPlayers, s.name)
}
