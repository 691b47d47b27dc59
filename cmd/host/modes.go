package main

import (
	"fmt"
	"strings"

	"github.com/LemmyAI/duelo/internal/game"
	"github.com/LemmyAI/duelo/internal/modes/crash"
	"github.com/LemmyAI/duelo/internal/modes/roulette"
)

var modeFactories = map[string]func() game.Mode{
	strings.ToLower(crash.Name):    func() game.Mode { return crash.New(crash.DefaultConfig()) },
	strings.ToLower(roulette.Name): func() game.Mode { return roulette.New(roulette.DefaultConfig()) },
}

// buildModes instantiates the named modes in order. Names match without
// regard to case.
func buildModes(names []string) ([]game.Mode, error) {
	seen := make(map[string]bool, len(names))
	modes := make([]game.Mode, 0, len(names))
	for _, name := range names {
		key := strings.ToLower(strings.TrimSpace(name))
		factory, ok := modeFactories[key]
		if !ok {
			return nil, fmt.Errorf("%w: %q", game.ErrUnknownMode, name)
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		modes = append(modes, factory())
	}
	return modes, nil
}
