package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/spf13/pflag"

	"github.com/LemmyAI/duelo/internal/game"
	"github.com/LemmyAI/duelo/internal/peer"
	"github.com/LemmyAI/duelo/internal/transport"
)

// Host configures cmd/host.
type Host struct {
	Common

	Bind       string
	Port       int
	PublicURL  string
	Transport  string
	SignalURL  string
	ICEServers []string
	KickGrace  time.Duration
	Modes      []string

	InitialScore  float64
	TargetScore   float64
	RoundsToWin   int
	TotalRounds   int
	BriefingDelay time.Duration
}

// AddFlags registers the host flags with their defaults.
func (c *Host) AddFlags(fs *pflag.FlagSet) {
	c.Common.AddFlags(fs)
	g := game.DefaultConfig()

	fs.StringVarP(&c.Bind, "bind", "b", "0.0.0.0", "address to bind the operator API to (env: DUELO_BIND)")
	fs.IntVarP(&c.Port, "port", "p", 8080, "port to listen on (env: DUELO_PORT)")
	fs.StringVar(&c.PublicURL, "public-url", "", "base URL controllers reach this host at; defaults to http://localhost:<port> (env: DUELO_PUBLIC_URL)")
	fs.StringVar(&c.Transport, "transport", TransportWebRTC, "controller transport: webrtc or ws (env: DUELO_TRANSPORT)")
	fs.StringVar(&c.SignalURL, "signal-url", "ws://localhost:8090/ws", "signaling server for webrtc (env: DUELO_SIGNAL_URL)")
	fs.StringSliceVar(&c.ICEServers, "ice-servers", transport.DefaultConfig().ICEServers, "STUN/TURN server URLs (env: DUELO_ICE_SERVERS)")
	fs.DurationVar(&c.KickGrace, "kick-grace", peer.DefaultKickGrace, "time a kicked controller has to read the KICK frame (env: DUELO_KICK_GRACE)")
	fs.StringSliceVar(&c.Modes, "modes", []string{"Crash", "Roulette"}, "game modes offered in the lobby (env: DUELO_MODES)")

	fs.Float64Var(&c.InitialScore, "initial-score", g.InitialScore, "score at the start of every main round (env: DUELO_INITIAL_SCORE)")
	fs.Float64Var(&c.TargetScore, "target-score", g.TargetScore, "score that wins a main round (env: DUELO_TARGET_SCORE)")
	fs.IntVar(&c.RoundsToWin, "rounds-to-win", g.RoundsToWin, "main rounds needed to win the game (env: DUELO_ROUNDS_TO_WIN)")
	fs.IntVar(&c.TotalRounds, "total-rounds", g.TotalRounds, "main rounds before the game ends on score (env: DUELO_TOTAL_ROUNDS)")
	fs.DurationVar(&c.BriefingDelay, "briefing-delay", 0, "auto-continue after a round briefing; 0 waits for the operator (env: DUELO_BRIEFING_DELAY)")
}

// Validate checks the host settings.
func (c *Host) Validate() error {
	if err := c.Common.Validate(); err != nil {
		return err
	}
	if err := validatePort(c.Port); err != nil {
		return err
	}
	if err := validateTransport(c.Transport, c.SignalURL, c.BaseURL()); err != nil {
		return err
	}
	if len(c.Modes) == 0 {
		return errors.New("at least one game mode is required")
	}
	if c.InitialScore <= 0 {
		return fmt.Errorf("initial score must be positive: %v", c.InitialScore)
	}
	if c.TargetScore <= c.InitialScore {
		return fmt.Errorf("target score %v must exceed initial score %v", c.TargetScore, c.InitialScore)
	}
	if c.RoundsToWin < 1 || c.TotalRounds < 1 {
		return errors.New("--rounds-to-win and --total-rounds must be at least 1")
	}
	if c.KickGrace < 0 || c.BriefingDelay < 0 {
		return errors.New("durations must not be negative")
	}
	return nil
}

// Addr is the operator API listen address.
func (c *Host) Addr() string {
	return net.JoinHostPort(c.Bind, strconv.Itoa(c.Port))
}

// BaseURL is the URL controllers use to reach this host.
func (c *Host) BaseURL() string {
	if c.PublicURL != "" {
		return c.PublicURL
	}
	return "http://localhost:" + strconv.Itoa(c.Port)
}

// Game returns the game rules.
func (c *Host) Game() game.Config {
	g := game.DefaultConfig()
	g.InitialScore = c.InitialScore
	g.TargetScore = c.TargetScore
	g.RoundsToWin = c.RoundsToWin
	g.TotalRounds = c.TotalRounds
	g.BriefingDelay = c.BriefingDelay
	return g
}

// TransportConfig returns the transport settings.
func (c *Host) TransportConfig() transport.Config {
	t := transport.DefaultConfig()
	t.ICEServers = c.ICEServers
	return t
}
