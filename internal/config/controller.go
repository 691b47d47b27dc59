package config

import (
	"time"

	"github.com/spf13/pflag"

	"github.com/LemmyAI/duelo/internal/peer"
	"github.com/LemmyAI/duelo/internal/transport"
)

// Controller configures cmd/controller.
type Controller struct {
	Common

	Name        string
	Room        string
	Transport   string
	SignalURL   string
	HostURL     string
	ICEServers  []string
	RetryDelay  time.Duration
	DialTimeout time.Duration
}

// AddFlags registers the controller flags with their defaults.
func (c *Controller) AddFlags(fs *pflag.FlagSet) {
	c.Common.AddFlags(fs)

	fs.StringVarP(&c.Name, "name", "n", "", "player name (env: DUELO_NAME)")
	fs.StringVarP(&c.Room, "room", "r", "", "room code shown by the host (env: DUELO_ROOM)")
	fs.StringVar(&c.Transport, "transport", TransportWebRTC, "transport the host serves: webrtc or ws (env: DUELO_TRANSPORT)")
	fs.StringVar(&c.SignalURL, "signal-url", "ws://localhost:8090/ws", "signaling server for webrtc (env: DUELO_SIGNAL_URL)")
	fs.StringVar(&c.HostURL, "host-url", "ws://localhost:8080", "host base URL for --transport=ws (env: DUELO_HOST_URL)")
	fs.StringSliceVar(&c.ICEServers, "ice-servers", transport.DefaultConfig().ICEServers, "STUN/TURN server URLs (env: DUELO_ICE_SERVERS)")
	fs.DurationVar(&c.RetryDelay, "retry-delay", peer.DefaultRetryDelay, "wait before redialing a lost host (env: DUELO_RETRY_DELAY)")
	fs.DurationVar(&c.DialTimeout, "dial-timeout", peer.DefaultDialTimeout, "bound on each dial (env: DUELO_DIAL_TIMEOUT)")
}

// Validate checks the controller settings. Name and room may be left
// empty and typed in later.
func (c *Controller) Validate() error {
	if err := c.Common.Validate(); err != nil {
		return err
	}
	return validateTransport(c.Transport, c.SignalURL, c.HostURL)
}

// Client returns the reconnect settings.
func (c *Controller) Client() peer.ClientConfig {
	return peer.ClientConfig{RetryDelay: c.RetryDelay, DialTimeout: c.DialTimeout}
}

// TransportConfig returns the transport settings.
func (c *Controller) TransportConfig() transport.Config {
	t := transport.DefaultConfig()
	t.ICEServers = c.ICEServers
	return t
}
