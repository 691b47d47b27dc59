package config

import (
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/time/rate"

	"github.com/LemmyAI/duelo/internal/signaling"
)

// Signal configures cmd/signal.
type Signal struct {
	Common

	Bind        string
	Port        int
	RedisURL    string
	RedisPrefix string
	ClaimTTL    time.Duration
	RateLimit   float64
	RateBurst   int
}

// AddFlags registers the signaling flags with their defaults.
func (c *Signal) AddFlags(fs *pflag.FlagSet) {
	c.Common.AddFlags(fs)
	d := signaling.DefaultConfig()

	fs.StringVarP(&c.Bind, "bind", "b", "0.0.0.0", "address to bind to (env: DUELO_BIND)")
	fs.IntVarP(&c.Port, "port", "p", 8090, "port to listen on (env: DUELO_PORT)")
	fs.StringVar(&c.RedisURL, "redis-url", "", "share peer ids through redis, e.g. redis://localhost:6379 (env: DUELO_REDIS_URL)")
	fs.StringVar(&c.RedisPrefix, "redis-prefix", signaling.DefaultRedisConfig().Prefix, "key and channel prefix in redis (env: DUELO_REDIS_PREFIX)")
	fs.DurationVar(&c.ClaimTTL, "claim-ttl", d.ClaimTTL, "lifetime of an unrefreshed peer id claim (env: DUELO_CLAIM_TTL)")
	fs.Float64Var(&c.RateLimit, "rate-limit", float64(d.RateLimit), "frames per second allowed per socket (env: DUELO_RATE_LIMIT)")
	fs.IntVar(&c.RateBurst, "rate-burst", d.RateBurst, "frame burst allowed per socket (env: DUELO_RATE_BURST)")
}

// Validate checks the signaling settings.
func (c *Signal) Validate() error {
	if err := c.Common.Validate(); err != nil {
		return err
	}
	if err := validatePort(c.Port); err != nil {
		return err
	}
	if c.ClaimTTL <= 0 {
		return errors.New("--claim-ttl must be positive")
	}
	if c.RateLimit <= 0 || c.RateBurst < 1 {
		return errors.New("--rate-limit and --rate-burst must be positive")
	}
	return nil
}

// Addr is the listen address.
func (c *Signal) Addr() string {
	return net.JoinHostPort(c.Bind, strconv.Itoa(c.Port))
}

// Server returns the signaling server settings.
func (c *Signal) Server() signaling.Config {
	s := signaling.DefaultConfig()
	s.ClaimTTL = c.ClaimTTL
	if s.RefreshInterval >= c.ClaimTTL {
		s.RefreshInterval = c.ClaimTTL / 3
	}
	s.RateLimit = rate.Limit(c.RateLimit)
	s.RateBurst = c.RateBurst
	return s
}

// Redis returns the redis broker settings.
func (c *Signal) Redis() signaling.RedisConfig {
	r := signaling.DefaultRedisConfig()
	r.URL = c.RedisURL
	r.Prefix = c.RedisPrefix
	return r
}
