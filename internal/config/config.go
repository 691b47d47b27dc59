// Package config turns flags, environment variables and an optional .env
// file into the settings of each duelo command.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/LemmyAI/duelo/internal/protocol"
)

// EnvPrefix prefixes every environment variable, e.g. DUELO_PORT.
const EnvPrefix = "DUELO"

// LoadDotEnv loads environment variables from a .env file if present.
// Existing environment variables are not overwritten.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

// Normalize accepts snake_case spellings of every flag.
func Normalize(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

// Bind fills every flag the command line left unset from its environment
// variable: --redis-url reads DUELO_REDIS_URL.
func Bind(fs *pflag.FlagSet) error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var errs []error
	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			if err := fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name))); err != nil {
				errs = append(errs, fmt.Errorf("%s_%s: %w", EnvPrefix, envKey(f.Name), err))
			}
		}
	})
	return errors.Join(errs...)
}

// EnvName returns the environment variable bound to a flag.
func EnvName(flag string) string {
	return EnvPrefix + "_" + envKey(flag)
}

func envKey(flag string) string {
	return strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

// Common holds the settings every command shares.
type Common struct {
	LogLevel    string
	Development bool
	Codec       string
}

// AddFlags registers the shared flags.
func (c *Common) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug, info, warn or error (env: DUELO_LOG_LEVEL)")
	fs.BoolVar(&c.Development, "dev", false, "human-readable development logging (env: DUELO_DEV)")
	fs.StringVar(&c.Codec, "codec", "json", "wire codec shared by host and controllers: json or proto (env: DUELO_CODEC)")
}

// Validate checks the shared settings.
func (c *Common) Validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.LogLevel)
	}
	if _, err := protocol.CodecByName(c.Codec); err != nil {
		return err
	}
	return nil
}

// Transports a room can be served over.
const (
	TransportWebRTC = "webrtc"
	TransportWS     = "ws"
)

func validateTransport(name, signalURL, wsURL string) error {
	switch name {
	case TransportWebRTC:
		if signalURL == "" {
			return errors.New("--signal-url is required with --transport=webrtc")
		}
	case TransportWS:
		if wsURL == "" {
			return errors.New("a websocket base URL is required with --transport=ws")
		}
	default:
		return fmt.Errorf("invalid transport (must be webrtc or ws): %q", name)
	}
	return nil
}

func validatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", port)
	}
	return nil
}
