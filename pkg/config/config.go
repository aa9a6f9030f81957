// Package config resolves the runtime configuration once at startup: the API
// base origin, the derived WebSocket origin (same host, scheme swapped), the
// session database path, and timing knobs.
package config

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type Config struct {
	APIBaseURL        string        `mapstructure:"api_base_url"`
	WSBaseURL         string        `mapstructure:"ws_base_url"`
	SessionDBPath     string        `mapstructure:"session_db_path"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	LogLevel          string        `mapstructure:"log_level"`
}

// DeriveWSURL swaps the scheme of an HTTP origin to its WebSocket
// counterpart, keeping host and path.
func DeriveWSURL(apiBase string) (string, error) {
	u, err := url.Parse(apiBase)
	if err != nil {
		return "", errors.Wrap(err, "parse api base url")
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
		// already a websocket origin
	default:
		return "", errors.Errorf("unsupported scheme %q", u.Scheme)
	}
	return u.String(), nil
}

func defaultSessionDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "intake-session.db"
	}
	return filepath.Join(home, ".intake", "session.db")
}

// Load reads configuration from an optional yaml file, INTAKE_* environment
// variables, and defaults, in that order of increasing precedence for env
// over file. An empty configFile skips file loading.
func Load(configFile string) (Config, error) {
	v := viper.New()
	v.SetDefault("api_base_url", "http://localhost:8000")
	v.SetDefault("session_db_path", defaultSessionDBPath())
	v.SetDefault("heartbeat_interval", 30*time.Second)
	v.SetDefault("poll_interval", 5*time.Second)
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("INTAKE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "read config file %s", configFile)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "unmarshal config")
	}
	if cfg.WSBaseURL == "" {
		ws, err := DeriveWSURL(cfg.APIBaseURL)
		if err != nil {
			return Config{}, err
		}
		cfg.WSBaseURL = ws
	}
	return cfg, nil
}

// ApplicationChannelURL returns the applicant-scoped push endpoint.
func (c Config) ApplicationChannelURL(applicationID string) string {
	return strings.TrimRight(c.WSBaseURL, "/") + "/ws/applications/" + applicationID
}

// ServicerChannelURL returns the servicer notification push endpoint.
func (c Config) ServicerChannelURL() string {
	return strings.TrimRight(c.WSBaseURL, "/") + "/ws/servicer/notifications"
}
