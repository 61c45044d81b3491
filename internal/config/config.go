package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Default tuning values applied when the config file leaves them unset.
const (
	DefaultListenAddr    = "127.0.0.1:7411"
	DefaultPollInterval  = 5 * time.Second
	DefaultTypingWindow  = 1500 * time.Millisecond
	DefaultPresenceStale = 30 * time.Second
)

// Config represents the global ~/.beacon/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`
	Daemon         Daemon `toml:"daemon"`
}

// Daemon holds per-daemon tuning. Zero values mean "use the default".
type Daemon struct {
	ListenAddr        string `toml:"listen_addr"`
	NATSURL           string `toml:"nats_url"`
	PresenceRoom      string `toml:"presence_room"`
	PollIntervalSecs  int    `toml:"poll_interval_secs"`
	TypingWindowMs    int    `toml:"typing_window_ms"`
	PresenceStaleSecs int    `toml:"presence_stale_secs"`
}

// Addr returns the gateway listen address.
func (d Daemon) Addr() string {
	if d.ListenAddr == "" {
		return DefaultListenAddr
	}
	return d.ListenAddr
}

// PollInterval returns the view refresh interval.
func (d Daemon) PollInterval() time.Duration {
	if d.PollIntervalSecs <= 0 {
		return DefaultPollInterval
	}
	return time.Duration(d.PollIntervalSecs) * time.Second
}

// TypingWindow returns the minimum gap between typing announces.
func (d Daemon) TypingWindow() time.Duration {
	if d.TypingWindowMs <= 0 {
		return DefaultTypingWindow
	}
	return time.Duration(d.TypingWindowMs) * time.Millisecond
}

// PresenceStale returns the window after which a silent peer is reported stale.
func (d Daemon) PresenceStale() time.Duration {
	if d.PresenceStaleSecs <= 0 {
		return DefaultPresenceStale
	}
	return time.Duration(d.PresenceStaleSecs) * time.Second
}

// Room returns the shared presence room name.
func (d Daemon) Room() string {
	if d.PresenceRoom == "" {
		return "lobby"
	}
	return d.PresenceRoom
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
