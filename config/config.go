// Package config holds the static bridge configuration: OSC listeners,
// WebSocket channels, optional outbound OSC mirroring, optional NATS event
// publishing and the metrics server. Configuration is loaded once at startup;
// channels are never created or destroyed mid-run.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/c360/avatarbridge/errors"
)

// Config represents the complete bridge configuration
type Config struct {
	Server    ServerConfig     `json:"server"`
	Listeners []ListenerConfig `json:"listeners"`
	Channels  []ChannelConfig  `json:"channels"`
	OSCOut    *OSCOutConfig    `json:"osc_out,omitempty"`
	NATS      *NATSConfig      `json:"nats,omitempty"`
	Metrics   MetricsConfig    `json:"metrics"`
	Reconnect ReconnectConfig  `json:"reconnect"`
}

// ServerConfig is the host/port pair every persistent channel connects to;
// each channel appends its own path suffix.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// ListenerConfig describes one OSC-over-UDP listener
type ListenerConfig struct {
	Name string `json:"name"`
	Bind string `json:"bind"`
	Port int    `json:"port"`
}

// ChannelConfig describes one persistent WebSocket channel
type ChannelConfig struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Inbound bool   `json:"inbound"` // false for outbound-only channels (ui)
}

// OSCOutConfig enables mirroring clamped affect floats to an external face
// tracker over UDP.
type OSCOutConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// NATSConfig enables the optional observability events publisher
type NATSConfig struct {
	URL           string `json:"url"`
	SubjectPrefix string `json:"subject_prefix,omitempty"`
}

// MetricsConfig controls the Prometheus metrics HTTP server
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path,omitempty"`
}

// ReconnectConfig shapes the channel reconnect backoff
type ReconnectConfig struct {
	InitialDelay     time.Duration `json:"initial_delay"`
	MaxDelay         time.Duration `json:"max_delay"`
	Multiplier       float64       `json:"multiplier"`
	HandshakeTimeout time.Duration `json:"handshake_timeout"`
}

// UnmarshalJSON accepts durations as strings ("250ms") or raw nanosecond
// numbers. Fields absent from the JSON keep their current values.
func (rc *ReconnectConfig) UnmarshalJSON(data []byte) error {
	aux := struct {
		InitialDelay     any      `json:"initial_delay"`
		MaxDelay         any      `json:"max_delay"`
		Multiplier       *float64 `json:"multiplier"`
		HandshakeTimeout any      `json:"handshake_timeout"`
	}{}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.Multiplier != nil {
		rc.Multiplier = *aux.Multiplier
	}

	for _, f := range []struct {
		name string
		raw  any
		dst  *time.Duration
	}{
		{"initial_delay", aux.InitialDelay, &rc.InitialDelay},
		{"max_delay", aux.MaxDelay, &rc.MaxDelay},
		{"handshake_timeout", aux.HandshakeTimeout, &rc.HandshakeTimeout},
	} {
		if err := parseDuration(f.dst, f.raw); err != nil {
			return fmt.Errorf("reconnect.%s: %w", f.name, err)
		}
	}
	return nil
}

func parseDuration(dst *time.Duration, v any) error {
	switch d := v.(type) {
	case nil:
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return err
		}
		*dst = parsed
	case float64:
		*dst = time.Duration(d)
	default:
		return fmt.Errorf("unsupported duration value %v: %w", v, errors.ErrInvalidConfig)
	}
	return nil
}

// Default returns the standard bridge configuration: affect floats on UDP
// 9000, action toggles on UDP 9001, four channels against localhost:8765.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "localhost", Port: 8765},
		Listeners: []ListenerConfig{
			{Name: "affect", Bind: "0.0.0.0", Port: 9000},
			{Name: "action", Bind: "0.0.0.0", Port: 9001},
		},
		Channels: []ChannelConfig{
			{Name: "emotion", Path: "/emotion", Inbound: true},
			{Name: "transcript", Path: "/transcript", Inbound: true},
			{Name: "ui", Path: "/ui", Inbound: false},
			{Name: "log", Path: "/log", Inbound: true},
		},
		Metrics: MetricsConfig{Enabled: true, Port: 9090, Path: "/metrics"},
		Reconnect: ReconnectConfig{
			InitialDelay:     250 * time.Millisecond,
			MaxDelay:         10 * time.Second,
			Multiplier:       2.0,
			HandshakeTimeout: 5 * time.Second,
		},
	}
}

// Load reads configuration from a JSON file, applying defaults for any
// section the file omits.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "config", "Load", "read config file")
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.WrapFatal(err, "config", "Load", "parse config file")
	}

	return cfg, nil
}

// ChannelURL composes the full WebSocket URL for a channel
func (c *Config) ChannelURL(ch ChannelConfig) string {
	return fmt.Sprintf("ws://%s:%d%s", c.Server.Host, c.Server.Port, ch.Path)
}

// Validate checks if the config is valid. Listener and channel entries are
// validated individually so a bad entry can be reported against the component
// it concerns.
func (c *Config) Validate() error {
	if c.Server.Host == "" {
		return errors.WrapFatal(errors.ErrMissingConfig, "config", "Validate", "server.host")
	}
	if err := validatePort(c.Server.Port); err != nil {
		return errors.WrapFatal(err, "config", "Validate", "server.port")
	}

	seen := make(map[string]bool)
	for _, l := range c.Listeners {
		if err := l.Validate(); err != nil {
			return err
		}
		if seen["listener:"+l.Name] {
			return errors.WrapFatal(
				fmt.Errorf("duplicate listener name %q: %w", l.Name, errors.ErrInvalidConfig),
				"config", "Validate", "listener uniqueness")
		}
		seen["listener:"+l.Name] = true
	}

	for _, ch := range c.Channels {
		if err := ch.Validate(); err != nil {
			return err
		}
		if seen["channel:"+ch.Name] {
			return errors.WrapFatal(
				fmt.Errorf("duplicate channel name %q: %w", ch.Name, errors.ErrInvalidConfig),
				"config", "Validate", "channel uniqueness")
		}
		seen["channel:"+ch.Name] = true
	}

	if c.OSCOut != nil {
		if c.OSCOut.Host == "" {
			return errors.WrapFatal(errors.ErrMissingConfig, "config", "Validate", "osc_out.host")
		}
		if err := validatePort(c.OSCOut.Port); err != nil {
			return errors.WrapFatal(err, "config", "Validate", "osc_out.port")
		}
	}

	if c.NATS != nil && c.NATS.URL == "" {
		return errors.WrapFatal(errors.ErrMissingConfig, "config", "Validate", "nats.url")
	}

	if c.Metrics.Enabled {
		if err := validatePort(c.Metrics.Port); err != nil {
			return errors.WrapFatal(err, "config", "Validate", "metrics.port")
		}
	}

	return nil
}

// Validate checks a single listener entry
func (l ListenerConfig) Validate() error {
	if l.Name == "" {
		return errors.WrapFatal(errors.ErrMissingConfig, "config", "Validate", "listener.name")
	}
	if err := validatePort(l.Port); err != nil {
		return errors.WrapFatal(
			fmt.Errorf("listener %q: %w", l.Name, err),
			"config", "Validate", "listener.port")
	}
	return nil
}

// Validate checks a single channel entry
func (ch ChannelConfig) Validate() error {
	if ch.Name == "" {
		return errors.WrapFatal(errors.ErrMissingConfig, "config", "Validate", "channel.name")
	}
	if !strings.HasPrefix(ch.Path, "/") {
		return errors.WrapFatal(
			fmt.Errorf("channel %q path %q must start with /: %w", ch.Name, ch.Path, errors.ErrInvalidConfig),
			"config", "Validate", "channel.path")
	}
	return nil
}

func validatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port %d out of range: %w", port, errors.ErrInvalidConfig)
	}
	return nil
}
