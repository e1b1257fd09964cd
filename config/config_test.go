package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/avatarbridge/errors"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Len(t, cfg.Listeners, 2)
	assert.Equal(t, 9000, cfg.Listeners[0].Port)
	assert.Equal(t, 9001, cfg.Listeners[1].Port)
	assert.Len(t, cfg.Channels, 4)
}

func TestChannelURL(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "ws://localhost:8765/emotion", cfg.ChannelURL(cfg.Channels[0]))

	cfg.Server.Host = "10.0.0.5"
	cfg.Server.Port = 9999
	assert.Equal(t, "ws://10.0.0.5:9999/transcript", cfg.ChannelURL(cfg.Channels[1]))
}

func TestLoad_OverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bridge.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"server": {"host": "render-host", "port": 9100},
		"channels": [
			{"name": "emotion", "path": "/emotion", "inbound": true}
		]
	}`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "render-host", cfg.Server.Host)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Len(t, cfg.Channels, 1)
	// Untouched sections keep defaults
	assert.Len(t, cfg.Listeners, 2)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoad_DurationStrings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bridge.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"reconnect": {
			"initial_delay": "100ms",
			"max_delay": "2s",
			"handshake_timeout": 3000000000
		}
	}`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 100*time.Millisecond, cfg.Reconnect.InitialDelay)
	assert.Equal(t, 2*time.Second, cfg.Reconnect.MaxDelay)
	// Raw nanosecond numbers still work
	assert.Equal(t, 3*time.Second, cfg.Reconnect.HandshakeTimeout)
	// Omitted fields keep defaults
	assert.Equal(t, 2.0, cfg.Reconnect.Multiplier)
}

func TestLoad_BadDurationString(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bridge.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"reconnect": {"initial_delay": "soon"}
	}`), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.Contains(t, err.Error(), "initial_delay")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/bridge.json")
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestLoad_MalformedJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty server host", func(c *Config) { c.Server.Host = "" }},
		{"bad server port", func(c *Config) { c.Server.Port = 0 }},
		{"listener without name", func(c *Config) { c.Listeners[0].Name = "" }},
		{"listener port out of range", func(c *Config) { c.Listeners[0].Port = 70000 }},
		{"duplicate listener name", func(c *Config) { c.Listeners[1].Name = c.Listeners[0].Name }},
		{"channel without name", func(c *Config) { c.Channels[0].Name = "" }},
		{"channel path without slash", func(c *Config) { c.Channels[0].Path = "emotion" }},
		{"duplicate channel name", func(c *Config) { c.Channels[1].Name = c.Channels[0].Name }},
		{"osc_out without host", func(c *Config) { c.OSCOut = &OSCOutConfig{Port: 9000} }},
		{"nats without url", func(c *Config) { c.NATS = &NATSConfig{} }},
		{"metrics bad port", func(c *Config) { c.Metrics.Port = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsFatal(err))
		})
	}
}

func TestValidate_OptionalSections(t *testing.T) {
	cfg := Default()
	cfg.OSCOut = &OSCOutConfig{Host: "127.0.0.1", Port: 39540}
	cfg.NATS = &NATSConfig{URL: "nats://localhost:4222"}
	assert.NoError(t, cfg.Validate())
}
