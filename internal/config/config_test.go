package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleConfig = `
[connection]
address = "tcp://127.0.0.1:4403"

[bot]
name = "meshenger"

[welcome]
enabled = true
message = "welcome!"
welcome_back_message = "welcome back!"
absence_threshold_hours = 24

[weather]
latitude = 45.5
longitude = -122.6
units = "imperial"

[modules.ping]
enabled = true
scope = "both"

[bridge.telegram]
enabled = true
bot_token = "abc123"
chat_id = 42
`

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, sampleConfig)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "tcp://127.0.0.1:4403", cfg.Connection.Address)
	require.EqualValues(t, 5, cfg.Connection.ReconnectDelaySecs)
	require.Equal(t, "meshenger.db", cfg.Bot.DBPath)
	require.Equal(t, "!", cfg.Bot.CommandPrefix)
	require.EqualValues(t, 5, cfg.Bot.RateLimitCommands)
	require.EqualValues(t, 30, cfg.Bot.StartupGraceSecs)
	require.EqualValues(t, 220, cfg.Bot.MaxMessageLen)
	require.True(t, cfg.IsModuleEnabled("ping"))
	require.False(t, cfg.IsModuleEnabled("weather"))
	require.NotNil(t, cfg.Bridge.Telegram)
	require.Equal(t, "both", cfg.Bridge.Telegram.Direction)
	require.Equal(t, "[{name}] {message}", cfg.Bridge.Telegram.Format)

	require.False(t, cfg.TracerouteProbe.Enabled)
	require.EqualValues(t, 600, cfg.TracerouteProbe.IntervalSecs)
	require.InDelta(t, 0.2, cfg.TracerouteProbe.IntervalJitterPct, 0.0001)
	require.EqualValues(t, 3600, cfg.TracerouteProbe.RecentSeenWithinSecs)
	require.EqualValues(t, 1800, cfg.TracerouteProbe.PerNodeCooldownSecs)
}

func TestLoadTracerouteProbeOverrides(t *testing.T) {
	path := writeTempConfig(t, sampleConfig+`
[traceroute_probe]
enabled = true
interval_secs = 900
interval_jitter_pct = 0.3
recent_seen_within_secs = 7200
per_node_cooldown_secs = 600
mesh_channel = 2
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.True(t, cfg.TracerouteProbe.Enabled)
	require.EqualValues(t, 900, cfg.TracerouteProbe.IntervalSecs)
	require.InDelta(t, 0.3, cfg.TracerouteProbe.IntervalJitterPct, 0.0001)
	require.EqualValues(t, 7200, cfg.TracerouteProbe.RecentSeenWithinSecs)
	require.EqualValues(t, 600, cfg.TracerouteProbe.PerNodeCooldownSecs)
	require.EqualValues(t, 2, cfg.TracerouteProbe.MeshChannel)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}
