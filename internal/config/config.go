// Package config loads the gateway's TOML configuration file via viper,
// applying the same defaults the original bot shipped with.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully-resolved configuration tree.
type Config struct {
	Connection      ConnectionConfig        `mapstructure:"connection"`
	Bot             BotConfig               `mapstructure:"bot"`
	Welcome         WelcomeConfig           `mapstructure:"welcome"`
	Weather         WeatherConfig           `mapstructure:"weather"`
	TracerouteProbe TracerouteProbeConfig   `mapstructure:"traceroute_probe"`
	Modules         map[string]ModuleConfig `mapstructure:"modules"`
	Bridge          BridgeConfig            `mapstructure:"bridge"`
	Dashboard       DashboardConfig         `mapstructure:"dashboard"`
}

type ConnectionConfig struct {
	Address            string `mapstructure:"address"`
	ReconnectDelaySecs uint64 `mapstructure:"reconnect_delay_secs"`
}

type BotConfig struct {
	Name                  string `mapstructure:"name"`
	DBPath                string `mapstructure:"db_path"`
	CommandPrefix         string `mapstructure:"command_prefix"`
	RateLimitCommands     int    `mapstructure:"rate_limit_commands"`
	RateLimitWindowSecs   uint64 `mapstructure:"rate_limit_window_secs"`
	SendDelayMs           uint64 `mapstructure:"send_delay_ms"`
	MaxMessageLen         int    `mapstructure:"max_message_len"`
	StartupGraceSecs      uint64 `mapstructure:"startup_grace_secs"`
	StalePurgeHours       uint64 `mapstructure:"stale_purge_hours"`
	OptimizeIntervalHours uint64 `mapstructure:"optimize_interval_hours"`
}

// TracerouteProbeConfig governs the probe selector's timer and candidate
// search, grounded on spec.md's "traceroute_probe" config section.
type TracerouteProbeConfig struct {
	Enabled              bool    `mapstructure:"enabled"`
	IntervalSecs         uint64  `mapstructure:"interval_secs"`
	IntervalJitterPct    float64 `mapstructure:"interval_jitter_pct"`
	RecentSeenWithinSecs uint64  `mapstructure:"recent_seen_within_secs"`
	PerNodeCooldownSecs  uint64  `mapstructure:"per_node_cooldown_secs"`
	MeshChannel          uint32  `mapstructure:"mesh_channel"`
}

type WelcomeConfig struct {
	Enabled                bool     `mapstructure:"enabled"`
	Message                string   `mapstructure:"message"`
	WelcomeBackMessage     string   `mapstructure:"welcome_back_message"`
	AbsenceThresholdHours  uint64   `mapstructure:"absence_threshold_hours"`
	Whitelist              []string `mapstructure:"whitelist"`
}

type WeatherConfig struct {
	Latitude  float64 `mapstructure:"latitude"`
	Longitude float64 `mapstructure:"longitude"`
	Units     string  `mapstructure:"units"`
}

type ModuleConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Scope   string `mapstructure:"scope"`
}

type BridgeConfig struct {
	Telegram *TelegramConfig `mapstructure:"telegram"`
	Discord  *DiscordConfig  `mapstructure:"discord"`
	MQTT     *MQTTConfig     `mapstructure:"mqtt"`
}

type TelegramConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	BotToken    string `mapstructure:"bot_token"`
	ChatID      int64  `mapstructure:"chat_id"`
	MeshChannel uint32 `mapstructure:"mesh_channel"`
	Direction   string `mapstructure:"direction"`
	Format      string `mapstructure:"format"`
}

type DiscordConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	BotToken    string `mapstructure:"bot_token"`
	ChannelID   uint64 `mapstructure:"channel_id"`
	MeshChannel uint32 `mapstructure:"mesh_channel"`
	Direction   string `mapstructure:"direction"`
	Format      string `mapstructure:"format"`
}

// MQTTConfig is a SPEC_FULL addition, absent from the original bot, that
// configures the optional MQTT observer.
type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Server      string `mapstructure:"server"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	RootTopic   string `mapstructure:"root_topic"`
	ChannelName string `mapstructure:"channel_name"`
}

type DashboardConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	BindAddress string `mapstructure:"bind_address"`
}

// IsModuleEnabled reports whether the named module is enabled, defaulting
// to false for modules with no configuration entry.
func (c *Config) IsModuleEnabled(name string) bool {
	m, ok := c.Modules[name]
	return ok && m.Enabled
}

// ReconnectDelay returns the configured reconnect backoff as a Duration.
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Connection.ReconnectDelaySecs) * time.Second
}

// GracePeriod returns the startup grace period as a Duration.
func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.Bot.StartupGraceSecs) * time.Second
}

// Load reads and parses the TOML configuration file at path, applying
// defaults for every field the original bot defaulted.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	v.SetDefault("connection.reconnect_delay_secs", 5)
	v.SetDefault("bot.db_path", "meshenger.db")
	v.SetDefault("bot.command_prefix", "!")
	v.SetDefault("bot.rate_limit_commands", 5)
	v.SetDefault("bot.rate_limit_window_secs", 60)
	v.SetDefault("bot.send_delay_ms", 1500)
	v.SetDefault("bot.max_message_len", 220)
	v.SetDefault("bot.startup_grace_secs", 30)
	v.SetDefault("bot.stale_purge_hours", 1)
	v.SetDefault("bot.optimize_interval_hours", 6)
	v.SetDefault("traceroute_probe.enabled", false)
	v.SetDefault("traceroute_probe.interval_secs", 600)
	v.SetDefault("traceroute_probe.interval_jitter_pct", 0.2)
	v.SetDefault("traceroute_probe.recent_seen_within_secs", 3600)
	v.SetDefault("traceroute_probe.per_node_cooldown_secs", 1800)
	v.SetDefault("traceroute_probe.mesh_channel", 0)
	v.SetDefault("dashboard.enabled", false)
	v.SetDefault("dashboard.bind_address", "0.0.0.0:9000")
	v.SetDefault("bridge.telegram.direction", "both")
	v.SetDefault("bridge.telegram.format", "[{name}] {message}")
	v.SetDefault("bridge.discord.direction", "both")
	v.SetDefault("bridge.discord.format", "**{name}**: {message}")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
