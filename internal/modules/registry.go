// Package modules builds the module registry from configuration, the way
// the original bot's module registrar wired each optional feature module.
package modules

import (
	"github.com/meshenger/gateway/internal/config"
	"github.com/meshenger/gateway/internal/module"
	"github.com/meshenger/gateway/internal/modules/mail"
	"github.com/meshenger/gateway/internal/modules/nodeinfo"
	"github.com/meshenger/gateway/internal/modules/ping"
	"github.com/meshenger/gateway/internal/modules/uptime"
	"github.com/meshenger/gateway/internal/modules/weather"
	"github.com/meshenger/gateway/internal/modules/welcome"
)

// BuildRegistry registers every module enabled in cfg. "help" has no module
// of its own: the dispatcher special-cases it since only the dispatcher has
// access to the full registry needed to generate the help text.
func BuildRegistry(cfg *config.Config) *module.Registry {
	registry := module.NewRegistry()

	if cfg.IsModuleEnabled("ping") {
		registry.Register(ping.New())
	}
	if cfg.IsModuleEnabled("nodes") {
		registry.Register(nodeinfo.New())
	}
	if cfg.IsModuleEnabled("weather") {
		registry.Register(weather.New(cfg.Weather.Latitude, cfg.Weather.Longitude, cfg.Weather.Units))
	}
	if cfg.IsModuleEnabled("welcome") {
		registry.Register(welcome.New(cfg.Welcome.Message, cfg.Welcome.WelcomeBackMessage, cfg.Welcome.AbsenceThresholdHours, cfg.Welcome.Whitelist))
	}
	if cfg.IsModuleEnabled("mail") {
		registry.Register(mail.New())
	}
	if cfg.IsModuleEnabled("uptime") {
		registry.Register(uptime.New())
	}

	return registry
}
