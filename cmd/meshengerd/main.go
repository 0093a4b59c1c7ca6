// Command meshengerd is the gateway's entrypoint: it loads configuration,
// opens the store, wires every package together, and runs the bot runtime
// until the process is interrupted.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/charmbracelet/log"

	"github.com/meshenger/gateway/internal/bot"
	"github.com/meshenger/gateway/internal/bridge"
	"github.com/meshenger/gateway/internal/config"
	"github.com/meshenger/gateway/internal/dashboard"
	"github.com/meshenger/gateway/internal/dispatch"
	"github.com/meshenger/gateway/internal/incoming"
	"github.com/meshenger/gateway/internal/modules"
	"github.com/meshenger/gateway/internal/mqttbridge"
	"github.com/meshenger/gateway/internal/queue"
	"github.com/meshenger/gateway/internal/radio"
	"github.com/meshenger/gateway/internal/ratelimit"
	"github.com/meshenger/gateway/internal/startup"
	"github.com/meshenger/gateway/internal/store"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to the TOML configuration file")
	level := flag.String("level", "info", "log level")
	flag.Parse()

	if lvl, err := log.ParseLevel(*level); err == nil {
		log.SetLevel(lvl)
	} else {
		log.Fatal("failed to parse log level", "level", *level, "err", err)
	}

	if _, err := os.Stat(*configPath); err != nil {
		log.Fatal("config file not found", "path", *configPath, "hint", "pass the path of a TOML config file with -config")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("failed to load config", "err", err)
	}
	log.Info("loaded config", "path", *configPath)

	st, err := store.Open(cfg.Bot.DBPath)
	if err != nil {
		log.Fatal("failed to open store", "err", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error("failed to close store", "err", err)
		}
	}()
	log.Info("opened store", "path", cfg.Bot.DBPath)

	registry := modules.BuildRegistry(cfg)
	log.Info("registered modules", "count", len(registry.All()))

	limiter := ratelimit.New(cfg.Bot.RateLimitCommands, time.Duration(cfg.Bot.RateLimitWindowSecs)*time.Second)
	out := queue.New()
	startupState := startup.New()
	hub := bridge.NewHub(32, 32)
	counters := dashboard.NewCounters()
	notifier := dashboard.NewNotifier()

	disp := dispatch.New(registry, limiter, out, st, cfg.Bot.CommandPrefix, cfg.Bot.MaxMessageLen)
	disp.SetCounters(counters)

	keys := radio.NewKeyRing()
	in := incoming.New(st, keys, startupState, hub, disp, cfg.GracePeriod(), time.Now)
	in.SetCounters(counters)

	if cfg.Bridge.MQTT != nil && cfg.Bridge.MQTT.Enabled {
		startMQTTObserver(cfg.Bridge.MQTT, keys, st, hub)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	runtime := bot.New(cfg, st, out, startupState, hub, in, counters, notifier)
	if err := runtime.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal("runtime exited with error", "err", err)
	}
	log.Info("shutting down")
}

func startMQTTObserver(cfg *config.MQTTConfig, keys *radio.KeyRing, st *store.Store, hub *bridge.Hub) {
	client := mqttbridge.NewClient(cfg.Server, cfg.Username, cfg.Password, cfg.RootTopic)
	if err := client.Connect(); err != nil {
		log.Error("failed to connect MQTT observer", "err", err)
		return
	}
	observer := mqttbridge.NewObserver(client, keys, cfg.ChannelName, st, hub, func() int64 { return time.Now().Unix() })
	go func() {
		if err := observer.Start(context.Background()); err != nil {
			log.Error("MQTT observer stopped", "err", err)
		}
	}()
	log.Info("started MQTT observer", "server", cfg.Server, "channel", cfg.ChannelName)
}
