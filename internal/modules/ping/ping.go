// Package ping implements the "ping" command: an immediate signal report
// from the packet that carried the command itself.
package ping

import (
	"context"
	"fmt"

	"github.com/meshenger/gateway/internal/meshmsg"
	"github.com/meshenger/gateway/internal/module"
	"github.com/meshenger/gateway/internal/store"
)

type Module struct {
	module.EventlessModule
}

func New() *Module { return &Module{} }

func (*Module) Name() string        { return "ping" }
func (*Module) Description() string { return "Signal report" }
func (*Module) Commands() []string  { return []string{"ping"} }
func (*Module) Scope() meshmsg.CommandScope { return meshmsg.ScopeBoth }

func (*Module) HandleCommand(_ context.Context, _, _ string, ctx meshmsg.MessageContext, _ *store.Store) ([]meshmsg.Response, error) {
	mqttTag := ""
	if ctx.ViaMQTT {
		mqttTag = " (via MQTT)"
	}
	text := fmt.Sprintf("Pong! RSSI: %d SNR: %.1f Hops: %d/%d%s", ctx.RSSI, ctx.SNR, ctx.HopCount, ctx.HopLimit, mqttTag)
	return []meshmsg.Response{{Text: text, Destination: meshmsg.DestSender(), Channel: ctx.Channel}}, nil
}
