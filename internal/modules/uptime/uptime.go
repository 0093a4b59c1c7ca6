// Package uptime implements the "uptime" command: process uptime plus
// lifetime message and node counters pulled from the store.
package uptime

import (
	"context"
	"fmt"
	"time"

	"github.com/meshenger/gateway/internal/humanize"
	"github.com/meshenger/gateway/internal/meshmsg"
	"github.com/meshenger/gateway/internal/module"
	"github.com/meshenger/gateway/internal/store"
)

type Module struct {
	module.EventlessModule
	started time.Time
	nowFunc func() time.Time
}

func New() *Module {
	return &Module{started: time.Now(), nowFunc: time.Now}
}

func (*Module) Name() string                { return "uptime" }
func (*Module) Description() string         { return "Bot uptime & stats" }
func (*Module) Commands() []string          { return []string{"uptime"} }
func (*Module) Scope() meshmsg.CommandScope { return meshmsg.ScopeBoth }

func (m *Module) HandleCommand(ctx context.Context, _, _ string, msgCtx meshmsg.MessageContext, st *store.Store) ([]meshmsg.Response, error) {
	elapsed := uint64(m.nowFunc().Sub(m.started).Seconds())
	msgsIn, _ := st.MessageCount(ctx, store.DirectionIn)
	msgsOut, _ := st.MessageCount(ctx, store.DirectionOut)
	nodes, _ := st.NodeCount(ctx)

	text := fmt.Sprintf("Uptime: %s\nMessages: %d in / %d out\nNodes seen: %d",
		humanize.Duration(elapsed), msgsIn, msgsOut, nodes)

	return []meshmsg.Response{{Text: text, Destination: meshmsg.DestSender(), Channel: msgCtx.Channel}}, nil
}
