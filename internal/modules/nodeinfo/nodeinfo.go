// Package nodeinfo implements the "nodes" command: a listing of recently
// heard mesh participants.
package nodeinfo

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/meshenger/gateway/internal/humanize"
	"github.com/meshenger/gateway/internal/meshmsg"
	"github.com/meshenger/gateway/internal/module"
	"github.com/meshenger/gateway/internal/store"
)

const defaultCount = 5
const maxCount = 20

type Module struct {
	module.EventlessModule
	nowFunc func() time.Time
}

func New() *Module { return &Module{nowFunc: time.Now} }

func (*Module) Name() string                { return "nodes" }
func (*Module) Description() string         { return "Mesh node listing" }
func (*Module) Commands() []string          { return []string{"nodes"} }
func (*Module) Scope() meshmsg.CommandScope { return meshmsg.ScopeBoth }

func (m *Module) HandleCommand(ctx context.Context, _, args string, msgCtx meshmsg.MessageContext, st *store.Store) ([]meshmsg.Response, error) {
	count := defaultCount
	if n, err := strconv.Atoi(strings.TrimSpace(args)); err == nil {
		count = n
	}
	if count > maxCount {
		count = maxCount
	}
	if count < 0 {
		count = defaultCount
	}

	total, err := st.NodeCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("node count: %w", err)
	}
	nodes, err := st.GetRecentNodesWithLastHop(ctx, count)
	if err != nil {
		return nil, fmt.Errorf("recent nodes: %w", err)
	}

	now := m.nowFunc().Unix()
	lines := []string{fmt.Sprintf("Nodes seen: %d", total)}
	for _, n := range nodes {
		name := "unknown"
		if n.LongName != "" {
			name = n.LongName
		} else if n.ShortName != "" {
			name = n.ShortName
		}
		ago := humanize.Ago(now - n.LastSeen)
		hops := ""
		if n.LastHop != nil {
			hops = fmt.Sprintf(" | hops %d", *n.LastHop)
		}
		lines = append(lines, fmt.Sprintf("!%08x %s (%s)%s", n.NodeID, name, ago, hops))
	}

	if int(total) > len(nodes) {
		lines = append(lines, fmt.Sprintf("...and %d more", int(total)-len(nodes)))
	}

	return []meshmsg.Response{{Text: strings.Join(lines, "\n"), Destination: meshmsg.DestSender(), Channel: msgCtx.Channel}}, nil
}
