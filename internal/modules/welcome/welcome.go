// Package welcome greets newly discovered nodes, and nodes returning after
// an absence, with a configurable template message.
package welcome

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/meshenger/gateway/internal/humanize"
	"github.com/meshenger/gateway/internal/meshmsg"
	"github.com/meshenger/gateway/internal/module"
	"github.com/meshenger/gateway/internal/store"
)

type Module struct {
	message            string
	welcomeBackMessage string
	absenceThreshold   time.Duration
	whitelist          map[uint32]struct{}
	nowFunc            func() time.Time
	logger             *log.Logger
}

// New builds a welcome module. whitelist entries are parsed as node IDs
// ("!hex" or decimal); an empty whitelist allows every node.
func New(message, welcomeBackMessage string, absenceThresholdHours uint64, whitelist []string) *Module {
	var ids map[uint32]struct{}
	if len(whitelist) > 0 {
		ids = make(map[uint32]struct{}, len(whitelist))
		for _, s := range whitelist {
			if id, ok := humanize.ParseNodeID(s); ok {
				ids[id] = struct{}{}
			}
		}
		log.With("component", "welcome").Info("welcome whitelist", "count", len(ids))
	}
	return &Module{
		message: message, welcomeBackMessage: welcomeBackMessage,
		absenceThreshold: time.Duration(absenceThresholdHours) * time.Hour,
		whitelist:        ids, nowFunc: time.Now,
		logger: log.With("component", "welcome"),
	}
}

func (*Module) Name() string                { return "welcome" }
func (*Module) Description() string         { return "New node greeting" }
func (*Module) Commands() []string          { return nil }
func (*Module) Scope() meshmsg.CommandScope { return meshmsg.ScopeDM }

func (*Module) HandleCommand(context.Context, string, string, meshmsg.MessageContext, *store.Store) ([]meshmsg.Response, error) {
	return nil, nil
}

func (m *Module) isAllowed(nodeID uint32) bool {
	if m.whitelist == nil {
		return true
	}
	_, ok := m.whitelist[nodeID]
	return ok
}

func (m *Module) formatMessage(template, name string) string {
	return strings.ReplaceAll(template, "{name}", name)
}

func (m *Module) HandleEvent(ctx context.Context, event meshmsg.MeshEvent, st *store.Store) ([]meshmsg.Response, error) {
	if event.Kind != meshmsg.EventNodeDiscovered {
		return nil, nil
	}
	if !m.isAllowed(event.NodeID) {
		return nil, nil
	}

	displayName := "friend"
	switch {
	case event.LongName != "":
		displayName = event.LongName
	case event.ShortName != "":
		displayName = event.ShortName
	}

	existing, err := st.GetNode(ctx, event.NodeID)
	if err != nil {
		return nil, fmt.Errorf("get node: %w", err)
	}

	isNew := existing == nil
	isAbsent := false
	if !isNew {
		isAbsent = m.nowFunc().Sub(time.Unix(existing.LastSeen, 0)) >= m.absenceThreshold
	}

	// Record the observation before deciding on a message, so a node row
	// always exists by the time MarkWelcomed runs.
	if _, err := st.UpsertNode(ctx, event.NodeID, event.ShortName, event.LongName, event.ViaMQTT, m.nowFunc().Unix()); err != nil {
		return nil, fmt.Errorf("upsert node: %w", err)
	}

	var text string
	switch {
	case isNew:
		m.logger.Info("new node discovered", "name", displayName, "node_id", event.NodeID)
		text = m.formatMessage(m.message, displayName)
	case isAbsent:
		m.logger.Info("returning node", "name", displayName, "node_id", event.NodeID)
		text = m.formatMessage(m.welcomeBackMessage, displayName)
	default:
		return nil, nil
	}

	if err := st.MarkWelcomed(ctx, event.NodeID, m.nowFunc().Unix()); err != nil {
		return nil, fmt.Errorf("mark welcomed: %w", err)
	}

	return []meshmsg.Response{{Text: text, Destination: meshmsg.DestNode(event.NodeID), Channel: 0}}, nil
}

var _ module.Module = (*Module)(nil)
