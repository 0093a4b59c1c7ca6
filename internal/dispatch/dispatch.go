// Package dispatch turns a parsed text command or MeshEvent into queued
// outgoing responses, consulting the module registry and applying the
// sender rate limit and help-command short circuit.
package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/meshenger/gateway/internal/chunker"
	"github.com/meshenger/gateway/internal/dashboard"
	"github.com/meshenger/gateway/internal/meshmsg"
	"github.com/meshenger/gateway/internal/module"
	"github.com/meshenger/gateway/internal/queue"
	"github.com/meshenger/gateway/internal/ratelimit"
	"github.com/meshenger/gateway/internal/store"
)

// Dispatcher wires a module registry to the outgoing queue.
type Dispatcher struct {
	registry      *module.Registry
	limiter       *ratelimit.Limiter
	out           *queue.Queue
	st            *store.Store
	commandPrefix string
	maxMessageLen int
	logger        *log.Logger
	counters      *dashboard.Counters
}

// New builds a Dispatcher.
func New(registry *module.Registry, limiter *ratelimit.Limiter, out *queue.Queue, st *store.Store, commandPrefix string, maxMessageLen int) *Dispatcher {
	return &Dispatcher{
		registry:      registry,
		limiter:       limiter,
		out:           out,
		st:            st,
		commandPrefix: commandPrefix,
		maxMessageLen: maxMessageLen,
		logger:        log.With("component", "dispatch"),
	}
}

// SetCounters attaches dashboard counters to increment as commands are
// handled and rate-limited; nil (the default) disables the increments.
func (d *Dispatcher) SetCounters(counters *dashboard.Counters) {
	d.counters = counters
}

// ParseCommand splits "!cmd rest of args" into ("cmd", "rest of args"),
// returning ok=false when text does not start with the configured prefix.
func (d *Dispatcher) ParseCommand(trimmedText string) (command, args string, ok bool) {
	raw, rest, hasArgs := strings.Cut(trimmedText, " ")
	if !hasArgs {
		raw, rest = trimmedText, ""
	}
	cmd, found := strings.CutPrefix(raw, d.commandPrefix)
	if !found {
		return "", "", false
	}
	return cmd, strings.TrimSpace(rest), true
}

// DispatchCommandFromText parses trimmedText as a command and, if it maps
// to a known module (or is the built-in "help"), runs it and queues its
// responses.
func (d *Dispatcher) DispatchCommandFromText(ctx context.Context, msgCtx meshmsg.MessageContext, trimmedText string, myNodeID uint32) error {
	command, args, ok := d.ParseCommand(trimmedText)
	if !ok {
		return nil
	}

	if !d.limiter.Check(msgCtx.SenderID) {
		d.logger.Warn("rate limited", "sender", msgCtx.SenderName, "sender_id", msgCtx.SenderID)
		if d.counters != nil {
			d.counters.RateLimited.Add(1)
		}
		return nil
	}

	if command == "help" {
		responses := []meshmsg.Response{{
			Text:        d.generateHelpText(),
			Destination: meshmsg.DestSender(),
			Channel:     msgCtx.Channel,
			ReplyID:     &msgCtx.PacketID,
		}}
		d.QueueResponses(msgCtx, responses, myNodeID)
		if d.counters != nil {
			d.counters.CommandsHandled.Add(1)
		}
		return nil
	}

	mod, ok := d.registry.FindByCommand(command)
	if !ok {
		return nil
	}
	if !mod.Scope().Allows(msgCtx.IsDM) {
		return nil
	}

	responses, err := mod.HandleCommand(ctx, command, args, msgCtx, d.st)
	if err != nil {
		return fmt.Errorf("module %s: %w", mod.Name(), err)
	}
	if d.counters != nil {
		d.counters.CommandsHandled.Add(1)
	}
	if len(responses) == 0 {
		return nil
	}
	if responses[0].ReplyID == nil {
		responses[0].ReplyID = &msgCtx.PacketID
	}
	d.QueueResponses(msgCtx, responses, myNodeID)
	return nil
}

// DispatchEventToModules runs event through every registered module and
// queues whatever responses they produce.
func (d *Dispatcher) DispatchEventToModules(ctx context.Context, event meshmsg.MeshEvent, myNodeID uint32) {
	msgCtx := meshmsg.MessageContext{
		SenderID:   event.NodeID,
		SenderName: fmt.Sprintf("!%08x", event.NodeID),
		IsDM:       false,
	}
	if event.LongName != "" {
		msgCtx.SenderName = event.LongName
	}

	for _, mod := range d.registry.All() {
		responses, err := mod.HandleEvent(ctx, event, d.st)
		if err != nil {
			d.logger.Error("module event error", "module", mod.Name(), "err", err)
			continue
		}
		if len(responses) > 0 {
			d.QueueResponses(msgCtx, responses, myNodeID)
		}
	}
}

// QueueResponses chunks each response's text to fit the configured
// message-length budget and pushes one outgoing queue entry per chunk,
// threading the reply ID onto only the first chunk of each response.
func (d *Dispatcher) QueueResponses(msgCtx meshmsg.MessageContext, responses []meshmsg.Response, myNodeID uint32) {
	for _, resp := range responses {
		broadcast := resp.Destination.IsBroadcast()
		var toNode uint32
		if node, ok := resp.Destination.Node(); ok {
			toNode = node
		} else if resp.Destination.IsSender() {
			toNode = msgCtx.SenderID
		}

		chunks := chunker.Chunk(resp.Text, d.maxMessageLen)
		for i, chunk := range chunks {
			msg := queue.Message{
				Kind:        queue.KindText,
				Text:        chunk,
				Broadcast:   broadcast,
				ToNode:      toNode,
				FromNode:    myNodeID,
				MeshChannel: resp.Channel,
			}
			if i == 0 {
				msg.ReplyID = resp.ReplyID
			}
			d.out.Push(msg)
		}
	}
}

func (d *Dispatcher) generateHelpText() string {
	var lines []string
	for _, mod := range d.registry.All() {
		cmds := mod.Commands()
		if len(cmds) == 0 {
			continue
		}
		prefixed := make([]string, len(cmds))
		for i, c := range cmds {
			prefixed[i] = d.commandPrefix + c
		}
		lines = append(lines, fmt.Sprintf("%s - %s", strings.Join(prefixed, ", "), mod.Description()))
	}
	if len(lines) == 0 {
		return "No commands available."
	}
	return strings.Join(lines, "\n")
}
