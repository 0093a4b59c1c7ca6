// Package mail implements the "mail" command (send/read/list/delete) and a
// NodeDiscovered notification nudging a node to check its unread backlog.
package mail

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/meshenger/gateway/internal/humanize"
	"github.com/meshenger/gateway/internal/meshmsg"
	"github.com/meshenger/gateway/internal/module"
	"github.com/meshenger/gateway/internal/store"
)

type Module struct {
	nowFunc func() time.Time
}

func New() *Module { return &Module{nowFunc: time.Now} }

func (*Module) Name() string                { return "mail" }
func (*Module) Description() string         { return "Store-and-forward mail" }
func (*Module) Commands() []string          { return []string{"mail"} }
func (*Module) Scope() meshmsg.CommandScope { return meshmsg.ScopeBoth }

const usage = "Usage: mail send <name> <msg> | mail read | mail list | mail delete <id>"

func (m *Module) HandleCommand(ctx context.Context, _, args string, msgCtx meshmsg.MessageContext, st *store.Store) ([]meshmsg.Response, error) {
	subcmd, rest, _ := strings.Cut(args, " ")
	rest = strings.TrimSpace(rest)

	var text string
	var err error
	switch subcmd {
	case "send":
		text, err = m.cmdSend(ctx, rest, msgCtx, st)
	case "read":
		text, err = m.cmdRead(ctx, msgCtx, st)
	case "list":
		text, err = m.cmdList(ctx, msgCtx, st)
	case "delete", "del":
		text, err = m.cmdDelete(ctx, rest, msgCtx, st)
	default:
		text = usage
	}
	if err != nil {
		return nil, err
	}

	return []meshmsg.Response{{Text: text, Destination: meshmsg.DestSender(), Channel: msgCtx.Channel}}, nil
}

func (m *Module) cmdSend(ctx context.Context, args string, msgCtx meshmsg.MessageContext, st *store.Store) (string, error) {
	recipient, body, ok := strings.Cut(args, " ")
	body = strings.TrimSpace(body)
	if !ok || body == "" {
		return "Usage: mail send <name> <message>", nil
	}
	recipient = strings.TrimSpace(recipient)

	toNode, found, err := resolveRecipient(ctx, recipient, st)
	if err != nil {
		return "", fmt.Errorf("resolve recipient: %w", err)
	}
	if !found {
		return fmt.Sprintf("Unknown node: %s", recipient), nil
	}
	if toNode == msgCtx.SenderID {
		return "Can't send mail to yourself.", nil
	}

	toName, err := st.GetNodeName(ctx, toNode)
	if err != nil {
		return "", fmt.Errorf("get node name: %w", err)
	}
	if toName == "" {
		toName = fmt.Sprintf("!%08x", toNode)
	}

	if _, err := st.StoreMail(ctx, msgCtx.SenderID, toNode, body, m.nowFunc().Unix()); err != nil {
		return "", fmt.Errorf("store mail: %w", err)
	}
	return fmt.Sprintf("Mail sent to %s.", toName), nil
}

// resolveRecipient tries an exact name match first, falling back to
// parsing the argument as a node ID ("!hex" or decimal) the way the mesh
// itself addresses nodes.
func resolveRecipient(ctx context.Context, recipient string, st *store.Store) (uint32, bool, error) {
	if id, ok, err := st.FindNodeByName(ctx, recipient); err != nil {
		return 0, false, err
	} else if ok {
		return id, true, nil
	}
	if id, ok := humanize.ParseNodeID(recipient); ok {
		return id, true, nil
	}
	return 0, false, nil
}

func (m *Module) cmdRead(ctx context.Context, msgCtx meshmsg.MessageContext, st *store.Store) (string, error) {
	mail, err := st.UnreadMail(ctx, msgCtx.SenderID)
	if err != nil {
		return "", fmt.Errorf("unread mail: %w", err)
	}
	if len(mail) == 0 {
		return "No unread mail.", nil
	}

	now := m.nowFunc().Unix()
	var lines []string
	var ids []int64
	for _, msg := range mail {
		fromName, err := st.GetNodeName(ctx, msg.FromNode)
		if err != nil {
			return "", fmt.Errorf("get node name: %w", err)
		}
		if fromName == "" {
			fromName = fmt.Sprintf("!%08x", msg.FromNode)
		}
		ago := humanize.Ago(now - msg.Timestamp)
		lines = append(lines, fmt.Sprintf("[%d] %s (%s): %s", msg.ID, fromName, ago, msg.Body))
		ids = append(ids, msg.ID)
	}

	if err := st.MarkMailRead(ctx, msgCtx.SenderID, ids); err != nil {
		return "", fmt.Errorf("mark mail read: %w", err)
	}
	return strings.Join(lines, "\n"), nil
}

func (*Module) cmdList(ctx context.Context, msgCtx meshmsg.MessageContext, st *store.Store) (string, error) {
	count, err := st.CountUnreadMail(ctx, msgCtx.SenderID)
	if err != nil {
		return "", fmt.Errorf("count unread mail: %w", err)
	}
	if count == 0 {
		return "No unread mail.", nil
	}
	plural := "s"
	if count == 1 {
		plural = ""
	}
	return fmt.Sprintf("%d unread message%s.", count, plural), nil
}

func (*Module) cmdDelete(ctx context.Context, args string, msgCtx meshmsg.MessageContext, st *store.Store) (string, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(args), 10, 64)
	if err != nil {
		return "Usage: mail delete <id>", nil
	}

	if err := st.DeleteMail(ctx, msgCtx.SenderID, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "Mail not found.", nil
		}
		return "", fmt.Errorf("delete mail: %w", err)
	}
	return fmt.Sprintf("Mail #%d deleted.", id), nil
}

func (*Module) HandleEvent(ctx context.Context, event meshmsg.MeshEvent, st *store.Store) ([]meshmsg.Response, error) {
	if event.Kind != meshmsg.EventNodeDiscovered {
		return nil, nil
	}
	count, err := st.CountUnreadMail(ctx, event.NodeID)
	if err != nil {
		return nil, fmt.Errorf("count unread mail: %w", err)
	}
	if count == 0 {
		return nil, nil
	}
	plural := "s"
	if count == 1 {
		plural = ""
	}
	text := fmt.Sprintf("You have %d unread message%s. Send !mail read to view.", count, plural)
	return []meshmsg.Response{{Text: text, Destination: meshmsg.DestNode(event.NodeID), Channel: 0}}, nil
}

var _ module.Module = (*Module)(nil)
