package mail

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meshenger/gateway/internal/meshmsg"
	"github.com/meshenger/gateway/internal/store"
)

func setupStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()
	_, err = st.UpsertNode(ctx, 0xAAAAAAAA, "AAAA", "Alice", false, 1)
	require.NoError(t, err)
	_, err = st.UpsertNode(ctx, 0xBBBBBBBB, "BBBB", "Bob", false, 1)
	require.NoError(t, err)
	_, err = st.UpsertNode(ctx, 0xCCCCCCCC, "CCCC", "Charlie", false, 1)
	require.NoError(t, err)
	return st
}

func testContext(senderID uint32) meshmsg.MessageContext {
	return meshmsg.MessageContext{SenderID: senderID, SenderName: "TestNode", IsDM: true}
}

func TestMailSendByName(t *testing.T) {
	m := New()
	st := setupStore(t)
	ctx := context.Background()

	responses, err := m.HandleCommand(ctx, "mail", "send Bob Hello there!", testContext(0xAAAAAAAA), st)
	require.NoError(t, err)
	require.Equal(t, "Mail sent to Bob.", responses[0].Text)

	count, err := st.CountUnreadMail(ctx, 0xBBBBBBBB)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestMailSendByHexID(t *testing.T) {
	m := New()
	st := setupStore(t)

	responses, err := m.HandleCommand(context.Background(), "mail", "send !bbbbbbbb Test message", testContext(0xAAAAAAAA), st)
	require.NoError(t, err)
	require.Equal(t, "Mail sent to Bob.", responses[0].Text)
}

func TestMailSendUnknownRecipient(t *testing.T) {
	m := New()
	st := setupStore(t)

	responses, err := m.HandleCommand(context.Background(), "mail", "send Unknown Hello", testContext(0xAAAAAAAA), st)
	require.NoError(t, err)
	require.Equal(t, "Unknown node: Unknown", responses[0].Text)
}

func TestMailSendToSelf(t *testing.T) {
	m := New()
	st := setupStore(t)

	responses, err := m.HandleCommand(context.Background(), "mail", "send Alice Hello", testContext(0xAAAAAAAA), st)
	require.NoError(t, err)
	require.Equal(t, "Can't send mail to yourself.", responses[0].Text)
}

func TestMailSendMissingMessage(t *testing.T) {
	m := New()
	st := setupStore(t)

	responses, err := m.HandleCommand(context.Background(), "mail", "send Bob", testContext(0xAAAAAAAA), st)
	require.NoError(t, err)
	require.Contains(t, responses[0].Text, "Usage:")
}

func TestMailReadNoMail(t *testing.T) {
	m := New()
	st := setupStore(t)

	responses, err := m.HandleCommand(context.Background(), "mail", "read", testContext(0xAAAAAAAA), st)
	require.NoError(t, err)
	require.Equal(t, "No unread mail.", responses[0].Text)
}

func TestMailReadMarksRead(t *testing.T) {
	m := New()
	st := setupStore(t)
	ctx := context.Background()

	_, err := st.StoreMail(ctx, 0xAAAAAAAA, 0xBBBBBBBB, "Hello Bob!", 1)
	require.NoError(t, err)

	responses, err := m.HandleCommand(ctx, "mail", "read", testContext(0xBBBBBBBB), st)
	require.NoError(t, err)
	require.Contains(t, responses[0].Text, "Alice")
	require.Contains(t, responses[0].Text, "Hello Bob!")

	count, err := st.CountUnreadMail(ctx, 0xBBBBBBBB)
	require.NoError(t, err)
	require.EqualValues(t, 0, count)
}

func TestMailListCounts(t *testing.T) {
	m := New()
	st := setupStore(t)
	ctx := context.Background()

	responses, err := m.HandleCommand(ctx, "mail", "list", testContext(0xAAAAAAAA), st)
	require.NoError(t, err)
	require.Equal(t, "No unread mail.", responses[0].Text)

	_, err = st.StoreMail(ctx, 0xAAAAAAAA, 0xBBBBBBBB, "Test", 1)
	require.NoError(t, err)
	_, err = st.StoreMail(ctx, 0xCCCCCCCC, 0xBBBBBBBB, "Test2", 1)
	require.NoError(t, err)

	responses, err = m.HandleCommand(ctx, "mail", "list", testContext(0xBBBBBBBB), st)
	require.NoError(t, err)
	require.Equal(t, "2 unread messages.", responses[0].Text)
}

func TestMailDeleteSuccessAndWrongOwner(t *testing.T) {
	m := New()
	st := setupStore(t)
	ctx := context.Background()

	id, err := st.StoreMail(ctx, 0xAAAAAAAA, 0xBBBBBBBB, "Test", 1)
	require.NoError(t, err)

	responses, err := m.HandleCommand(ctx, "mail", "delete 99999", testContext(0xBBBBBBBB), st)
	require.NoError(t, err)
	require.Equal(t, "Mail not found.", responses[0].Text)

	responses, err = m.HandleCommand(ctx, "mail", fmt.Sprintf("delete %d", id), testContext(0xAAAAAAAA), st)
	require.NoError(t, err)
	require.Equal(t, "Mail not found.", responses[0].Text)

	responses, err = m.HandleCommand(ctx, "mail", fmt.Sprintf("delete %d", id), testContext(0xBBBBBBBB), st)
	require.NoError(t, err)
	require.Equal(t, fmt.Sprintf("Mail #%d deleted.", id), responses[0].Text)
}

func TestMailUnknownSubcommand(t *testing.T) {
	m := New()
	st := setupStore(t)

	responses, err := m.HandleCommand(context.Background(), "mail", "unknown", testContext(0xAAAAAAAA), st)
	require.NoError(t, err)
	require.Contains(t, responses[0].Text, "Usage:")
}

func TestMailEventNotification(t *testing.T) {
	m := New()
	st := setupStore(t)
	ctx := context.Background()

	_, err := st.StoreMail(ctx, 0xAAAAAAAA, 0xBBBBBBBB, "Test", 1)
	require.NoError(t, err)

	event := meshmsg.NodeDiscovered(0xBBBBBBBB, "Bob", "BBBB", false)
	responses, err := m.HandleEvent(ctx, event, st)
	require.NoError(t, err)
	require.Len(t, responses, 1)
	require.Contains(t, responses[0].Text, "1 unread message")
	node, ok := responses[0].Destination.Node()
	require.True(t, ok)
	require.EqualValues(t, 0xBBBBBBBB, node)
}

func TestMailEventNoNotificationWhenEmpty(t *testing.T) {
	m := New()
	st := setupStore(t)

	event := meshmsg.NodeDiscovered(0xBBBBBBBB, "Bob", "BBBB", false)
	responses, err := m.HandleEvent(context.Background(), event, st)
	require.NoError(t, err)
	require.Nil(t, responses)
}

func TestMailModuleMetadata(t *testing.T) {
	m := New()
	require.Equal(t, "mail", m.Name())
	require.Equal(t, []string{"mail"}, m.Commands())
	require.Equal(t, meshmsg.ScopeBoth, m.Scope())
}
