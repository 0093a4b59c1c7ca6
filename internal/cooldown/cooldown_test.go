package cooldown

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCanSendTrueForNeverProbedTarget(t *testing.T) {
	tr := New()
	require.True(t, tr.CanSend(1, time.Hour))
}

func TestMarkSentBlocksUntilCooldownElapses(t *testing.T) {
	tr := New()
	tr.MarkSent(1)
	require.False(t, tr.CanSend(1, time.Minute))
	require.True(t, tr.CanSend(1, 0))
}

func TestCooldownIsPerTarget(t *testing.T) {
	tr := New()
	tr.MarkSent(1)
	require.False(t, tr.CanSend(1, time.Minute))
	require.True(t, tr.CanSend(2, time.Minute))
}
