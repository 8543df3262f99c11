package replica

import (
	"testing"
	"time"

	"github.com/msgcluster/replica/internal/datastore"
	"github.com/stretchr/testify/require"
)

func newTestCore(t *testing.T) *Core {
	t.Helper()
	store, err := datastore.Open(t.TempDir())
	require.NoError(t, err)
	return New("replica-test", store, 10, nil)
}

func TestLoginAndList(t *testing.T) {
	c := newTestCore(t)

	r := c.Login("alice")
	require.Equal(t, StatusSucesso, r.Status)
	require.GreaterOrEqual(t, r.Clock, uint64(1))

	dup := c.Login("alice")
	require.Equal(t, StatusErro, dup.Status)
	require.Equal(t, "Usuário já cadastrado", dup.Description)

	users := c.Users()
	require.Equal(t, []string{"alice"}, users.Extra["users"])
}

func TestPublishRoundTrip(t *testing.T) {
	c := newTestCore(t)
	require.Equal(t, StatusSucesso, c.Login("alice").Status)
	require.Equal(t, StatusSucesso, c.Channel("geral").Status)

	pub := c.Publish("alice", "geral", "oi")
	require.Equal(t, StatusOK, pub.Status)

	hist := c.GetHistory("geral", 10)
	require.Equal(t, StatusSucesso, hist.Status)
	msgs := hist.Extra["messages"].([]datastore.MessageRecord)
	require.Len(t, msgs, 1)
	require.Equal(t, "alice", msgs[0].User)
	require.Equal(t, "oi", msgs[0].Message)
}

func TestPublishUnknownUserOrChannelFails(t *testing.T) {
	c := newTestCore(t)
	require.Equal(t, StatusErro, c.Publish("ghost", "nowhere", "x").Status)

	require.Equal(t, StatusSucesso, c.Login("alice").Status)
	require.Equal(t, StatusErro, c.Publish("alice", "nowhere", "x").Status)
}

func TestMessageRoundTrip(t *testing.T) {
	c := newTestCore(t)
	c.Login("alice")
	c.Login("bob")

	reply := c.Message("alice", "bob", "hi")
	require.Equal(t, StatusOK, reply.Status)

	hist := c.GetPrivateHistory("bob", "alice", 10)
	require.Equal(t, StatusSucesso, hist.Status)
	msgs := hist.Extra["messages"].([]datastore.MessageRecord)
	require.Len(t, msgs, 1)
	require.Equal(t, "hi", msgs[0].Message)
}

func TestMessageUnknownUserFails(t *testing.T) {
	c := newTestCore(t)
	c.Login("alice")
	reply := c.Message("alice", "ghost", "hi")
	require.Equal(t, StatusErro, reply.Status)
}

func TestHistoryLimitZeroReturnsEmpty(t *testing.T) {
	c := newTestCore(t)
	c.Login("alice")
	c.Channel("geral")
	c.Publish("alice", "geral", "oi")

	hist := c.GetHistory("geral", 0)
	msgs := hist.Extra["messages"].([]datastore.MessageRecord)
	require.Empty(t, msgs)
}

func TestReplyClockStrictlyExceedsIncoming(t *testing.T) {
	c := newTestCore(t)
	c.MergeClock(100)

	reply := c.Login("alice")
	require.Greater(t, reply.Clock, uint64(100))
}

func TestClockNeverRepeatsAcrossRequests(t *testing.T) {
	c := newTestCore(t)
	seen := make(map[uint64]bool)

	r1 := c.Login("alice")
	r2 := c.Login("bob")
	r3 := c.Channel("geral")
	r := c.Publish("alice", "geral", "x")

	for _, clk := range []uint64{r1.Clock, r2.Clock, r3.Clock, r.Clock} {
		require.False(t, seen[clk], "clock %d repeated", clk)
		seen[clk] = true
	}
}

func TestSyncIntervalTriggersHook(t *testing.T) {
	store, err := datastore.Open(t.TempDir())
	require.NoError(t, err)
	c := New("replica-test", store, 3, nil)

	fired := make(chan int, 10)
	c.OnSyncDue = func(count int) { fired <- count }

	c.Login("a")
	c.Login("b")
	c.Login("c") // 3rd request should fire the hook

	select {
	case count := <-fired:
		require.Equal(t, 3, count)
	case <-time.After(time.Second):
		t.Fatal("expected OnSyncDue to fire at the sync boundary")
	}
}
