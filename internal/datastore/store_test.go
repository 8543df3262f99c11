package datastore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestAppendLoginRejectsDuplicate(t *testing.T) {
	s := newTestStore(t)

	require.True(t, s.AppendLogin(LoginRecord{User: "alice", Clock: 1}))
	require.False(t, s.AppendLogin(LoginRecord{User: "alice", Clock: 2}))
	require.Equal(t, []string{"alice"}, s.Users())
}

func TestAppendChannelIdempotentByName(t *testing.T) {
	s := newTestStore(t)

	require.True(t, s.AppendChannel(ChannelRecord{Channel: "geral", Clock: 1}))
	require.False(t, s.AppendChannel(ChannelRecord{Channel: "geral", Clock: 2}))
}

func TestChannelHistoryOrderingAndLimit(t *testing.T) {
	s := newTestStore(t)
	require.True(t, s.AppendChannel(ChannelRecord{Channel: "geral"}))

	for i, clk := range []uint64{3, 1, 2} {
		s.AppendMessage(MessageRecord{
			Type:    KindPublish,
			Channel: "geral",
			Message: string(rune('a' + i)),
			Clock:   clk,
		})
	}

	history := s.ChannelHistory("geral", 10)
	require.Len(t, history, 3)
	require.Equal(t, []uint64{1, 2, 3}, []uint64{history[0].Clock, history[1].Clock, history[2].Clock})

	limited := s.ChannelHistory("geral", 2)
	require.Len(t, limited, 2)
	require.Equal(t, uint64(2), limited[0].Clock)
	require.Equal(t, uint64(3), limited[1].Clock)

	require.Empty(t, s.ChannelHistory("geral", 0))
	require.Empty(t, s.ChannelHistory("geral", -5))
}

func TestPrivateHistoryBothDirections(t *testing.T) {
	s := newTestStore(t)
	s.AppendMessage(MessageRecord{Type: KindMessage, Src: "alice", Dst: "bob", Message: "hi", Clock: 1})
	s.AppendMessage(MessageRecord{Type: KindMessage, Src: "bob", Dst: "alice", Message: "hey", Clock: 2})
	s.AppendMessage(MessageRecord{Type: KindMessage, Src: "carol", Dst: "bob", Message: "unrelated", Clock: 3})

	history := s.PrivateHistory("alice", "bob", 10)
	require.Len(t, history, 2)
}

func TestReplaceAllIsWholesale(t *testing.T) {
	s := newTestStore(t)
	require.True(t, s.AppendLogin(LoginRecord{User: "stale"}))

	s.ReplaceAll(Snapshot{
		Logins: []LoginRecord{{User: "alice"}, {User: "bob"}},
	})

	require.Equal(t, []string{"alice", "bob"}, s.Users())
}

func TestReopenReloadsFromDisk(t *testing.T) {
	dir := t.TempDir()
	s1, err := Open(dir)
	require.NoError(t, err)
	require.True(t, s1.AppendLogin(LoginRecord{User: "alice", Clock: 1}))
	require.True(t, s1.AppendChannel(ChannelRecord{Channel: "geral", Clock: 2}))

	s2, err := Open(dir)
	require.NoError(t, err)
	require.Equal(t, []string{"alice"}, s2.Users())
	require.Equal(t, []string{"geral"}, s2.Channels())

	require.FileExists(t, filepath.Join(dir, "logins.json"))
}

func TestOpenFreshDirYieldsEmptySequences(t *testing.T) {
	s := newTestStore(t)
	require.Empty(t, s.Users())
	require.Empty(t, s.Channels())
	require.Empty(t, s.ChannelHistory("anything", 10))
}
