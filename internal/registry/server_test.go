package registry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterAssignsIncreasingRanks(t *testing.T) {
	s, err := NewServer("")
	require.NoError(t, err)

	a := s.Register("replica-1", "localhost:6002")
	b := s.Register("replica-2", "localhost:6012")
	c := s.Register("replica-3", "localhost:6022")

	require.Equal(t, 1, a.Rank)
	require.Equal(t, 2, b.Rank)
	require.Equal(t, 3, c.Rank)
}

func TestRegisterIsIdempotentByName(t *testing.T) {
	s, err := NewServer("")
	require.NoError(t, err)

	first := s.Register("replica-1", "localhost:6002")
	second := s.Register("replica-1", "localhost:6002")

	require.Equal(t, first.Rank, second.Rank)
	require.Len(t, s.List(), 1)
}

func TestListSortedByRank(t *testing.T) {
	s, err := NewServer("")
	require.NoError(t, err)
	s.Register("c", "addr-c")
	s.Register("a", "addr-a")
	s.Register("b", "addr-b")

	list := s.List()
	require.Len(t, list, 3)
	require.Equal(t, 1, list[0].Rank)
	require.Equal(t, 2, list[1].Rank)
	require.Equal(t, 3, list[2].Rank)
}

func TestHeartbeatUnknownServerIsIgnored(t *testing.T) {
	s, err := NewServer("")
	require.NoError(t, err)
	require.NotPanics(t, func() { s.Heartbeat("ghost") })
	require.Empty(t, s.List())
}

func TestPersistAndReload(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/registry.json"

	s1, err := NewServer(path)
	require.NoError(t, err)
	s1.Register("replica-1", "localhost:6002")
	s1.Register("replica-2", "localhost:6012")

	s2, err := NewServer(path)
	require.NoError(t, err)
	require.Len(t, s2.List(), 2)

	third := s2.Register("replica-3", "localhost:6022")
	require.Equal(t, 3, third.Rank)
}
