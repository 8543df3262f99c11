// Package registry implements the reference registry server: rank
// assignment, peer listing, and heartbeat tracking, per the contract
// spec.md §4.7/§6 describes. It is an external collaborator to the
// replicated core, not part of the core itself — it carries no clock,
// replication, or election logic of its own.
//
// Shaped after the teacher's cluster.Membership: a sync.RWMutex-guarded
// map, with Join generalized into rank-assigning Register.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Entry is one server's registry record.
type Entry struct {
	Server        string  `json:"server"`
	Address       string  `json:"address"`
	Rank          int     `json:"rank"`
	LastHeartbeat float64 `json:"last_heartbeat"`
}

// state is the JSON-persisted shape spec.md §6 specifies:
// {servers:{name→{rank,last_heartbeat}}, next_rank, timestamp}.
type state struct {
	Servers   map[string]Entry `json:"servers"`
	NextRank  int              `json:"next_rank"`
	Timestamp float64          `json:"timestamp"`
}

// Server is the in-memory registry, optionally mirrored to statePath.
type Server struct {
	mu        sync.RWMutex
	servers   map[string]Entry
	nextRank  int
	statePath string
}

// NewServer creates a Server, loading statePath if it already exists. An
// empty statePath disables persistence.
func NewServer(statePath string) (*Server, error) {
	s := &Server{servers: make(map[string]Entry), nextRank: 1, statePath: statePath}
	if statePath == "" {
		return s, nil
	}
	data, err := os.ReadFile(statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read registry state: %w", err)
	}
	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse registry state: %w", err)
	}
	s.servers = st.Servers
	if s.servers == nil {
		s.servers = make(map[string]Entry)
	}
	s.nextRank = st.NextRank
	if s.nextRank == 0 {
		s.nextRank = 1
	}
	return s, nil
}

// Register assigns server a rank on first contact; a repeat call with the
// same name returns the rank it already holds, so restarts are idempotent.
func (s *Server) Register(server, address string) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.servers[server]; ok {
		e.Address = address
		e.LastHeartbeat = nowSeconds()
		s.servers[server] = e
		s.persistLocked()
		return e
	}

	e := Entry{
		Server:        server,
		Address:       address,
		Rank:          s.nextRank,
		LastHeartbeat: nowSeconds(),
	}
	s.nextRank++
	s.servers[server] = e
	s.persistLocked()
	return e
}

// Heartbeat refreshes server's last-seen timestamp. Unknown servers are
// silently ignored — a heartbeat racing ahead of registration is not an
// error (§7.3).
func (s *Server) Heartbeat(server string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.servers[server]
	if !ok {
		return
	}
	e.LastHeartbeat = nowSeconds()
	s.servers[server] = e
	s.persistLocked()
}

// List returns every known server, sorted by rank ascending.
func (s *Server) List() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.servers))
	for _, e := range s.servers {
		out = append(out, e)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Rank < out[j-1].Rank; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func (s *Server) persistLocked() {
	if s.statePath == "" {
		return
	}
	st := state{Servers: s.servers, NextRank: s.nextRank, Timestamp: nowSeconds()}
	data, err := json.Marshal(st)
	if err != nil {
		return
	}
	tmp := s.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return
	}
	_ = os.Rename(tmp, s.statePath)
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
