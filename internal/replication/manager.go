// Package replication implements spec.md §4.4: a dedicated reply port
// accepting replicate/sync_state/get_time, a push schedule that fans a
// replica's three record sequences out to its peers, and a pull-on-start
// that seeds a restarted replica from the coordinator.
//
// Grounded on the teacher's cluster.Replicator (internal/cluster/replication.go
// and replicator.go): a struct holding the local node plus an *http.Client,
// one goroutine-per-peer fan-out with a bounded per-call timeout, and a
// JSON-over-HTTP wire format instead of the teacher's quorum bookkeeping,
// which this system's last-writer-wins-per-kind model does not need.
package replication

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/msgcluster/replica/internal/datastore"
	"github.com/msgcluster/replica/internal/logging"
	"github.com/msgcluster/replica/internal/metrics"
	"github.com/msgcluster/replica/internal/replica"
	"github.com/rs/zerolog/log"
)

const pushTimeout = 3 * time.Second

// Peer describes one cluster member reachable on its replication port.
type Peer struct {
	Server  string
	Address string // host:replicationPort
}

// Manager owns the replication reply port and the outbound push/pull paths.
type Manager struct {
	serverName string
	core       *replica.Core
	httpClient *http.Client

	mu                   sync.RWMutex
	peers                []Peer
	onCoordinatorContact func()
}

// New creates a Manager for serverName, delegating state access to core.
func New(serverName string, core *replica.Core) *Manager {
	return &Manager{
		serverName: serverName,
		core:       core,
		httpClient: &http.Client{Timeout: pushTimeout},
	}
}

// SetCoordinatorHeartbeat registers fn to be called whenever a peer probes
// get_time or pushes adjust_time — both are only ever sent by the current
// coordinator running a Berkeley round (spec.md §4.5), so receiving either
// doubles as proof the coordinator is alive. internal/election wires its
// NoteCoordinatorHeartbeat here so its suspicion timer resets on real
// traffic instead of only on election-settlement announcements.
func (m *Manager) SetCoordinatorHeartbeat(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onCoordinatorContact = fn
}

func (m *Manager) noteCoordinatorContact() {
	m.mu.RLock()
	fn := m.onCoordinatorContact
	m.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// SetPeers replaces the known peer list, normally refreshed from the
// registry's periodic list() call.
func (m *Manager) SetPeers(peers []Peer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peers = peers
}

func (m *Manager) peerList() []Peer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Peer(nil), m.peers...)
}

// Router builds the replication-port gin engine: POST /replicate,
// GET /sync_state, GET /get_time, POST /adjust_time.
func (m *Manager) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/replicate", m.handleReplicate)
	r.GET("/sync_state", m.handleSyncState)
	r.GET("/get_time", m.handleGetTime)
	r.POST("/adjust_time", m.handleAdjustTime)

	return r
}

type replicateFrame struct {
	Kind    datastore.Kind  `json:"kind"`
	Source  string          `json:"source"`
	Payload json.RawMessage `json:"payload"`
}

type replicateReply struct {
	Status         string `json:"status"`
	RecordsReceived int   `json:"records_received"`
}

// handleReplicate services an inbound `replicate` push: decode one kind's
// payload, replace the sequence wholesale, append a diagnostic log entry.
func (m *Manager) handleReplicate(c *gin.Context) {
	var frame replicateFrame
	if err := c.ShouldBindJSON(&frame); err != nil {
		log.Warn().Err(err).Str("class", logging.ClassProtocol).Msg("replicate: malformed payload")
		c.JSON(http.StatusBadRequest, gin.H{"status": "erro", "description": "malformed payload"})
		return
	}

	n, err := m.applyReplicate(frame)
	if err != nil {
		log.Warn().Err(err).Str("class", logging.ClassProtocol).Str("source", frame.Source).Msg("replicate: rejected frame")
		c.JSON(http.StatusBadRequest, gin.H{"status": "erro", "description": err.Error()})
		return
	}

	m.core.AppendReplicationLog(datastore.ReplicationLogEntry{
		Timestamp: time.Now(),
		Source:    frame.Source,
		Kind:      string(frame.Kind),
		Count:     n,
	})
	metrics.ReplicationPushesTotal.WithLabelValues(string(frame.Kind), "received").Inc()
	c.JSON(http.StatusOK, replicateReply{Status: "success", RecordsReceived: n})
}

func (m *Manager) applyReplicate(frame replicateFrame) (int, error) {
	switch frame.Kind {
	case datastore.KindLogins:
		var recs []datastore.LoginRecord
		if err := json.Unmarshal(frame.Payload, &recs); err != nil {
			return 0, fmt.Errorf("decode logins: %w", err)
		}
		if err := m.core.ReplaceKind(frame.Kind, recs); err != nil {
			return 0, err
		}
		return len(recs), nil
	case datastore.KindChannels:
		var recs []datastore.ChannelRecord
		if err := json.Unmarshal(frame.Payload, &recs); err != nil {
			return 0, fmt.Errorf("decode channels: %w", err)
		}
		if err := m.core.ReplaceKind(frame.Kind, recs); err != nil {
			return 0, err
		}
		return len(recs), nil
	case datastore.KindMessages:
		var recs []datastore.MessageRecord
		if err := json.Unmarshal(frame.Payload, &recs); err != nil {
			return 0, fmt.Errorf("decode messages: %w", err)
		}
		if err := m.core.ReplaceKind(frame.Kind, recs); err != nil {
			return 0, err
		}
		return len(recs), nil
	default:
		return 0, fmt.Errorf("unknown replication kind %q", frame.Kind)
	}
}

// handleSyncState answers a restarted peer's full-snapshot request.
func (m *Manager) handleSyncState(c *gin.Context) {
	c.JSON(http.StatusOK, m.core.Snapshot())
}

// handleGetTime answers a Berkeley probe with this replica's offset-adjusted
// wall clock. Only the coordinator ever probes get_time, so a call here
// also counts as a coordinator liveness signal.
func (m *Manager) handleGetTime(c *gin.Context) {
	m.noteCoordinatorContact()
	c.JSON(http.StatusOK, gin.H{"time": m.core.Now()})
}

// handleAdjustTime applies a coordinator-distributed offset to the local
// persistent time offset, per spec.md §4.5 step 4. Only the coordinator
// ever pushes adjust_time, so this also counts as a liveness signal.
func (m *Manager) handleAdjustTime(c *gin.Context) {
	var body struct {
		Offset float64 `json:"offset"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		log.Warn().Str("class", logging.ClassProtocol).Msg("adjust_time: malformed payload")
		c.JSON(http.StatusBadRequest, gin.H{"status": "erro", "description": "malformed payload"})
		return
	}
	m.noteCoordinatorContact()
	m.core.AddTimeOffset(body.Offset)
	c.JSON(http.StatusOK, gin.H{"status": "OK"})
}

// PushAll ships the current snapshot to every known peer, one goroutine per
// (peer, kind), per spec.md §4.4's push schedule. Timeouts are logged and
// not retried — the next scheduled push subsumes them.
func (m *Manager) PushAll(ctx context.Context) {
	snap := m.core.Snapshot()
	peers := m.peerList()
	if len(peers) == 0 {
		return
	}

	var wg sync.WaitGroup
	push := func(p Peer, kind datastore.Kind, payload interface{}) {
		defer wg.Done()
		if err := m.pushOne(ctx, p, kind, payload); err != nil {
			log.Warn().Err(err).Str("class", logging.ClassPeerUnreachable).Str("peer", p.Server).Str("kind", string(kind)).Msg("replication push failed")
			return
		}
		metrics.ReplicationPushesTotal.WithLabelValues(string(kind), "sent").Inc()
	}

	for _, p := range peers {
		wg.Add(3)
		go push(p, datastore.KindLogins, snap.Logins)
		go push(p, datastore.KindChannels, snap.Channels)
		go push(p, datastore.KindMessages, snap.Messages)
	}
	wg.Wait()
}

func (m *Manager) pushOne(ctx context.Context, p Peer, kind datastore.Kind, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame := replicateFrame{Kind: kind, Source: m.serverName, Payload: raw}
	body, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, pushTimeout)
	defer cancel()

	url := fmt.Sprintf("http://%s/replicate", p.Address)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("peer %s returned HTTP %d", p.Server, resp.StatusCode)
	}
	return nil
}

// SyncFromCoordinator pulls the full snapshot from coordinatorAddr and
// replaces local state wholesale. Used on startup (spec.md §4.4
// "pull-on-start") and may also be called after an election settles.
func (m *Manager) SyncFromCoordinator(ctx context.Context, coordinatorAddr string) error {
	ctx, cancel := context.WithTimeout(ctx, pushTimeout)
	defer cancel()

	url := fmt.Sprintf("http://%s/sync_state", coordinatorAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sync_state: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sync_state: coordinator returned HTTP %d", resp.StatusCode)
	}

	var snap datastore.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return fmt.Errorf("sync_state: decode: %w", err)
	}
	m.core.ReplaceAll(snap)
	return nil
}

