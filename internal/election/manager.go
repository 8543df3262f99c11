// Package election implements the Bully coordinator-election protocol from
// spec.md §4.6: a four-state machine per replica, election/coordinator
// wire messages on the election port, and a coordinator-liveness monitor.
//
// Grounded on the teacher's cluster fan-out idiom (replication.go's
// goroutine-per-peer probe collected on a channel) applied to election
// candidacy instead of quorum reads; the state machine itself has no
// analogue in the teacher and is built directly from spec.md's transition
// table.
package election

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
	"github.com/msgcluster/replica/internal/publish"
	"github.com/msgcluster/replica/internal/replica"
	"github.com/rs/zerolog/log"
)

// State is one of the four states spec.md §4.6 names.
type State int

const (
	StateNormal State = iota
	StateElecting
	StateWaiting
	StateCoordinator
)

func (s State) String() string {
	switch s {
	case StateNormal:
		return "NORMAL"
	case StateElecting:
		return "ELECTING"
	case StateWaiting:
		return "WAITING"
	case StateCoordinator:
		return "COORDINATOR"
	default:
		return "UNKNOWN"
	}
}

const (
	electionReplyTimeout = 5 * time.Second
	announceTimeout      = 10 * time.Second
)

// Peer describes one cluster member reachable on its election port.
type Peer struct {
	Server  string
	Rank    int
	Address string
}

// Manager runs the Bully state machine for one replica. Its mutex is
// separate from Core's datastore lock — elections are not stamped records
// (spec.md §4.6/§5).
type Manager struct {
	serverName         string
	rank               int
	core               *replica.Core
	publisher          *publish.Port
	httpClient         *http.Client
	coordinatorTimeout time.Duration

	mu              sync.Mutex
	state           State
	coordinator     string
	peers           []Peer
	lastHeartbeat   time.Time
	waitingDeadline time.Time
}

// New creates a Manager. serverName/rank come from the registry
// registration performed at startup. coordinatorTimeout is spec.md §6's
// COORDINATOR_TIMEOUT_SECS: how long a NORMAL replica waits without
// hearing from the coordinator before suspecting it and starting an
// election.
func New(serverName string, rank int, core *replica.Core, publisher *publish.Port, coordinatorTimeout time.Duration) *Manager {
	return &Manager{
		serverName:         serverName,
		rank:               rank,
		core:               core,
		publisher:          publisher,
		httpClient:         &http.Client{Timeout: electionReplyTimeout},
		coordinatorTimeout: coordinatorTimeout,
		state:              StateNormal,
		lastHeartbeat:      time.Now(),
	}
}

// SetPeers replaces the known peer list (server, rank, election address).
func (m *Manager) SetPeers(peers []Peer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peers = peers
}

func (m *Manager) peerList() []Peer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Peer(nil), m.peers...)
}

// BecomeCoordinatorAtFormation sets this replica as coordinator outright,
// used once at cluster formation when rank == 1 (the open-question
// resolution recorded in SPEC_FULL.md §4.6: rank 1 starts as coordinator).
func (m *Manager) BecomeCoordinatorAtFormation() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateCoordinator
	m.coordinator = m.serverName
	metrics.CoordinatorGauge.Set(1)
}

// IsCoordinator reports whether this replica currently believes itself to
// be coordinator. internal/berkeley polls this before running a cycle.
func (m *Manager) IsCoordinator() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateCoordinator
}

// Coordinator returns the server name this replica currently believes is
// coordinator (possibly itself, possibly empty if unknown).
func (m *Manager) Coordinator() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.coordinator
}

// NoteCoordinatorHeartbeat records that the coordinator was seen alive.
// Wired to internal/replication's get_time/adjust_time handlers, which the
// coordinator alone calls every Berkeley sync round (spec.md §4.5); that
// traffic doubles as the coordinator's liveness signal and resets the
// suspicion timer checkSuspicion watches.
func (m *Manager) NoteCoordinatorHeartbeat() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastHeartbeat = time.Now()
}

// MonitorCoordinator runs until ctx is cancelled, checking every second
// whether the coordinator heartbeat has gone stale and starting an
// election if so (NORMAL -> ELECTING transition).
func (m *Manager) MonitorCoordinator(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkSuspicion(ctx)
		}
	}
}

func (m *Manager) checkSuspicion(ctx context.Context) {
	m.mu.Lock()
	stale := m.state == StateNormal && m.coordinator != m.serverName &&
		time.Since(m.lastHeartbeat) > m.coordinatorTimeout
	waitTimedOut := m.state == StateWaiting && time.Now().After(m.waitingDeadline)
	m.mu.Unlock()

	if stale {
		m.StartElection(ctx)
		return
	}
	if waitTimedOut {
		log.Warn().Str("class", logging.ClassPeerUnreachable).Str("server", m.serverName).Msg("coordinator announcement timed out, restarting election")
		m.StartElection(ctx)
	}
}

// StartElection runs the ELECTING state: challenge every higher-rank peer,
// and either wait for OKs or declare victory, per spec.md §4.6.
func (m *Manager) StartElection(ctx context.Context) {
	m.mu.Lock()
	if m.state == StateElecting {
		m.mu.Unlock()
		return
	}
	m.state = StateElecting
	m.mu.Unlock()

	m.logEvent("election-started", "")
	metrics.ElectionsTotal.WithLabelValues("started").Inc()

	higher := m.higherRankedPeers()
	if len(higher) == 0 {
		m.becomeCoordinator(ctx)
		return
	}

	okCh := make(chan Peer, len(higher))
	ctx2, cancel := context.WithTimeout(ctx, electionReplyTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, p := range higher {
		wg.Add(1)
		go func(p Peer) {
			defer wg.Done()
			if m.sendElectionRequest(ctx2, p) {
				okCh <- p
			}
		}(p)
	}
	go func() { wg.Wait(); close(okCh) }()

	select {
	case p, ok := <-okCh:
		if ok {
			m.logEvent("ok-received", p.Server)
			m.enterWaiting()
			return
		}
		m.becomeCoordinator(ctx)
	case <-ctx2.Done():
		m.becomeCoordinator(ctx)
	}
}

func (m *Manager) higherRankedPeers() []Peer {
	var out []Peer
	for _, p := range m.peerList() {
		if p.Rank > m.rank {
			out = append(out, p)
		}
	}
	return out
}

func (m *Manager) enterWaiting() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateWaiting
	m.waitingDeadline = time.Now().Add(announceTimeout)
}

func (m *Manager) becomeCoordinator(ctx context.Context) {
	m.mu.Lock()
	m.state = StateCoordinator
	m.coordinator = m.serverName
	m.mu.Unlock()

	metrics.CoordinatorGauge.Set(1)
	metrics.ElectionsTotal.WithLabelValues("won").Inc()
	m.logEvent("became-coordinator", "")
	m.announceCoordinator(ctx)
}

// announceCoordinator sends election.coordinator to every peer and
// publishes the same event on topic "servers" (spec.md §4.6).
func (m *Manager) announceCoordinator(ctx context.Context) {
	ts := m.core.Now()
	frame := coordinatorFrame{
		Event:       "new_coordinator",
		Coordinator: m.serverName,
		Rank:        m.rank,
		Timestamp:   ts,
	}

	for _, p := range m.peerList() {
		go m.sendCoordinatorAnnouncement(ctx, p, frame)
	}

	if m.publisher != nil {
		m.publisher.Publish("servers", "election", frame)
	}
	m.logEvent("coordinator-announced", m.serverName)
}

type electionRequest struct {
	Rank      int     `json:"rank"`
	Server    string  `json:"server"`
	Timestamp float64 `json:"timestamp"`
}

type electionReply struct {
	Status string `json:"status"`
	Rank   int    `json:"rank"`
	Server string `json:"server"`
}

type coordinatorFrame struct {
	Event       string  `json:"event"`
	Coordinator string  `json:"coordinator"`
	Rank        int     `json:"rank"`
	Timestamp   float64 `json:"timestamp"`
}

func (m *Manager) sendElectionRequest(ctx context.Context, p Peer) bool {
	body, _ := json.Marshal(electionRequest{Rank: m.rank, Server: m.serverName, Timestamp: m.core.Now()})
	url := fmt.Sprintf("http://%s/election/request", p.Address)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("class", logging.ClassPeerUnreachable).Str("peer", p.Server).Msg("election request unreachable")
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return false
	}

	var out electionReply
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false
	}
	return out.Status == "OK"
}

func (m *Manager) sendCoordinatorAnnouncement(ctx context.Context, p Peer, frame coordinatorFrame) {
	ctx, cancel := context.WithTimeout(ctx, electionReplyTimeout)
	defer cancel()

	body, _ := json.Marshal(frame)
	url := fmt.Sprintf("http://%s/election/coordinator", p.Address)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("class", logging.ClassPeerUnreachable).Str("peer", p.Server).Msg("coordinator announcement unreachable")
		return
	}
	defer resp.Body.Close()
}

func (m *Manager) logEvent(event, detail string) {
	m.core.AppendElectionLog(datastore.ElectionLogEntry{Timestamp: time.Now(), Event: event, Detail: detail})
}

// Router builds the election-port gin engine: POST /election/request and
// POST /election/coordinator.
func (m *Manager) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.POST("/election/request", m.handleRequest)
	r.POST("/election/coordinator", m.handleCoordinator)
	return r
}

// handleRequest replies OK iff this replica's rank is greater than the
// candidate's, and transitions NORMAL -> ELECTING (spec.md §4.6's "NORMAL
// receives ELECTION from lower-rank peer" row).
func (m *Manager) handleRequest(c *gin.Context) {
	var req electionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "erro"})
		return
	}

	if req.Rank >= m.rank {
		c.JSON(http.StatusOK, gin.H{"status": "erro"})
		return
	}

	c.JSON(http.StatusOK, electionReply{Status: "OK", Rank: m.rank, Server: m.serverName})
	go m.StartElection(context.Background())
}

// handleCoordinator adopts the announced coordinator and returns to
// NORMAL, per spec.md §4.6's three "-> NORMAL" rows. A replica that
// already believes itself (or a higher-rank peer) coordinator only steps
// down for a higher-rank announcement — otherwise a stale/delayed frame
// from a lower-ranked ex-candidate (plausible under concurrent elections)
// would violate the at-most-one-coordinator invariant (spec.md §8). A
// replica still ELECTING/WAITING accepts whatever coordinator resolves,
// since it has no stronger claim of its own yet.
func (m *Manager) handleCoordinator(c *gin.Context) {
	var frame coordinatorFrame
	if err := c.ShouldBindJSON(&frame); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "erro"})
		return
	}

	m.mu.Lock()
	resolving := m.state == StateWaiting || m.state == StateElecting
	if !resolving && frame.Rank <= m.rank {
		m.mu.Unlock()
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	m.state = StateNormal
	m.coordinator = frame.Coordinator
	m.lastHeartbeat = time.Now()
	isSelf := frame.Coordinator == m.serverName
	m.mu.Unlock()

	if isSelf {
		metrics.CoordinatorGauge.Set(1)
	} else {
		metrics.CoordinatorGauge.Set(0)
	}
	m.logEvent("coordinator-adopted", frame.Coordinator)
	c.JSON(http.StatusOK, gin.H{"status": "OK"})
}
