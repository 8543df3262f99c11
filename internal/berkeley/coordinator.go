// Package berkeley implements spec.md §4.5: coordinator-only periodic
// averaging of peer wall clocks, distributing additive offsets.
//
// Grounded on the teacher's cluster.Replicator fan-out shape
// (internal/cluster/replication.go's CoordinateRead): goroutine-per-peer
// probe collected on a buffered channel with a bounded timeout, adapted
// here from quorum-read reconciliation to time averaging.
package berkeley

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/msgcluster/replica/internal/logging"
	"github.com/msgcluster/replica/internal/metrics"
	"github.com/msgcluster/replica/internal/replica"
	"github.com/rs/zerolog/log"
)

const probeTimeout = 2 * time.Second

// Peer describes one cluster member reachable on its replication port,
// where get_time/adjust_time are served.
type Peer struct {
	Server  string
	Address string
}

// Coordinator runs Berkeley cycles. Only invoked when the caller's
// election manager reports this replica is the current coordinator.
type Coordinator struct {
	core       *replica.Core
	httpClient *http.Client

	mu    sync.RWMutex
	peers []Peer
}

// New creates a Coordinator bound to core.
func New(core *replica.Core) *Coordinator {
	return &Coordinator{core: core, httpClient: &http.Client{Timeout: probeTimeout}}
}

// SetPeers replaces the known peer list.
func (co *Coordinator) SetPeers(peers []Peer) {
	co.mu.Lock()
	defer co.mu.Unlock()
	co.peers = peers
}

func (co *Coordinator) peerList() []Peer {
	co.mu.RLock()
	defer co.mu.RUnlock()
	return append([]Peer(nil), co.peers...)
}

type reading struct {
	peer Peer
	time float64
}

// RunCycle executes one Berkeley round: collect peer times, compute the
// mean, distribute additive offsets, apply the self offset. Non-responders
// are logged as peer-unreachable and excluded from the round per spec.md
// §4.5 step 1.
func (co *Coordinator) RunCycle(ctx context.Context) {
	peers := co.peerList()
	self := reading{peer: Peer{Server: "self"}, time: co.core.Now()}

	results := make(chan reading, len(peers))
	var wg sync.WaitGroup
	for _, p := range peers {
		wg.Add(1)
		go func(p Peer) {
			defer wg.Done()
			t, err := co.probe(ctx, p)
			if err != nil {
				log.Warn().Err(err).Str("class", logging.ClassPeerUnreachable).Str("peer", p.Server).Msg("berkeley probe failed, excluding from round")
				return
			}
			results <- reading{peer: p, time: t}
		}(p)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	readings := []reading{self}
	for r := range results {
		readings = append(readings, r)
	}

	avg := average(readings)
	for _, r := range readings {
		offset := avg - r.time
		if r.peer.Server == "self" {
			co.core.AddTimeOffset(offset)
			continue
		}
		if err := co.adjust(ctx, r.peer, offset); err != nil {
			log.Warn().Err(err).Str("class", logging.ClassPeerUnreachable).Str("peer", r.peer.Server).Msg("berkeley offset distribution failed")
		}
	}

	metrics.BerkeleyRoundsTotal.WithLabelValues("completed").Inc()
}

func average(readings []reading) float64 {
	var sum float64
	for _, r := range readings {
		sum += r.time
	}
	return sum / float64(len(readings))
}

func (co *Coordinator) probe(ctx context.Context, p Peer) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	url := fmt.Sprintf("http://%s/get_time", p.Address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := co.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return 0, fmt.Errorf("peer %s returned HTTP %d", p.Server, resp.StatusCode)
	}

	var out struct {
		Time float64 `json:"time"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, err
	}
	return out.Time, nil
}

func (co *Coordinator) adjust(ctx context.Context, p Peer, offset float64) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	body, _ := json.Marshal(map[string]float64{"offset": offset})
	url := fmt.Sprintf("http://%s/adjust_time", p.Address)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := co.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("peer %s returned HTTP %d", p.Server, resp.StatusCode)
	}
	return nil
}
