// Package replica implements the state machine each replica runs: it owns
// the datastore, the Lamport clock, the processed-request counter, and the
// Berkeley time offset behind one exclusive lock, and applies the eight
// client services spec.md §3/§4.1 defines.
//
// Grounded on the teacher's cluster.Node (internal/cluster/node.go): one
// struct composing storage plus cluster-facing counters, with request
// methods that validate, mutate, and reply.
package replica

import (
	"fmt"
	"sync"
	"time"

	"github.com/msgcluster/replica/internal/clock"
	"github.com/msgcluster/replica/internal/datastore"
)

func errUnexpectedPayload(kind datastore.Kind) error {
	return fmt.Errorf("replace %s: unexpected payload type", kind)
}

func errUnknownKind(kind datastore.Kind) error {
	return fmt.Errorf("unknown replication kind %q", kind)
}

// Publisher emits a publication frame. internal/publish.Port implements
// this; Core depends on the interface, not the concrete type, so the
// request-handling logic here never imports the transport package.
type Publisher interface {
	Publish(topic, service string, data interface{})
}

type noopPublisher struct{}

func (noopPublisher) Publish(string, string, interface{}) {}

// Core is the replicated state machine. All access to its record
// sequences, clock, processed counter, and time offset goes through its
// exported methods, which serialize on a single mutex per spec.md §5.
type Core struct {
	mu sync.Mutex

	serverName   string
	store        *datastore.Store
	clock        *clock.Lamport
	processed    int
	syncInterval int
	timeOffset   float64

	publisher Publisher

	// OnSyncDue is invoked (outside the lock, with the post-increment
	// processed count) every time the processed counter reaches a
	// multiple of syncInterval. cmd/replica wires this to trigger a
	// replication push and, if this replica is coordinator, a Berkeley
	// cycle — kept as a hook so this package never imports
	// internal/replication or internal/berkeley.
	OnSyncDue func(processed int)
}

// New creates a Core. If publisher is nil, publications are dropped.
func New(serverName string, store *datastore.Store, syncInterval int, publisher Publisher) *Core {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	if syncInterval <= 0 {
		syncInterval = 10
	}
	return &Core{
		serverName:   serverName,
		store:        store,
		clock:        clock.New(),
		syncInterval: syncInterval,
		publisher:    publisher,
	}
}

// now returns wall-clock time plus the Berkeley offset, per spec.md's
// timestamp invariant. Must be called with the lock held.
func (c *Core) now() float64 {
	return float64(time.Now().UnixNano())/1e9 + c.timeOffset
}

// Now is the exported, lock-safe form used by the Berkeley synchronizer's
// get_time probe.
func (c *Core) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now()
}

// Snapshot captures the three record sequences atomically, for replying
// to sync_state or building a replication push.
func (c *Core) Snapshot() datastore.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Snap()
}

// ReplaceAll overwrites all three sequences wholesale, used after a
// successful sync_state pull from the coordinator on startup, and bumps
// the local clock forward to at least the highest clock in the adopted
// state so subsequently stamped records stay ahead of it.
func (c *Core) ReplaceAll(snap datastore.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.ReplaceAll(snap)
	c.clock.Set(highestClock(snap))
}

func highestClock(snap datastore.Snapshot) uint64 {
	var max uint64
	for _, r := range snap.Logins {
		if r.Clock > max {
			max = r.Clock
		}
	}
	for _, r := range snap.Channels {
		if r.Clock > max {
			max = r.Clock
		}
	}
	for _, r := range snap.Messages {
		if r.Clock > max {
			max = r.Clock
		}
	}
	return max
}

// ReplaceKind overwrites one record sequence wholesale, used when
// receiving a single-kind replicate push from a peer.
func (c *Core) ReplaceKind(kind datastore.Kind, payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch kind {
	case datastore.KindLogins:
		recs, ok := payload.([]datastore.LoginRecord)
		if !ok {
			return errUnexpectedPayload(kind)
		}
		c.store.ReplaceLogins(recs)
	case datastore.KindChannels:
		recs, ok := payload.([]datastore.ChannelRecord)
		if !ok {
			return errUnexpectedPayload(kind)
		}
		c.store.ReplaceChannels(recs)
	case datastore.KindMessages:
		recs, ok := payload.([]datastore.MessageRecord)
		if !ok {
			return errUnexpectedPayload(kind)
		}
		c.store.ReplaceMessages(recs)
	default:
		return errUnknownKind(kind)
	}
	return nil
}

// AppendReplicationLog records a diagnostic trace entry under the lock.
func (c *Core) AppendReplicationLog(e datastore.ReplicationLogEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.AppendReplicationLog(e)
}

// AppendElectionLog records a diagnostic trace entry under the lock.
func (c *Core) AppendElectionLog(e datastore.ElectionLogEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.AppendElectionLog(e)
}

// TimeOffset returns the current Berkeley offset.
func (c *Core) TimeOffset() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeOffset
}

// AddTimeOffset adds delta to the persistent time offset (spec.md §4.5
// step 3/4: offsets are additive across rounds).
func (c *Core) AddTimeOffset(delta float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeOffset += delta
}

// Processed returns the number of client requests processed so far.
func (c *Core) Processed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processed
}

// bumpProcessed increments the counter and reports whether it landed on a
// sync boundary. Must be called with the lock held.
func (c *Core) bumpProcessed() (count int, due bool) {
	c.processed++
	return c.processed, c.processed%c.syncInterval == 0
}

// afterRequest runs the post-mutation bookkeeping every service performs:
// advance the clock for the reply stamp, bump the processed counter, and
// fire OnSyncDue outside the lock when a sync boundary is reached.
func (c *Core) afterRequest(fn func() (status string, description string, extra map[string]interface{})) Reply {
	c.mu.Lock()
	status, description, extra := fn()
	stampClock := c.clock.Increment()
	stampTime := c.now()
	count, due := c.bumpProcessed()
	c.mu.Unlock()

	if due && c.OnSyncDue != nil {
		go c.OnSyncDue(count)
	}

	return Reply{
		Status:      status,
		Description: description,
		Timestamp:   stampTime,
		Clock:       stampClock,
		Extra:       extra,
	}
}

// MergeClock applies the Lamport receive rule to an inbound client clock
// before the request is serviced, per spec.md §4.1: "the handler first
// merges the incoming clock into its Lamport counter."
func (c *Core) MergeClock(received uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock.Update(received)
}

// Reply is the common envelope every client service returns.
type Reply struct {
	Status      string
	Description string
	Timestamp   float64
	Clock       uint64
	Extra       map[string]interface{}
}
