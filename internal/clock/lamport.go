// Package clock implements the Lamport logical clock each replica stamps
// every record and client reply with.
package clock

// Lamport is a monotonic scalar counter. Callers are responsible for
// serializing access — a replica shares one mutex across its datastore,
// its processed-request counter, and its clock so that a record's stamp
// and the state it describes advance together.
type Lamport struct {
	value uint64
}

// New returns a Lamport clock starting at zero.
func New() *Lamport {
	return &Lamport{}
}

// Increment bumps the counter and returns the new value. Called before a
// replica stamps an outgoing record or frame.
func (l *Lamport) Increment() uint64 {
	l.value++
	return l.value
}

// Update merges a received counter into the local one: the new value is
// max(local, received)+1, then returned. Called (via replica.Core.MergeClock)
// on every inbound client request before it is acted on. Replication and
// election frames carry no clock and are not merged.
func (l *Lamport) Update(received uint64) uint64 {
	if received > l.value {
		l.value = received
	}
	l.value++
	return l.value
}

// Value returns the current counter without advancing it.
func (l *Lamport) Value() uint64 {
	return l.value
}

// Set raises the counter to v; a v at or below the current value leaves it
// unchanged. Used only when restoring from a snapshot
// pulled from a peer (sync_state) so the restored replica's clock is at
// least as far along as the state it just adopted.
func (l *Lamport) Set(v uint64) {
	if v > l.value {
		l.value = v
	}
}
