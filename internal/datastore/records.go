// Package datastore provides append-only persistence for logins, channels,
// and messages, plus the diagnostic replication/election logs. Every kind
// is kept in memory and flushed to disk with an atomic temp-file-then-rename
// write, the same discipline the teacher's store package uses for its
// snapshot file.
package datastore

import "time"

// LoginRecord is created by the login service. User names are globally
// unique within a replica; duplicates are rejected by the caller before an
// append is attempted.
type LoginRecord struct {
	User      string  `json:"user"`
	Timestamp float64 `json:"timestamp"`
	Clock     uint64  `json:"clock"`
}

// ChannelRecord is created by the channel service. Channel names are
// globally unique; a second creation with the same name fails.
type ChannelRecord struct {
	Channel   string  `json:"channel"`
	Timestamp float64 `json:"timestamp"`
	Clock     uint64  `json:"clock"`
}

const (
	// KindPublish marks a public channel message.
	KindPublish = "publish"
	// KindMessage marks a private direct message.
	KindMessage = "message"
)

// MessageRecord stores both public and private messages, distinguished by
// Type. A public record carries Channel and User; a private record carries
// Src and Dst.
type MessageRecord struct {
	Type      string  `json:"type"`
	User      string  `json:"user,omitempty"`
	Channel   string  `json:"channel,omitempty"`
	Src       string  `json:"src,omitempty"`
	Dst       string  `json:"dst,omitempty"`
	Message   string  `json:"message"`
	Timestamp float64 `json:"timestamp"`
	Clock     uint64  `json:"clock"`
}

// Before reports whether r sorts ahead of other under the spec's total
// order: lexicographic (clock, timestamp).
func (r MessageRecord) Before(other MessageRecord) bool {
	if r.Clock != other.Clock {
		return r.Clock < other.Clock
	}
	return r.Timestamp < other.Timestamp
}

// ReplicationLogEntry is a diagnostic trace of an inbound replication
// frame. It is never consulted by the state machine.
type ReplicationLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Kind      string    `json:"kind"`
	Count     int       `json:"records"`
}

// ElectionLogEntry is a diagnostic trace of an election-protocol event.
type ElectionLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"`
	Detail    string    `json:"detail"`
}
