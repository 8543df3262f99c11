package datastore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/msgcluster/replica/internal/logging"
	"github.com/rs/zerolog/log"
)

// Kind identifies one of the three record sequences a replica owns.
type Kind string

const (
	KindLogins   Kind = "logins"
	KindChannels Kind = "channels"
	KindMessages Kind = "messages"
)

// Store holds the three append-only record sequences in memory and mirrors
// them to JSON files under dataDir.
//
// Store is NOT safe for concurrent use on its own. Per spec.md §4.3/§5, a
// replica shares a single exclusive lock across its record sequences, its
// Lamport clock, its processed-request counter, and its Berkeley time
// offset; internal/replica owns that lock and only calls into Store while
// holding it. Keeping the lock outside Store lets replica stamp a record's
// clock and append it as one atomic unit instead of two separately-locked
// operations.
type Store struct {
	dataDir string

	logins   []LoginRecord
	channels []ChannelRecord
	messages []MessageRecord

	replicationLog []ReplicationLogEntry
	electionLog    []ElectionLogEntry
}

// Open creates dataDir if needed and loads any existing record files. A
// missing or corrupt file yields an empty sequence — a fresh replica is not
// a fatal condition.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	s := &Store{dataDir: dataDir}

	if err := loadJSON(s.path(KindLogins), &s.logins); err != nil {
		log.Warn().Err(err).Str("class", logging.ClassPersistence).Str("kind", string(KindLogins)).Msg("starting with empty sequence")
	}
	if err := loadJSON(s.path(KindChannels), &s.channels); err != nil {
		log.Warn().Err(err).Str("class", logging.ClassPersistence).Str("kind", string(KindChannels)).Msg("starting with empty sequence")
	}
	if err := loadJSON(s.path(KindMessages), &s.messages); err != nil {
		log.Warn().Err(err).Str("class", logging.ClassPersistence).Str("kind", string(KindMessages)).Msg("starting with empty sequence")
	}
	return s, nil
}

func (s *Store) path(kind Kind) string {
	return filepath.Join(s.dataDir, string(kind)+".json")
}

func loadJSON(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, out)
}

// writeAtomic serializes v as JSON to a temp file and renames it over path,
// so a reader always sees either the previous or the new full contents —
// never a torn file. A failure here is logged and the in-memory state is
// kept; the next successful flush persists everything.
func writeAtomic(path string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *Store) flush(kind Kind) {
	var err error
	switch kind {
	case KindLogins:
		err = writeAtomic(s.path(kind), s.logins)
	case KindChannels:
		err = writeAtomic(s.path(kind), s.channels)
	case KindMessages:
		err = writeAtomic(s.path(kind), s.messages)
	}
	if err != nil {
		log.Error().Err(err).Str("class", logging.ClassPersistence).Str("kind", string(kind)).Msg("persistence write failed, keeping in-memory state")
	}
}

// ─── Logins ─────────────────────────────────────────────────────────────────

// UserExists reports whether user has already logged in.
func (s *Store) UserExists(user string) bool {
	for _, r := range s.logins {
		if r.User == user {
			return true
		}
	}
	return false
}

// AppendLogin appends a login record iff the user is not already
// registered. Returns false without mutating state if the user exists.
func (s *Store) AppendLogin(rec LoginRecord) bool {
	if s.UserExists(rec.User) {
		return false
	}
	s.logins = append(s.logins, rec)
	s.flush(KindLogins)
	return true
}

// Users returns the names of every registered user, in login order.
func (s *Store) Users() []string {
	out := make([]string, len(s.logins))
	for i, r := range s.logins {
		out[i] = r.User
	}
	return out
}

// ─── Channels ───────────────────────────────────────────────────────────────

// ChannelExists reports whether channel has already been created.
func (s *Store) ChannelExists(channel string) bool {
	for _, r := range s.channels {
		if r.Channel == channel {
			return true
		}
	}
	return false
}

// AppendChannel appends a channel record iff the name is not already taken.
func (s *Store) AppendChannel(rec ChannelRecord) bool {
	if s.ChannelExists(rec.Channel) {
		return false
	}
	s.channels = append(s.channels, rec)
	s.flush(KindChannels)
	return true
}

// Channels returns the names of every channel, in creation order.
func (s *Store) Channels() []string {
	out := make([]string, len(s.channels))
	for i, r := range s.channels {
		out[i] = r.Channel
	}
	return out
}

// ─── Messages ───────────────────────────────────────────────────────────────

// AppendMessage appends a public or private message record after the
// caller has validated the referenced user/channel exist.
func (s *Store) AppendMessage(rec MessageRecord) {
	s.messages = append(s.messages, rec)
	s.flush(KindMessages)
}

// ChannelHistory returns up to limit public messages for channel, ordered
// by (clock, timestamp) ascending, most-recent limit returned. limit<=0
// returns the empty slice.
func (s *Store) ChannelHistory(channel string, limit int) []MessageRecord {
	var matched []MessageRecord
	for _, r := range s.messages {
		if r.Type == KindPublish && r.Channel == channel {
			matched = append(matched, r)
		}
	}
	return tailSorted(matched, limit)
}

// PrivateHistory returns up to limit private messages exchanged between
// user and peer (either direction), ordered by (clock, timestamp)
// ascending, most-recent limit returned.
func (s *Store) PrivateHistory(user, peer string, limit int) []MessageRecord {
	var matched []MessageRecord
	for _, r := range s.messages {
		if r.Type != KindMessage {
			continue
		}
		if (r.Src == user && r.Dst == peer) || (r.Src == peer && r.Dst == user) {
			matched = append(matched, r)
		}
	}
	return tailSorted(matched, limit)
}

func tailSorted(records []MessageRecord, limit int) []MessageRecord {
	if limit <= 0 {
		return []MessageRecord{}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Before(records[j]) })
	if limit >= len(records) {
		return records
	}
	return records[len(records)-limit:]
}

// ─── Snapshot / replace (replication) ──────────────────────────────────────

// Snapshot is an atomic point-in-time copy of the three record sequences,
// used both to answer sync_state and to push a replicate frame.
type Snapshot struct {
	Logins   []LoginRecord   `json:"logins"`
	Channels []ChannelRecord `json:"channels"`
	Messages []MessageRecord `json:"messages"`
}

// Snap captures the current sequences. Call while holding the replica lock.
func (s *Store) Snap() Snapshot {
	return Snapshot{
		Logins:   append([]LoginRecord(nil), s.logins...),
		Channels: append([]ChannelRecord(nil), s.channels...),
		Messages: append([]MessageRecord(nil), s.messages...),
	}
}

// ReplaceLogins performs the wholesale last-writer-wins replace spec.md
// requires on replication receipt: the entire in-memory and on-disk
// sequence is overridden by recs. No merge is attempted.
func (s *Store) ReplaceLogins(recs []LoginRecord) {
	s.logins = recs
	s.flush(KindLogins)
}

// ReplaceChannels overwrites the channel sequence wholesale.
func (s *Store) ReplaceChannels(recs []ChannelRecord) {
	s.channels = recs
	s.flush(KindChannels)
}

// ReplaceMessages overwrites the message sequence wholesale.
func (s *Store) ReplaceMessages(recs []MessageRecord) {
	s.messages = recs
	s.flush(KindMessages)
}

// ReplaceAll overwrites all three sequences at once, used after a
// successful sync_state pull from the coordinator on startup.
func (s *Store) ReplaceAll(snap Snapshot) {
	s.ReplaceLogins(snap.Logins)
	s.ReplaceChannels(snap.Channels)
	s.ReplaceMessages(snap.Messages)
}

// ─── Diagnostic logs ────────────────────────────────────────────────────────

// AppendReplicationLog records a diagnostic trace of an inbound
// replication frame. Not consulted by the state machine.
func (s *Store) AppendReplicationLog(e ReplicationLogEntry) {
	s.replicationLog = append(s.replicationLog, e)
}

// AppendElectionLog records a diagnostic trace of an election event.
func (s *Store) AppendElectionLog(e ElectionLogEntry) {
	s.electionLog = append(s.electionLog, e)
}

// ReplicationLog returns a copy of the diagnostic replication trace.
func (s *Store) ReplicationLog() []ReplicationLogEntry {
	return append([]ReplicationLogEntry(nil), s.replicationLog...)
}

// ElectionLog returns a copy of the diagnostic election trace.
func (s *Store) ElectionLog() []ElectionLogEntry {
	return append([]ElectionLogEntry(nil), s.electionLog...)
}
