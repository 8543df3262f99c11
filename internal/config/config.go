// Package config loads the environment options spec.md §6 enumerates,
// following the teacher's cmd/server flag set extended with the cluster
// coordination options this system adds. Flags (bound by cmd/replica via
// cobra/pflag) take precedence over the environment; the environment takes
// precedence over the defaults below.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every environment option spec.md §6 names.
type Config struct {
	ServerName             string
	ClientPort             int
	ReplicationPort        int
	ElectionPort           int
	DataDir                string
	SyncInterval           int
	CoordinatorTimeout     time.Duration
	RegistryURL            string
	ProxyURL               string
}

// Default values spec.md §6 states.
const (
	DefaultSyncInterval       = 10
	DefaultCoordinatorTimeout = 15 * time.Second
	DefaultReplicationPort    = 6000
	DefaultElectionPort       = 6001
	DefaultClientPort         = 6002
)

// Load reads SERVER_NAME, SYNC_INTERVAL, COORDINATOR_TIMEOUT_SECS,
// REPLICATION_PORT, ELECTION_PORT, DATA_DIR, REGISTRY_URL, PROXY_URL, and
// CLIENT_PORT from the environment, defaulting any that are unset or
// malformed.
func Load() Config {
	return Config{
		ServerName:         getString("SERVER_NAME", "replica-1"),
		ClientPort:         getInt("CLIENT_PORT", DefaultClientPort),
		ReplicationPort:    getInt("REPLICATION_PORT", DefaultReplicationPort),
		ElectionPort:       getInt("ELECTION_PORT", DefaultElectionPort),
		DataDir:            getString("DATA_DIR", "./data"),
		SyncInterval:       getInt("SYNC_INTERVAL", DefaultSyncInterval),
		CoordinatorTimeout: getDurationSecs("COORDINATOR_TIMEOUT_SECS", DefaultCoordinatorTimeout),
		RegistryURL:        getString("REGISTRY_URL", "http://localhost:6100"),
		ProxyURL:           getString("PROXY_URL", ""),
	}
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getDurationSecs(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return time.Duration(secs) * time.Second
}
