// Package logging configures the zerolog logger every component writes
// through, replacing the teacher's bare log.Printf calls with leveled,
// structured output.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init installs a console-friendly zerolog writer tagged with the
// replica's server name as the process-wide logger (log.Logger).
func Init(serverName string) {
	zerolog.TimeFieldFormat = time.RFC3339
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	logger := zerolog.New(out).With().Timestamp().Str("server", serverName).Logger()
	log.Logger = logger
}

// Err classes recorded on log events, matching the error taxonomy in
// spec.md §7.
const (
	ClassValidation         = "validation"
	ClassPeerUnreachable    = "peer_unreachable"
	ClassRegistryUnreachable = "registry_unreachable"
	ClassPersistence        = "persistence"
	ClassProtocol           = "protocol"
	ClassFatal              = "fatal"
)
