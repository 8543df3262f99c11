// cmd/registry runs the reference registry server spec.md §4.7/§6
// describes: rank assignment, peer listing, and heartbeat tracking for
// the replica cluster.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/msgcluster/replica/internal/registry"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	var addr, statePath string

	root := &cobra.Command{
		Use:   "registry",
		Short: "Run the replica cluster's registry server",
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the registry HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(addr, statePath)
		},
	}
	serveCmd.Flags().StringVar(&addr, "addr", ":6100", "listen address")
	serveCmd.Flags().StringVar(&statePath, "state", "registry.json", "path to persist registry state (empty disables persistence)")
	root.AddCommand(serveCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(addr, statePath string) error {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Str("component", "registry").Logger()

	srv, err := registry.NewServer(statePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load registry state")
	}

	log.Info().Str("addr", addr).Msg("registry listening")
	if err := http.ListenAndServe(addr, registry.Router(srv)); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("registry server failed")
	}
	return nil
}
