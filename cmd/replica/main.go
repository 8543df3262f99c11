// cmd/replica is the entrypoint for one message-server replica. Flags
// override the environment options internal/config.Load reads; a single
// binary serves any replica in the cluster, distinguished by SERVER_NAME.
//
// Example — three-replica cluster on one host:
//
//	./replica serve --server-name replica-1 --client-port 6002 --replication-port 6000 --election-port 6001
//	./replica serve --server-name replica-2 --client-port 6012 --replication-port 6010 --election-port 6011
//	./replica serve --server-name replica-3 --client-port 6022 --replication-port 6020 --election-port 6021
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/msgcluster/replica/internal/api"
	"github.com/msgcluster/replica/internal/berkeley"
	"github.com/msgcluster/replica/internal/config"
	"github.com/msgcluster/replica/internal/datastore"
	"github.com/msgcluster/replica/internal/election"
	"github.com/msgcluster/replica/internal/logging"
	"github.com/msgcluster/replica/internal/publish"
	"github.com/msgcluster/replica/internal/registryclient"
	"github.com/msgcluster/replica/internal/replica"
	"github.com/msgcluster/replica/internal/replication"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var cfg config.Config

func main() {
	cfg = config.Load()

	root := &cobra.Command{
		Use:   "replica",
		Short: "Run one message-server cluster replica",
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the replica's client, replication, and election ports",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfg)
		},
	}

	flags := serveCmd.Flags()
	flags.StringVar(&cfg.ServerName, "server-name", cfg.ServerName, "unique identifier for this replica")
	flags.IntVar(&cfg.ClientPort, "client-port", cfg.ClientPort, "port serving client RPCs")
	flags.IntVar(&cfg.ReplicationPort, "replication-port", cfg.ReplicationPort, "port serving replication/sync_state/get_time")
	flags.IntVar(&cfg.ElectionPort, "election-port", cfg.ElectionPort, "port serving election requests")
	flags.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory for persisted record files")
	flags.IntVar(&cfg.SyncInterval, "sync-interval", cfg.SyncInterval, "processed requests between replication pushes")
	flags.StringVar(&cfg.RegistryURL, "registry-url", cfg.RegistryURL, "base URL of the registry")
	flags.StringVar(&cfg.ProxyURL, "proxy-url", cfg.ProxyURL, "base URL of the publication proxy (empty disables publishing)")

	root.AddCommand(serveCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	logging.Init(cfg.ServerName)

	store, err := datastore.Open(cfg.DataDir)
	if err != nil {
		log.Fatal().Err(err).Str("class", logging.ClassFatal).Msg("failed to open datastore")
	}

	publisher := publish.New(cfg.ProxyURL)
	core := replica.New(cfg.ServerName, store, cfg.SyncInterval, publisher)

	repl := replication.New(cfg.ServerName, core)
	reg := registryclient.New(cfg.RegistryURL, 5*time.Second)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	selfAddr := fmt.Sprintf("localhost:%d", cfg.ReplicationPort)
	rank, err := reg.Rank(ctx, cfg.ServerName, selfAddr)
	if err != nil {
		log.Warn().Err(err).Str("class", logging.ClassRegistryUnreachable).Msg("could not acquire rank at startup, defaulting to 1")
		rank = 1
	}

	elect := election.New(cfg.ServerName, rank, core, publisher, cfg.CoordinatorTimeout)
	coord := berkeley.New(core)
	repl.SetCoordinatorHeartbeat(elect.NoteCoordinatorHeartbeat)

	if rank == 1 {
		elect.BecomeCoordinatorAtFormation()
	} else if addr := lookupCoordinatorAddr(ctx, reg, cfg.ServerName); addr != "" {
		if err := repl.SyncFromCoordinator(ctx, addr); err != nil {
			log.Warn().Err(err).Str("class", logging.ClassPeerUnreachable).Msg("initial sync_state failed, starting from local disk state")
		}
	}

	core.OnSyncDue = func(count int) {
		repl.PushAll(ctx)
		if elect.IsCoordinator() {
			coord.RunCycle(ctx)
		}
	}

	clientSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.ClientPort), Handler: api.NewHandler(core).Router()}
	replicationSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.ReplicationPort), Handler: repl.Router()}
	electionSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.ElectionPort), Handler: elect.Router()}

	servers := []*http.Server{clientSrv, replicationSrv, electionSrv}
	for _, srv := range servers {
		srv := srv
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatal().Err(err).Str("class", logging.ClassFatal).Str("addr", srv.Addr).Msg("failed to bind port")
			}
		}()
	}

	refreshPeers(ctx, reg, cfg, repl, coord, elect)

	go heartbeatLoop(ctx, reg, cfg.ServerName)
	go peerRefreshLoop(ctx, reg, cfg, repl, coord, elect)
	go elect.MonitorCoordinator(ctx)

	log.Info().Str("server", cfg.ServerName).Int("rank", rank).
		Int("client_port", cfg.ClientPort).Int("replication_port", cfg.ReplicationPort).Int("election_port", cfg.ElectionPort).
		Msg("replica started")

	<-ctx.Done()
	log.Info().Msg("shutdown signal received, draining servers")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Str("addr", srv.Addr).Msg("graceful shutdown timed out")
		}
	}
	return nil
}

func lookupCoordinatorAddr(ctx context.Context, reg *registryclient.Client, self string) string {
	peers, err := reg.List(ctx)
	if err != nil || len(peers) == 0 {
		return ""
	}
	var best *registryclient.Peer
	for i := range peers {
		p := peers[i]
		if p.Server == self {
			continue
		}
		if best == nil || p.Rank < best.Rank {
			best = &peers[i]
		}
	}
	if best == nil {
		return ""
	}
	return best.Address
}

// electionAddress derives a peer's election-port address from its
// registered replication address, following the fixed offset convention
// this deployment uses: the election port is the replication port + 1
// (matching the default 6000/6001 pair and every example in cmd/replica's
// doc comment).
func electionAddress(replicationAddr string) string {
	host, portStr, ok := strings.Cut(replicationAddr, ":")
	if !ok {
		return ""
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%s:%d", host, port+1)
}

func heartbeatLoop(ctx context.Context, reg *registryclient.Client, serverName string) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := reg.Heartbeat(ctx, serverName); err != nil {
				log.Warn().Err(err).Str("class", logging.ClassRegistryUnreachable).Msg("heartbeat failed")
			}
		}
	}
}

func peerRefreshLoop(ctx context.Context, reg *registryclient.Client, cfg config.Config, repl *replication.Manager, coord *berkeley.Coordinator, elect *election.Manager) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refreshPeers(ctx, reg, cfg, repl, coord, elect)
		}
	}
}

func refreshPeers(ctx context.Context, reg *registryclient.Client, cfg config.Config, repl *replication.Manager, coord *berkeley.Coordinator, elect *election.Manager) {
	peers, err := reg.List(ctx)
	if err != nil {
		log.Warn().Err(err).Str("class", logging.ClassRegistryUnreachable).Msg("peer list refresh failed, keeping cached list")
		return
	}

	var replPeers []replication.Peer
	var berkeleyPeers []berkeley.Peer
	var electionPeers []election.Peer
	for _, p := range peers {
		if p.Server == cfg.ServerName || p.Address == "" {
			continue
		}
		replPeers = append(replPeers, replication.Peer{Server: p.Server, Address: p.Address})
		berkeleyPeers = append(berkeleyPeers, berkeley.Peer{Server: p.Server, Address: p.Address})
		electionPeers = append(electionPeers, election.Peer{Server: p.Server, Rank: p.Rank, Address: electionAddress(p.Address)})
	}
	repl.SetPeers(replPeers)
	coord.SetPeers(berkeleyPeers)
	elect.SetPeers(electionPeers)
}
