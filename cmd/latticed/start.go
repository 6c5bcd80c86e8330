package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"latticed/core"
	"latticed/internal/api"
	"latticed/internal/config"
)

// startCmd brings up a full node: loads the account key, opens the block
// store, re-verifies the existing ledger, joins the peer network, and
// serves the client/peer protocol plus ledger sync.
func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "run a ledger node",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			port := choosePort(cfg)
			cfg.Port = port // keep SyncPort() at the bound port + 1 after a fallback

			priv, err := core.LoadPrivateKey(mustReadKey(cfg.KeyDir))
			if err != nil {
				return fmt.Errorf("start: load key: %w", err)
			}
			self, err := core.AddressFromPublicKey(&priv.PublicKey)
			if err != nil {
				return fmt.Errorf("start: derive self address: %w", err)
			}
			selfURL := fmt.Sprintf("ws://%s:%d", cfg.SelfHost, port)

			store, err := core.NewBlockStore(cfg.DataDir)
			if err != nil {
				return fmt.Errorf("start: open store: %w", err)
			}
			validator := core.NewChainValidator(store)
			state := core.NewStateMachine(store, validator)
			peers := core.NewPeerRegistry(selfURL)
			votes := core.NewVotingCoordinator(priv, self, peers, validator)

			log.WithField("address", self).Info("node identity loaded")

			if results, err := validator.VerifyLedger(); err != nil {
				log.WithError(err).Warn("ledger verification failed to run")
			} else {
				bad := 0
				for _, ok := range results {
					if !ok {
						bad++
					}
				}
				log.WithFields(logrus.Fields{"accounts": len(results), "invalid": bad}).
					Info("cold-start ledger verification complete")
			}

			joined := joinNetwork(cfg, peers, port)
			if joined != "" {
				pullSnapshot(store, joined)
			}
			go serveSync(store, cfg.SyncPort())

			rt := &api.Router{Store: store, Validator: validator, State: state, Peers: peers, Votes: votes, SelfPort: port}
			r := chi.NewRouter()
			r.Get("/ws", rt.ServeWS)

			addr := fmt.Sprintf(":%d", port)
			log.WithField("addr", addr).Info("listening")
			return http.ListenAndServe(addr, r)
		},
	}
}

// choosePort falls back to the secondary port if the primary is already
// bound locally, on the assumption another node on this host owns it.
// A local bind probe substitutes for an external public-IP reachability
// check, which would add a network round trip to every startup.
func choosePort(cfg config.Config) int {
	port := cfg.Port
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		log.WithField("port", port).Warn("primary port unavailable, falling back")
		return config.FallbackPrimaryPort
	}
	ln.Close()
	return port
}

// joinNetwork tries each configured bootstrap peer in order until one
// succeeds. A bootstrap fault (none reachable) is non-fatal: the node
// proceeds solo with its existing local ledger. Returns the entrypoint
// URL that succeeded, or "" if none did.
func joinNetwork(cfg config.Config, peers *core.PeerRegistry, selfPort int) string {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	for _, entry := range cfg.BootstrapPeers {
		if err := peers.Register(ctx, entry, selfPort); err != nil {
			log.WithError(err).WithField("peer", entry).Warn("bootstrap entrypoint unreachable")
			continue
		}
		log.WithField("peer", entry).Info("joined network via entrypoint")
		return entry
	}
	log.Warn("no entrypoint reachable, proceeding solo")
	return ""
}

// pullSnapshot fetches a full ledger snapshot from entrypointURL's sync
// port (the ws:// peer URL's host, port+1) and loads it into store. It runs
// after every successful join, whether or not the local ledger is empty,
// and overwrites the local chain of every account the snapshot carries; a
// failure to dial or read leaves the node with what it already had on disk.
func pullSnapshot(store *core.BlockStore, entrypointURL string) {
	u, err := url.Parse(entrypointURL)
	if err != nil {
		log.WithError(err).Warn("ledger sync: bad entrypoint URL")
		return
	}
	host := u.Hostname()
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		log.WithError(err).Warn("ledger sync: entrypoint URL has no port")
		return
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port+1))

	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		log.WithError(err).WithField("addr", addr).Warn("ledger sync: dial failed")
		return
	}
	defer conn.Close()

	if err := core.ReceiveSnapshot(store, conn); err != nil {
		log.WithError(err).Warn("ledger sync: receive failed")
		return
	}
	log.WithField("addr", addr).Info("ledger snapshot received")
}

// serveSync accepts raw TCP connections on the ledger-sync port and
// streams a full snapshot to each.
func serveSync(store *core.BlockStore, port int) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		log.WithError(err).Error("ledger sync listener failed to start")
		return
	}
	log.WithField("port", port).Info("ledger sync listening")
	for {
		conn, err := ln.Accept()
		if err != nil {
			log.WithError(err).Warn("ledger sync accept failed")
			continue
		}
		go func() {
			defer conn.Close()
			if err := core.ServeSnapshot(store, conn); err != nil {
				log.WithError(err).Warn("ledger sync serve failed")
			}
		}()
	}
}

func mustReadKey(keyDir string) []byte {
	data, err := os.ReadFile(filepath.Join(keyDir, "private_key.pem"))
	if err != nil {
		log.WithError(err).Fatal("no account key found, run `latticed keygen` first")
	}
	return data
}
