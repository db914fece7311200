// Halcyon full node daemon.
//
// Usage:
//
//	halcyond --first-node --stake=100    Seed a new chain and validate
//	halcyond --p2p-seeds=/ip4/...        Join an existing network
//	halcyond --help                      Show flags
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/halcyon-labs/halcyon-chain/config"
	"github.com/halcyon-labs/halcyon-chain/internal/account"
	"github.com/halcyon-labs/halcyon-chain/internal/consensus"
	"github.com/halcyon-labs/halcyon-chain/internal/log"
	"github.com/halcyon-labs/halcyon-chain/internal/node"
	"github.com/halcyon-labs/halcyon-chain/internal/p2p"
	"github.com/halcyon-labs/halcyon-chain/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.LogsDir(), 0755); err != nil {
		return fmt.Errorf("create logs dir: %w", err)
	}
	if err := log.Init(cfg.Log.Level, cfg.Log.JSON, cfg.Log.File); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	mnemonic := cfg.Mnemonic
	if mnemonic == "" {
		// A generated account is keystore-persisted, so restarts keep the
		// same identity even without a configured mnemonic.
		log.Node.Info().Msg("no mnemonic configured, generating node key on first use")
	}
	acct, err := account.LoadOrCreate(cfg.KeystoreDir(), mnemonic, cfg.AccountIndex, []byte(cfg.KeyPassword))
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}

	snapshotStore, err := storage.NewBadger(cfg.SnapshotDir())
	if err != nil {
		return fmt.Errorf("open snapshot db: %w", err)
	}
	defer snapshotStore.Close()

	n := node.New(cfg, acct, snapshotStore)
	if err := n.Init(cfg.FirstNode); err != nil {
		return fmt.Errorf("init node: %w", err)
	}

	transport := p2p.New(cfg, n)
	engine := consensus.New(cfg, n, transport)
	transport.SetConsensusHandler(engine.HandleConsensusMessage)
	transport.SetResyncHandler(engine.UpdateToState)

	if err := transport.Start(); err != nil {
		return fmt.Errorf("start p2p: %w", err)
	}
	defer transport.Stop()

	if !cfg.FirstNode {
		// Ask peers for everything past our tail. The request runs in the
		// background; consensus init below does not wait for it.
		transport.RequestChainSubsection(n.BlockStore().LastBlock())
	}

	if err := engine.Init(); err != nil {
		return fmt.Errorf("init consensus: %w", err)
	}
	defer engine.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Node.Info().Msg("shutting down")
	return nil
}
