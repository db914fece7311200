package config

import (
	"flag"
	"fmt"
	"strings"
	"time"
)

// Load builds a Config from defaults overridden by command-line flags.
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("halcyond", flag.ContinueOnError)

	network := fs.String("network", string(Mainnet), "network to join (mainnet|testnet)")
	dataDir := fs.String("datadir", "", "data directory (default: platform-specific)")
	port := fs.Int("port", 0, "node port; names the block-store subdirectory and the p2p listen port")
	firstNode := fs.Bool("first-node", false, "seed the chain with the genesis block instead of syncing")

	accountIndex := fs.Uint("account-index", 0, "BIP-44 hardened child index of the node key")
	mnemonic := fs.String("mnemonic", "", "BIP-39 mnemonic for the node key (a random key is generated when empty)")
	keyPassword := fs.String("key-password", "", "keystore encryption passphrase")

	stake := fs.Uint64("stake", 0, "deposit issued at init when no stake exists")
	maxConsensusStateDB := fs.Int64("max-consensus-state-db", DefaultMaxConsensusStateDB, "retained window of consensus state records")
	proposalTimeout := fs.Duration("proposal-timeout", DefaultProposalTimeout, "wait for a proposal before advancing the round")
	transitionTimeout := fs.Duration("transition-timeout", DefaultTransitionTimeout, "yield between commit and next proposal attempt")
	depositGrace := fs.Duration("deposit-grace", DefaultDepositGrace, "deposit expiry grace period")

	p2pEnabled := fs.Bool("p2p", true, "enable p2p networking")
	listenAddr := fs.String("p2p-listen", "0.0.0.0", "p2p listen address")
	seeds := fs.String("p2p-seeds", "", "comma-separated seed multiaddrs")

	logLevel := fs.String("log-level", "info", "log level (debug|info|warn|error)")
	logFile := fs.String("log-file", "", "log file (in addition to console)")
	logJSON := fs.Bool("log-json", false, "log JSON to console")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := Default(NetworkType(*network))
	cfg.Network = NetworkType(*network)
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *port != 0 {
		cfg.Port = *port
	}
	cfg.FirstNode = *firstNode
	if *accountIndex > 1<<31-1 {
		return nil, fmt.Errorf("account index %d exceeds hardened derivation range", *accountIndex)
	}
	cfg.AccountIndex = uint32(*accountIndex)
	cfg.Mnemonic = *mnemonic
	cfg.KeyPassword = *keyPassword
	cfg.Stake = *stake
	cfg.MaxConsensusStateDB = *maxConsensusStateDB
	cfg.ProposalTimeout = *proposalTimeout
	cfg.TransitionTimeout = *transitionTimeout
	cfg.DepositGrace = *depositGrace
	cfg.P2P.Enabled = *p2pEnabled
	cfg.P2P.ListenAddr = *listenAddr
	if *seeds != "" {
		cfg.P2P.Seeds = strings.Split(*seeds, ",")
	}
	cfg.Log = LogConfig{Level: *logLevel, File: *logFile, JSON: *logJSON}

	if cfg.ProposalTimeout < time.Millisecond {
		return nil, fmt.Errorf("proposal timeout %s too small", cfg.ProposalTimeout)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
