package config

import "time"

// Consensus protocol defaults. These are protocol parameters: peers that
// disagree on them will disagree on proposer election and state retention.
const (
	// DefaultMaxConsensusStateDB is the retained window (in heights) of
	// consensus records, and the proposer-election seed lookback.
	DefaultMaxConsensusStateDB = 1000

	// DefaultProposalTimeout bounds how long a round waits for a proposal.
	DefaultProposalTimeout = 10 * time.Second

	// DefaultTransitionTimeout is the scheduler yield between commit and the
	// next proposal attempt, not a protocol delay.
	DefaultTransitionTimeout = 100 * time.Millisecond

	// DefaultDepositGrace is how far beyond now a deposit must remain valid
	// to count toward stake.
	DefaultDepositGrace = 24 * time.Hour
)

// DefaultMainnet returns the default node configuration for mainnet.
func DefaultMainnet() *Config {
	return &Config{
		Network:             Mainnet,
		DataDir:             DefaultDataDir(),
		Port:                28080,
		MaxConsensusStateDB: DefaultMaxConsensusStateDB,
		ProposalTimeout:     DefaultProposalTimeout,
		TransitionTimeout:   DefaultTransitionTimeout,
		DepositGrace:        DefaultDepositGrace,
		P2P: P2PConfig{
			Enabled:    true,
			ListenAddr: "0.0.0.0",
			Seeds:      []string{},
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// DefaultTestnet returns the default node configuration for testnet.
func DefaultTestnet() *Config {
	cfg := DefaultMainnet()
	cfg.Network = Testnet
	cfg.Port = 28081
	return cfg
}

// Default returns the default node configuration for the given network.
func Default(network NetworkType) *Config {
	switch network {
	case Testnet:
		return DefaultTestnet()
	default:
		return DefaultMainnet()
	}
}
