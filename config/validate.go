package config

import "fmt"

// Validate checks the configuration for inconsistent or unusable settings.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data directory must not be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.MaxConsensusStateDB <= 0 {
		return fmt.Errorf("max consensus state db window must be positive, got %d", c.MaxConsensusStateDB)
	}
	if c.ProposalTimeout <= 0 {
		return fmt.Errorf("proposal timeout must be positive")
	}
	if c.TransitionTimeout < 0 {
		return fmt.Errorf("transition timeout must not be negative")
	}
	if c.DepositGrace < 0 {
		return fmt.Errorf("deposit grace must not be negative")
	}
	switch c.Network {
	case Mainnet, Testnet:
	default:
		return fmt.Errorf("unknown network %q", c.Network)
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	return nil
}
