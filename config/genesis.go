package config

import "github.com/halcyon-labs/halcyon-chain/pkg/types"

// Genesis holds the protocol parameters of the canonical genesis block.
// Every node of a network must agree on these byte for byte.
type Genesis struct {
	// Timestamp of the genesis block in Unix milliseconds.
	Timestamp int64 `json:"timestamp"`

	// Proposer recorded on the genesis block (zero for an ownerless chain).
	Proposer types.Address `json:"proposer"`

	// Validators recorded on the genesis block. Usually empty: the height-1
	// validator set comes from the first node's configured stake.
	Validators map[types.Address]uint64 `json:"validators"`
}

// GenesisFor returns the canonical genesis parameters of a network.
func GenesisFor(network NetworkType) *Genesis {
	switch network {
	case Testnet:
		return &Genesis{Timestamp: 1735689600000}
	default:
		return &Genesis{Timestamp: 1735603200000}
	}
}
