package chain

import (
	"errors"
	"fmt"

	"github.com/halcyon-labs/halcyon-chain/pkg/block"
)

// Chain validation errors.
var (
	ErrEmptyChain      = errors.New("empty chain")
	ErrGenesisMismatch = errors.New("first block does not match canonical genesis")
)

// ValidateChainSubsection checks that consecutive blocks hash-chain and that
// every block's hashes are internally consistent.
func ValidateChainSubsection(section []*block.Block) error {
	if len(section) == 0 {
		return ErrEmptyChain
	}
	for i := 1; i < len(section); i++ {
		if section[i].LastHash != section[i-1].Hash {
			return fmt.Errorf("block %d last_hash does not chain to block %d",
				section[i].Number, section[i-1].Number)
		}
		if err := section[i].ValidateHashes(); err != nil {
			return fmt.Errorf("block %d: %w", section[i].Number, err)
		}
	}
	return nil
}

// ValidateChainFromGenesis checks a full chain: the first block must equal
// the canonical genesis, then the subsection rule applies.
func ValidateChainFromGenesis(chain []*block.Block, genesis *block.Block) error {
	if len(chain) == 0 {
		return ErrEmptyChain
	}
	if chain[0].Hash != genesis.Hash {
		return ErrGenesisMismatch
	}
	if err := chain[0].ValidateHashes(); err != nil {
		return fmt.Errorf("genesis block: %w", err)
	}
	return ValidateChainSubsection(chain)
}
