// Package block defines block types and validation.
package block

import (
	"encoding/json"
	"fmt"

	"github.com/halcyon-labs/halcyon-chain/pkg/crypto"
	"github.com/halcyon-labs/halcyon-chain/pkg/tx"
	"github.com/halcyon-labs/halcyon-chain/pkg/types"
)

// Block represents a block in the chain.
//
// Validators is the proposer's view of the voted validator set at proposal
// time, keyed by address with stake as value. LastHash is zero for genesis.
type Block struct {
	Number       int64                    `json:"number"`
	Timestamp    int64                    `json:"timestamp"`
	Hash         types.Hash               `json:"hash"`
	LastHash     types.Hash               `json:"last_hash"`
	Proposer     types.Address            `json:"proposer"`
	Validators   map[types.Address]uint64 `json:"validators"`
	Transactions []*tx.Transaction        `json:"transactions"`
}

// hashContent is the canonical subset of a block covered by its hash.
// encoding/json sorts map keys, so the encoding is deterministic.
type hashContent struct {
	Number       int64                    `json:"number"`
	Timestamp    int64                    `json:"timestamp"`
	LastHash     types.Hash               `json:"last_hash"`
	Proposer     types.Address            `json:"proposer"`
	Validators   map[types.Address]uint64 `json:"validators"`
	Transactions []*tx.Transaction        `json:"transactions"`
}

// New assembles a block and seals its hash.
func New(number, timestamp int64, lastHash types.Hash, proposer types.Address,
	validators map[types.Address]uint64, txs []*tx.Transaction) *Block {
	b := &Block{
		Number:       number,
		Timestamp:    timestamp,
		LastHash:     lastHash,
		Proposer:     proposer,
		Validators:   validators,
		Transactions: txs,
	}
	b.Hash = b.ComputeHash()
	return b
}

// HashBytes returns the canonical bytes the block hash is computed over.
func (b *Block) HashBytes() []byte {
	data, err := json.Marshal(hashContent{
		Number:       b.Number,
		Timestamp:    b.Timestamp,
		LastHash:     b.LastHash,
		Proposer:     b.Proposer,
		Validators:   b.Validators,
		Transactions: b.Transactions,
	})
	if err != nil {
		panic(fmt.Sprintf("block hash bytes: %v", err))
	}
	return data
}

// ComputeHash computes the block hash over all fields except the hash itself.
func (b *Block) ComputeHash() types.Hash {
	return crypto.Hash(b.HashBytes())
}

// IsGenesisShaped reports whether the block could start a chain
// (no previous block reference).
func (b *Block) IsGenesisShaped() bool {
	return b.Number == 0 && b.LastHash.IsZero()
}

// TotalStake sums the stake of the recorded validator set.
func (b *Block) TotalStake() uint64 {
	var total uint64
	for _, s := range b.Validators {
		total += s
	}
	return total
}
