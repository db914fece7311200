package consensus

import (
	"github.com/halcyon-labs/halcyon-chain/internal/chain"
	"github.com/halcyon-labs/halcyon-chain/internal/mempool"
	"github.com/halcyon-labs/halcyon-chain/internal/statedb"
	"github.com/halcyon-labs/halcyon-chain/pkg/block"
	"github.com/halcyon-labs/halcyon-chain/pkg/tx"
	"github.com/halcyon-labs/halcyon-chain/pkg/types"
)

// TransportOut is the engine's outbound capability. The network layer
// implements it; broadcasts are fire-and-forget.
type TransportOut interface {
	// BroadcastConsensusMessage publishes a consensus message to peers.
	BroadcastConsensusMessage(msg Message)

	// ExecuteAndBroadcastTransaction applies a transaction locally and
	// publishes it. kind labels the transaction for logging.
	ExecuteAndBroadcastTransaction(t *tx.Transaction, kind string) error

	// ExecuteTransaction applies a transaction locally only.
	ExecuteTransaction(t *tx.Transaction, kind string) error

	// RequestChainSubsection asks peers for blocks extending refBlock.
	RequestChainSubsection(refBlock *block.Block)
}

// NodeView is the engine's read/append window onto the node, breaking the
// node ↔ engine ownership cycle.
type NodeView interface {
	// BlockStore returns the chain store.
	BlockStore() *chain.BlockStore

	// Pool returns the pending transaction pool.
	Pool() *mempool.Pool

	// StateDB returns the live state database.
	StateDB() *statedb.StateDB

	// Address returns the local account address.
	Address() types.Address

	// AddNewBlock appends a committed block and refreshes the live state.
	AddNewBlock(b *block.Block) bool

	// CreateTransaction builds and signs a local transaction. A nonced
	// transaction consumes the local nonce counter.
	CreateTransaction(op tx.Operation, nonced bool) (*tx.Transaction, error)
}
