// Package node owns the durable stores and rebuilds the live state view.
package node

import (
	"fmt"
	"sync"
	"time"

	"github.com/halcyon-labs/halcyon-chain/config"
	"github.com/halcyon-labs/halcyon-chain/internal/account"
	"github.com/halcyon-labs/halcyon-chain/internal/chain"
	"github.com/halcyon-labs/halcyon-chain/internal/log"
	"github.com/halcyon-labs/halcyon-chain/internal/mempool"
	"github.com/halcyon-labs/halcyon-chain/internal/statedb"
	"github.com/halcyon-labs/halcyon-chain/internal/storage"
	"github.com/halcyon-labs/halcyon-chain/pkg/block"
	"github.com/halcyon-labs/halcyon-chain/pkg/tx"
	"github.com/halcyon-labs/halcyon-chain/pkg/types"
)

// Node binds the block store, transaction pool, and state databases, and
// reconstructs the live key/value view from them. The live view is the
// node's "speculative head": snapshot state plus in-memory blocks plus the
// currently valid pool transactions.
type Node struct {
	mu sync.Mutex

	cfg  *config.Config
	acct *account.Account

	store      *chain.BlockStore
	pool       *mempool.Pool
	liveDB     *statedb.StateDB
	snapshotDB *statedb.StateDB

	// nonce is the next nonce for the local account.
	nonce int64

	now func() int64
}

// New assembles a node over the given snapshot backing store. The live view
// always lives in memory: it is rebuilt wholesale on every reconstruction.
func New(cfg *config.Config, acct *account.Account, snapshotStore storage.DB) *Node {
	snapshot := statedb.New(snapshotStore)
	return &Node{
		cfg:        cfg,
		acct:       acct,
		store:      chain.NewBlockStore(cfg.BlocksDir(), config.GenesisFor(cfg.Network), snapshot),
		pool:       mempool.New(0),
		liveDB:     statedb.New(storage.NewMemory()),
		snapshotDB: snapshot,
		now:        func() int64 { return time.Now().UnixMilli() },
	}
}

// Init loads the chain, computes the local account's initial nonce from the
// in-memory window, and builds the first live state view.
func (n *Node) Init(isFirstNode bool) error {
	if err := n.store.Init(isFirstNode); err != nil {
		return fmt.Errorf("init block store: %w", err)
	}

	n.mu.Lock()
	n.nonce = n.initialNonce()
	n.mu.Unlock()

	if err := n.Reconstruct(); err != nil {
		return err
	}
	log.Node.Info().
		Str("address", n.acct.Address().String()).
		Int64("height", n.store.LastBlockNumber()).
		Int64("nonce", n.nonce).
		Msg("node initialized")
	return nil
}

// initialNonce scans the in-memory chain newest to oldest and returns
// 1 + the highest nonce of the local account's nonced transactions, or 0.
func (n *Node) initialNonce() int64 {
	self := n.acct.Address()
	window := n.store.Window()
	highest := int64(-1)
	for i := len(window) - 1; i >= 0; i-- {
		for _, t := range window[i].Transactions {
			if t.Address == self && t.Nonce >= 0 && t.Nonce > highest {
				highest = t.Nonce
			}
		}
	}
	return highest + 1
}

// Reconstruct rebuilds the live view: copy the snapshot db, replay every
// in-memory block's transactions in order, then replay the currently valid
// pool transactions. Calling it twice without intervening mutation yields
// identical contents.
func (n *Node) Reconstruct() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.liveDB.SetToSnapshot(n.snapshotDB); err != nil {
		return fmt.Errorf("reconstruct: copy snapshot: %w", err)
	}
	for _, b := range n.store.Window() {
		if err := n.liveDB.ExecuteTransactionList(b.Transactions); err != nil {
			return fmt.Errorf("reconstruct: replay block %d: %w", b.Number, err)
		}
	}
	if err := n.liveDB.ExecuteTransactionList(n.pool.GetValidTransactions()); err != nil {
		return fmt.Errorf("reconstruct: replay pool: %w", err)
	}
	return nil
}

// AddNewBlock appends a block to the chain, cleans the pool against it, and
// refreshes the live state. Returns false when the append was rejected.
func (n *Node) AddNewBlock(b *block.Block) bool {
	if !n.store.AddNewBlock(b) {
		return false
	}
	n.pool.CleanUpForNewBlock(b)
	if err := n.Reconstruct(); err != nil {
		log.Node.Error().Err(err).Int64("number", b.Number).Msg("reconstruct after block")
	}
	return true
}

// CreateTransaction builds and signs a local transaction. A nonced
// transaction consumes the local nonce counter; a non-nonced one carries
// the nonce-not-applicable marker.
func (n *Node) CreateTransaction(op tx.Operation, nonced bool) (*tx.Transaction, error) {
	n.mu.Lock()
	nonce := tx.NonceNotApplicable
	if nonced {
		nonce = n.nonce
		n.nonce++
	}
	n.mu.Unlock()

	t := &tx.Transaction{
		Operation: op,
		Address:   n.acct.Address(),
		Nonce:     nonce,
		Timestamp: n.now(),
	}
	if err := t.Sign(n.acct); err != nil {
		return nil, err
	}
	return t, nil
}

// CreateTransactionFrom builds a transaction on behalf of an explicit
// address. The override disables signature verification downstream.
func (n *Node) CreateTransactionFrom(op tx.Operation, from types.Address) *tx.Transaction {
	return &tx.Transaction{
		Operation: op,
		Address:   from,
		Nonce:     tx.NonceNotApplicable,
		Timestamp: n.now(),
		SkipVerif: true,
	}
}

// CreateTransactionBatch builds one transaction per operation, preserving
// order. Nonced batches consume consecutive nonces.
func (n *Node) CreateTransactionBatch(ops []tx.Operation, nonced bool) ([]*tx.Transaction, error) {
	out := make([]*tx.Transaction, 0, len(ops))
	for _, op := range ops {
		t, err := n.CreateTransaction(op, nonced)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// ExecuteTransaction validates a transaction and applies it to the live
// state.
func (n *Node) ExecuteTransaction(t *tx.Transaction, kind string) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("%s tx invalid: %w", kind, err)
	}
	if err := n.liveDB.ExecuteTransaction(t); err != nil {
		return fmt.Errorf("%s tx execute: %w", kind, err)
	}
	log.Node.Debug().Str("kind", kind).Str("hash", t.Hash().String()).Msg("transaction executed")
	return nil
}

// AbsorbMergedBlocks advances the pool's nonce trackers over the blocks a
// chain merge appended and rebuilds the live view.
func (n *Node) AbsorbMergedBlocks() error {
	for _, b := range n.store.Window() {
		n.pool.UpdateNonceTrackers(b.Transactions)
	}
	return n.Reconstruct()
}

// BlockStore returns the chain store.
func (n *Node) BlockStore() *chain.BlockStore {
	return n.store
}

// Pool returns the pending transaction pool.
func (n *Node) Pool() *mempool.Pool {
	return n.pool
}

// StateDB returns the live state database.
func (n *Node) StateDB() *statedb.StateDB {
	return n.liveDB
}

// SnapshotDB returns the snapshot state database.
func (n *Node) SnapshotDB() *statedb.StateDB {
	return n.snapshotDB
}

// Address returns the local account address.
func (n *Node) Address() types.Address {
	return n.acct.Address()
}

// Account returns the local signing account.
func (n *Node) Account() *account.Account {
	return n.acct
}

// Nonce returns the next local nonce (for inspection).
func (n *Node) Nonce() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.nonce
}
