package chain

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/halcyon-labs/halcyon-chain/config"
	"github.com/halcyon-labs/halcyon-chain/internal/log"
	"github.com/halcyon-labs/halcyon-chain/internal/statedb"
	"github.com/halcyon-labs/halcyon-chain/pkg/block"
	"github.com/halcyon-labs/halcyon-chain/pkg/types"
)

// Store limits.
const (
	// InMemoryWindow is how many recent blocks stay in memory. Older blocks
	// live only on disk; their transactions move into the snapshot db.
	InMemoryWindow = 10

	// ChainSubsectLength caps blocks served per sync request.
	ChainSubsectLength = 20
)

// BlockStore persists blocks as compressed JSON files and keeps the last
// InMemoryWindow of them in memory. Blocks shifted out of the window are
// applied to the snapshot db so total state stays equivalent.
type BlockStore struct {
	mu       sync.RWMutex
	dir      string
	genesis  *config.Genesis
	snapshot *statedb.StateDB

	// window holds the most recent blocks in ascending number order.
	window []*block.Block

	// syncedAfterStartup latches true once a sync response confirms the
	// local chain is not behind.
	syncedAfterStartup bool
}

// NewBlockStore creates a block store writing files under dir, aging blocks
// out into the given snapshot db.
func NewBlockStore(dir string, genesis *config.Genesis, snapshot *statedb.StateDB) *BlockStore {
	return &BlockStore{
		dir:      dir,
		genesis:  genesis,
		snapshot: snapshot,
	}
}

// CreateGenesisBlock builds the canonical genesis block.
func CreateGenesisBlock(gen *config.Genesis) *block.Block {
	return block.New(0, gen.Timestamp, types.Hash{}, gen.Proposer, gen.Validators, nil)
}

// Init prepares the store: creates the directory, seeds genesis for a first
// node, or loads and validates the persisted chain. A corrupt chain purges
// the directory — the node prefers re-syncing over running on bad state.
func (bs *BlockStore) Init(isFirstNode bool) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if err := os.MkdirAll(bs.dir, 0755); err != nil {
		return fmt.Errorf("create chain dir %s: %w", bs.dir, err)
	}

	names, err := listBlockFiles(bs.dir)
	if err != nil {
		return err
	}

	if len(names) == 0 {
		if !isFirstNode {
			return nil
		}
		gen := CreateGenesisBlock(bs.genesis)
		if err := writeBlockFile(bs.dir, gen); err != nil {
			return fmt.Errorf("seed genesis: %w", err)
		}
		bs.window = []*block.Block{gen}
		log.Chain.Info().Str("hash", gen.Hash.String()).Msg("seeded genesis block")
		return nil
	}

	loaded := make([]*block.Block, 0, len(names))
	for _, name := range names {
		b, err := readBlockFile(filepath.Join(bs.dir, name))
		if err != nil {
			log.Chain.Error().Err(err).Str("file", name).Msg("corrupt block file, resetting chain")
			return bs.purgeLocked()
		}
		loaded = append(loaded, b)
	}

	if err := ValidateChainFromGenesis(loaded, CreateGenesisBlock(bs.genesis)); err != nil {
		log.Chain.Error().Err(err).Msg("persisted chain failed validation, resetting")
		return bs.purgeLocked()
	}

	cut := 0
	if len(loaded) > InMemoryWindow {
		cut = len(loaded) - InMemoryWindow
	}
	for _, aged := range loaded[:cut] {
		if err := bs.snapshot.ExecuteTransactionList(aged.Transactions); err != nil {
			return fmt.Errorf("replay aged block %d into snapshot: %w", aged.Number, err)
		}
	}
	bs.window = loaded[cut:]
	log.Chain.Info().
		Int64("height", bs.window[len(bs.window)-1].Number).
		Int("in_memory", len(bs.window)).
		Msg("chain loaded")
	return nil
}

// purgeLocked removes every block file and empties the window.
func (bs *BlockStore) purgeLocked() error {
	names, err := listBlockFiles(bs.dir)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := os.Remove(filepath.Join(bs.dir, name)); err != nil {
			return fmt.Errorf("purge %s: %w", name, err)
		}
	}
	bs.window = nil
	return nil
}

// LastBlock returns the chain tail, or nil for an empty store.
func (bs *BlockStore) LastBlock() *block.Block {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	return bs.lastBlockLocked()
}

func (bs *BlockStore) lastBlockLocked() *block.Block {
	if len(bs.window) == 0 {
		return nil
	}
	return bs.window[len(bs.window)-1]
}

// LastBlockNumber returns the tail number, or -1 for an empty store.
func (bs *BlockStore) LastBlockNumber() int64 {
	if b := bs.LastBlock(); b != nil {
		return b.Number
	}
	return -1
}

// LastBlockTimestamp returns the tail timestamp, or -1 for an empty store.
func (bs *BlockStore) LastBlockTimestamp() int64 {
	if b := bs.LastBlock(); b != nil {
		return b.Timestamp
	}
	return -1
}

// Window returns a copy of the in-memory block window in ascending order.
func (bs *BlockStore) Window() []*block.Block {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	out := make([]*block.Block, len(bs.window))
	copy(out, bs.window)
	return out
}

// GetBlockByNumber returns the block with the given number, or nil.
func (bs *BlockStore) GetBlockByNumber(number int64) *block.Block {
	bs.mu.RLock()
	for _, b := range bs.window {
		if b.Number == number {
			bs.mu.RUnlock()
			return b
		}
	}
	dir := bs.dir
	bs.mu.RUnlock()

	names, err := listBlockFiles(dir)
	if err != nil {
		log.Chain.Error().Err(err).Msg("list block files")
		return nil
	}
	for _, name := range names {
		n, _, err := parseBlockFileName(name)
		if err != nil || n != number {
			continue
		}
		b, err := readBlockFile(filepath.Join(dir, name))
		if err != nil {
			log.Chain.Error().Err(err).Str("file", name).Msg("read block file")
			return nil
		}
		return b
	}
	return nil
}

// GetBlockByHash returns the block whose hash contains the given hex
// fragment, or nil. Substring match is permitted.
func (bs *BlockStore) GetBlockByHash(fragment string) *block.Block {
	if fragment == "" {
		return nil
	}
	bs.mu.RLock()
	for _, b := range bs.window {
		if b.Hash.Matches(fragment) {
			bs.mu.RUnlock()
			return b
		}
	}
	dir := bs.dir
	bs.mu.RUnlock()

	names, err := listBlockFiles(dir)
	if err != nil {
		log.Chain.Error().Err(err).Msg("list block files")
		return nil
	}
	for _, name := range names {
		_, hashHex, err := parseBlockFileName(name)
		if err != nil || !containsFold(hashHex, fragment) {
			continue
		}
		b, err := readBlockFile(filepath.Join(dir, name))
		if err != nil {
			log.Chain.Error().Err(err).Str("file", name).Msg("read block file")
			return nil
		}
		return b
	}
	return nil
}

// AddNewBlock appends a block to the chain. Returns false when the block is
// missing or does not extend the tail. On success the block file is written
// and the window trimmed, applying aged-out transactions to the snapshot db.
func (bs *BlockStore) AddNewBlock(b *block.Block) bool {
	if b == nil {
		log.Chain.Error().Msg("add nil block")
		return false
	}

	bs.mu.Lock()
	defer bs.mu.Unlock()

	var wantNumber int64
	if last := bs.lastBlockLocked(); last != nil {
		wantNumber = last.Number + 1
	}
	if b.Number != wantNumber {
		log.Chain.Error().
			Int64("got", b.Number).
			Int64("want", wantNumber).
			Msg("block number not sequential")
		return false
	}

	if err := writeBlockFile(bs.dir, b); err != nil {
		log.Chain.Error().Err(err).Int64("number", b.Number).Msg("persist block")
		return false
	}
	bs.window = append(bs.window, b)

	for len(bs.window) > InMemoryWindow {
		aged := bs.window[0]
		bs.window = bs.window[1:]
		if err := bs.snapshot.ExecuteTransactionList(aged.Transactions); err != nil {
			log.Chain.Error().Err(err).Int64("number", aged.Number).Msg("apply aged block to snapshot")
		}
	}

	log.Chain.Info().
		Int64("number", b.Number).
		Str("hash", b.Hash.String()).
		Str("proposer", b.Proposer.String()).
		Int("txs", len(b.Transactions)).
		Msg("block appended")
	return true
}

// SyncedAfterStartup reports whether the node has confirmed it is caught up.
func (bs *BlockStore) SyncedAfterStartup() bool {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	return bs.syncedAfterStartup
}

// MarkDesynced clears the synced latch (a newer chain was observed).
func (bs *BlockStore) MarkDesynced() {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.syncedAfterStartup = false
}

// containsFold is a lowercase substring test for hash fragments.
func containsFold(haystack, needle string) bool {
	return needle != "" && strings.Contains(haystack, strings.ToLower(needle))
}
