// Package mempool manages pending transactions waiting for block inclusion.
package mempool

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/halcyon-labs/halcyon-chain/internal/log"
	"github.com/halcyon-labs/halcyon-chain/pkg/block"
	"github.com/halcyon-labs/halcyon-chain/pkg/tx"
	"github.com/halcyon-labs/halcyon-chain/pkg/types"
)

// Mempool errors.
var (
	ErrAlreadyExists = errors.New("transaction already in pool")
	ErrPoolFull      = errors.New("pool is full")
	ErrStaleNonce    = errors.New("transaction nonce already committed")
	ErrValidation    = errors.New("transaction failed validation")
)

// Pool holds unconfirmed transactions grouped by sender. Nonced transactions
// are released in contiguous nonce order past the last committed nonce;
// non-nonced transactions pass through in arrival order.
type Pool struct {
	mu      sync.RWMutex
	pending map[types.Address][]*tx.Transaction
	hashes  map[types.Hash]types.Address

	// committed tracks the highest committed nonce per address
	// (absent = nothing committed yet).
	committed map[types.Address]int64

	maxSize int
}

// New creates a pool bounded to maxSize transactions.
func New(maxSize int) *Pool {
	if maxSize <= 0 {
		maxSize = 5000
	}
	return &Pool{
		pending:   make(map[types.Address][]*tx.Transaction),
		hashes:    make(map[types.Hash]types.Address),
		committed: make(map[types.Address]int64),
		maxSize:   maxSize,
	}
}

// Add validates and inserts a transaction.
func (p *Pool) Add(t *tx.Transaction) error {
	if t == nil {
		return fmt.Errorf("%w: nil transaction", ErrValidation)
	}
	if err := t.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	hash := t.Hash()
	if _, exists := p.hashes[hash]; exists {
		return ErrAlreadyExists
	}
	if len(p.hashes) >= p.maxSize {
		return ErrPoolFull
	}
	if t.IsNonced() {
		if last, ok := p.committed[t.Address]; ok && t.Nonce <= last {
			return fmt.Errorf("%w: nonce %d, committed %d", ErrStaleNonce, t.Nonce, last)
		}
	}

	p.pending[t.Address] = append(p.pending[t.Address], t)
	p.hashes[hash] = t.Address
	return nil
}

// GetValidTransactions returns the transactions currently eligible for block
// inclusion: per sender, non-nonced transactions in arrival order followed
// by the contiguous nonce run extending the committed nonce. Senders are
// visited in address order so the result is deterministic.
func (p *Pool) GetValidTransactions() []*tx.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()

	addrs := make([]types.Address, 0, len(p.pending))
	for addr := range p.pending {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].String() < addrs[j].String() })

	var out []*tx.Transaction
	for _, addr := range addrs {
		var nonced []*tx.Transaction
		for _, t := range p.pending[addr] {
			if t.IsNonced() {
				nonced = append(nonced, t)
			} else {
				out = append(out, t)
			}
		}
		sort.Slice(nonced, func(i, j int) bool { return nonced[i].Nonce < nonced[j].Nonce })

		next := int64(0)
		if last, ok := p.committed[addr]; ok {
			next = last + 1
		} else if len(nonced) > 0 {
			// Nothing committed for this sender yet: release from its
			// lowest pending nonce.
			next = nonced[0].Nonce
		}
		for _, t := range nonced {
			if t.Nonce != next {
				break
			}
			out = append(out, t)
			next++
		}
	}
	return out
}

// CleanUpForNewBlock drops every transaction included in the committed block
// and advances the nonce trackers for the block's senders.
func (p *Pool) CleanUpForNewBlock(b *block.Block) {
	if b == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	included := make(map[types.Hash]bool, len(b.Transactions))
	for _, t := range b.Transactions {
		included[t.Hash()] = true
		p.trackNonceLocked(t)
	}

	for addr, txs := range p.pending {
		kept := txs[:0]
		for _, t := range txs {
			hash := t.Hash()
			stale := t.IsNonced() && t.Nonce <= p.committedNonceLocked(addr)
			if included[hash] || stale {
				delete(p.hashes, hash)
				continue
			}
			kept = append(kept, t)
		}
		if len(kept) == 0 {
			delete(p.pending, addr)
		} else {
			p.pending[addr] = kept
		}
	}

	log.Pool.Debug().
		Int64("block", b.Number).
		Int("remaining", len(p.hashes)).
		Msg("pool cleaned for new block")
}

// UpdateNonceTrackers advances the committed-nonce trackers for a list of
// already-applied transactions without touching pending entries.
func (p *Pool) UpdateNonceTrackers(txs []*tx.Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range txs {
		p.trackNonceLocked(t)
	}
}

func (p *Pool) trackNonceLocked(t *tx.Transaction) {
	if !t.IsNonced() {
		return
	}
	if last, ok := p.committed[t.Address]; !ok || t.Nonce > last {
		p.committed[t.Address] = t.Nonce
	}
}

func (p *Pool) committedNonceLocked(addr types.Address) int64 {
	if last, ok := p.committed[addr]; ok {
		return last
	}
	return -1
}

// Size returns the number of pending transactions.
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.hashes)
}
