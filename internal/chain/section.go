package chain

import (
	"path/filepath"

	"github.com/halcyon-labs/halcyon-chain/internal/log"
	"github.com/halcyon-labs/halcyon-chain/pkg/block"
)

// clampRange normalizes a [from, to) block-number range against the current
// tail: negative from becomes 0, a to at or below zero (or past the tail)
// becomes lastNumber+1.
func (bs *BlockStore) clampRange(from, to int64) (int64, int64) {
	if from < 0 {
		from = 0
	}
	last := bs.LastBlockNumber()
	if to <= 0 || to > last+1 {
		to = last + 1
	}
	return from, to
}

// GetBlockFiles returns the file names of blocks in [from, to), naturally
// sorted by number.
func (bs *BlockStore) GetBlockFiles(from, to int64) []string {
	from, to = bs.clampRange(from, to)
	if from >= to {
		return nil
	}
	names, err := listBlockFiles(bs.dir)
	if err != nil {
		log.Chain.Error().Err(err).Msg("list block files")
		return nil
	}
	var out []string
	for _, name := range names {
		n, _, err := parseBlockFileName(name)
		if err != nil {
			continue
		}
		if n >= from && n < to {
			out = append(out, name)
		}
	}
	return out
}

// GetChainSection loads the blocks in [from, to) from disk.
func (bs *BlockStore) GetChainSection(from, to int64) []*block.Block {
	names := bs.GetBlockFiles(from, to)
	if len(names) == 0 {
		return nil
	}
	out := make([]*block.Block, 0, len(names))
	for _, name := range names {
		b, err := readBlockFile(filepath.Join(bs.dir, name))
		if err != nil {
			log.Chain.Error().Err(err).Str("file", name).Msg("read section block")
			return nil
		}
		out = append(out, b)
	}
	return out
}

// RequestBlockchainSection serves a sync request anchored at refBlock.
// At most ChainSubsectLength blocks are returned, starting at
// refBlock.Number inclusive. A refBlock matching the local tail gets just
// the tail back as an acknowledgment; a refBlock on a different fork gets
// nothing.
func (bs *BlockStore) RequestBlockchainSection(refBlock *block.Block) []*block.Block {
	last := bs.LastBlock()
	if last == nil {
		return nil
	}

	if refBlock != nil && refBlock.Hash == last.Hash {
		return []*block.Block{last}
	}

	var from int64
	if refBlock != nil {
		from = refBlock.Number
	}
	files := bs.GetBlockFiles(from, from+ChainSubsectLength)
	if len(files) == 0 {
		return nil
	}

	// The requester's anchor must be our block at that height, otherwise the
	// peer is on a fork and extending it would be wrong.
	if refBlock != nil && last.Number > refBlock.Number && files[0] != blockFileName(refBlock) {
		log.Chain.Warn().
			Int64("number", refBlock.Number).
			Str("hash", refBlock.Hash.String()).
			Msg("sync request anchored on a fork, rejecting")
		return nil
	}

	section := bs.GetChainSection(from, from+ChainSubsectLength)
	if len(section) == 0 {
		return nil
	}
	return section
}

// Merge attempts to extend the local chain with a received section.
// Returns true only if blocks were appended. An empty or stale section still
// latches syncedAfterStartup: "peer has nothing newer" means we're caught up.
func (bs *BlockStore) Merge(section []*block.Block) bool {
	if len(section) == 0 {
		bs.latchSynced()
		return false
	}
	last := bs.LastBlock()
	lastNumber := int64(-1)
	if last != nil {
		lastNumber = last.Number
	}
	if section[len(section)-1].Number <= lastNumber {
		bs.latchSynced()
		return false
	}

	coldStart := last == nil
	if coldStart {
		if err := ValidateChainFromGenesis(section, CreateGenesisBlock(bs.genesis)); err != nil {
			log.Chain.Error().Err(err).Msg("section rejected: not a genesis chain")
			return false
		}
	} else {
		if section[0].Hash != last.Hash {
			log.Chain.Error().
				Str("section_first", section[0].Hash.String()).
				Str("local_last", last.Hash.String()).
				Msg("section rejected: does not connect to local tail")
			return false
		}
		if err := ValidateChainSubsection(section); err != nil {
			log.Chain.Error().Err(err).Msg("section rejected: broken subsection")
			return false
		}
	}

	toAppend := section
	if !coldStart {
		toAppend = section[1:]
	}
	for _, b := range toAppend {
		if !bs.AddNewBlock(b) {
			log.Chain.Error().Int64("number", b.Number).Msg("merge aborted: append failed")
			return false
		}
	}
	bs.latchSynced()
	return true
}

func (bs *BlockStore) latchSynced() {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if !bs.syncedAfterStartup {
		bs.syncedAfterStartup = true
		log.Chain.Info().Msg("chain synced after startup")
	}
}
