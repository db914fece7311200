package consensus

import (
	"encoding/binary"
	"sort"
	"strconv"

	"github.com/halcyon-labs/halcyon-chain/pkg/types"
	"github.com/zeebo/blake3"
)

// The proposer for a height/round is a pure function of the validator set,
// the seed block hash, and the round. Every honest node must agree on it.
//
// The election draws one uniform sample in [0, 1) from
// BLAKE3(seedHash_hex ‖ decimal(round)) and walks the cumulative stake
// distribution over the addresses in ascending order. The sampler is part of the protocol version:
// peers with a different sampler disagree on proposers.

// sampleUnit maps a seed string to a uniform float64 in [0, 1).
// The top 53 bits of the hash give a full-precision IEEE-754 mantissa.
func sampleUnit(seed string) float64 {
	sum := blake3.Sum256([]byte(seed))
	u := binary.BigEndian.Uint64(sum[:8])
	return float64(u>>11) / float64(1<<53)
}

// electionSeed builds the sample seed for a seed block hash and round.
func electionSeed(seedHash types.Hash, round int64) string {
	return seedHash.String() + strconv.FormatInt(round, 10)
}

// SelectProposer elects the proposer from a stake-weighted validator set.
// Returns false when the set is empty or carries no stake. Addresses are
// walked in ascending lexicographic order; the first whose cumulative stake
// exceeds the sampled target wins.
func SelectProposer(validators map[types.Address]uint64, seedHash types.Hash, round int64) (types.Address, bool) {
	if len(validators) == 0 {
		return types.Address{}, false
	}

	addrs := make([]types.Address, 0, len(validators))
	var total uint64
	for addr, stake := range validators {
		if stake == 0 {
			continue
		}
		addrs = append(addrs, addr)
		total += stake
	}
	if total == 0 {
		return types.Address{}, false
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].String() < addrs[j].String() })

	target := sampleUnit(electionSeed(seedHash, round)) * float64(total)

	var cumulative uint64
	for _, addr := range addrs {
		cumulative += validators[addr]
		if float64(cumulative) > target {
			return addr, true
		}
	}
	// Unreachable: cumulative == total > target for any sample < 1.
	return types.Address{}, false
}
