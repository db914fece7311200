package consensus

import (
	"testing"

	"github.com/halcyon-labs/halcyon-chain/pkg/crypto"
	"github.com/halcyon-labs/halcyon-chain/pkg/types"
)

func addr(b byte) types.Address {
	var a types.Address
	a[types.AddressSize-1] = b
	return a
}

func TestSampleUnitRange(t *testing.T) {
	seeds := []string{"", "deadbeef0", "deadbeef1", "a", "a0", "a1", "a2"}
	for _, seed := range seeds {
		r := sampleUnit(seed)
		if r < 0 || r >= 1 {
			t.Errorf("sampleUnit(%q) = %v, want [0,1)", seed, r)
		}
	}
}

func TestSampleUnitDeterministic(t *testing.T) {
	for _, seed := range []string{"deadbeef0", "deadbeef1", "x42"} {
		if sampleUnit(seed) != sampleUnit(seed) {
			t.Errorf("sampleUnit(%q) not deterministic", seed)
		}
	}
}

func TestSelectProposerEmptySet(t *testing.T) {
	if _, ok := SelectProposer(nil, crypto.Hash([]byte("seed")), 0); ok {
		t.Fatal("elected a proposer from an empty set")
	}
	zeroStake := map[types.Address]uint64{addr(1): 0}
	if _, ok := SelectProposer(zeroStake, crypto.Hash([]byte("seed")), 0); ok {
		t.Fatal("elected a proposer with zero total stake")
	}
}

func TestSelectProposerDeterministic(t *testing.T) {
	validators := map[types.Address]uint64{
		addr(1): 100,
		addr(2): 100,
		addr(3): 100,
	}
	seed := crypto.Hash([]byte("deadbeef"))

	first, ok := SelectProposer(validators, seed, 0)
	if !ok {
		t.Fatal("no proposer elected")
	}
	for i := 0; i < 50; i++ {
		got, ok := SelectProposer(validators, seed, 0)
		if !ok || got != first {
			t.Fatalf("iteration %d: got %s ok=%v, want %s", i, got, ok, first)
		}
	}
}

// TestSelectProposerMatchesCumulativeWalk pins the election semantics: the
// winner is the first address (ascending) whose cumulative stake exceeds
// r * total for the round's sample.
func TestSelectProposerMatchesCumulativeWalk(t *testing.T) {
	a, b, c := addr(1), addr(2), addr(3)
	validators := map[types.Address]uint64{a: 100, b: 100, c: 100}
	seed := crypto.Hash([]byte("deadbeef"))

	for round := int64(0); round < 20; round++ {
		r := sampleUnit(electionSeed(seed, round))
		target := r * 300

		want := c
		switch {
		case 100 > target:
			want = a
		case 200 > target:
			want = b
		}

		got, ok := SelectProposer(validators, seed, round)
		if !ok {
			t.Fatalf("round %d: no proposer", round)
		}
		if got != want {
			t.Errorf("round %d: r=%v got %s, want %s", round, r, got, want)
		}
	}
}

func TestSelectProposerWeighting(t *testing.T) {
	// A validator holding all the stake always wins.
	heavy := addr(7)
	validators := map[types.Address]uint64{
		heavy:   1000,
		addr(1): 0,
	}
	for round := int64(0); round < 10; round++ {
		got, ok := SelectProposer(validators, crypto.Hash([]byte("s")), round)
		if !ok || got != heavy {
			t.Fatalf("round %d: got %s ok=%v, want %s", round, got, ok, heavy)
		}
	}
}

func TestSelectProposerRoundChangesSeed(t *testing.T) {
	validators := map[types.Address]uint64{}
	for i := byte(1); i <= 32; i++ {
		validators[addr(i)] = 10
	}
	seed := crypto.Hash([]byte("deadbeef"))

	// With 32 equal validators, at least one of the first rounds must elect
	// a different proposer — the round is part of the seed.
	first, _ := SelectProposer(validators, seed, 0)
	changed := false
	for round := int64(1); round < 16; round++ {
		if got, _ := SelectProposer(validators, seed, round); got != first {
			changed = true
			break
		}
	}
	if !changed {
		t.Error("proposer never changed across 16 rounds")
	}
}
