package chain

import (
	"testing"

	"github.com/halcyon-labs/halcyon-chain/pkg/block"
)

func TestValidateChainSubsection(t *testing.T) {
	chain := extendChain(t, []*block.Block{CreateGenesisBlock(testGenesis())}, 4)

	if err := ValidateChainSubsection(chain); err != nil {
		t.Fatalf("valid chain rejected: %v", err)
	}
	if err := ValidateChainSubsection(chain[2:]); err != nil {
		t.Fatalf("valid mid-chain subsection rejected: %v", err)
	}
	if err := ValidateChainSubsection(nil); err == nil {
		t.Error("empty subsection accepted")
	}

	// Break the hash link.
	broken := append([]*block.Block{}, chain...)
	broken[2] = block.New(2, chain[2].Timestamp, chain[0].Hash, chain[2].Proposer, nil, nil)
	if err := ValidateChainSubsection(broken); err == nil {
		t.Error("broken hash chain accepted")
	}

	// Tamper with a block without resealing.
	tampered := append([]*block.Block{}, chain...)
	cp := *chain[3]
	cp.Timestamp += 1000
	tampered[3] = &cp
	if err := ValidateChainSubsection(tampered); err == nil {
		t.Error("tampered block accepted")
	}
}

func TestValidateChainFromGenesis(t *testing.T) {
	genesis := CreateGenesisBlock(testGenesis())
	chain := extendChain(t, []*block.Block{genesis}, 3)

	if err := ValidateChainFromGenesis(chain, genesis); err != nil {
		t.Fatalf("valid chain rejected: %v", err)
	}
	// A chain rooted elsewhere must be rejected even if internally valid.
	if err := ValidateChainFromGenesis(chain[1:], genesis); err == nil {
		t.Error("chain not rooted at genesis accepted")
	}
}
