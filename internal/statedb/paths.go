package statedb

import (
	"fmt"

	"github.com/halcyon-labs/halcyon-chain/pkg/types"
)

// Semantic state paths read and written by the consensus engine.

// ProposePath is the proposal record for height n.
func ProposePath(n int64) string {
	return fmt.Sprintf("/consensus/number/%d/propose", n)
}

// RegisterPath is addr's registration for height n.
func RegisterPath(n int64, addr types.Address) string {
	return fmt.Sprintf("/consensus/number/%d/register/%s", n, addr)
}

// RegisterPrefix is the registration subtree for height n.
func RegisterPrefix(n int64) string {
	return fmt.Sprintf("/consensus/number/%d/register", n)
}

// ConsensusNumberPath is the whole consensus record subtree for height n.
func ConsensusNumberPath(n int64) string {
	return fmt.Sprintf("/consensus/number/%d", n)
}

// DepositAccountPath is the canonical consensus deposit for addr. Stake
// checks read it; the engine's stake transaction writes it alongside the
// deposit request.
func DepositAccountPath(addr types.Address) string {
	return fmt.Sprintf("/deposit_accounts/consensus/%s", addr)
}

// DepositRequestPath is a write-only deposit request under a fresh push id.
func DepositRequestPath(addr types.Address, pushID string) string {
	return fmt.Sprintf("/deposit/consensus/%s/%s/value", addr, pushID)
}

// Deposit is the canonical consensus deposit record.
// It counts toward stake only while unexpired (with a grace period).
type Deposit struct {
	Value    uint64 `json:"value"`
	ExpireAt int64  `json:"expire_at"`
}

// Registration attests that the registrant voted BlockHash as the selected
// block of its height, backed by Stake.
type Registration struct {
	BlockHash types.Hash `json:"block_hash"`
	Stake     uint64     `json:"stake"`
}

// ProposalRecord is written into the proposed block's transaction list.
type ProposalRecord struct {
	Number       int64                    `json:"number"`
	Validators   map[types.Address]uint64 `json:"validators"`
	TotalAtStake uint64                   `json:"total_at_stake"`
	Proposer     types.Address            `json:"proposer"`
}
