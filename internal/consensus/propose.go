package consensus

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/halcyon-labs/halcyon-chain/internal/log"
	"github.com/halcyon-labs/halcyon-chain/internal/statedb"
	"github.com/halcyon-labs/halcyon-chain/pkg/block"
	"github.com/halcyon-labs/halcyon-chain/pkg/tx"
	"github.com/halcyon-labs/halcyon-chain/pkg/types"
)

// Transaction kind labels used for logging and gossip.
const (
	KindConsensusUpdate = "consensus_update"
	KindRegister        = "register"
	KindStakeDeposit    = "stake_deposit"
)

// validatorsFor resolves the validator set used to elect the proposer of
// height n. Registrations for the previous height take precedence (they
// attest the canonical block directly); the previous block's recorded set is
// the fallback. Height 1 bootstraps from the locally configured stake.
func (e *Engine) validatorsFor(n int64) (map[types.Address]uint64, error) {
	if n <= 0 {
		return nil, nil
	}
	prev := e.blockAt(n - 1)
	if prev == nil {
		return nil, fmt.Errorf("%w: height %d", ErrMissingPrevBlock, n-1)
	}

	if regs := e.validatorsVotedFor(n-1, prev.Hash); len(regs) > 0 {
		return regs, nil
	}
	if len(prev.Validators) > 0 {
		return prev.Validators, nil
	}
	if n == 1 && e.cfg.Stake > 0 {
		return map[types.Address]uint64{e.node.Address(): e.cfg.Stake}, nil
	}
	return nil, nil
}

// validatorsVotedFor collects the registrants of height n whose recorded
// block hash matches the canonical block of that height.
func (e *Engine) validatorsVotedFor(n int64, canonical types.Hash) map[types.Address]uint64 {
	out := make(map[types.Address]uint64)
	prefix := statedb.RegisterPrefix(n)
	err := e.node.StateDB().ForEach(prefix, func(path string, value json.RawMessage) error {
		addrPart := strings.TrimPrefix(path, statedb.NormalizePath(prefix)+"/")
		addr, err := types.HexToAddress(addrPart)
		if err != nil {
			return nil // Not a registration leaf.
		}
		var reg statedb.Registration
		if err := json.Unmarshal(value, &reg); err != nil {
			log.Consensus.Warn().Str("path", path).Msg("malformed registration record")
			return nil
		}
		if reg.BlockHash == canonical && reg.Stake > 0 {
			out[addr] = reg.Stake
		}
		return nil
	})
	if err != nil {
		log.Consensus.Error().Err(err).Int64("number", n).Msg("scan registrations")
		return nil
	}
	return out
}

// createBlockProposalLocked assembles the proposal for the current height:
// the valid pool transactions plus a consensus-update transaction recording
// the proposal (and, past the retention window, garbage-collecting the aged
// consensus record). The update is executed locally before the block is
// sealed so the proposer's own state already reflects it.
func (e *Engine) createBlockProposalLocked() (*block.Block, error) {
	store := e.node.BlockStore()
	last := store.LastBlock()
	if last == nil {
		return nil, fmt.Errorf("%w: chain is empty", ErrMissingPrevBlock)
	}
	blockNumber := e.state.Number

	txs := e.node.Pool().GetValidTransactions()

	validators := e.validatorsVotedFor(last.Number, last.Hash)
	var totalAtStake uint64
	for _, s := range validators {
		totalAtStake += s
	}

	record := statedb.ProposalRecord{
		Number:       blockNumber,
		Validators:   validators,
		TotalAtStake: totalAtStake,
		Proposer:     e.node.Address(),
	}
	proposeOp, err := tx.SetValue(statedb.ProposePath(blockNumber), record)
	if err != nil {
		return nil, err
	}

	op := proposeOp
	if blockNumber > e.cfg.MaxConsensusStateDB {
		// Bound the consensus subtree: drop the record that just aged out
		// of the retention window in the same transaction.
		aged := blockNumber - e.cfg.MaxConsensusStateDB
		op = tx.SetList(proposeOp, tx.DeleteValue(statedb.ConsensusNumberPath(aged)))
	}

	update, err := e.node.CreateTransaction(op, false)
	if err != nil {
		return nil, fmt.Errorf("consensus update tx: %w", err)
	}
	if err := e.out.ExecuteTransaction(update, KindConsensusUpdate); err != nil {
		return nil, fmt.Errorf("execute consensus update: %w", err)
	}
	txs = append(txs, update)

	return block.New(blockNumber, e.now(), last.Hash, e.node.Address(), validators, txs), nil
}

// tryRegisterLocked emits the local registration for a just-committed block:
// an attestation that this node saw b as the canonical block of its height,
// backed by the node's stake. Nodes without stake stay silent.
func (e *Engine) tryRegisterLocked(b *block.Block) {
	self := e.node.Address()

	stake := b.Validators[self]
	if stake == 0 {
		stake = e.getValidConsensusDeposit(self)
	}
	if stake == 0 {
		return
	}

	op, err := tx.SetValue(statedb.RegisterPath(b.Number, self), statedb.Registration{
		BlockHash: b.Hash,
		Stake:     stake,
	})
	if err != nil {
		log.Consensus.Error().Err(err).Msg("build registration")
		return
	}
	t, err := e.node.CreateTransaction(op, true)
	if err != nil {
		log.Consensus.Error().Err(err).Msg("create registration tx")
		return
	}
	if err := e.out.ExecuteAndBroadcastTransaction(t, KindRegister); err != nil {
		log.Consensus.Error().Err(err).Msg("broadcast registration")
	}
}

// Stake issues a consensus deposit of the given amount. Non-positive
// amounts are ignored.
func (e *Engine) Stake(amount uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stakeLocked(amount)
}

func (e *Engine) stakeLocked(amount uint64) error {
	if amount == 0 {
		return nil
	}
	self := e.node.Address()

	pushID, err := newPushID()
	if err != nil {
		return err
	}
	requestOp, err := tx.SetValue(statedb.DepositRequestPath(self, pushID), amount)
	if err != nil {
		return err
	}
	// The deposit transaction carries its canonical effect directly: the
	// deposit account is written in the same op list, valid for twice the
	// grace period from now.
	accountOp, err := tx.SetValue(statedb.DepositAccountPath(self), statedb.Deposit{
		Value:    amount,
		ExpireAt: e.now() + 2*e.cfg.DepositGrace.Milliseconds(),
	})
	if err != nil {
		return err
	}

	t, err := e.node.CreateTransaction(tx.SetList(requestOp, accountOp), true)
	if err != nil {
		return fmt.Errorf("create stake tx: %w", err)
	}
	if err := e.out.ExecuteAndBroadcastTransaction(t, KindStakeDeposit); err != nil {
		return fmt.Errorf("broadcast stake tx: %w", err)
	}
	log.Consensus.Info().Uint64("amount", amount).Msg("stake deposit issued")
	return nil
}

// getValidConsensusDeposit returns addr's deposit value if the deposit is
// positive and stays valid past the grace period, else 0.
func (e *Engine) getValidConsensusDeposit(addr types.Address) uint64 {
	var dep statedb.Deposit
	found, err := e.node.StateDB().GetJSON(statedb.DepositAccountPath(addr), &dep)
	if err != nil {
		log.Consensus.Error().Err(err).Str("addr", addr.String()).Msg("read deposit account")
		return 0
	}
	if !found || dep.Value == 0 {
		return 0
	}
	if dep.ExpireAt <= e.now()+e.cfg.DepositGrace.Milliseconds() {
		return 0
	}
	return dep.Value
}

// newPushID generates a fresh opaque id for a deposit request path.
func newPushID() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("generate push id: %w", err)
	}
	return hex.EncodeToString(buf[:]), nil
}
