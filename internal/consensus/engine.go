package consensus

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/halcyon-labs/halcyon-chain/config"
	"github.com/halcyon-labs/halcyon-chain/internal/log"
	"github.com/halcyon-labs/halcyon-chain/pkg/block"
	"github.com/halcyon-labs/halcyon-chain/pkg/types"
)

// Status is the engine lifecycle state.
type Status int

const (
	StatusStarting Status = iota
	StatusInitialized
	StatusRunning
	StatusStopped
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusInitialized:
		return "initialized"
	case StatusRunning:
		return "running"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ErrMissingPrevBlock is raised when a block expected to exist cannot be
// found — local state corruption, fatal to the init path.
var ErrMissingPrevBlock = errors.New("previous block not found in store")

// State is the per-height consensus state. It is ephemeral: rebuilt from the
// chain tail on startup, never persisted.
type State struct {
	// Number is the height currently being decided (last committed + 1).
	Number int64

	// Round increments when a proposal timeout fires; 0 on a fresh height.
	Round int64

	// Proposer is the elected proposer for (Number, Round); HasProposer is
	// false when the validator set was empty.
	Proposer    types.Address
	HasProposer bool
}

// Engine drives proposer election and proposal acceptance. All entry points
// (messages, timeouts, lifecycle) serialize on one mutex, so handlers always
// observe a consistent state — the cooperative single-executor model.
type Engine struct {
	mu sync.Mutex

	cfg  *config.Config
	node NodeView
	out  TransportOut

	status Status
	state  State
	timers timerService

	// now and yield are injectable for tests: the wall clock in Unix ms and
	// the post-commit trampoline that flattens the call stack before the
	// next proposal attempt.
	now   func() int64
	yield func(f func())
}

// New creates an engine bound to its node view and outbound transport.
func New(cfg *config.Config, node NodeView, out TransportOut) *Engine {
	e := &Engine{
		cfg:    cfg,
		node:   node,
		out:    out,
		status: StatusStarting,
		now:    func() int64 { return time.Now().UnixMilli() },
	}
	e.yield = func(f func()) {
		time.AfterFunc(cfg.TransitionTimeout, f)
	}
	return e
}

// Status returns the engine lifecycle state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// CurrentState returns a copy of the consensus state.
func (e *Engine) CurrentState() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Init brings the engine from STARTING to RUNNING: it anchors the state on
// the chain tail, issues a stake deposit when configured and none exists,
// and starts the proposal loop. Any failure rewinds the status to STARTING.
func (e *Engine) Init() (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() {
		if err != nil {
			e.status = StatusStarting
			log.Consensus.Error().Err(err).Msg("consensus init failed")
		}
	}()

	e.state.Number = e.node.BlockStore().LastBlockNumber() + 1
	e.state.Round = 0
	e.status = StatusInitialized

	stake, serr := e.currentStake(e.state.Number, e.node.Address())
	if serr != nil {
		return serr
	}
	if stake == 0 && e.cfg.Stake > 0 {
		if serr := e.stakeLocked(e.cfg.Stake); serr != nil {
			return serr
		}
	}

	e.startLocked()
	return nil
}

// Start resumes a stopped engine.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.startLocked()
}

func (e *Engine) startLocked() {
	e.status = StatusRunning
	log.Consensus.Info().Int64("number", e.state.Number).Msg("consensus running")
	e.updateToStateLocked()
}

// Stop halts the proposal loop and cancels the pending timer. State is kept;
// a later Start re-anchors it on the chain tail at round 0 via updateToState.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status = StatusStopped
	e.timers.Cancel()
	log.Consensus.Info().Msg("consensus stopped")
}

// UpdateToState re-anchors the engine on the chain tail after an
// out-of-band chain extension (a sync merge appends blocks without passing
// through commit).
func (e *Engine) UpdateToState() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != StatusRunning {
		return
	}
	e.updateToStateLocked()
}

// updateToStateLocked advances to the next height: re-anchor on the chain
// tail, reset the round, re-elect, and schedule the proposal attempt after a
// scheduler yield (the trampoline breaks deep commit → propose call stacks).
func (e *Engine) updateToStateLocked() {
	last := e.node.BlockStore().LastBlockNumber()
	if e.state.Number > last+1 {
		log.Consensus.Error().
			Int64("state_number", e.state.Number).
			Int64("chain_tail", last).
			Msg("consensus state ahead of chain, not advancing")
		return
	}
	e.state.Number = last + 1
	e.state.Round = 0
	e.electLocked()

	e.yield(func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.status != StatusRunning {
			return
		}
		e.tryProposeLocked()
	})
}

// electLocked recomputes the proposer for the current (number, round).
func (e *Engine) electLocked() {
	validators, err := e.validatorsFor(e.state.Number)
	if err != nil {
		log.Consensus.Error().Err(err).Int64("number", e.state.Number).Msg("resolve validator set")
		e.state.HasProposer = false
		return
	}
	if len(validators) == 0 {
		e.state.HasProposer = false
		return
	}
	seedBlock := e.seedBlockFor(e.state.Number)
	if seedBlock == nil {
		log.Consensus.Error().Int64("number", e.state.Number).Msg("seed block not found")
		e.state.HasProposer = false
		return
	}
	e.state.Proposer, e.state.HasProposer = SelectProposer(validators, seedBlock.Hash, e.state.Round)
	if e.state.HasProposer {
		log.Consensus.Debug().
			Int64("number", e.state.Number).
			Int64("round", e.state.Round).
			Str("proposer", e.state.Proposer.String()).
			Msg("proposer elected")
	}
}

// seedBlockFor returns the election seed block for a height: the tail for
// young chains, otherwise the block MaxConsensusStateDB heights back.
func (e *Engine) seedBlockFor(number int64) *block.Block {
	store := e.node.BlockStore()
	if number <= e.cfg.MaxConsensusStateDB {
		return store.LastBlock()
	}
	return store.GetBlockByNumber(number - e.cfg.MaxConsensusStateDB)
}

// tryProposeLocked arms the round timeout and, when the local node is the
// elected proposer, feeds its own proposal through the normal message path.
func (e *Engine) tryProposeLocked() {
	key := timerKey{Number: e.state.Number, Round: e.state.Round}
	e.timers.Arm(key, e.cfg.ProposalTimeout, e.onTimeout)

	if !e.state.HasProposer || e.state.Proposer != e.node.Address() {
		return
	}

	proposal, err := e.createBlockProposalLocked()
	if err != nil {
		log.Consensus.Error().Err(err).Int64("number", e.state.Number).Msg("build proposal")
		return
	}
	msg := NewProposal(proposal)
	log.Consensus.Info().
		Int64("number", proposal.Number).
		Str("hash", proposal.Hash.String()).
		Msg("proposing block")
	e.handleMessageLocked(msg)
}

// onTimeout handles a proposal-timeout firing for the given key.
func (e *Engine) onTimeout(key timerKey) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status != StatusRunning {
		return
	}
	// Stale firings: the engine moved to another height, or the round
	// already advanced past the armed one.
	if key.Number != e.state.Number || key.Round < e.state.Round {
		return
	}

	e.state.Round = key.Round + 1
	log.Consensus.Info().
		Int64("number", e.state.Number).
		Int64("round", e.state.Round).
		Msg("proposal timeout, advancing round")
	e.electLocked()
	e.tryProposeLocked()
}

// HandleConsensusMessage processes an inbound consensus message. Only a
// RUNNING engine accepts messages.
func (e *Engine) HandleConsensusMessage(msg Message) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status != StatusRunning {
		log.Consensus.Debug().Str("status", e.status.String()).Msg("dropping message, engine not running")
		return
	}
	e.handleMessageLocked(msg)
}

func (e *Engine) handleMessageLocked(msg Message) {
	switch msg.Type {
	case MessagePropose:
		e.handleProposeLocked(msg)
	default:
		log.Consensus.Error().Str("type", string(msg.Type)).Msg("unknown consensus message type")
	}
}

func (e *Engine) handleProposeLocked(msg Message) {
	b := msg.Value
	if b == nil {
		log.Consensus.Error().Msg("PROPOSE message without a block")
		return
	}

	switch {
	case b.Number < e.state.Number:
		// Stale proposal from a finished height.
		return

	case b.Number > e.state.Number:
		// We are behind: ask peers for the missing stretch.
		log.Consensus.Info().
			Int64("got", b.Number).
			Int64("deciding", e.state.Number).
			Msg("proposal from the future, requesting chain subsection")
		e.node.BlockStore().MarkDesynced()
		e.out.RequestChainSubsection(e.node.BlockStore().LastBlock())
		return

	default:
		if !e.checkProposalLocked(b) {
			return
		}
		e.commitLocked(b)
		e.out.BroadcastConsensusMessage(msg)
	}
}

// checkProposalLocked validates a proposal for the current height: block
// validity against the store and the elected proposer.
func (e *Engine) checkProposalLocked(b *block.Block) bool {
	if err := block.ValidateProposedBlock(b, e.node.BlockStore()); err != nil {
		log.Consensus.Error().Err(err).Int64("number", b.Number).Msg("invalid proposal")
		return false
	}
	if !e.state.HasProposer || b.Proposer != e.state.Proposer {
		log.Consensus.Error().
			Str("got", b.Proposer.String()).
			Str("want", e.state.Proposer.String()).
			Msg("proposal from wrong proposer")
		return false
	}
	return true
}

// commitLocked appends the block, registers the local vote, and advances.
func (e *Engine) commitLocked(b *block.Block) {
	if !e.node.AddNewBlock(b) {
		log.Consensus.Error().Int64("number", b.Number).Msg("commit failed, block not appended")
		return
	}
	e.tryRegisterLocked(b)
	e.updateToStateLocked()
}

// currentStake resolves the local stake for a height: height 1 reads the
// deposit accounts, later heights read the previous block's validator set.
func (e *Engine) currentStake(number int64, addr types.Address) (uint64, error) {
	if number <= 1 {
		return e.getValidConsensusDeposit(addr), nil
	}
	return e.getStakeAtNumber(number, addr)
}

// getStakeAtNumber returns addr's stake recorded for height n (the previous
// block's validator set). A missing previous block is local state corruption.
func (e *Engine) getStakeAtNumber(n int64, addr types.Address) (uint64, error) {
	if n <= 1 {
		return 0, nil
	}
	prev := e.blockAt(n - 1)
	if prev == nil {
		return 0, fmt.Errorf("%w: height %d", ErrMissingPrevBlock, n-1)
	}
	return prev.Validators[addr], nil
}

// blockAt fetches a block by number, short-circuiting on the tail.
func (e *Engine) blockAt(n int64) *block.Block {
	store := e.node.BlockStore()
	if last := store.LastBlock(); last != nil && last.Number == n {
		return last
	}
	return store.GetBlockByNumber(n)
}
