package consensus

import (
	"strings"
	"testing"
	"time"

	"github.com/halcyon-labs/halcyon-chain/config"
	"github.com/halcyon-labs/halcyon-chain/internal/account"
	"github.com/halcyon-labs/halcyon-chain/internal/node"
	"github.com/halcyon-labs/halcyon-chain/internal/statedb"
	"github.com/halcyon-labs/halcyon-chain/internal/storage"
	"github.com/halcyon-labs/halcyon-chain/pkg/block"
	"github.com/halcyon-labs/halcyon-chain/pkg/tx"
	"github.com/halcyon-labs/halcyon-chain/pkg/types"
)

// fakeOut records outbound calls and applies transactions to the node the
// way the real transport does.
type fakeOut struct {
	n            *node.Node
	broadcasts   []Message
	syncRequests []*block.Block
}

func (f *fakeOut) BroadcastConsensusMessage(msg Message) {
	f.broadcasts = append(f.broadcasts, msg)
}

func (f *fakeOut) ExecuteAndBroadcastTransaction(t *tx.Transaction, kind string) error {
	if err := f.n.ExecuteTransaction(t, kind); err != nil {
		return err
	}
	return f.n.Pool().Add(t)
}

func (f *fakeOut) ExecuteTransaction(t *tx.Transaction, kind string) error {
	return f.n.ExecuteTransaction(t, kind)
}

func (f *fakeOut) RequestChainSubsection(refBlock *block.Block) {
	f.syncRequests = append(f.syncRequests, refBlock)
}

// harness drives the engine's trampoline deterministically: queued yields
// run only when the test drains them.
type harness struct {
	engine *Engine
	node   *node.Node
	out    *fakeOut
	queue  []func()
}

func newHarness(t *testing.T, stake uint64, firstNode bool) *harness {
	t.Helper()

	cfg := config.DefaultTestnet()
	cfg.DataDir = t.TempDir()
	cfg.Stake = stake
	cfg.ProposalTimeout = time.Hour // Timeouts are driven by hand in tests.
	cfg.P2P.Enabled = false

	acct, err := account.Generate()
	if err != nil {
		t.Fatalf("generate account: %v", err)
	}
	n := node.New(cfg, acct, storage.NewMemory())
	if err := n.Init(firstNode); err != nil {
		t.Fatalf("init node: %v", err)
	}

	out := &fakeOut{n: n}
	e := New(cfg, n, out)
	h := &harness{engine: e, node: n, out: out}
	e.yield = func(f func()) {
		h.queue = append(h.queue, f)
	}
	return h
}

// drain runs the currently queued trampoline steps. Steps enqueued while
// draining (the next height's proposal) stay queued, so one drain advances
// the engine by at most one height.
func (h *harness) drain() {
	pending := h.queue
	h.queue = nil
	for _, f := range pending {
		f()
	}
}

func TestInitAnchorsOnChainTail(t *testing.T) {
	h := newHarness(t, 0, true)
	if err := h.engine.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer h.engine.Stop()

	st := h.engine.CurrentState()
	if st.Number != 1 || st.Round != 0 {
		t.Fatalf("state = %+v, want number=1 round=0", st)
	}
	if h.engine.Status() != StatusRunning {
		t.Fatalf("status = %s, want running", h.engine.Status())
	}
}

// TestSingleNodeGenesisFlow exercises the full first-node loop: init stakes,
// the trampoline proposes, the proposal commits, and the engine advances.
func TestSingleNodeGenesisFlow(t *testing.T) {
	h := newHarness(t, 100, true)
	if err := h.engine.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer h.engine.Stop()

	h.drain() // run the proposal trampoline for height 1

	if got := h.node.BlockStore().LastBlockNumber(); got != 1 {
		t.Fatalf("chain height = %d, want 1", got)
	}
	st := h.engine.CurrentState()
	if st.Number != 2 || st.Round != 0 {
		t.Fatalf("state = %+v, want number=2 round=0", st)
	}

	blk := h.node.BlockStore().LastBlock()
	if blk.Proposer != h.node.Address() {
		t.Errorf("proposer = %s, want local address", blk.Proposer)
	}

	var sawDeposit, sawUpdate bool
	for _, transaction := range blk.Transactions {
		if refersTo(transaction.Operation, statedb.DepositAccountPath(h.node.Address())) {
			sawDeposit = true
		}
		if refersTo(transaction.Operation, statedb.ProposePath(1)) {
			sawUpdate = true
		}
	}
	if !sawDeposit {
		t.Error("block 1 missing the init stake deposit transaction")
	}
	if !sawUpdate {
		t.Error("block 1 missing the consensus-update transaction")
	}

	if len(h.out.broadcasts) == 0 {
		t.Error("accepted proposal was not re-broadcast")
	}

	// The committed registration makes this node the height-2 validator set.
	validators, err := h.engine.validatorsFor(2)
	if err != nil {
		t.Fatalf("validatorsFor(2): %v", err)
	}
	if validators[h.node.Address()] != 100 {
		t.Errorf("height-2 stake = %d, want 100", validators[h.node.Address()])
	}
}

func refersTo(op tx.Operation, ref string) bool {
	if strings.HasPrefix(op.Ref, ref) {
		return true
	}
	for _, sub := range op.OpList {
		if strings.HasPrefix(sub.Ref, ref) {
			return true
		}
	}
	return false
}

// TestTimeoutAdvancesRound covers the round machinery: a firing for the
// armed key advances the round, a stale firing is ignored.
func TestTimeoutAdvancesRound(t *testing.T) {
	h := newHarness(t, 0, true)
	if err := h.engine.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer h.engine.Stop()
	h.drain()

	h.engine.onTimeout(timerKey{Number: 1, Round: 0})
	if st := h.engine.CurrentState(); st.Round != 1 {
		t.Fatalf("round = %d after timeout, want 1", st.Round)
	}

	// The old (1, 0) firing again must not rewind or re-advance.
	h.engine.onTimeout(timerKey{Number: 1, Round: 0})
	if st := h.engine.CurrentState(); st.Round != 1 {
		t.Fatalf("round = %d after stale timeout, want 1", st.Round)
	}

	// A firing for the current round advances again.
	h.engine.onTimeout(timerKey{Number: 1, Round: 1})
	if st := h.engine.CurrentState(); st.Round != 2 {
		t.Fatalf("round = %d, want 2", st.Round)
	}
}

// TestFutureProposalTriggersCatchup covers the desync path: a proposal ahead
// of the local height requests a chain subsection instead of committing.
func TestFutureProposalTriggersCatchup(t *testing.T) {
	h := newHarness(t, 0, true)
	if err := h.engine.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer h.engine.Stop()
	h.drain()

	// Latch synced first so the desync flip is observable.
	h.node.BlockStore().Merge(nil)
	if !h.node.BlockStore().SyncedAfterStartup() {
		t.Fatal("empty merge did not latch synced")
	}

	future := block.New(9, time.Now().UnixMilli(), types.Hash{1}, addr(9), nil, nil)
	h.engine.HandleConsensusMessage(NewProposal(future))

	if len(h.out.syncRequests) != 1 {
		t.Fatalf("sync requests = %d, want 1", len(h.out.syncRequests))
	}
	if h.node.BlockStore().SyncedAfterStartup() {
		t.Error("node still flagged synced after future proposal")
	}
	if got := h.node.BlockStore().LastBlockNumber(); got != 0 {
		t.Errorf("chain height = %d, want 0 (nothing committed)", got)
	}
}

func TestStaleProposalDroppedSilently(t *testing.T) {
	h := newHarness(t, 100, true)
	if err := h.engine.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer h.engine.Stop()
	h.drain() // now deciding height 2

	broadcastsBefore := len(h.out.broadcasts)
	stale := block.New(0, time.Now().UnixMilli(), types.Hash{}, types.Address{}, nil, nil)
	h.engine.HandleConsensusMessage(NewProposal(stale))

	if len(h.out.broadcasts) != broadcastsBefore {
		t.Error("stale proposal was re-broadcast")
	}
	if got := h.engine.CurrentState().Number; got != 2 {
		t.Errorf("state number = %d, want 2", got)
	}
}

func TestWrongProposerRejected(t *testing.T) {
	h := newHarness(t, 100, true)
	if err := h.engine.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer h.engine.Stop()
	// Do not drain: the engine is still deciding height 1 with the local
	// node as the elected proposer.

	genesis := h.node.BlockStore().LastBlock()
	imposter := block.New(1, time.Now().UnixMilli(), genesis.Hash, addr(5), nil, nil)
	h.engine.HandleConsensusMessage(NewProposal(imposter))

	if got := h.node.BlockStore().LastBlockNumber(); got != 0 {
		t.Errorf("chain height = %d, want 0 (imposter committed)", got)
	}
}

func TestMessagesDroppedWhenStopped(t *testing.T) {
	h := newHarness(t, 100, true)
	if err := h.engine.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	h.engine.Stop()

	if got := h.engine.Status(); got != StatusStopped {
		t.Fatalf("status = %s, want stopped", got)
	}

	genesis := h.node.BlockStore().LastBlock()
	proposal := block.New(1, time.Now().UnixMilli(), genesis.Hash, h.node.Address(), nil, nil)
	h.engine.HandleConsensusMessage(NewProposal(proposal))

	if got := h.node.BlockStore().LastBlockNumber(); got != 0 {
		t.Errorf("stopped engine committed a block, height = %d", got)
	}
}

// TestGarbageCollectOp checks that proposals past the retention window carry
// the null-delete of the aged consensus record.
func TestGarbageCollectOp(t *testing.T) {
	h := newHarness(t, 100, true)
	h.engine.cfg.MaxConsensusStateDB = 1
	if err := h.engine.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer h.engine.Stop()

	h.drain() // height 1 committed
	h.drain() // height 2 committed (proposal carries the GC op)

	if got := h.node.BlockStore().LastBlockNumber(); got < 2 {
		t.Fatalf("chain height = %d, want >= 2", got)
	}

	blk := h.node.BlockStore().GetBlockByNumber(2)
	var sawGC bool
	for _, transaction := range blk.Transactions {
		for _, sub := range transaction.Operation.OpList {
			if sub.Ref == statedb.ConsensusNumberPath(1) && sub.IsDelete() {
				sawGC = true
			}
		}
	}
	if !sawGC {
		t.Error("block 2 proposal missing the aged-record delete op")
	}
}
