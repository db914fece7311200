// Package p2p implements the gossip transport using libp2p.
package p2p

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/halcyon-labs/halcyon-chain/config"
	"github.com/halcyon-labs/halcyon-chain/internal/consensus"
	"github.com/halcyon-labs/halcyon-chain/internal/log"
	"github.com/halcyon-labs/halcyon-chain/internal/node"
	"github.com/halcyon-labs/halcyon-chain/pkg/block"
	"github.com/halcyon-labs/halcyon-chain/pkg/tx"
	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

// GossipSub topics.
const (
	TopicConsensus    = "halcyon/consensus/1"
	TopicTransactions = "halcyon/tx/1"
)

// Transport is the node's network layer. It gossips consensus messages and
// transactions, and answers chain-subsection requests from the local store.
// It implements consensus.TransportOut.
type Transport struct {
	mu   sync.RWMutex
	cfg  *config.Config
	node *node.Node

	ctx    context.Context
	cancel context.CancelFunc

	host host.Host
	ps   *pubsub.PubSub

	topicConsensus *pubsub.Topic
	topicTx        *pubsub.Topic
	subConsensus   *pubsub.Subscription
	subTx          *pubsub.Subscription

	// consensusHandler receives inbound consensus messages (the engine's
	// HandleConsensusMessage). Set before Start.
	consensusHandler func(consensus.Message)

	// resyncHandler fires after a successful chain merge so the engine can
	// re-anchor on the new tail.
	resyncHandler func()
}

// New creates a transport bound to the node. Call SetConsensusHandler and
// Start before use; with p2p disabled every outbound call degrades to its
// local-only effect.
func New(cfg *config.Config, n *node.Node) *Transport {
	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		cfg:    cfg,
		node:   n,
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetConsensusHandler installs the inbound consensus message handler.
func (t *Transport) SetConsensusHandler(fn func(consensus.Message)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.consensusHandler = fn
}

// SetResyncHandler installs the post-merge re-anchor hook.
func (t *Transport) SetResyncHandler(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resyncHandler = fn
}

// Start brings up the libp2p host, joins the gossip topics, registers the
// sync protocol, and dials the configured seeds.
func (t *Transport) Start() error {
	if !t.cfg.P2P.Enabled {
		log.P2P.Info().Msg("p2p disabled, running standalone")
		return nil
	}

	listen, err := multiaddr.NewMultiaddr(
		fmt.Sprintf("/ip4/%s/tcp/%d", t.cfg.P2P.ListenAddr, t.cfg.Port))
	if err != nil {
		return fmt.Errorf("listen multiaddr: %w", err)
	}

	h, err := libp2p.New(libp2p.ListenAddrs(listen))
	if err != nil {
		return fmt.Errorf("create libp2p host: %w", err)
	}
	t.host = h

	ps, err := pubsub.NewGossipSub(t.ctx, h)
	if err != nil {
		return fmt.Errorf("create gossipsub: %w", err)
	}
	t.ps = ps

	if t.topicConsensus, err = ps.Join(TopicConsensus); err != nil {
		return fmt.Errorf("join %s: %w", TopicConsensus, err)
	}
	if t.topicTx, err = ps.Join(TopicTransactions); err != nil {
		return fmt.Errorf("join %s: %w", TopicTransactions, err)
	}
	if t.subConsensus, err = t.topicConsensus.Subscribe(); err != nil {
		return fmt.Errorf("subscribe %s: %w", TopicConsensus, err)
	}
	if t.subTx, err = t.topicTx.Subscribe(); err != nil {
		return fmt.Errorf("subscribe %s: %w", TopicTransactions, err)
	}

	t.registerSyncHandler()
	go t.readConsensusLoop()
	go t.readTxLoop()

	for _, seed := range t.cfg.P2P.Seeds {
		t.connectSeed(seed)
	}

	log.P2P.Info().
		Str("peer_id", h.ID().String()).
		Str("listen", listen.String()).
		Msg("p2p transport started")
	return nil
}

// Stop shuts down the host and read loops.
func (t *Transport) Stop() {
	t.cancel()
	if t.host != nil {
		if err := t.host.Close(); err != nil {
			log.P2P.Error().Err(err).Msg("close host")
		}
	}
}

func (t *Transport) connectSeed(seed string) {
	addr, err := multiaddr.NewMultiaddr(seed)
	if err != nil {
		log.P2P.Error().Err(err).Str("seed", seed).Msg("bad seed multiaddr")
		return
	}
	info, err := peer.AddrInfoFromP2pAddr(addr)
	if err != nil {
		log.P2P.Error().Err(err).Str("seed", seed).Msg("bad seed addr info")
		return
	}
	if err := t.host.Connect(t.ctx, *info); err != nil {
		log.P2P.Warn().Err(err).Str("seed", seed).Msg("seed connect failed")
		return
	}
	log.P2P.Info().Str("peer", info.ID.String()).Msg("connected to seed")
}

// readConsensusLoop delivers gossip consensus messages to the engine.
func (t *Transport) readConsensusLoop() {
	for {
		msg, err := t.subConsensus.Next(t.ctx)
		if err != nil {
			return // context cancelled
		}
		if msg.ReceivedFrom == t.host.ID() {
			continue
		}
		var cm consensus.Message
		if err := json.Unmarshal(msg.Data, &cm); err != nil {
			log.P2P.Warn().Err(err).Msg("malformed consensus message")
			continue
		}
		t.mu.RLock()
		handler := t.consensusHandler
		t.mu.RUnlock()
		if handler != nil {
			handler(cm)
		}
	}
}

// readTxLoop adds gossiped transactions to the local pool.
func (t *Transport) readTxLoop() {
	for {
		msg, err := t.subTx.Next(t.ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == t.host.ID() {
			continue
		}
		var transaction tx.Transaction
		if err := json.Unmarshal(msg.Data, &transaction); err != nil {
			log.P2P.Warn().Err(err).Msg("malformed transaction")
			continue
		}
		if err := t.node.Pool().Add(&transaction); err != nil {
			log.P2P.Debug().Err(err).Msg("gossiped transaction rejected")
		}
	}
}

// BroadcastConsensusMessage publishes a consensus message. Fire-and-forget.
func (t *Transport) BroadcastConsensusMessage(msg consensus.Message) {
	if t.topicConsensus == nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		log.P2P.Error().Err(err).Msg("marshal consensus message")
		return
	}
	if err := t.topicConsensus.Publish(t.ctx, data); err != nil {
		log.P2P.Error().Err(err).Msg("publish consensus message")
	}
}

// ExecuteAndBroadcastTransaction applies a transaction locally, pools it for
// block inclusion, then gossips it.
func (t *Transport) ExecuteAndBroadcastTransaction(transaction *tx.Transaction, kind string) error {
	if err := t.node.ExecuteTransaction(transaction, kind); err != nil {
		return err
	}
	if err := t.node.Pool().Add(transaction); err != nil {
		log.P2P.Debug().Err(err).Str("kind", kind).Msg("local transaction not pooled")
	}
	if t.topicTx == nil {
		return nil
	}
	data, err := json.Marshal(transaction)
	if err != nil {
		return fmt.Errorf("marshal %s tx: %w", kind, err)
	}
	if err := t.topicTx.Publish(t.ctx, data); err != nil {
		log.P2P.Error().Err(err).Str("kind", kind).Msg("publish transaction")
	}
	return nil
}

// ExecuteTransaction applies a transaction locally only.
func (t *Transport) ExecuteTransaction(transaction *tx.Transaction, kind string) error {
	return t.node.ExecuteTransaction(transaction, kind)
}

// RequestChainSubsection asks connected peers for blocks extending refBlock
// and merges the first acceptable response. Runs asynchronously.
func (t *Transport) RequestChainSubsection(refBlock *block.Block) {
	if t.host == nil {
		return
	}
	go t.requestChainSubsection(refBlock)
}
