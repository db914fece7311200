package p2p

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/halcyon-labs/halcyon-chain/internal/log"
	"github.com/halcyon-labs/halcyon-chain/pkg/block"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
)

const (
	// SyncProtocol is the protocol ID for chain-subsection requests.
	SyncProtocol = protocol.ID("/halcyon/sync/1.0.0")

	// syncTimeout bounds a single sync round trip.
	syncTimeout = 30 * time.Second

	// maxSyncResponseBytes limits sync response size (10 MB).
	maxSyncResponseBytes = 10 * 1024 * 1024
)

// SyncRequest anchors a chain-subsection request on the requester's tail.
// A nil RefBlock asks from genesis (cold start).
type SyncRequest struct {
	RefBlock *block.Block `json:"ref_block,omitempty"`
}

// SyncResponse carries at most ChainSubsectLength blocks.
type SyncResponse struct {
	Blocks []*block.Block `json:"blocks"`
}

// registerSyncHandler serves chain subsections from the local block store.
func (t *Transport) registerSyncHandler() {
	t.host.SetStreamHandler(SyncProtocol, func(stream network.Stream) {
		defer stream.Close()

		var req SyncRequest
		if err := json.NewDecoder(io.LimitReader(stream, maxSyncResponseBytes)).Decode(&req); err != nil {
			return
		}
		section := t.node.BlockStore().RequestBlockchainSection(req.RefBlock)
		resp := SyncResponse{Blocks: section}
		if err := json.NewEncoder(stream).Encode(&resp); err != nil {
			log.P2P.Debug().Err(err).Msg("write sync response")
		}
	})
}

// requestChainSubsection queries connected peers until one returns a section
// the store accepts (or confirms we are already caught up).
func (t *Transport) requestChainSubsection(refBlock *block.Block) {
	peers := t.host.Network().Peers()
	if len(peers) == 0 {
		log.P2P.Warn().Msg("chain subsection requested with no peers")
		return
	}
	for _, p := range peers {
		section, err := t.fetchSection(p, refBlock)
		if err != nil {
			log.P2P.Debug().Err(err).Str("peer", p.String()).Msg("sync request failed")
			continue
		}
		if t.node.BlockStore().Merge(section) {
			if err := t.node.AbsorbMergedBlocks(); err != nil {
				log.P2P.Error().Err(err).Msg("absorb merged blocks")
			}
			t.mu.RLock()
			resync := t.resyncHandler
			t.mu.RUnlock()
			if resync != nil {
				resync()
			}
			return
		}
		if t.node.BlockStore().SyncedAfterStartup() {
			return
		}
	}
}

// fetchSection performs one sync round trip with a peer.
func (t *Transport) fetchSection(p peer.ID, refBlock *block.Block) ([]*block.Block, error) {
	ctx, cancel := context.WithTimeout(t.ctx, syncTimeout)
	defer cancel()

	stream, err := t.host.NewStream(ctx, p, SyncProtocol)
	if err != nil {
		return nil, err
	}
	defer stream.Close()
	deadline := time.Now().Add(syncTimeout)
	_ = stream.SetDeadline(deadline)

	if err := json.NewEncoder(stream).Encode(SyncRequest{RefBlock: refBlock}); err != nil {
		return nil, err
	}
	if err := stream.CloseWrite(); err != nil {
		return nil, err
	}

	var resp SyncResponse
	if err := json.NewDecoder(io.LimitReader(stream, maxSyncResponseBytes)).Decode(&resp); err != nil {
		return nil, err
	}
	return resp.Blocks, nil
}
