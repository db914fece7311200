// Package consensus implements the stake-weighted proposer-election engine.
package consensus

import (
	"github.com/halcyon-labs/halcyon-chain/pkg/block"
)

// MessageType identifies a consensus message kind.
type MessageType string

const (
	// MessagePropose carries a proposed block for the current height.
	MessagePropose MessageType = "PROPOSE"
)

// Message is the tagged consensus message envelope. Only PROPOSE exists
// today; vote phases would add further kinds.
type Message struct {
	Type  MessageType  `json:"type"`
	Value *block.Block `json:"value,omitempty"`
}

// NewProposal wraps a block in a PROPOSE message.
func NewProposal(b *block.Block) Message {
	return Message{Type: MessagePropose, Value: b}
}
