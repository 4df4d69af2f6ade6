package engine

import (
	"github.com/ethereum/go-ethereum/common"
)

type ApplicationName string

// ApplicationSchema defines the decode contract for an application's view data.
type ApplicationSchema string

type ApplicationMeta struct {
	Name           ApplicationName `json:"name"`
	Module         string          `json:"module"`
	CreatorChainID ChainID         `json:"creatorChainId"`
}

type ApplicationState struct {
	Meta ApplicationMeta `json:"meta"`

	// Schema is the decode contract for Data.
	// Example:
	// "microswap/pool/View@v1"
	Schema ApplicationSchema `json:"schema"`

	// Data is the application view, shaped by Schema.
	Data any `json:"data,omitempty"`

	// Error is populated if the application failed to produce a view for this block.
	Error string `json:"error,omitempty"`
}

// BlockSummary contains only the essential block information for clients.
type BlockSummary struct {
	Height     uint64      `json:"height"`
	Hash       common.Hash `json:"hash"`
	Timestamp  Timestamp   `json:"timestamp"`
	ReceivedAt int64       `json:"receivedAt"` // Unix nanoseconds when the chain started executing the block.
	Operations int         `json:"operations"`
	Messages   int         `json:"messages"`
	Rejected   int         `json:"rejected"`
}

// State is the main data structure broadcast to subscribers.
type State struct {
	ChainID      ChainID                            `json:"chainId"`
	Timestamp    uint64                             `json:"timestamp"`
	Block        BlockSummary                       `json:"block"`
	Applications map[ApplicationID]ApplicationState `json:"applications"`
}

func (state *State) HasErrors() bool {
	for _, app := range state.Applications {
		if app.Error != "" {
			return true
		}
	}
	return false
}
