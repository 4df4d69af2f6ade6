package client

import (
	"encoding/json"

	"github.com/defistate/microswap/engine"
)

// clientState mirrors engine.State but keeps Data as RawMessage so it can be
// decoded by schema instead of into map[string]interface{}.
type clientState struct {
	ChainID      engine.ChainID                                  `json:"chainId"`
	Timestamp    uint64                                          `json:"timestamp"`
	Block        engine.BlockSummary                             `json:"block"`
	Applications map[engine.ApplicationID]clientApplicationState `json:"applications"`
}

type clientApplicationState struct {
	Meta   engine.ApplicationMeta   `json:"meta"`
	Schema engine.ApplicationSchema `json:"schema"`
	Error  string                   `json:"error,omitempty"`

	// Data is decoded later using Schema.
	Data json.RawMessage `json:"data,omitempty"`
}

// clientStateDiff mirrors differ.StateDiff but keeps the application diffs as raw bytes.
type clientStateDiff struct {
	ChainID      engine.ChainID                                  `json:"chainId"`
	FromBlock    uint64                                          `json:"fromBlock"`
	ToBlock      engine.BlockSummary                             `json:"toBlock"`
	Timestamp    uint64                                          `json:"timestamp"`
	Applications map[engine.ApplicationID]clientApplicationState `json:"applications"`
}
