package differ

import "github.com/defistate/microswap/engine"

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type ApplicationDiff struct {
	Meta engine.ApplicationMeta `json:"meta"`

	// Schema is the decode contract for Data.
	// Example:
	// "microswap/pool/View@v1"
	Schema engine.ApplicationSchema `json:"schema"`

	// Data is the application diff, shaped by Schema.
	Data any `json:"data,omitempty"`

	// Error is populated if the application failed to produce a view for this block.
	Error string `json:"error,omitempty"`
}

// StateDiff is a summary of changes from FromBlock to ToBlock on one chain.
// Applications that did not change are absent.
type StateDiff struct {
	ChainID      engine.ChainID                           `json:"chainId"`
	Timestamp    uint64                                   `json:"timestamp"`
	FromBlock    uint64                                   `json:"fromBlock"`
	ToBlock      engine.BlockSummary                      `json:"toBlock"`
	Applications map[engine.ApplicationID]ApplicationDiff `json:"applications"`
}
