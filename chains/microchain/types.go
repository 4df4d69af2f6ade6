// Package microchain hosts applications on a set of in-process microchains.
// Each chain is an actor that executes operations, incoming messages and
// queries one at a time and publishes an engine.State after every block.
package microchain

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/defistate/microswap/engine"
	"github.com/ethereum/go-ethereum/common"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

var (
	ErrUnknownChain       = errors.New("unknown chain")
	ErrUnknownApplication = errors.New("unknown application")
	ErrUnknownModule      = errors.New("unknown module")
	ErrChainExists        = errors.New("chain already exists")
	ErrModuleExists       = errors.New("module already registered")
	ErrNotStarted         = errors.New("network not started")
	ErrAlreadyStarted     = errors.New("network already started")
	ErrWrongSigner        = errors.New("signer does not belong to the executing chain")
)

// ApplicationDescriptor is what every chain knows about an application.
type ApplicationDescriptor struct {
	ID             engine.ApplicationID `json:"id"`
	Module         string               `json:"module"`
	CreatorChainID engine.ChainID       `json:"creatorChainId"`
	Parameters     json.RawMessage      `json:"parameters,omitempty"`
}

type EnvelopeKind uint8

const (
	// EnvelopeMessage carries an application message.
	EnvelopeMessage EnvelopeKind = iota
	// EnvelopeCredit carries a native credit for an owner on the destination.
	EnvelopeCredit
)

func (k EnvelopeKind) String() string {
	if k == EnvelopeCredit {
		return "credit"
	}
	return "message"
}

// Envelope is a unit of cross-chain delivery.
type Envelope struct {
	Kind        EnvelopeKind         `json:"kind"`
	Source      engine.ChainID       `json:"source"`
	Destination engine.ChainID       `json:"destination"`
	Application engine.ApplicationID `json:"application,omitempty"`
	Payload     json.RawMessage      `json:"payload,omitempty"`
	Signer      *engine.Account      `json:"signer,omitempty"`
	Owner       engine.Owner         `json:"owner,omitempty"`
	Amount      engine.Amount        `json:"amount,omitempty"`
	// Height of the source block that emitted the envelope.
	Height uint64 `json:"height"`
}

// ChainRecord is the persisted state of a chain after a block.
type ChainRecord struct {
	ChainID      engine.ChainID                           `json:"chainId"`
	Height       uint64                                   `json:"height"`
	Hash         common.Hash                              `json:"hash"`
	Timestamp    engine.Timestamp                         `json:"timestamp"`
	Nonce        uint64                                   `json:"nonce"`
	Balances     map[engine.Owner]engine.Amount           `json:"balances"`
	Applications map[engine.ApplicationID]json.RawMessage `json:"applications"`
	// Inbox holds envelopes that had not been executed when the block closed.
	Inbox []Envelope `json:"inbox,omitempty"`
}

// Store persists chains, application descriptors and block summaries.
type Store interface {
	SaveChain(ctx context.Context, record ChainRecord) error
	LoadChain(ctx context.Context, id engine.ChainID) (ChainRecord, bool, error)
	ChainIDs(ctx context.Context) ([]engine.ChainID, error)
	SaveApplication(ctx context.Context, desc ApplicationDescriptor) error
	Applications(ctx context.Context) ([]ApplicationDescriptor, error)
	SaveBlock(ctx context.Context, chain engine.ChainID, block engine.BlockSummary) error
	// Blocks returns up to limit summaries starting at height from, in height order.
	Blocks(ctx context.Context, chain engine.ChainID, from uint64, limit int) ([]engine.BlockSummary, error)
}

type itemKind uint8

const (
	itemOperation itemKind = iota
	itemEnvelope
	itemCreate
	itemQuery
)

func (k itemKind) String() string {
	switch k {
	case itemOperation:
		return "operation"
	case itemEnvelope:
		return "envelope"
	case itemCreate:
		return "create"
	default:
		return "query"
	}
}

type result struct {
	response []byte
	app      engine.ApplicationID
	err      error
}

// item is one unit of work in a chain mailbox.
type item struct {
	kind     itemKind
	app      engine.ApplicationID
	signer   *engine.Account
	payload  []byte
	envelope Envelope

	// create
	module     string
	parameters []byte

	// query runs read-only inside the chain goroutine.
	query func(c *Chain) ([]byte, error)

	reply chan result
}

func (it *item) respond(r result) {
	if it.reply != nil {
		it.reply <- r
	}
}
