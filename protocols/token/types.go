package token

import (
	"errors"

	"github.com/defistate/microswap/engine"
)

const (
	Schema     engine.ApplicationSchema = "microswap/token/View@v1"
	ModuleName                          = "token"

	// ReasonInsufficientBalance is the failure reason reported by ledger moves.
	ReasonInsufficientBalance = "insufficient balance"
)

// ErrNotHomeChain is returned when a ledger move is attempted away from the token's home chain.
var ErrNotHomeChain = errors.New("ledger is only available on the token home chain")

// Parameters describe the token and are fixed at creation.
type Parameters struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

type InstantiationArgument struct {
	InitialBalances map[engine.Account]engine.Amount `json:"initialBalances,omitempty"`
}

type OperationKind string

const (
	OperationTransfer                OperationKind = "transfer"
	OperationTransferToCaller        OperationKind = "transferToCaller"
	OperationTransferFromApplication OperationKind = "transferFromApplication"
	OperationMetadata                OperationKind = "metadata"
)

type TransferOperation struct {
	To     engine.Account `json:"to"`
	Amount engine.Amount  `json:"amount"`
}

// TransferToCallerOperation moves funds from the authenticated account to the calling application.
type TransferToCallerOperation struct {
	Amount engine.Amount `json:"amount"`
}

// TransferFromApplicationOperation moves funds held by the calling application to an account.
type TransferFromApplicationOperation struct {
	To     engine.Account `json:"to"`
	Amount engine.Amount  `json:"amount"`
}

// Operation is a tagged union; exactly the payload named by Kind is set.
type Operation struct {
	Kind                    OperationKind                     `json:"kind"`
	Transfer                *TransferOperation                `json:"transfer,omitempty"`
	TransferToCaller        *TransferToCallerOperation        `json:"transferToCaller,omitempty"`
	TransferFromApplication *TransferFromApplicationOperation `json:"transferFromApplication,omitempty"`
}

func (o Operation) Tag() string { return string(o.Kind) }

func NewTransfer(to engine.Account, amount engine.Amount) Operation {
	return Operation{Kind: OperationTransfer, Transfer: &TransferOperation{To: to, Amount: amount}}
}

func NewTransferToCaller(amount engine.Amount) Operation {
	return Operation{Kind: OperationTransferToCaller, TransferToCaller: &TransferToCallerOperation{Amount: amount}}
}

func NewTransferFromApplication(to engine.Account, amount engine.Amount) Operation {
	return Operation{Kind: OperationTransferFromApplication, TransferFromApplication: &TransferFromApplicationOperation{To: to, Amount: amount}}
}

func NewMetadata() Operation { return Operation{Kind: OperationMetadata} }

type MessageKind string

const MessageTransfer MessageKind = "transfer"

type TransferMessage struct {
	From   engine.Account `json:"from"`
	To     engine.Account `json:"to"`
	Amount engine.Amount  `json:"amount"`
}

type Message struct {
	Kind     MessageKind      `json:"kind"`
	Transfer *TransferMessage `json:"transfer,omitempty"`
}

func (m Message) Tag() string { return string(m.Kind) }

// Response reports the result of a ledger move. Ok is false with a reason when the
// move was refused; refused moves change nothing.
type Response struct {
	Ok    bool        `json:"ok"`
	Error string      `json:"error,omitempty"`
	Token *Parameters `json:"token,omitempty"`
}

func okResponse() Response { return Response{Ok: true} }

func failResponse(reason string) Response { return Response{Error: reason} }

type QueryKind string

const (
	QueryBalance     QueryKind = "balance"
	QueryBalances    QueryKind = "balances"
	QueryTotalSupply QueryKind = "totalSupply"
	QueryToken       QueryKind = "token"
)

type Query struct {
	Kind    QueryKind       `json:"kind"`
	Account *engine.Account `json:"account,omitempty"`
}

type Balance struct {
	Account engine.Account `json:"account"`
	Amount  engine.Amount  `json:"amount"`
}

type QueryResponse struct {
	Balance     *engine.Amount `json:"balance,omitempty"`
	Balances    []Balance      `json:"balances,omitempty"`
	TotalSupply *engine.Amount `json:"totalSupply,omitempty"`
	Token       *Parameters    `json:"token,omitempty"`
}

// View is the streaming snapshot of a token ledger.
type View struct {
	Token       Parameters    `json:"token"`
	TotalSupply engine.Amount `json:"totalSupply"`
	Balances    []Balance     `json:"balances"`
}
