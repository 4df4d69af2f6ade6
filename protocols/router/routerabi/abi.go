// Package routerabi holds the wire types shared by the router and the pools it
// creates: the router's operations and messages and the trade record pools report.
package routerabi

import (
	"fmt"

	"github.com/defistate/microswap/engine"
)

type TransactionType uint8

const (
	BuyToken0 TransactionType = iota
	SellToken0
	AddLiquidity
	RemoveLiquidity
)

var transactionTypeNames = [...]string{"buyToken0", "sellToken0", "addLiquidity", "removeLiquidity"}

func (t TransactionType) String() string {
	if int(t) < len(transactionTypeNames) {
		return transactionTypeNames[t]
	}
	return fmt.Sprintf("TransactionType(%d)", t)
}

func (t TransactionType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *TransactionType) UnmarshalText(input []byte) error {
	for i, name := range transactionTypeNames {
		if name == string(input) {
			*t = TransactionType(i)
			return nil
		}
	}
	return fmt.Errorf("unknown transaction type %q", input)
}

// Transaction is one trade or liquidity event recorded by a pool.
type Transaction struct {
	ID         uint64           `json:"id"`
	Type       TransactionType  `json:"type"`
	From       engine.Account   `json:"from"`
	Amount0In  engine.Amount    `json:"amount0In"`
	Amount1In  engine.Amount    `json:"amount1In"`
	Amount0Out engine.Amount    `json:"amount0Out"`
	Amount1Out engine.Amount    `json:"amount1Out"`
	Liquidity  engine.Amount    `json:"liquidity"`
	CreatedAt  engine.Timestamp `json:"createdAt"`
}

type OperationKind string

const (
	OperationCreatePool OperationKind = "createPool"
	OperationUpdatePool OperationKind = "updatePool"
)

// CreatePoolOperation asks the router to deploy a pool for a pair. A nil Token1 pairs Token0 with the native token.
type CreatePoolOperation struct {
	Token0                  engine.ApplicationID  `json:"token0"`
	Token1                  *engine.ApplicationID `json:"token1,omitempty"`
	Amount0                 engine.Amount         `json:"amount0"`
	Amount1                 engine.Amount         `json:"amount1"`
	VirtualInitialLiquidity bool                  `json:"virtualInitialLiquidity"`
	PoolFeeBps              *uint16               `json:"poolFeeBps,omitempty"`
	ProtocolFeeBps          *uint16               `json:"protocolFeeBps,omitempty"`
}

// UpdatePoolOperation is how a pool reports a new trade or liquidity event. A nil
// token is the native token.
type UpdatePoolOperation struct {
	Token0      *engine.ApplicationID `json:"token0,omitempty"`
	Token1      *engine.ApplicationID `json:"token1,omitempty"`
	Transaction Transaction           `json:"transaction"`
	Price0      engine.Amount         `json:"price0"`
	Price1      engine.Amount         `json:"price1"`
	Reserve0    engine.Amount         `json:"reserve0"`
	Reserve1    engine.Amount         `json:"reserve1"`
}

type Operation struct {
	Kind       OperationKind        `json:"kind"`
	CreatePool *CreatePoolOperation `json:"createPool,omitempty"`
	UpdatePool *UpdatePoolOperation `json:"updatePool,omitempty"`
}

func (o Operation) Tag() string { return string(o.Kind) }

func NewCreatePool(op CreatePoolOperation) Operation {
	return Operation{Kind: OperationCreatePool, CreatePool: &op}
}

func NewUpdatePool(op UpdatePoolOperation) Operation {
	return Operation{Kind: OperationUpdatePool, UpdatePool: &op}
}

type MessageKind string

const (
	MessageCreatePool MessageKind = "createPool"
	MessageUpdatePool MessageKind = "updatePool"
)

type CreatePoolMessage struct {
	Creator engine.Account      `json:"creator"`
	Pool    CreatePoolOperation `json:"pool"`
}

// UpdatePoolMessage carries a pool report to the router home chain. Pool is the
// reporting application as authenticated by the runtime.
type UpdatePoolMessage struct {
	Pool   engine.ApplicationID `json:"pool"`
	Update UpdatePoolOperation  `json:"update"`
}

type Message struct {
	Kind       MessageKind        `json:"kind"`
	CreatePool *CreatePoolMessage `json:"createPool,omitempty"`
	UpdatePool *UpdatePoolMessage `json:"updatePool,omitempty"`
}

func (m Message) Tag() string { return string(m.Kind) }

// Response is set when the router handled the operation on its home chain;
// otherwise Forwarded names the chain the request was sent to.
type Response struct {
	PoolID          *uint64               `json:"poolId,omitempty"`
	PoolApplication *engine.ApplicationID `json:"poolApplication,omitempty"`
	Forwarded       bool                  `json:"forwarded,omitempty"`
	Destination     engine.ChainID        `json:"destination,omitempty"`
}
