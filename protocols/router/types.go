package router

import (
	"errors"

	"github.com/defistate/microswap/engine"
	"github.com/defistate/microswap/protocols/router/graph"
	"github.com/defistate/microswap/protocols/router/routerabi"
	"github.com/defistate/microswap/protocols/tokenregistry"
)

const (
	Schema     engine.ApplicationSchema = "microswap/router/View@v1"
	ModuleName                          = "router"

	FirstPoolID       uint64 = 1000
	DefaultPoolModule        = "pool"
	DefaultMaxHops           = 3
	// MaxHopsLimit bounds quote searches regardless of the request.
	MaxHopsLimit = 4
)

var (
	ErrNotHomeChain = errors.New("router registry is only available on the router home chain")
	ErrPoolExists   = errors.New("pool exists")
	ErrUnknownPool  = errors.New("unknown pool")
	ErrNoRoute      = errors.New("no route")
)

type InstantiationArgument struct {
	// PoolModule is the module deployed for new pools.
	PoolModule string `json:"poolModule,omitempty"`
}

// Pool is the router's record of a pool it created, refreshed by the pool's reports.
// Reserves and prices are as last reported, not authoritative.
type Pool struct {
	ID                      uint64                 `json:"id"`
	Application             engine.ApplicationID   `json:"application"`
	ChainID                 engine.ChainID         `json:"chainId"`
	Creator                 engine.Account         `json:"creator"`
	Token0                  engine.ApplicationID   `json:"token0"`
	Token1                  *engine.ApplicationID  `json:"token1,omitempty"`
	PoolFeeBps              uint16                 `json:"poolFeeBps"`
	VirtualInitialLiquidity bool                   `json:"virtualInitialLiquidity"`
	Reserve0                engine.Amount          `json:"reserve0"`
	Reserve1                engine.Amount          `json:"reserve1"`
	Price0                  engine.Amount          `json:"price0"`
	Price1                  engine.Amount          `json:"price1"`
	LatestTransaction       *routerabi.Transaction `json:"latestTransaction,omitempty"`
	CreatedAt               engine.Timestamp       `json:"createdAt"`
	UpdatedAt               engine.Timestamp       `json:"updatedAt"`
}

// Tokens returns both sides with the native side as tokenregistry.NativeID.
func (p Pool) Tokens() []engine.ApplicationID {
	return []engine.ApplicationID{p.Token0, side(p.Token1)}
}

func side(t *engine.ApplicationID) engine.ApplicationID {
	if t == nil {
		return tokenregistry.NativeID
	}
	return *t
}

type QueryKind string

const (
	QueryPools         QueryKind = "pools"
	QueryPool          QueryKind = "pool"
	QueryPoolForPair   QueryKind = "poolForPair"
	QueryPoolsForToken QueryKind = "poolsForToken"
	QueryTokens        QueryKind = "tokens"
	QueryChains        QueryKind = "chains"
	QueryQuote         QueryKind = "quote"
)

// Query selects one read. A nil token means the native token.
type Query struct {
	Kind     QueryKind             `json:"kind"`
	PoolID   uint64                `json:"poolId,omitempty"`
	Token0   *engine.ApplicationID `json:"token0,omitempty"`
	Token1   *engine.ApplicationID `json:"token1,omitempty"`
	AmountIn engine.Amount         `json:"amountIn,omitempty"`
	MaxHops  int                   `json:"maxHops,omitempty"`
}

// Quote is the best route found for a trade against reported reserves.
type Quote struct {
	TokenIn   engine.ApplicationID `json:"tokenIn"`
	TokenOut  engine.ApplicationID `json:"tokenOut"`
	AmountIn  engine.Amount        `json:"amountIn"`
	AmountOut engine.Amount        `json:"amountOut"`
	Route     []graph.Hop          `json:"route"`
	// Candidates counts the routes that were evaluated.
	Candidates int `json:"candidates"`
}

type QueryResponse struct {
	Pools  []Pool                `json:"pools,omitempty"`
	Pool   *Pool                 `json:"pool,omitempty"`
	Tokens []tokenregistry.Token `json:"tokens,omitempty"`
	Chains []engine.ChainID      `json:"chains,omitempty"`
	Quote  *Quote                `json:"quote,omitempty"`
}

// View is the streaming snapshot of the router on its home chain.
type View struct {
	Pools  []Pool                `json:"pools"`
	Tokens []tokenregistry.Token `json:"tokens"`
	Chains []engine.ChainID      `json:"chains"`
}
