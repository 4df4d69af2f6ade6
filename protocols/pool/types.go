package pool

import (
	"errors"
	"fmt"

	"github.com/defistate/microswap/engine"
	"github.com/defistate/microswap/protocols/router/routerabi"
)

const (
	Schema     engine.ApplicationSchema = "microswap/pool/View@v1"
	ModuleName                          = "pool"

	// MaxTransactions bounds the transaction log; older entries are dropped first.
	MaxTransactions = 5000
	// FirstTransferID and FirstTransactionID are the first ids handed out by a new pool.
	FirstTransferID    uint64 = 1000
	FirstTransactionID uint64 = 1000

	DefaultPoolFeeBps     uint16 = 30
	DefaultProtocolFeeBps uint16 = 5
)

var (
	// ErrNotHomeChain is returned when pool state is touched away from the pool's home chain.
	ErrNotHomeChain = errors.New("pool state is only available on the pool home chain")
	// ErrUnknownTransfer is returned for a fund reply that matches no request.
	ErrUnknownTransfer = errors.New("unknown transfer id")
	// ErrSlippage is returned when a trade would give less than the requested minimum.
	ErrSlippage = errors.New("output below minimum")
	// ErrZeroOutput is returned when a swap input is too small to buy anything.
	ErrZeroOutput = errors.New("swap output rounds to zero")
	// ErrAlreadyInitialized is returned for a second liquidity initialization.
	ErrAlreadyInitialized = errors.New("pool liquidity already initialized")
	// ErrInsufficientShares is returned when burning more liquidity than recorded.
	ErrInsufficientShares = errors.New("insufficient liquidity shares")
)

// Parameters name the pair. A nil token is the chain's native token.
type Parameters struct {
	Token0                  *engine.ApplicationID `json:"token0,omitempty"`
	Token1                  *engine.ApplicationID `json:"token1,omitempty"`
	VirtualInitialLiquidity bool                  `json:"virtualInitialLiquidity"`
}

func (p Parameters) validate() error {
	if p.Token0 == nil && p.Token1 == nil {
		return errors.New("a pool needs at least one non-native token")
	}
	if p.Token0 != nil && p.Token1 != nil && *p.Token0 == *p.Token1 {
		return errors.New("pool tokens must differ")
	}
	return nil
}

// token returns the token of side 0 or 1.
func (p Parameters) token(side int) *engine.ApplicationID {
	if side == 0 {
		return p.Token0
	}
	return p.Token1
}

// InstantiationArgument seeds the pool. With virtual initial liquidity the
// amounts become reserves backed by locked shares; otherwise they are funded by
// the creator through a liquidity initialization.
type InstantiationArgument struct {
	Amount0        engine.Amount         `json:"amount0"`
	Amount1        engine.Amount         `json:"amount1"`
	PoolFeeBps     *uint16               `json:"poolFeeBps,omitempty"`
	ProtocolFeeBps *uint16               `json:"protocolFeeBps,omitempty"`
	Router         *engine.ApplicationID `json:"router,omitempty"`
}

// Pool is the pair state kept on the home chain.
type Pool struct {
	Token0           *engine.ApplicationID `json:"token0,omitempty"`
	Token1           *engine.ApplicationID `json:"token1,omitempty"`
	Reserve0         engine.Amount         `json:"reserve0"`
	Reserve1         engine.Amount         `json:"reserve1"`
	TotalSupply      engine.Amount         `json:"totalSupply"`
	PoolFeeBps       uint16                `json:"poolFeeBps"`
	ProtocolFeeBps   uint16                `json:"protocolFeeBps"`
	FeeTo            engine.Account        `json:"feeTo"`
	FeeToSetter      engine.Account        `json:"feeToSetter"`
	Price0Cumulative engine.Amount         `json:"price0Cumulative"`
	Price1Cumulative engine.Amount         `json:"price1Cumulative"`
	RootKLast        engine.Amount         `json:"rootKLast"`
	BlockTimestamp   engine.Timestamp      `json:"blockTimestamp"`
}

type FundStatus uint8

const (
	FundPending FundStatus = iota
	FundSuccess
	FundFail
)

var fundStatusNames = [...]string{"pending", "success", "fail"}

func (s FundStatus) String() string {
	if int(s) < len(fundStatusNames) {
		return fundStatusNames[s]
	}
	return fmt.Sprintf("FundStatus(%d)", s)
}

func (s FundStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *FundStatus) UnmarshalText(input []byte) error {
	for i, name := range fundStatusNames {
		if name == string(input) {
			*s = FundStatus(i)
			return nil
		}
	}
	return fmt.Errorf("unknown fund status %q", input)
}

type FundType uint8

const (
	FundTypeSwap FundType = iota
	FundTypeAddLiquidity
)

var fundTypeNames = [...]string{"swap", "addLiquidity"}

func (t FundType) String() string {
	if int(t) < len(fundTypeNames) {
		return fundTypeNames[t]
	}
	return fmt.Sprintf("FundType(%d)", t)
}

func (t FundType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *FundType) UnmarshalText(input []byte) error {
	for i, name := range fundTypeNames {
		if name == string(input) {
			*t = FundType(i)
			return nil
		}
	}
	return fmt.Errorf("unknown fund type %q", input)
}

// SwapIntent is what a swap does once its input is funded.
type SwapIntent struct {
	ZeroForOne   bool           `json:"zeroForOne"`
	AmountOutMin *engine.Amount `json:"amountOutMin,omitempty"`
}

// LiquidityIntent is what a deposit does once both sides are funded.
// Side names the pair side funded by the request carrying it.
type LiquidityIntent struct {
	Amount0Desired engine.Amount  `json:"amount0Desired"`
	Amount1Desired engine.Amount  `json:"amount1Desired"`
	Amount0Min     *engine.Amount `json:"amount0Min,omitempty"`
	Amount1Min     *engine.Amount `json:"amount1Min,omitempty"`
	Side           int            `json:"side"`
}

// FundRequest tracks one RequestFund round trip. It is Pending until the token
// chain replies and never changes once terminal.
type FundRequest struct {
	TransferID   uint64               `json:"transferId"`
	Type         FundType             `json:"type"`
	Token        engine.ApplicationID `json:"token"`
	TokenChainID engine.ChainID       `json:"tokenChainId"`
	Amount       engine.Amount        `json:"amount"`
	From         engine.Account       `json:"from"`
	To           engine.Account       `json:"to"`
	Status       FundStatus           `json:"status"`
	Error        string               `json:"error,omitempty"`
	Refunded     bool                 `json:"refunded"`
	Swap         *SwapIntent          `json:"swap,omitempty"`
	Liquidity    *LiquidityIntent     `json:"liquidity,omitempty"`
	PrevRequest  *uint64              `json:"prevRequest,omitempty"`
	NextRequest  *uint64              `json:"nextRequest,omitempty"`
	CreatedAt    engine.Timestamp     `json:"createdAt"`
	ResolvedAt   engine.Timestamp     `json:"resolvedAt,omitempty"`
}

// FundReply is the outcome of a RequestFund as answered by the token's home chain.
type FundReply struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (r *FundRequest) clone() *FundRequest {
	c := *r
	if r.Swap != nil {
		s := *r.Swap
		c.Swap = &s
	}
	if r.Liquidity != nil {
		l := *r.Liquidity
		c.Liquidity = &l
	}
	return &c
}

type OperationKind string

const (
	OperationSwap            OperationKind = "swap"
	OperationAddLiquidity    OperationKind = "addLiquidity"
	OperationRemoveLiquidity OperationKind = "removeLiquidity"
	OperationSetFeeTo        OperationKind = "setFeeTo"
	OperationSetFeeToSetter  OperationKind = "setFeeToSetter"
)

// SwapOperation sells exactly one of Amount0In or Amount1In.
type SwapOperation struct {
	Amount0In     *engine.Amount  `json:"amount0In,omitempty"`
	Amount1In     *engine.Amount  `json:"amount1In,omitempty"`
	Amount0OutMin *engine.Amount  `json:"amount0OutMin,omitempty"`
	Amount1OutMin *engine.Amount  `json:"amount1OutMin,omitempty"`
	To            *engine.Account `json:"to,omitempty"`
}

type AddLiquidityOperation struct {
	Amount0In  engine.Amount   `json:"amount0In"`
	Amount1In  engine.Amount   `json:"amount1In"`
	Amount0Min *engine.Amount  `json:"amount0Min,omitempty"`
	Amount1Min *engine.Amount  `json:"amount1Min,omitempty"`
	To         *engine.Account `json:"to,omitempty"`
}

type RemoveLiquidityOperation struct {
	Liquidity     engine.Amount   `json:"liquidity"`
	Amount0OutMin *engine.Amount  `json:"amount0OutMin,omitempty"`
	Amount1OutMin *engine.Amount  `json:"amount1OutMin,omitempty"`
	To            *engine.Account `json:"to,omitempty"`
}

type SetAccountOperation struct {
	Account engine.Account `json:"account"`
}

type Operation struct {
	Kind            OperationKind             `json:"kind"`
	Swap            *SwapOperation            `json:"swap,omitempty"`
	AddLiquidity    *AddLiquidityOperation    `json:"addLiquidity,omitempty"`
	RemoveLiquidity *RemoveLiquidityOperation `json:"removeLiquidity,omitempty"`
	SetFeeTo        *SetAccountOperation      `json:"setFeeTo,omitempty"`
	SetFeeToSetter  *SetAccountOperation      `json:"setFeeToSetter,omitempty"`
}

func (o Operation) Tag() string { return string(o.Kind) }

func NewSwap(op SwapOperation) Operation { return Operation{Kind: OperationSwap, Swap: &op} }

func NewAddLiquidity(op AddLiquidityOperation) Operation {
	return Operation{Kind: OperationAddLiquidity, AddLiquidity: &op}
}

func NewRemoveLiquidity(op RemoveLiquidityOperation) Operation {
	return Operation{Kind: OperationRemoveLiquidity, RemoveLiquidity: &op}
}

func NewSetFeeTo(account engine.Account) Operation {
	return Operation{Kind: OperationSetFeeTo, SetFeeTo: &SetAccountOperation{Account: account}}
}

func NewSetFeeToSetter(account engine.Account) Operation {
	return Operation{Kind: OperationSetFeeToSetter, SetFeeToSetter: &SetAccountOperation{Account: account}}
}

type MessageKind string

const (
	MessageSwap                    MessageKind = "swap"
	MessageAddLiquidity            MessageKind = "addLiquidity"
	MessageRemoveLiquidity         MessageKind = "removeLiquidity"
	MessageRequestFund             MessageKind = "requestFund"
	MessageFundSuccess             MessageKind = "fundSuccess"
	MessageFundFail                MessageKind = "fundFail"
	MessageTransferFromApplication MessageKind = "transferFromApplication"
	MessageSetFeeTo                MessageKind = "setFeeTo"
	MessageSetFeeToSetter          MessageKind = "setFeeToSetter"
	MessageInitializeLiquidity     MessageKind = "initializeLiquidity"
)

// Origin-carrying messages repeat the operation with the account that signed it.
type SwapMessage struct {
	Origin engine.Account `json:"origin"`
	SwapOperation
}

type AddLiquidityMessage struct {
	Origin engine.Account `json:"origin"`
	AddLiquidityOperation
}

type RemoveLiquidityMessage struct {
	Origin engine.Account `json:"origin"`
	RemoveLiquidityOperation
}

// InitializeLiquidityMessage is queued by a new pool to its own home chain. It
// funds the creation amounts from Creator and mints the creator's shares. The
// native side, if any, is already held by the pool.
type InitializeLiquidityMessage struct {
	Creator engine.Account `json:"creator"`
	Amount0 engine.Amount  `json:"amount0"`
	Amount1 engine.Amount  `json:"amount1"`
}

// RequestFundMessage asks the pool instance on a token's home chain to pull
// Amount from the signer into the pool's ledger account.
type RequestFundMessage struct {
	Token      engine.ApplicationID `json:"token"`
	TransferID uint64               `json:"transferId"`
	Amount     engine.Amount        `json:"amount"`
}

type FundSuccessMessage struct {
	TransferID uint64 `json:"transferId"`
}

type FundFailMessage struct {
	TransferID uint64 `json:"transferId"`
	Error      string `json:"error"`
}

// TransferFromApplicationMessage pays out pool holdings on a token's home chain.
type TransferFromApplicationMessage struct {
	Token  engine.ApplicationID `json:"token"`
	To     engine.Account       `json:"to"`
	Amount engine.Amount        `json:"amount"`
}

type SetAccountMessage struct {
	Operator engine.Account `json:"operator"`
	Account  engine.Account `json:"account"`
}

type Message struct {
	Kind                    MessageKind                     `json:"kind"`
	Swap                    *SwapMessage                    `json:"swap,omitempty"`
	AddLiquidity            *AddLiquidityMessage            `json:"addLiquidity,omitempty"`
	RemoveLiquidity         *RemoveLiquidityMessage         `json:"removeLiquidity,omitempty"`
	RequestFund             *RequestFundMessage             `json:"requestFund,omitempty"`
	FundSuccess             *FundSuccessMessage             `json:"fundSuccess,omitempty"`
	FundFail                *FundFailMessage                `json:"fundFail,omitempty"`
	TransferFromApplication *TransferFromApplicationMessage `json:"transferFromApplication,omitempty"`
	SetFeeTo                *SetAccountMessage              `json:"setFeeTo,omitempty"`
	SetFeeToSetter          *SetAccountMessage              `json:"setFeeToSetter,omitempty"`
	InitializeLiquidity     *InitializeLiquidityMessage     `json:"initializeLiquidity,omitempty"`
}

func (m Message) Tag() string { return string(m.Kind) }

// Response is returned by pool operations. Operations only forward work, so the
// response names where it went.
type Response struct {
	Forwarded   bool           `json:"forwarded"`
	Destination engine.ChainID `json:"destination"`
}

type QueryKind string

const (
	QueryPool         QueryKind = "pool"
	QueryReserves     QueryKind = "reserves"
	QueryTotalShares  QueryKind = "totalShares"
	QueryShares       QueryKind = "shares"
	QueryPrice        QueryKind = "price"
	QueryTransactions QueryKind = "transactions"
	QueryFundRequest  QueryKind = "fundRequest"
	QueryFundRequests QueryKind = "fundRequests"
)

// Query is a read-only request. For fundRequests, OlderThanSeconds is measured
// against Now, which the caller supplies.
type Query struct {
	Kind             QueryKind        `json:"kind"`
	Account          *engine.Account  `json:"account,omitempty"`
	Limit            int              `json:"limit,omitempty"`
	TransferID       uint64           `json:"transferId,omitempty"`
	Status           *FundStatus      `json:"status,omitempty"`
	OlderThanSeconds uint64           `json:"olderThanSeconds,omitempty"`
	Now              engine.Timestamp `json:"now,omitempty"`
}

type Price struct {
	Price0 engine.Amount `json:"price0"`
	Price1 engine.Amount `json:"price1"`
}

type Reserves struct {
	Reserve0       engine.Amount    `json:"reserve0"`
	Reserve1       engine.Amount    `json:"reserve1"`
	BlockTimestamp engine.Timestamp `json:"blockTimestamp"`
}

type QueryResponse struct {
	Pool         *Pool                   `json:"pool,omitempty"`
	Reserves     *Reserves               `json:"reserves,omitempty"`
	TotalShares  *engine.Amount          `json:"totalShares,omitempty"`
	Shares       *engine.Amount          `json:"shares,omitempty"`
	Price        *Price                  `json:"price,omitempty"`
	Transactions []routerabi.Transaction `json:"transactions,omitempty"`
	FundRequest  *FundRequest            `json:"fundRequest,omitempty"`
	FundRequests []FundRequest           `json:"fundRequests,omitempty"`
}

type Share struct {
	Account engine.Account `json:"account"`
	Amount  engine.Amount  `json:"amount"`
}

// View is the streaming snapshot of a pool on its home chain.
type View struct {
	Pool            Pool          `json:"pool"`
	Shares          []Share       `json:"shares"`
	PendingRequests []FundRequest `json:"pendingRequests"`
	// LastTransaction is the newest log entry, if any.
	LastTransaction *routerabi.Transaction `json:"lastTransaction,omitempty"`
}
