// Package pool implements a constant-product AMM pair whose state lives on the
// pool's home chain. Token inputs are pulled from the token ledgers through the
// RequestFund saga; outputs are paid out by message to each token's home chain.
package pool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/defistate/microswap/engine"
)

// Application is one instance of a pool on one chain. Only the home chain
// instance holds pool state; other instances forward and fund.
type Application struct {
	env    engine.ModuleEnv
	params Parameters
	state  *State
	logger engine.Logger
}

// New is the pool engine.Module.
func New(env engine.ModuleEnv) (engine.Application, error) {
	if env.Logger == nil {
		return nil, errors.New("config: Logger is required")
	}
	var params Parameters
	if err := engine.Unmarshal(env.Parameters, &params); err != nil {
		return nil, fmt.Errorf("decode pool parameters: %w", err)
	}
	if err := params.validate(); err != nil {
		return nil, err
	}
	return &Application{
		env:    env,
		params: params,
		state:  newState(),
		logger: env.Logger,
	}, nil
}

func (a *Application) home() engine.ChainID { return a.env.CreatorChainID }

func (a *Application) isHome(rt engine.Runtime) bool { return rt.ChainID() == a.home() }

// account is the pool's own account on its home chain, where native inputs land.
func (a *Application) account() engine.Account {
	return engine.Account{ChainID: a.home(), Owner: engine.ApplicationOwner(a.env.ApplicationID)}
}

func (a *Application) Instantiate(ctx context.Context, rt engine.Runtime, argument []byte) error {
	if !a.isHome(rt) {
		return engine.NewRuntimeError(ErrNotHomeChain)
	}
	var arg InstantiationArgument
	if len(argument) > 0 {
		if err := engine.Unmarshal(argument, &arg); err != nil {
			return fmt.Errorf("decode pool argument: %w", err)
		}
	}

	p := &a.state.Pool
	p.Token0, p.Token1 = a.params.Token0, a.params.Token1
	p.PoolFeeBps = DefaultPoolFeeBps
	if arg.PoolFeeBps != nil {
		p.PoolFeeBps = *arg.PoolFeeBps
	}
	if p.PoolFeeBps >= 10000 {
		return fmt.Errorf("%w: pool fee %d bps", engine.ErrInvalidAmount, p.PoolFeeBps)
	}
	p.ProtocolFeeBps = DefaultProtocolFeeBps
	if arg.ProtocolFeeBps != nil {
		p.ProtocolFeeBps = *arg.ProtocolFeeBps
	}
	creator, signed := rt.AuthenticatedAccount()
	if signed {
		p.FeeTo = creator
		p.FeeToSetter = creator
	}
	a.state.Router = arg.Router

	hasAmounts := !arg.Amount0.IsZero() || !arg.Amount1.IsZero()
	if (hasAmounts || a.params.VirtualInitialLiquidity) && (arg.Amount0.IsZero() || arg.Amount1.IsZero()) {
		return fmt.Errorf("%w: initial liquidity needs both amounts", engine.ErrInvalidAmount)
	}
	switch {
	case a.params.VirtualInitialLiquidity:
		// Virtual reserves are backed by shares nobody can sign for.
		if _, err := a.state.bootstrap(arg.Amount0, arg.Amount1, a.account(), rt.SystemTime()); err != nil {
			return err
		}
	case hasAmounts:
		if !signed {
			return engine.NewRuntimeError(engine.ErrMissingAuthenticatedAccount)
		}
		if err := a.sender(rt)(ctx, a.home(), Message{
			Kind: MessageInitializeLiquidity,
			InitializeLiquidity: &InitializeLiquidityMessage{
				Creator: creator,
				Amount0: arg.Amount0,
				Amount1: arg.Amount1,
			},
		}); err != nil {
			return fmt.Errorf("queue liquidity initialization: %w", err)
		}
	}
	a.logger.Info("Pool instantiated",
		"pool", a.env.ApplicationID.Short(),
		"reserve0", p.Reserve0.String(),
		"reserve1", p.Reserve1.String(),
		"fee_bps", p.PoolFeeBps,
	)
	return nil
}

func (a *Application) ExecuteOperation(ctx context.Context, rt engine.Runtime, operation []byte) ([]byte, error) {
	var op Operation
	if err := engine.Unmarshal(operation, &op); err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrMismatchedVariant, err)
	}
	resp, err := a.dispatcher(rt).Dispatch(ctx, &op, nil, a.sender(rt))
	if err != nil {
		return nil, err
	}
	return engine.Marshal(resp)
}

func (a *Application) ExecuteMessage(ctx context.Context, rt engine.Runtime, message []byte) error {
	var msg Message
	if err := engine.Unmarshal(message, &msg); err != nil {
		return fmt.Errorf("%w: %v", engine.ErrMismatchedVariant, err)
	}
	_, err := a.dispatcher(rt).Dispatch(ctx, nil, &msg, a.sender(rt))
	return err
}

func (a *Application) dispatcher(rt engine.Runtime) *engine.Dispatcher[Operation, Message, Response] {
	return engine.NewDispatcher[Operation, Message, Response](ModuleName, &handlers{app: a, rt: rt}, a.env.Metrics, a.logger)
}

func (a *Application) sender(rt engine.Runtime) engine.SendFunc[Message] {
	return func(ctx context.Context, destination engine.ChainID, msg Message) error {
		payload, err := engine.Marshal(msg)
		if err != nil {
			return err
		}
		return rt.SendMessage(ctx, destination, payload)
	}
}

func (a *Application) HandleQuery(ctx context.Context, query []byte) ([]byte, error) {
	var q Query
	if err := engine.Unmarshal(query, &q); err != nil {
		return nil, fmt.Errorf("decode pool query: %w", err)
	}
	s := a.state
	var resp QueryResponse
	switch q.Kind {
	case QueryPool:
		p := s.Pool
		resp.Pool = &p
	case QueryReserves:
		resp.Reserves = &Reserves{Reserve0: s.Pool.Reserve0, Reserve1: s.Pool.Reserve1, BlockTimestamp: s.Pool.BlockTimestamp}
	case QueryTotalShares:
		total := s.Pool.TotalSupply
		resp.TotalShares = &total
	case QueryShares:
		if q.Account == nil {
			return nil, errors.New("shares query requires an account")
		}
		shares := s.Shares[*q.Account]
		resp.Shares = &shares
	case QueryPrice:
		price0, price1, err := s.price()
		if err != nil {
			return nil, err
		}
		resp.Price = &Price{Price0: price0, Price1: price1}
	case QueryTransactions:
		resp.Transactions = s.transactions(q.Limit)
	case QueryFundRequest:
		req, ok := s.FundRequests[q.TransferID]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownTransfer, q.TransferID)
		}
		resp.FundRequest = req.clone()
	case QueryFundRequests:
		resp.FundRequests = s.fundRequests(q.Status, time.Duration(q.OlderThanSeconds)*time.Second, q.Now)
	default:
		return nil, fmt.Errorf("unknown pool query %q", q.Kind)
	}
	return engine.Marshal(resp)
}

func (a *Application) View() engine.ApplicationState {
	pending := FundPending
	view := View{
		Pool:            a.state.Pool,
		Shares:          a.state.sortedShares(),
		PendingRequests: a.state.fundRequests(&pending, 0, 0),
	}
	if n := len(a.state.Transactions); n > 0 {
		last := a.state.Transactions[n-1]
		view.LastTransaction = &last
	}
	return engine.ApplicationState{
		Meta: engine.ApplicationMeta{
			Name:           engine.ApplicationName(a.name()),
			Module:         ModuleName,
			CreatorChainID: a.home(),
		},
		Schema: Schema,
		Data:   view,
	}
}

func (a *Application) name() string {
	side := func(t *engine.ApplicationID) string {
		if t == nil {
			return "native"
		}
		return t.Short()
	}
	return fmt.Sprintf("pool/%s/%s", side(a.params.Token0), side(a.params.Token1))
}

func (a *Application) Save() ([]byte, error) { return engine.Marshal(a.state) }

func (a *Application) Load(data []byte) error {
	s := newState()
	if err := engine.Unmarshal(data, s); err != nil {
		return err
	}
	if s.Shares == nil {
		s.Shares = map[engine.Account]engine.Amount{}
	}
	if s.FundRequests == nil {
		s.FundRequests = map[uint64]*FundRequest{}
	}
	if s.FundReplies == nil {
		s.FundReplies = map[engine.ChainID]map[uint64]FundReply{}
	}
	a.state = s
	return nil
}
