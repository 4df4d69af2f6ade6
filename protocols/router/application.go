// Package router keeps the registry of pools on the router's home chain. It
// deploys pools on request and aggregates the trade reports pools send it; it
// has no write authority over pool state.
package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/defistate/microswap/engine"
	"github.com/defistate/microswap/protocols/router/routerabi"
	"github.com/defistate/microswap/protocols/tokenregistry"
)

type Application struct {
	env    engine.ModuleEnv
	state  *State
	logger engine.Logger
}

// New is the router engine.Module. The router takes no parameters.
func New(env engine.ModuleEnv) (engine.Application, error) {
	if env.Logger == nil {
		return nil, errors.New("config: Logger is required")
	}
	return &Application{env: env, state: newState(), logger: env.Logger}, nil
}

func (a *Application) home() engine.ChainID { return a.env.CreatorChainID }

func (a *Application) isHome(rt engine.Runtime) bool { return rt.ChainID() == a.home() }

// account holds native initial liquidity between a create request and the pool's creation.
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
			return fmt.Errorf("decode router argument: %w", err)
		}
	}
	if arg.PoolModule != "" {
		a.state.PoolModule = arg.PoolModule
	}
	a.logger.Info("Router instantiated", "router", a.env.ApplicationID.Short(), "pool_module", a.state.PoolModule)
	return nil
}

func (a *Application) ExecuteOperation(ctx context.Context, rt engine.Runtime, operation []byte) ([]byte, error) {
	var op routerabi.Operation
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
	var msg routerabi.Message
	if err := engine.Unmarshal(message, &msg); err != nil {
		return fmt.Errorf("%w: %v", engine.ErrMismatchedVariant, err)
	}
	_, err := a.dispatcher(rt).Dispatch(ctx, nil, &msg, a.sender(rt))
	return err
}

func (a *Application) dispatcher(rt engine.Runtime) *engine.Dispatcher[routerabi.Operation, routerabi.Message, routerabi.Response] {
	return engine.NewDispatcher[routerabi.Operation, routerabi.Message, routerabi.Response](ModuleName, &handlers{app: a, rt: rt}, a.env.Metrics, a.logger)
}

func (a *Application) sender(rt engine.Runtime) engine.SendFunc[routerabi.Message] {
	return func(ctx context.Context, destination engine.ChainID, msg routerabi.Message) error {
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
		return nil, fmt.Errorf("decode router query: %w", err)
	}
	s := a.state
	var resp QueryResponse
	switch q.Kind {
	case QueryPools:
		resp.Pools = s.pools()
	case QueryPool:
		p, ok := s.Pools[q.PoolID]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownPool, q.PoolID)
		}
		c := p.clone()
		resp.Pool = &c
	case QueryPoolForPair:
		if q.Token0 == nil {
			return nil, errors.New("pair query requires token0")
		}
		p, ok := s.poolForPair(*q.Token0, q.Token1)
		if !ok {
			return nil, fmt.Errorf("%w: %s/%s", ErrUnknownPool, q.Token0.Short(), side(q.Token1).Short())
		}
		c := p.clone()
		resp.Pool = &c
	case QueryPoolsForToken:
		resp.Pools = s.poolsForToken(side(q.Token0))
	case QueryTokens:
		resp.Tokens = s.Tokens.All()
	case QueryChains:
		resp.Chains = s.chainList()
	case QueryQuote:
		quote, err := s.quote(side(q.Token0), side(q.Token1), q.AmountIn, q.MaxHops)
		if err != nil {
			return nil, err
		}
		resp.Quote = quote
	default:
		return nil, fmt.Errorf("unknown router query %q", q.Kind)
	}
	return engine.Marshal(resp)
}

func (a *Application) View() engine.ApplicationState {
	return engine.ApplicationState{
		Meta: engine.ApplicationMeta{
			Name:           "router",
			Module:         ModuleName,
			CreatorChainID: a.home(),
		},
		Schema: Schema,
		Data: View{
			Pools:  a.state.pools(),
			Tokens: a.state.Tokens.All(),
			Chains: a.state.chainList(),
		},
	}
}

func (a *Application) Save() ([]byte, error) { return engine.Marshal(a.state) }

func (a *Application) Load(data []byte) error {
	s := newState()
	if err := engine.Unmarshal(data, s); err != nil {
		return err
	}
	if s.Pools == nil {
		s.Pools = map[uint64]*Pool{}
	}
	if s.Tokens == nil || s.Tokens.Tokens == nil {
		s.Tokens = tokenregistry.NewRegistry()
	}
	s.reindex()
	a.state = s
	return nil
}
