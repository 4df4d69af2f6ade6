// Package token implements a fungible token ledger living on its creator chain.
// Other chains reach the ledger by message; applications on the home chain reach it
// by synchronous call.
package token

import (
	"context"
	"errors"
	"fmt"

	"github.com/defistate/microswap/engine"
)

// Application is one instance of the token module on one chain.
type Application struct {
	env    engine.ModuleEnv
	params Parameters
	state  *State
	logger engine.Logger
}

// New is the token engine.Module.
func New(env engine.ModuleEnv) (engine.Application, error) {
	if env.Logger == nil {
		return nil, errors.New("config: Logger is required")
	}
	var params Parameters
	if err := engine.Unmarshal(env.Parameters, &params); err != nil {
		return nil, fmt.Errorf("decode token parameters: %w", err)
	}
	if params.Symbol == "" {
		return nil, errors.New("token symbol is required")
	}
	return &Application{
		env:    env,
		params: params,
		state:  newState(),
		logger: env.Logger,
	}, nil
}

func (a *Application) isHome(rt engine.Runtime) bool {
	return rt.ChainID() == a.env.CreatorChainID
}

func (a *Application) Instantiate(ctx context.Context, rt engine.Runtime, argument []byte) error {
	if !a.isHome(rt) {
		return engine.NewRuntimeError(ErrNotHomeChain)
	}
	var arg InstantiationArgument
	if len(argument) > 0 {
		if err := engine.Unmarshal(argument, &arg); err != nil {
			return fmt.Errorf("decode token argument: %w", err)
		}
	}
	for acc, amt := range arg.InitialBalances {
		if err := a.state.mint(acc, amt); err != nil {
			return err
		}
	}
	a.logger.Info("Token instantiated", "symbol", a.params.Symbol, "supply", a.state.TotalSupply.String())
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
		return nil, fmt.Errorf("decode token query: %w", err)
	}
	var resp QueryResponse
	switch q.Kind {
	case QueryBalance:
		if q.Account == nil {
			return nil, errors.New("balance query requires an account")
		}
		bal := a.state.balance(*q.Account)
		resp.Balance = &bal
	case QueryBalances:
		resp.Balances = a.state.sortedBalances()
	case QueryTotalSupply:
		supply := a.state.TotalSupply
		resp.TotalSupply = &supply
	case QueryToken:
		params := a.params
		resp.Token = &params
	default:
		return nil, fmt.Errorf("unknown token query %q", q.Kind)
	}
	return engine.Marshal(resp)
}

func (a *Application) View() engine.ApplicationState {
	return engine.ApplicationState{
		Meta: engine.ApplicationMeta{
			Name:           engine.ApplicationName(a.params.Symbol),
			Module:         ModuleName,
			CreatorChainID: a.env.CreatorChainID,
		},
		Schema: Schema,
		Data: View{
			Token:       a.params,
			TotalSupply: a.state.TotalSupply,
			Balances:    a.state.sortedBalances(),
		},
	}
}

func (a *Application) Save() ([]byte, error) { return engine.Marshal(a.state) }

func (a *Application) Load(data []byte) error {
	s := newState()
	if err := engine.Unmarshal(data, s); err != nil {
		return err
	}
	if s.Balances == nil {
		s.Balances = map[engine.Account]engine.Amount{}
	}
	a.state = s
	return nil
}
