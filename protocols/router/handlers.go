package router

import (
	"context"
	"fmt"

	"github.com/defistate/microswap/engine"
	"github.com/defistate/microswap/protocols/pool"
	"github.com/defistate/microswap/protocols/router/routerabi"
	"github.com/defistate/microswap/protocols/token"
	"github.com/defistate/microswap/protocols/tokenregistry"
)

type outcome = engine.Outcome[routerabi.Message, routerabi.Response]

type handlers struct {
	app *Application
	rt  engine.Runtime
}

func handle(f func(ctx context.Context) (*outcome, error)) engine.Handler[routerabi.Message, routerabi.Response] {
	return engine.HandlerFunc[routerabi.Message, routerabi.Response](f)
}

func (h *handlers) OperationHandler(op routerabi.Operation) (engine.Handler[routerabi.Message, routerabi.Response], error) {
	switch op.Kind {
	case routerabi.OperationCreatePool:
		if op.CreatePool == nil {
			return nil, engine.ErrMismatchedVariant
		}
		return handle(func(ctx context.Context) (*outcome, error) { return h.createPoolOperation(ctx, *op.CreatePool) }), nil
	case routerabi.OperationUpdatePool:
		if op.UpdatePool == nil {
			return nil, engine.ErrMismatchedVariant
		}
		return handle(func(ctx context.Context) (*outcome, error) { return h.updatePoolOperation(*op.UpdatePool) }), nil
	}
	return nil, engine.ErrMismatchedVariant
}

func (h *handlers) MessageHandler(msg routerabi.Message) (engine.Handler[routerabi.Message, routerabi.Response], error) {
	switch msg.Kind {
	case routerabi.MessageCreatePool:
		if msg.CreatePool == nil {
			return nil, engine.ErrMismatchedVariant
		}
		return h.onHome(func(ctx context.Context) (*outcome, error) { return h.createPool(ctx, *msg.CreatePool) }), nil
	case routerabi.MessageUpdatePool:
		if msg.UpdatePool == nil {
			return nil, engine.ErrMismatchedVariant
		}
		return h.onHome(func(ctx context.Context) (*outcome, error) { return nil, h.updatePoolMessage(*msg.UpdatePool) }), nil
	}
	return nil, engine.ErrMismatchedVariant
}

func (h *handlers) onHome(f func(ctx context.Context) (*outcome, error)) engine.Handler[routerabi.Message, routerabi.Response] {
	return handle(func(ctx context.Context) (*outcome, error) {
		if !h.app.isHome(h.rt) {
			return nil, engine.NewRuntimeError(ErrNotHomeChain)
		}
		return f(ctx)
	})
}

func (h *handlers) forward(msg routerabi.Message) *outcome {
	home := h.app.home()
	return engine.NewOutcome[routerabi.Message, routerabi.Response]().
		WithMessage(home, msg).
		WithResponse(routerabi.Response{Forwarded: true, Destination: home})
}

func validateCreatePool(op routerabi.CreatePoolOperation) error {
	if op.Token0.IsZero() {
		return fmt.Errorf("%w: token0 is required", engine.ErrInvalidAmount)
	}
	if op.Token1 != nil && *op.Token1 == op.Token0 {
		return fmt.Errorf("%w: identical tokens", engine.ErrNotAllowed)
	}
	hasAmounts := !op.Amount0.IsZero() || !op.Amount1.IsZero()
	if (hasAmounts || op.VirtualInitialLiquidity) && (op.Amount0.IsZero() || op.Amount1.IsZero()) {
		return fmt.Errorf("%w: initial liquidity needs both amounts", engine.ErrInvalidAmount)
	}
	if op.PoolFeeBps != nil && *op.PoolFeeBps >= 10000 {
		return fmt.Errorf("%w: pool fee %d bps", engine.ErrInvalidAmount, *op.PoolFeeBps)
	}
	return nil
}

// nativeDeposit is the native amount a creator funds for a pool's initial
// liquidity. Virtual liquidity is never funded.
func nativeDeposit(op routerabi.CreatePoolOperation) engine.Amount {
	if op.VirtualInitialLiquidity || op.Token1 != nil {
		return engine.Amount{}
	}
	return op.Amount1
}

func (h *handlers) createPoolOperation(ctx context.Context, op routerabi.CreatePoolOperation) (*outcome, error) {
	creator, ok := h.rt.AuthenticatedAccount()
	if !ok {
		return nil, engine.NewRuntimeError(engine.ErrMissingAuthenticatedAccount)
	}
	if err := validateCreatePool(op); err != nil {
		return nil, err
	}
	// The native side travels with the request and is held by the router until
	// the pool exists.
	if amount := nativeDeposit(op); !amount.IsZero() {
		if err := h.rt.TransferNative(ctx, creator.Owner, h.app.account(), amount); err != nil {
			return nil, fmt.Errorf("fund initial liquidity: %w", err)
		}
	}
	return h.forward(routerabi.Message{
		Kind:       routerabi.MessageCreatePool,
		CreatePool: &routerabi.CreatePoolMessage{Creator: creator, Pool: op},
	}), nil
}

// createPool deploys the pool application on the router home chain. A refused
// creation returns any native deposit to the creator.
func (h *handlers) createPool(ctx context.Context, m routerabi.CreatePoolMessage) (*outcome, error) {
	if signer, ok := h.rt.AuthenticatedAccount(); !ok || signer != m.Creator {
		return nil, engine.NewRuntimeError(engine.ErrPermissionDenied)
	}
	out, err := h.deployPool(ctx, m)
	deposit := nativeDeposit(m.Pool)
	if err == nil || deposit.IsZero() {
		return out, err
	}
	h.app.logger.Warn("Pool creation refunded", "creator", m.Creator.String(), "amount", deposit.String(), "err", err)
	if err := h.rt.TransferNative(ctx, engine.ApplicationOwner(h.app.env.ApplicationID), m.Creator, deposit); err != nil {
		return nil, engine.NewRuntimeError(fmt.Errorf("refund initial liquidity: %w", err))
	}
	return nil, nil
}

func (h *handlers) deployPool(ctx context.Context, m routerabi.CreatePoolMessage) (*outcome, error) {
	op := m.Pool
	if err := validateCreatePool(op); err != nil {
		return nil, err
	}
	s := h.app.state
	if existing, ok := s.poolForPair(op.Token0, op.Token1); ok {
		return nil, fmt.Errorf("%w: pool %d", ErrPoolExists, existing.ID)
	}

	var tokens [2]tokenregistry.Token
	for i, id := range []*engine.ApplicationID{&op.Token0, op.Token1} {
		t, err := h.metadata(ctx, id)
		if err != nil {
			return nil, err
		}
		tokens[i] = t
	}

	params, err := engine.Marshal(pool.Parameters{
		Token0:                  &op.Token0,
		Token1:                  op.Token1,
		VirtualInitialLiquidity: op.VirtualInitialLiquidity,
	})
	if err != nil {
		return nil, err
	}
	router := h.app.env.ApplicationID
	arg, err := engine.Marshal(pool.InstantiationArgument{
		Amount0:        op.Amount0,
		Amount1:        op.Amount1,
		PoolFeeBps:     op.PoolFeeBps,
		ProtocolFeeBps: op.ProtocolFeeBps,
		Router:         &router,
	})
	if err != nil {
		return nil, err
	}
	app, err := h.rt.CreateApplication(ctx, s.PoolModule, params, arg)
	if err != nil {
		return nil, engine.NewRuntimeError(fmt.Errorf("create pool application: %w", err))
	}

	if deposit := nativeDeposit(op); !deposit.IsZero() {
		to := engine.Account{ChainID: h.rt.ChainID(), Owner: engine.ApplicationOwner(app)}
		if err := h.rt.TransferNative(ctx, engine.ApplicationOwner(h.app.env.ApplicationID), to, deposit); err != nil {
			return nil, engine.NewRuntimeError(fmt.Errorf("move initial liquidity to pool: %w", err))
		}
	}

	fee := pool.DefaultPoolFeeBps
	if op.PoolFeeBps != nil {
		fee = *op.PoolFeeBps
	}
	now := h.rt.SystemTime()
	record := Pool{
		Application:             app,
		ChainID:                 h.rt.ChainID(),
		Creator:                 m.Creator,
		Token0:                  op.Token0,
		Token1:                  op.Token1,
		PoolFeeBps:              fee,
		VirtualInitialLiquidity: op.VirtualInitialLiquidity,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if op.VirtualInitialLiquidity {
		// Funded reserves are reported by the pool once they arrive.
		record.Reserve0, record.Reserve1 = op.Amount0, op.Amount1
	}
	p, err := s.addPool(record, tokens)
	if err != nil {
		return nil, err
	}
	h.app.logger.Info("Pool created",
		"pool_id", p.ID,
		"pool", app.Short(),
		"token0", tokens[0].Symbol,
		"token1", tokens[1].Symbol,
		"creator", m.Creator.String(),
	)
	id := p.ID
	return engine.NewOutcome[routerabi.Message, routerabi.Response]().
		WithResponse(routerabi.Response{PoolID: &id, PoolApplication: &app}), nil
}

// metadata asks a token application for its description. A nil id is the native token.
func (h *handlers) metadata(ctx context.Context, id *engine.ApplicationID) (tokenregistry.Token, error) {
	if id == nil {
		return tokenregistry.NativeToken(), nil
	}
	chain, err := h.rt.CreatorChainID(*id)
	if err != nil {
		return tokenregistry.Token{}, engine.NewRuntimeError(err)
	}
	payload, err := engine.Marshal(token.NewMetadata())
	if err != nil {
		return tokenregistry.Token{}, err
	}
	raw, err := h.rt.CallApplication(ctx, *id, payload)
	if err != nil {
		return tokenregistry.Token{}, engine.NewRuntimeError(fmt.Errorf("token %s metadata: %w", id.Short(), err))
	}
	var resp token.Response
	if err := engine.Unmarshal(raw, &resp); err != nil || resp.Token == nil {
		return tokenregistry.Token{}, fmt.Errorf("%w: token %s metadata", engine.ErrInvalidApplicationResponse, id.Short())
	}
	return tokenregistry.Token{
		ID:       *id,
		ChainID:  chain,
		Name:     resp.Token.Name,
		Symbol:   resp.Token.Symbol,
		Decimals: resp.Token.Decimals,
	}, nil
}

// updatePoolOperation is called by a pool application. The caller id identifies the pool.
func (h *handlers) updatePoolOperation(op routerabi.UpdatePoolOperation) (*outcome, error) {
	caller, ok := h.rt.AuthenticatedCaller()
	if !ok {
		return nil, engine.NewRuntimeError(engine.ErrMissingAuthenticatedCaller)
	}
	if !h.app.isHome(h.rt) {
		return h.forward(routerabi.Message{
			Kind:       routerabi.MessageUpdatePool,
			UpdatePool: &routerabi.UpdatePoolMessage{Pool: caller, Update: op},
		}), nil
	}
	_, err := h.app.state.applyUpdate(caller, op, h.rt.SystemTime())
	return nil, err
}

// updatePoolMessage accepts a forwarded report only from the chain the pool lives on.
func (h *handlers) updatePoolMessage(m routerabi.UpdatePoolMessage) error {
	p, ok := h.app.state.poolByApplication(m.Pool)
	if !ok {
		return fmt.Errorf("%w: application %s", ErrUnknownPool, m.Pool.Short())
	}
	if origin, ok := h.rt.MessageOriginChainID(); !ok || origin != p.ChainID {
		return engine.NewRuntimeError(engine.ErrInvalidMessageOrigin)
	}
	_, err := h.app.state.applyUpdate(m.Pool, m.Update, h.rt.SystemTime())
	return err
}
