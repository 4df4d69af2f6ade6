package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/defistate/microswap/chains/microchain"
	"github.com/defistate/microswap/cmd/swapnode/config"
	"github.com/defistate/microswap/engine"
	"github.com/defistate/microswap/protocols/pool"
	"github.com/defistate/microswap/protocols/router"
	"github.com/defistate/microswap/protocols/router/routerabi"
	"github.com/defistate/microswap/protocols/token"
)

// registerModules installs every module a node can host.
func registerModules(net *microchain.Network) error {
	modules := map[string]engine.Module{
		token.ModuleName:  token.New,
		pool.ModuleName:   pool.New,
		router.ModuleName: router.New,
	}
	for name, module := range modules {
		if err := net.RegisterModule(name, module); err != nil {
			return err
		}
	}
	return nil
}

// addGenesisChains adds the configured chains. It must run before Start.
func addGenesisChains(net *microchain.Network, g config.Genesis) error {
	for _, ch := range g.Chains {
		balances := make(map[engine.Owner]engine.Amount, len(ch.Balances))
		for owner, raw := range ch.Balances {
			amount, err := engine.ParseAmount(raw)
			if err != nil {
				return err
			}
			balances[engine.NewOwner(owner)] = amount
		}
		if err := net.AddChain(engine.NewChainID(ch.Name), balances); err != nil {
			return fmt.Errorf("add chain %s: %w", ch.Name, err)
		}
	}
	return nil
}

// deployed is what genesis created on a fresh network.
type deployed struct {
	Tokens map[string]engine.ApplicationID
	Router engine.ApplicationID
}

// deployGenesis creates tokens, the router and the pools on a started network.
func deployGenesis(ctx context.Context, net *microchain.Network, g config.Genesis, logger *slog.Logger) (*deployed, error) {
	out := &deployed{Tokens: make(map[string]engine.ApplicationID, len(g.Tokens))}
	for _, tok := range g.Tokens {
		initial := make(map[engine.Account]engine.Amount, len(tok.Balances))
		for _, b := range tok.Balances {
			amount, err := engine.ParseAmount(b.Amount)
			if err != nil {
				return nil, err
			}
			initial[b.Account.Account()] = amount
		}
		params, err := engine.Marshal(token.Parameters{Name: tok.Name, Symbol: tok.Symbol, Decimals: tok.Decimals})
		if err != nil {
			return nil, err
		}
		arg, err := engine.Marshal(token.InstantiationArgument{InitialBalances: initial})
		if err != nil {
			return nil, err
		}
		id, err := net.CreateApplication(ctx, engine.NewChainID(tok.Chain), nil, token.ModuleName, params, arg)
		if err != nil {
			return nil, fmt.Errorf("create token %s: %w", tok.Symbol, err)
		}
		out.Tokens[tok.Symbol] = id
		logger.Info("Token deployed", "symbol", tok.Symbol, "application", id.String())
	}

	if g.Router.Chain == "" {
		return out, net.WaitIdle(ctx)
	}
	routerID, err := net.CreateApplication(ctx, engine.NewChainID(g.Router.Chain), nil, router.ModuleName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create router: %w", err)
	}
	out.Router = routerID
	logger.Info("Router deployed", "application", routerID.String())

	for i, p := range g.Pools {
		op := routerabi.CreatePoolOperation{
			Token0:                  out.Tokens[p.Token0],
			PoolFeeBps:              p.PoolFeeBps,
			ProtocolFeeBps:          p.ProtocolFeeBps,
			VirtualInitialLiquidity: p.VirtualInitialLiquidity,
		}
		if p.Token1 != "" {
			t1 := out.Tokens[p.Token1]
			op.Token1 = &t1
		}
		if p.Amount0 != "" {
			if op.Amount0, err = engine.ParseAmount(p.Amount0); err != nil {
				return nil, err
			}
		}
		if p.Amount1 != "" {
			if op.Amount1, err = engine.ParseAmount(p.Amount1); err != nil {
				return nil, err
			}
		}
		raw, err := engine.Marshal(routerabi.NewCreatePool(op))
		if err != nil {
			return nil, err
		}
		creator := p.Creator.Account()
		if _, err := net.Execute(ctx, creator.ChainID, routerID, creator, raw); err != nil {
			return nil, fmt.Errorf("create pool %d: %w", i, err)
		}
	}
	return out, net.WaitIdle(ctx)
}

// poolTargets lists every pool application for the stuck request monitor.
func poolTargets(net *microchain.Network) func() []pool.Target {
	return func() []pool.Target {
		var out []pool.Target
		for _, desc := range net.Applications() {
			if desc.Module == pool.ModuleName {
				out = append(out, pool.Target{ChainID: desc.CreatorChainID, Application: desc.ID})
			}
		}
		return out
	}
}
