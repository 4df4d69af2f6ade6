package router

import (
	"fmt"

	"github.com/defistate/microswap/engine"
	"github.com/defistate/microswap/protocols/pool/calculator"
)

// quote finds the route with the largest output for amountIn. Reserves are the
// last ones the pools reported, so the result is an estimate.
func (s *State) quote(tokenIn, tokenOut engine.ApplicationID, amountIn engine.Amount, maxHops int) (*Quote, error) {
	if amountIn.IsZero() {
		return nil, fmt.Errorf("%w: zero quote input", engine.ErrInvalidAmount)
	}
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}
	if maxHops > MaxHopsLimit {
		maxHops = MaxHopsLimit
	}

	paths := s.graph.Paths(tokenIn, tokenOut, maxHops)
	var best *Quote
	for _, path := range paths {
		amount := amountIn
		ok := true
		for _, hop := range path {
			p := s.Pools[hop.Pool]
			r := calculator.Reserves{Reserve0: p.Reserve0, Reserve1: p.Reserve1, FeeBps: p.PoolFeeBps}
			out, err := calculator.GetAmountOut(amount, hop.TokenIn == p.Token0, r)
			if err != nil || out.IsZero() {
				ok = false
				break
			}
			amount = out
		}
		if !ok {
			continue
		}
		if best == nil || amount.Gt(best.AmountOut) || (amount.Eq(best.AmountOut) && len(path) < len(best.Route)) {
			best = &Quote{TokenIn: tokenIn, TokenOut: tokenOut, AmountIn: amountIn, AmountOut: amount, Route: path}
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: %s to %s within %d hops", ErrNoRoute, tokenIn.Short(), tokenOut.Short(), maxHops)
	}
	best.Candidates = len(paths)
	return best, nil
}
