package graph

import (
	"github.com/defistate/microswap/bitset"
	"github.com/defistate/microswap/engine"
)

// Hop is one pool crossed by a route.
type Hop struct {
	Pool     uint64               `json:"pool"`
	TokenIn  engine.ApplicationID `json:"tokenIn"`
	TokenOut engine.ApplicationID `json:"tokenOut"`
}

// Paths enumerates every simple route from one token to another using at most
// maxHops pools. A token is never visited twice on the same route. Routes are
// returned in depth-first order.
func (v *View) Paths(from, to engine.ApplicationID, maxHops int) [][]Hop {
	if maxHops <= 0 || from == to {
		return nil
	}
	src, dst := -1, -1
	for i, token := range v.Tokens {
		switch token {
		case from:
			src = i
		case to:
			dst = i
		}
	}
	if src < 0 || dst < 0 {
		return nil
	}

	visited := bitset.NewBitSet(uint64(len(v.Tokens)))
	var out [][]Hop
	var route []Hop
	var walk func(at int)
	walk = func(at int) {
		if at == dst {
			out = append(out, append([]Hop(nil), route...))
			return
		}
		if len(route) == maxHops {
			return
		}
		visited.Set(uint64(at))
		for _, edge := range v.Adjacency[at] {
			next := v.EdgeTargets[edge]
			if visited.IsSet(uint64(next)) {
				continue
			}
			for _, p := range v.EdgePools[edge] {
				route = append(route, Hop{Pool: v.Pools[p], TokenIn: v.Tokens[at], TokenOut: v.Tokens[next]})
				walk(next)
				route = route[:len(route)-1]
			}
		}
		visited.Unset(uint64(at))
	}
	walk(src)
	return out
}
