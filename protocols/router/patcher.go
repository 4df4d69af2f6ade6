package router

import (
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/defistate/microswap/engine"
	"github.com/defistate/microswap/protocols/tokenregistry"
)

// Patcher applies diff to prev and returns the next view. prev is not modified.
func Patcher(prev View, diff ViewDiff) (View, error) {
	pools := make(map[uint64]Pool, len(prev.Pools)+len(diff.PoolAdditions))
	for _, p := range prev.Pools {
		pools[p.ID] = p.clone()
	}
	for _, id := range diff.PoolDeletions {
		delete(pools, id)
	}
	for _, p := range diff.PoolUpdates {
		pools[p.ID] = p.clone()
	}
	for _, p := range diff.PoolAdditions {
		pools[p.ID] = p.clone()
	}

	next := View{Pools: make([]Pool, 0, len(pools))}
	for _, p := range pools {
		next.Pools = append(next.Pools, p)
	}
	sortPools(next.Pools)

	tokens, err := tokenregistry.Patcher(prev.Tokens, diff.Tokens)
	if err != nil {
		return View{}, err
	}
	next.Tokens = tokens

	chains := mapset.NewThreadUnsafeSet(prev.Chains...)
	chains.Append(diff.ChainAdditions...)
	chains.RemoveAll(diff.ChainDeletions...)
	next.Chains = sortedChains(chains)
	if next.Chains == nil {
		next.Chains = []engine.ChainID{}
	}
	return next, nil
}
