package router

import (
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/defistate/microswap/engine"
	"github.com/defistate/microswap/protocols/tokenregistry"
)

// ViewDiff carries the changes between two router views.
type ViewDiff struct {
	PoolAdditions  []Pool                        `json:"poolAdditions,omitempty"`
	PoolUpdates    []Pool                        `json:"poolUpdates,omitempty"`
	PoolDeletions  []uint64                      `json:"poolDeletions,omitempty"`
	Tokens         tokenregistry.TokenSystemDiff `json:"tokens"`
	ChainAdditions []engine.ChainID              `json:"chainAdditions,omitempty"`
	ChainDeletions []engine.ChainID              `json:"chainDeletions,omitempty"`
}

func (d ViewDiff) IsEmpty() bool {
	return len(d.PoolAdditions) == 0 && len(d.PoolUpdates) == 0 && len(d.PoolDeletions) == 0 &&
		d.Tokens.IsEmpty() && len(d.ChainAdditions) == 0 && len(d.ChainDeletions) == 0
}

// poolChanged compares the fields a pool report can move.
func poolChanged(old, new Pool) bool {
	return old.UpdatedAt != new.UpdatedAt ||
		!old.Reserve0.Eq(new.Reserve0) || !old.Reserve1.Eq(new.Reserve1) ||
		!old.Price0.Eq(new.Price0) || !old.Price1.Eq(new.Price1)
}

// Differ calculates the difference between two router views. Pools are keyed by id.
func Differ(old, new View) ViewDiff {
	oldPools := make(map[uint64]Pool, len(old.Pools))
	for _, p := range old.Pools {
		oldPools[p.ID] = p
	}
	newPools := make(map[uint64]Pool, len(new.Pools))
	for _, p := range new.Pools {
		newPools[p.ID] = p
	}

	var diff ViewDiff
	for id, p := range newPools {
		prev, exists := oldPools[id]
		switch {
		case !exists:
			diff.PoolAdditions = append(diff.PoolAdditions, p.clone())
		case poolChanged(prev, p):
			diff.PoolUpdates = append(diff.PoolUpdates, p.clone())
		}
	}
	for id := range oldPools {
		if _, exists := newPools[id]; !exists {
			diff.PoolDeletions = append(diff.PoolDeletions, id)
		}
	}
	sortPools(diff.PoolAdditions)
	sortPools(diff.PoolUpdates)
	sort.Slice(diff.PoolDeletions, func(i, j int) bool { return diff.PoolDeletions[i] < diff.PoolDeletions[j] })

	diff.Tokens = tokenregistry.Differ(old.Tokens, new.Tokens)

	oldChains := mapset.NewThreadUnsafeSet(old.Chains...)
	newChains := mapset.NewThreadUnsafeSet(new.Chains...)
	diff.ChainAdditions = sortedChains(newChains.Difference(oldChains))
	diff.ChainDeletions = sortedChains(oldChains.Difference(newChains))
	return diff
}

func sortPools(pools []Pool) {
	sort.Slice(pools, func(i, j int) bool { return pools[i].ID < pools[j].ID })
}

func sortedChains(set mapset.Set[engine.ChainID]) []engine.ChainID {
	if set.Cardinality() == 0 {
		return nil
	}
	out := set.ToSlice()
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
