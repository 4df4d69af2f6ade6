package router

import (
	"testing"

	"github.com/defistate/microswap/engine"
	"github.com/defistate/microswap/protocols/tokenregistry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDifferAndPatcher(t *testing.T) {
	chainA := engine.NewChainID("chain-a")
	chainB := engine.NewChainID("chain-b")
	meme := engine.NewApplicationID(chainA, "token", 1)
	wif := engine.NewApplicationID(chainA, "token", 2)

	poolAt := func(id uint64, reserve uint64, token1 *engine.ApplicationID, updated engine.Timestamp) Pool {
		return Pool{
			ID:          id,
			Application: engine.NewApplicationID(chainB, "pool", id),
			ChainID:     chainB,
			Token0:      meme,
			Token1:      token1,
			Reserve0:    engine.AmountFromTokens(reserve),
			Reserve1:    engine.AmountFromTokens(reserve),
			UpdatedAt:   updated,
		}
	}
	oldView := View{
		Pools: []Pool{poolAt(1000, 10, nil, 1), poolAt(1001, 20, &wif, 1)},
		Tokens: []tokenregistry.Token{
			tokenregistry.NativeToken(),
			{ID: meme, ChainID: chainA, Symbol: "MEME", Pools: 2},
			{ID: wif, ChainID: chainA, Symbol: "WIF", Pools: 1},
		},
		Chains: []engine.ChainID{chainA},
	}
	newView := View{
		Pools: []Pool{poolAt(1000, 12, nil, 2), poolAt(1002, 5, &wif, 2)},
		Tokens: []tokenregistry.Token{
			tokenregistry.NativeToken(),
			{ID: meme, ChainID: chainA, Symbol: "MEME", Pools: 2},
			{ID: wif, ChainID: chainA, Symbol: "WIF", Pools: 1},
		},
		Chains: []engine.ChainID{chainA, chainB},
	}

	t.Run("should classify pool changes", func(t *testing.T) {
		diff := Differ(oldView, newView)
		require.Len(t, diff.PoolAdditions, 1)
		assert.Equal(t, uint64(1002), diff.PoolAdditions[0].ID)
		require.Len(t, diff.PoolUpdates, 1)
		assert.Equal(t, uint64(1000), diff.PoolUpdates[0].ID)
		assert.Equal(t, []uint64{1001}, diff.PoolDeletions)
		assert.Equal(t, []engine.ChainID{chainB}, diff.ChainAdditions)
		assert.Empty(t, diff.ChainDeletions)
		assert.True(t, diff.Tokens.IsEmpty())
	})

	t.Run("should produce an empty diff when there are no changes", func(t *testing.T) {
		assert.True(t, Differ(oldView, oldView).IsEmpty())
	})

	t.Run("an unchanged report is not an update", func(t *testing.T) {
		same := View{Pools: []Pool{poolAt(1000, 10, nil, 1)}}
		assert.True(t, Differ(same, same).IsEmpty())
	})

	t.Run("patching the diff reproduces the new view", func(t *testing.T) {
		patched, err := Patcher(oldView, Differ(oldView, newView))
		require.NoError(t, err)
		assert.Equal(t, newView.Pools, patched.Pools)
		assert.ElementsMatch(t, newView.Tokens, patched.Tokens)
		assert.ElementsMatch(t, newView.Chains, patched.Chains)
		assert.Len(t, oldView.Pools, 2, "prev must not be mutated")
		assert.Equal(t, uint64(1001), oldView.Pools[1].ID)
	})

	t.Run("a router diffed from nothing rebuilds completely", func(t *testing.T) {
		patched, err := Patcher(View{}, Differ(View{}, newView))
		require.NoError(t, err)
		assert.Equal(t, newView.Pools, patched.Pools)
		assert.ElementsMatch(t, newView.Tokens, patched.Tokens)
		assert.ElementsMatch(t, newView.Chains, patched.Chains)
	})

	t.Run("deleting every chain leaves an empty list", func(t *testing.T) {
		patched, err := Patcher(oldView, Differ(oldView, View{}))
		require.NoError(t, err)
		assert.Empty(t, patched.Pools)
		assert.NotNil(t, patched.Chains)
		assert.Empty(t, patched.Chains)
	})
}
