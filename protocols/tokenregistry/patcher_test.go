package tokenregistry

import (
	"testing"

	"github.com/defistate/microswap/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testHome = engine.NewChainID("tokens")

func testID(n uint64) engine.ApplicationID {
	return engine.NewApplicationID(testHome, "token", n)
}

func newTestToken(n uint64, symbol string, pools uint64) Token {
	return Token{ID: testID(n), ChainID: testHome, Symbol: symbol, Decimals: 18, Pools: pools}
}

func findToken(tokens []Token, id engine.ApplicationID) *Token {
	for i := range tokens {
		if tokens[i].ID == id {
			return &tokens[i]
		}
	}
	return nil
}

func TestPatcher(t *testing.T) {
	meme := newTestToken(1, "MEME", 1)
	wlin := newTestToken(2, "WLIN", 2)
	dog := newTestToken(3, "DOG", 1)
	initialState := []Token{meme, wlin, dog}

	t.Run("should handle only additions", func(t *testing.T) {
		cat := newTestToken(4, "CAT", 1)
		newState, err := Patcher(initialState, TokenSystemDiff{Additions: []Token{cat}})
		require.NoError(t, err)

		assert.Len(t, newState, 4)
		added := findToken(newState, cat.ID)
		require.NotNil(t, added)
		assert.Equal(t, "CAT", added.Symbol)
	})

	t.Run("should handle only deletions", func(t *testing.T) {
		newState, err := Patcher(initialState, TokenSystemDiff{Deletions: []engine.ApplicationID{wlin.ID}})
		require.NoError(t, err)

		assert.Len(t, newState, 2)
		assert.Nil(t, findToken(newState, wlin.ID))
	})

	t.Run("should handle a mix of operations", func(t *testing.T) {
		cat := newTestToken(4, "CAT", 1)
		wlinUpdated := newTestToken(2, "WLIN", 3)
		diff := TokenSystemDiff{
			Additions: []Token{cat},
			Updates:   []Token{wlinUpdated},
			Deletions: []engine.ApplicationID{dog.ID},
		}

		newState, err := Patcher(initialState, diff)
		require.NoError(t, err)

		assert.Len(t, newState, 3)
		assert.NotNil(t, findToken(newState, cat.ID))
		updated := findToken(newState, wlin.ID)
		require.NotNil(t, updated)
		assert.Equal(t, uint64(3), updated.Pools)
		assert.Nil(t, findToken(newState, dog.ID))
		assert.NotNil(t, findToken(newState, meme.ID))
	})

	t.Run("should not modify the previous state", func(t *testing.T) {
		prev := []Token{meme, wlin}
		_, err := Patcher(prev, TokenSystemDiff{Updates: []Token{newTestToken(1, "MEME", 9)}})
		require.NoError(t, err)
		assert.Equal(t, uint64(1), prev[0].Pools)
	})

	t.Run("should round trip a differ output", func(t *testing.T) {
		next := []Token{newTestToken(1, "MEME", 2), dog, newTestToken(5, "EEL", 1)}
		patched, err := Patcher(initialState, Differ(initialState, next))
		require.NoError(t, err)

		SortByID(next)
		assert.Equal(t, next, patched)
	})
}
