package graph

import (
	"context"
	"math/rand"
	"sync"
	"testing"

	"github.com/defistate/microswap/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var home = engine.NewChainID("router")

func tok(n uint64) engine.ApplicationID { return engine.NewApplicationID(home, "token", n) }

func pair(a, b uint64) []engine.ApplicationID { return []engine.ApplicationID{tok(a), tok(b)} }

func TestSystem(t *testing.T) {
	t.Run("add and remove pools", func(t *testing.T) {
		s := NewSystem(1000)
		s.AddPool(pair(10, 20), 1001)
		s.AddPool(pair(10, 30), 1002)
		s.AddPool(pair(10, 20), 1003)

		assert.ElementsMatch(t, []uint64{1001, 1002, 1003}, s.PoolsForToken(tok(10)))
		assert.ElementsMatch(t, []uint64{1001, 1003}, s.PoolsForToken(tok(20)))
		assert.ElementsMatch(t, []uint64{1002}, s.PoolsForToken(tok(30)))
		assert.Nil(t, s.PoolsForToken(tok(99)))

		s.RemovePools([]uint64{1001})
		assert.ElementsMatch(t, []uint64{1002, 1003}, s.PoolsForToken(tok(10)))
		assert.ElementsMatch(t, []uint64{1003}, s.PoolsForToken(tok(20)))
	})

	t.Run("re-adding a pool to a dangling edge revives it", func(t *testing.T) {
		s := NewSystem(1000)
		s.AddPool(pair(1, 2), 1000)
		s.RemovePools([]uint64{1000})
		assert.Nil(t, s.PoolsForToken(tok(1)))

		s.AddPool(pair(1, 2), 1000)
		assert.Equal(t, []uint64{1000}, s.PoolsForToken(tok(1)))
		assert.Equal(t, 0, s.graph.danglingEdgeCount)
	})

	t.Run("compaction drops unreferenced tokens and pools", func(t *testing.T) {
		s := NewSystem(1)
		s.AddPools([]uint64{1000, 1001, 1002}, [][]engine.ApplicationID{pair(1, 2), pair(2, 3), pair(3, 4)})
		s.RemovePools([]uint64{1000, 1002})

		v := s.View()
		assert.ElementsMatch(t, []engine.ApplicationID{tok(2), tok(3)}, v.Tokens)
		assert.Equal(t, []uint64{1001}, v.Pools)
		assert.Len(t, v.EdgeTargets, 2)
		assert.Equal(t, []uint64{1001}, s.PoolsForToken(tok(3)))
	})

	t.Run("add pools panics on mismatched lengths", func(t *testing.T) {
		assert.Panics(t, func() {
			NewSystem(0).AddPools([]uint64{1}, [][]engine.ApplicationID{pair(1, 2), pair(3, 4)})
		})
	})

	t.Run("view returns a copy", func(t *testing.T) {
		s := NewSystem(1000)
		s.AddPool(pair(10, 20), 1001)

		v1 := s.View()
		require.Len(t, v1.Tokens, 2)
		original := v1.Tokens[0]
		v1.Tokens[0] = tok(999)
		v1.EdgePools[0][0] = 42

		v2 := s.View()
		assert.Equal(t, original, v2.Tokens[0])
		assert.Equal(t, 0, v2.EdgePools[0][0])
	})

	t.Run("concurrent reads and writes", func(t *testing.T) {
		s := NewSystem(20)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var readers sync.WaitGroup
		for i := 0; i < 8; i++ {
			readers.Add(1)
			go func(i int) {
				defer readers.Done()
				for ctx.Err() == nil {
					if i%2 == 0 {
						_ = s.View()
					} else {
						_ = s.PoolsForToken(tok(uint64(rand.Intn(100))))
						_ = s.Paths(tok(0), tok(5), 3)
					}
				}
			}(i)
		}

		for i := uint64(0); i < 100; i++ {
			s.AddPool(pair(i, i+1), 1000+i)
			if i%10 == 0 && i > 5 {
				s.RemovePools([]uint64{1000 + i - 5})
			}
		}
		cancel()
		readers.Wait()

		v := s.View()
		assert.NotEmpty(t, v.Tokens)
		assert.NotEmpty(t, v.Pools)
	})
}

func TestNewSystemFromView(t *testing.T) {
	original := &View{
		Tokens:      []engine.ApplicationID{tok(10), tok(20)},
		Pools:       []uint64{1000},
		Adjacency:   [][]int{{0}, {1}},
		EdgeTargets: []int{1, 0},
		EdgePools:   [][]int{{0}, {0}},
	}
	s := NewSystemFromView(original, 500)

	assert.Equal(t, []uint64{1000}, s.PoolsForToken(tok(10)))
	assert.Equal(t, original, s.View())

	s.AddPool(pair(20, 30), 1001)
	assert.Len(t, original.Tokens, 2, "the source view is not shared")
}

func TestPaths(t *testing.T) {
	s := NewSystem(0)
	// 1-2 twice, 2-3, 1-3, 3-4
	s.AddPools(
		[]uint64{1000, 1001, 1002, 1003, 1004},
		[][]engine.ApplicationID{pair(1, 2), pair(1, 2), pair(2, 3), pair(1, 3), pair(3, 4)},
	)

	t.Run("single hop lists every parallel pool", func(t *testing.T) {
		paths := s.Paths(tok(1), tok(2), 1)
		require.Len(t, paths, 2)
		assert.ElementsMatch(t, []uint64{1000, 1001}, []uint64{paths[0][0].Pool, paths[1][0].Pool})
	})

	t.Run("hop limit bounds the search", func(t *testing.T) {
		assert.Empty(t, s.Paths(tok(1), tok(4), 1))
		two := s.Paths(tok(1), tok(4), 2)
		require.Len(t, two, 1)
		assert.Equal(t, []Hop{
			{Pool: 1003, TokenIn: tok(1), TokenOut: tok(3)},
			{Pool: 1004, TokenIn: tok(3), TokenOut: tok(4)},
		}, two[0])
		// via 2 with either 1-2 pool, or direct 1-3
		assert.Len(t, s.Paths(tok(1), tok(4), 3), 3)
	})

	t.Run("routes never revisit a token", func(t *testing.T) {
		for _, path := range s.Paths(tok(1), tok(3), 4) {
			seen := map[engine.ApplicationID]bool{tok(1): true}
			for _, hop := range path {
				assert.False(t, seen[hop.TokenOut])
				seen[hop.TokenOut] = true
			}
		}
	})

	t.Run("unknown or identical tokens have no route", func(t *testing.T) {
		assert.Nil(t, s.Paths(tok(1), tok(9), 3))
		assert.Nil(t, s.Paths(tok(1), tok(1), 3))
		assert.Nil(t, s.Paths(tok(1), tok(2), 0))
	})
}
