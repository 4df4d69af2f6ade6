package graph

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/defistate/microswap/engine"
)

// System wraps a Graph for concurrent use: writes take the mutex and republish
// a view, reads load the published view without locking.
type System struct {
	mu         sync.RWMutex
	graph      *Graph
	cachedView atomic.Pointer[View]
}

func NewSystem(compactionThreshold int) *System {
	s := &System{graph: New(compactionThreshold)}
	s.cachedView.Store(s.graph.view())
	return s
}

func NewSystemFromView(view *View, compactionThreshold int) *System {
	s := &System{graph: NewFromView(view, compactionThreshold)}
	s.cachedView.Store(s.graph.view())
	return s
}

// must hold s.mu
func (s *System) publish() {
	s.cachedView.Store(s.graph.view())
}

func (s *System) AddPool(tokens []engine.ApplicationID, pool uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graph.add(tokens, pool)
	s.publish()
}

// AddPools adds pools[i] over tokenSets[i], publishing once. Mismatched lengths panic.
func (s *System) AddPools(pools []uint64, tokenSets [][]engine.ApplicationID) {
	if len(pools) != len(tokenSets) {
		panic(fmt.Sprintf("mismatched input lengths: %d pool IDs and %d token sets", len(pools), len(tokenSets)))
	}
	if len(pools) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, pool := range pools {
		s.graph.add(tokenSets[i], pool)
	}
	s.publish()
}

func (s *System) RemovePools(pools []uint64) {
	if len(pools) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pool := range pools {
		s.graph.removePool(pool)
	}
	s.publish()
}

func (s *System) PoolsForToken(token engine.ApplicationID) []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graph.poolsForToken(token)
}

// View returns a copy of the published snapshot that the caller may modify.
func (s *System) View() *View {
	v := s.cachedView.Load()
	if v == nil {
		return &View{}
	}
	return v.clone()
}

// Paths searches the published snapshot; see View.Paths.
func (s *System) Paths(from, to engine.ApplicationID, maxHops int) [][]Hop {
	v := s.cachedView.Load()
	if v == nil {
		return nil
	}
	return v.Paths(from, to, maxHops)
}
