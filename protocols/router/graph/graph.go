// Package graph indexes which pools connect which tokens, for route search.
package graph

import "github.com/defistate/microswap/engine"

// View is a snapshot of the graph's core slices. Edge i goes to token
// EdgeTargets[i] through the pools EdgePools[i]; Adjacency[t] lists the edges
// leaving token t. All ints are indexes into Tokens or Pools.
type View struct {
	Tokens      []engine.ApplicationID `json:"tokens"`
	Pools       []uint64               `json:"pools"`
	Adjacency   [][]int                `json:"adjacency"`
	EdgeTargets []int                  `json:"edgeTargets"`
	EdgePools   [][]int                `json:"edgePools"`
}

// Graph is the non-thread-safe token/pool graph. Removals are logical until the
// number of dangling edges passes the compaction threshold.
type Graph struct {
	tokenToIndex map[engine.ApplicationID]int
	poolToIndex  map[uint64]int

	tokens              []engine.ApplicationID
	pools               []uint64
	adjacency           [][]int
	edgeTargets         []int
	edgePools           [][]int
	danglingEdgeCount   int
	compactionThreshold int
}

const defaultCompactionThreshold = 1000

func New(compactionThreshold int) *Graph {
	if compactionThreshold <= 0 {
		compactionThreshold = defaultCompactionThreshold
	}
	return &Graph{
		tokenToIndex:        make(map[engine.ApplicationID]int),
		poolToIndex:         make(map[uint64]int),
		compactionThreshold: compactionThreshold,
	}
}

// NewFromView rebuilds a graph that owns a copy of view's data.
func NewFromView(view *View, compactionThreshold int) *Graph {
	g := New(compactionThreshold)
	if view == nil {
		return g
	}
	v := view.clone()
	for i, token := range v.Tokens {
		g.tokenToIndex[token] = i
	}
	for i, pool := range v.Pools {
		g.poolToIndex[pool] = i
	}
	g.tokens, g.pools = v.Tokens, v.Pools
	g.adjacency, g.edgeTargets, g.edgePools = v.Adjacency, v.EdgeTargets, v.EdgePools
	return g
}

func (g *Graph) tokenIndex(token engine.ApplicationID) int {
	i, ok := g.tokenToIndex[token]
	if !ok {
		i = len(g.tokens)
		g.tokens = append(g.tokens, token)
		g.tokenToIndex[token] = i
		g.adjacency = append(g.adjacency, nil)
	}
	return i
}

func (g *Graph) addEdge(from, to engine.ApplicationID, pool uint64) {
	fromIndex := g.tokenIndex(from)
	toIndex := g.tokenIndex(to)
	poolIndex, ok := g.poolToIndex[pool]
	if !ok {
		poolIndex = len(g.pools)
		g.pools = append(g.pools, pool)
		g.poolToIndex[pool] = poolIndex
	}

	for _, edge := range g.adjacency[fromIndex] {
		if g.edgeTargets[edge] != toIndex {
			continue
		}
		for _, p := range g.edgePools[edge] {
			if p == poolIndex {
				return
			}
		}
		if len(g.edgePools[edge]) == 0 {
			g.danglingEdgeCount--
		}
		g.edgePools[edge] = append(g.edgePools[edge], poolIndex)
		return
	}

	edge := len(g.edgeTargets)
	g.edgeTargets = append(g.edgeTargets, toIndex)
	g.edgePools = append(g.edgePools, []int{poolIndex})
	g.adjacency[fromIndex] = append(g.adjacency[fromIndex], edge)
}

// add connects every pair of tokens of the pool in both directions.
func (g *Graph) add(tokens []engine.ApplicationID, pool uint64) {
	for i := 0; i < len(tokens); i++ {
		for j := i + 1; j < len(tokens); j++ {
			g.addEdge(tokens[i], tokens[j], pool)
			g.addEdge(tokens[j], tokens[i], pool)
		}
	}
}

func (g *Graph) removePool(pool uint64) {
	poolIndex, ok := g.poolToIndex[pool]
	if !ok {
		return
	}
	for edge, list := range g.edgePools {
		if len(list) == 0 {
			continue
		}
		kept := list[:0]
		for _, p := range list {
			if p != poolIndex {
				kept = append(kept, p)
			}
		}
		if len(kept) == len(list) {
			continue
		}
		g.edgePools[edge] = kept
		if len(kept) == 0 {
			g.danglingEdgeCount++
		}
	}
	if g.danglingEdgeCount > g.compactionThreshold {
		g.compact()
	}
}

// compact drops dangling edges along with the tokens and pools only they referenced.
func (g *Graph) compact() {
	if g.danglingEdgeCount == 0 {
		return
	}

	edgeRemap := make(map[int]int, len(g.edgeTargets)-g.danglingEdgeCount)
	var targets []int
	var edgePools [][]int
	for old, list := range g.edgePools {
		if len(list) == 0 {
			continue
		}
		edgeRemap[old] = len(targets)
		targets = append(targets, g.edgeTargets[old])
		edgePools = append(edgePools, list)
	}

	usedTokens := make(map[int]struct{})
	usedPools := make(map[int]struct{})
	for _, t := range targets {
		usedTokens[t] = struct{}{}
	}
	for t, adj := range g.adjacency {
		for _, edge := range adj {
			if _, ok := edgeRemap[edge]; ok {
				usedTokens[t] = struct{}{}
				break
			}
		}
	}
	for _, list := range edgePools {
		for _, p := range list {
			usedPools[p] = struct{}{}
		}
	}

	tokenRemap := make(map[int]int, len(usedTokens))
	tokens := make([]engine.ApplicationID, 0, len(usedTokens))
	tokenToIndex := make(map[engine.ApplicationID]int, len(usedTokens))
	for old, token := range g.tokens {
		if _, ok := usedTokens[old]; ok {
			tokenRemap[old] = len(tokens)
			tokenToIndex[token] = len(tokens)
			tokens = append(tokens, token)
		}
	}

	poolRemap := make(map[int]int, len(usedPools))
	pools := make([]uint64, 0, len(usedPools))
	poolToIndex := make(map[uint64]int, len(usedPools))
	for old, pool := range g.pools {
		if _, ok := usedPools[old]; ok {
			poolRemap[old] = len(pools)
			poolToIndex[pool] = len(pools)
			pools = append(pools, pool)
		}
	}

	for i := range targets {
		targets[i] = tokenRemap[targets[i]]
	}
	for _, list := range edgePools {
		for j := range list {
			list[j] = poolRemap[list[j]]
		}
	}

	adjacency := make([][]int, len(tokens))
	for old, adj := range g.adjacency {
		idx, ok := tokenRemap[old]
		if !ok {
			continue
		}
		next := make([]int, 0, len(adj))
		for _, edge := range adj {
			if e, ok := edgeRemap[edge]; ok {
				next = append(next, e)
			}
		}
		adjacency[idx] = next
	}

	g.tokens, g.tokenToIndex = tokens, tokenToIndex
	g.pools, g.poolToIndex = pools, poolToIndex
	g.edgeTargets, g.edgePools, g.adjacency = targets, edgePools, adjacency
	g.danglingEdgeCount = 0
}

func (g *Graph) poolsForToken(token engine.ApplicationID) []uint64 {
	i, ok := g.tokenToIndex[token]
	if !ok {
		return nil
	}
	seen := make(map[uint64]struct{})
	var out []uint64
	for _, edge := range g.adjacency[i] {
		for _, p := range g.edgePools[edge] {
			pool := g.pools[p]
			if _, dup := seen[pool]; dup {
				continue
			}
			seen[pool] = struct{}{}
			out = append(out, pool)
		}
	}
	return out
}

func (g *Graph) view() *View {
	v := View{
		Tokens:      g.tokens,
		Pools:       g.pools,
		Adjacency:   g.adjacency,
		EdgeTargets: g.edgeTargets,
		EdgePools:   g.edgePools,
	}
	return v.clone()
}

func (v *View) clone() *View {
	return &View{
		Tokens:      append([]engine.ApplicationID{}, v.Tokens...),
		Pools:       append([]uint64{}, v.Pools...),
		Adjacency:   cloneNested(v.Adjacency),
		EdgeTargets: append([]int{}, v.EdgeTargets...),
		EdgePools:   cloneNested(v.EdgePools),
	}
}

func cloneNested(in [][]int) [][]int {
	out := make([][]int, len(in))
	for i, inner := range in {
		if inner != nil {
			out[i] = append([]int{}, inner...)
		}
	}
	return out
}
