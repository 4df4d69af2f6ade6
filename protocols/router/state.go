package router

import (
	"fmt"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/defistate/microswap/engine"
	"github.com/defistate/microswap/protocols/router/graph"
	"github.com/defistate/microswap/protocols/router/routerabi"
	"github.com/defistate/microswap/protocols/tokenregistry"
)

type pairKey struct {
	a, b engine.ApplicationID
}

// key orders the pair so that both token orders find the same pool.
func key(a, b engine.ApplicationID) pairKey {
	if b.Less(a) {
		a, b = b, a
	}
	return pairKey{a, b}
}

// State is the router registry on its home chain. The graph, pair index and
// chain set are derived from Pools and rebuilt on load.
type State struct {
	Pools      map[uint64]*Pool        `json:"pools"`
	NextPoolID uint64                  `json:"nextPoolId"`
	Tokens     *tokenregistry.Registry `json:"tokens"`
	PoolModule string                  `json:"poolModule"`

	byApplication map[engine.ApplicationID]uint64
	byPair        map[pairKey]uint64
	chains        mapset.Set[engine.ChainID]
	graph         *graph.System
}

func newState() *State {
	s := &State{
		Pools:      map[uint64]*Pool{},
		NextPoolID: FirstPoolID,
		Tokens:     tokenregistry.NewRegistry(),
		PoolModule: DefaultPoolModule,
	}
	s.reindex()
	return s
}

// reindex rebuilds the derived indexes from Pools.
func (s *State) reindex() {
	s.byApplication = make(map[engine.ApplicationID]uint64, len(s.Pools))
	s.byPair = make(map[pairKey]uint64, len(s.Pools))
	s.chains = mapset.NewThreadUnsafeSet[engine.ChainID]()
	s.graph = graph.NewSystem(0)

	ids := make([]uint64, 0, len(s.Pools))
	sets := make([][]engine.ApplicationID, 0, len(s.Pools))
	for _, p := range s.sortedPools() {
		s.byApplication[p.Application] = p.ID
		tokens := p.Tokens()
		s.byPair[key(tokens[0], tokens[1])] = p.ID
		s.chains.Add(p.ChainID)
		ids = append(ids, p.ID)
		sets = append(sets, tokens)
	}
	s.graph.AddPools(ids, sets)
}

func (s *State) poolForPair(token0 engine.ApplicationID, token1 *engine.ApplicationID) (*Pool, bool) {
	id, ok := s.byPair[key(token0, side(token1))]
	if !ok {
		return nil, false
	}
	return s.Pools[id], true
}

func (s *State) poolByApplication(app engine.ApplicationID) (*Pool, bool) {
	id, ok := s.byApplication[app]
	if !ok {
		return nil, false
	}
	return s.Pools[id], true
}

// addPool records a created pool and registers its tokens.
func (s *State) addPool(p Pool, tokens [2]tokenregistry.Token) (*Pool, error) {
	if existing, ok := s.poolForPair(p.Token0, p.Token1); ok {
		return nil, fmt.Errorf("%w: pool %d", ErrPoolExists, existing.ID)
	}
	p.ID = s.NextPoolID
	s.NextPoolID++
	stored := p
	s.Pools[p.ID] = &stored

	for _, t := range tokens {
		s.Tokens.Register(t)
	}
	pair := stored.Tokens()
	s.byApplication[stored.Application] = stored.ID
	s.byPair[key(pair[0], pair[1])] = stored.ID
	s.chains.Add(stored.ChainID)
	s.graph.AddPool(pair, stored.ID)
	return &stored, nil
}

// applyUpdate stores a pool report. Reports naming another pair are rejected.
func (s *State) applyUpdate(app engine.ApplicationID, u routerabi.UpdatePoolOperation, now engine.Timestamp) (*Pool, error) {
	p, ok := s.poolByApplication(app)
	if !ok {
		return nil, fmt.Errorf("%w: application %s", ErrUnknownPool, app.Short())
	}
	if u.Token0 == nil || *u.Token0 != p.Token0 || side(u.Token1) != side(p.Token1) {
		return nil, fmt.Errorf("%w: report from %s names another pair", engine.ErrNotAllowed, app.Short())
	}
	tx := u.Transaction
	p.LatestTransaction = &tx
	p.Reserve0, p.Reserve1 = u.Reserve0, u.Reserve1
	p.Price0, p.Price1 = u.Price0, u.Price1
	p.UpdatedAt = now
	return p, nil
}

func (s *State) sortedPools() []*Pool {
	out := make([]*Pool, 0, len(s.Pools))
	for _, p := range s.Pools {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *State) pools() []Pool {
	sorted := s.sortedPools()
	out := make([]Pool, 0, len(sorted))
	for _, p := range sorted {
		out = append(out, p.clone())
	}
	return out
}

func (s *State) poolsForToken(token engine.ApplicationID) []Pool {
	ids := s.graph.PoolsForToken(token)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]Pool, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.Pools[id].clone())
	}
	return out
}

func (s *State) chainList() []engine.ChainID {
	out := s.chains.ToSlice()
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func (p Pool) clone() Pool {
	if p.Token1 != nil {
		t := *p.Token1
		p.Token1 = &t
	}
	if p.LatestTransaction != nil {
		tx := *p.LatestTransaction
		p.LatestTransaction = &tx
	}
	return p
}
