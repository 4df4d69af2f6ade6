package indexer

import (
	"github.com/defistate/microswap/engine"
	"github.com/defistate/microswap/protocols/router"
)

type Indexer struct{}

func New() *Indexer {
	return &Indexer{}
}

// Index creates an indexed pool set from a router view's pools.
func (i *Indexer) Index(pools []router.Pool) IndexedPools {
	return NewIndexablePools(pools)
}

// IndexablePools provides indexed access to router pool records.
type IndexablePools struct {
	byID          map[uint64]router.Pool
	byApplication map[engine.ApplicationID]router.Pool
	byChain       map[engine.ChainID][]router.Pool
	all           []router.Pool
}

func NewIndexablePools(pools []router.Pool) *IndexablePools {
	ip := &IndexablePools{
		byID:          make(map[uint64]router.Pool, len(pools)),
		byApplication: make(map[engine.ApplicationID]router.Pool, len(pools)),
		byChain:       make(map[engine.ChainID][]router.Pool),
		all:           pools,
	}
	for _, p := range pools {
		ip.byID[p.ID] = p
		ip.byApplication[p.Application] = p
		ip.byChain[p.ChainID] = append(ip.byChain[p.ChainID], p)
	}
	return ip
}

func (ip *IndexablePools) GetByID(id uint64) (router.Pool, bool) {
	p, ok := ip.byID[id]
	return p, ok
}

func (ip *IndexablePools) GetByApplication(app engine.ApplicationID) (router.Pool, bool) {
	p, ok := ip.byApplication[app]
	return p, ok
}

func (ip *IndexablePools) OnChain(chain engine.ChainID) []router.Pool {
	return append([]router.Pool(nil), ip.byChain[chain]...)
}

// All returns a copy of every pool.
func (ip *IndexablePools) All() []router.Pool {
	allCopy := make([]router.Pool, len(ip.all))
	copy(allCopy, ip.all)
	return allCopy
}
