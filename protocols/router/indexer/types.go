package indexer

import (
	"github.com/defistate/microswap/engine"
	"github.com/defistate/microswap/protocols/router"
)

// IndexedPools defines the methods for accessing indexed router pools.
type IndexedPools interface {
	GetByID(id uint64) (router.Pool, bool)
	GetByApplication(app engine.ApplicationID) (router.Pool, bool)
	// OnChain lists the pools hosted by chain.
	OnChain(chain engine.ChainID) []router.Pool
	All() []router.Pool
}
