package indexer

import (
	"github.com/defistate/microswap/engine"
	"github.com/defistate/microswap/protocols/tokenregistry"
)

// IndexedTokenSystem defines the methods for accessing indexed token data.
type IndexedTokenSystem interface {
	GetByID(id engine.ApplicationID) (tokenregistry.Token, bool)
	GetBySymbol(symbol string) []tokenregistry.Token
	OnChain(chain engine.ChainID) []tokenregistry.Token
	All() []tokenregistry.Token
}
