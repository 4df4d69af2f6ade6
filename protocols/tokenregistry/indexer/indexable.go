package indexer

import (
	"strings"

	"github.com/defistate/microswap/engine"
	"github.com/defistate/microswap/protocols/tokenregistry"
)

// Indexer builds IndexedTokenSystems from router token snapshots.
type Indexer struct{}

func New() *Indexer {
	return &Indexer{}
}

// Index creates an indexed token system from a raw slice of tokens.
func (i *Indexer) Index(tokens []tokenregistry.Token) IndexedTokenSystem {
	return NewIndexableTokenSystem(tokens)
}

// IndexableTokenSystem provides indexed access to token metadata. Symbols are
// not unique, so symbol lookups return every match.
type IndexableTokenSystem struct {
	byID     map[engine.ApplicationID]tokenregistry.Token
	bySymbol map[string][]tokenregistry.Token
	byChain  map[engine.ChainID][]tokenregistry.Token
	all      []tokenregistry.Token
}

func NewIndexableTokenSystem(tokens []tokenregistry.Token) *IndexableTokenSystem {
	its := &IndexableTokenSystem{
		byID:     make(map[engine.ApplicationID]tokenregistry.Token, len(tokens)),
		bySymbol: make(map[string][]tokenregistry.Token),
		byChain:  make(map[engine.ChainID][]tokenregistry.Token),
		all:      tokens,
	}
	for _, t := range tokens {
		its.byID[t.ID] = t
		key := strings.ToUpper(t.Symbol)
		its.bySymbol[key] = append(its.bySymbol[key], t)
		if !t.Native() {
			its.byChain[t.ChainID] = append(its.byChain[t.ChainID], t)
		}
	}
	return its
}

func (its *IndexableTokenSystem) GetByID(id engine.ApplicationID) (tokenregistry.Token, bool) {
	t, ok := its.byID[id]
	return t, ok
}

// GetBySymbol matches case-insensitively.
func (its *IndexableTokenSystem) GetBySymbol(symbol string) []tokenregistry.Token {
	return append([]tokenregistry.Token(nil), its.bySymbol[strings.ToUpper(symbol)]...)
}

// OnChain returns the tokens whose ledger lives on chain.
func (its *IndexableTokenSystem) OnChain(chain engine.ChainID) []tokenregistry.Token {
	return append([]tokenregistry.Token(nil), its.byChain[chain]...)
}

// All returns a copy of every token in the system.
func (its *IndexableTokenSystem) All() []tokenregistry.Token {
	allCopy := make([]tokenregistry.Token, len(its.all))
	copy(allCopy, its.all)
	return allCopy
}
