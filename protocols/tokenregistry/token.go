// Package tokenregistry keeps the metadata of the tokens that appear in router pools.
package tokenregistry

import (
	"sort"

	"github.com/defistate/microswap/engine"
)

// NativeID stands for the chain's native asset in pool pairs.
var NativeID = engine.ApplicationID{}

// Token is the metadata the router learned for one token application.
type Token struct {
	ID       engine.ApplicationID `json:"id"`
	ChainID  engine.ChainID       `json:"chainId"`
	Name     string               `json:"name"`
	Symbol   string               `json:"symbol"`
	Decimals uint8                `json:"decimals"`
	// Pools counts the registered pools that trade this token.
	Pools uint64 `json:"pools"`
}

// Native reports whether t describes the native asset.
func (t Token) Native() bool { return t.ID == NativeID }

// NativeToken is the registry entry used for the native side of a pair.
func NativeToken() Token {
	return Token{ID: NativeID, Name: "Native", Symbol: "NAT", Decimals: 18}
}

// Registry is a plain map of tokens. It is not safe for concurrent use; the
// router owns it on a single chain.
type Registry struct {
	Tokens map[engine.ApplicationID]Token `json:"tokens"`
}

func NewRegistry() *Registry {
	return &Registry{Tokens: map[engine.ApplicationID]Token{}}
}

// Register stores t, or bumps the pool counter when the token is already known.
// Metadata of a known token is never overwritten.
func (r *Registry) Register(t Token) Token {
	if existing, ok := r.Tokens[t.ID]; ok {
		existing.Pools++
		r.Tokens[t.ID] = existing
		return existing
	}
	t.Pools = 1
	r.Tokens[t.ID] = t
	return t
}

func (r *Registry) Get(id engine.ApplicationID) (Token, bool) {
	t, ok := r.Tokens[id]
	return t, ok
}

// All returns the tokens sorted by id.
func (r *Registry) All() []Token {
	out := make([]Token, 0, len(r.Tokens))
	for _, t := range r.Tokens {
		out = append(out, t)
	}
	SortByID(out)
	return out
}

// SortByID orders tokens by id in place.
func SortByID(tokens []Token) {
	sort.Slice(tokens, func(i, j int) bool { return tokens[i].ID.Less(tokens[j].ID) })
}
