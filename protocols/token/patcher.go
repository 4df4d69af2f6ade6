package token

import (
	"bytes"
	"sort"

	"github.com/defistate/microswap/engine"
)

// Patcher builds a new ledger view from prev and diff without mutating prev.
// Token parameters are carried over from prev unless the diff introduces them.
func Patcher(prev View, diff ViewDiff) (View, error) {
	balances := make(map[engine.Account]engine.Amount, len(prev.Balances))
	for _, b := range prev.Balances {
		balances[b.Account] = b.Amount
	}
	for _, acc := range diff.Deletions {
		delete(balances, acc)
	}
	for _, b := range diff.Updates {
		balances[b.Account] = b.Amount
	}

	next := View{
		Token:       prev.Token,
		TotalSupply: prev.TotalSupply,
		Balances:    make([]Balance, 0, len(balances)),
	}
	if diff.Token != nil {
		next.Token = *diff.Token
	}
	if diff.TotalSupply != nil {
		next.TotalSupply = *diff.TotalSupply
	}
	for acc, amt := range balances {
		next.Balances = append(next.Balances, Balance{Account: acc, Amount: amt})
	}
	sort.Slice(next.Balances, func(i, j int) bool {
		a, b := next.Balances[i].Account, next.Balances[j].Account
		if c := bytes.Compare(a.ChainID[:], b.ChainID[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(a.Owner[:], b.Owner[:]) < 0
	})
	return next, nil
}
