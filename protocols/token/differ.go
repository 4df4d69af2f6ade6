package token

import "github.com/defistate/microswap/engine"

type ViewDiff struct {
	TotalSupply *engine.Amount   `json:"totalSupply,omitempty"`
	Updates     []Balance        `json:"updates,omitempty"`
	Deletions   []engine.Account `json:"deletions,omitempty"`
	// Token is only set when the ledger first appears.
	Token *Parameters `json:"token,omitempty"`
}

// IsEmpty returns true if the diff contains no changes.
func (d ViewDiff) IsEmpty() bool {
	return d.TotalSupply == nil && len(d.Updates) == 0 && len(d.Deletions) == 0 && d.Token == nil
}

// Differ calculates the balance changes between two ledger views.
// New and changed balances are both reported as updates.
func Differ(old, new View) ViewDiff {
	oldBalances := make(map[engine.Account]engine.Amount, len(old.Balances))
	for _, b := range old.Balances {
		oldBalances[b.Account] = b.Amount
	}

	var diff ViewDiff
	seen := make(map[engine.Account]struct{}, len(new.Balances))
	for _, b := range new.Balances {
		seen[b.Account] = struct{}{}
		if prev, exists := oldBalances[b.Account]; !exists || !prev.Eq(b.Amount) {
			diff.Updates = append(diff.Updates, b)
		}
	}
	for _, b := range old.Balances {
		if _, exists := seen[b.Account]; !exists {
			diff.Deletions = append(diff.Deletions, b.Account)
		}
	}
	if !old.TotalSupply.Eq(new.TotalSupply) {
		supply := new.TotalSupply
		diff.TotalSupply = &supply
	}
	if old.Token != new.Token {
		params := new.Token
		diff.Token = &params
	}
	return diff
}
