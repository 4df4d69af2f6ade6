package token

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/defistate/microswap/engine"
)

// State is the ledger kept on the token's home chain.
type State struct {
	Balances    map[engine.Account]engine.Amount `json:"balances"`
	TotalSupply engine.Amount                    `json:"totalSupply"`
}

func newState() *State {
	return &State{Balances: map[engine.Account]engine.Amount{}}
}

func (s *State) balance(account engine.Account) engine.Amount {
	return s.Balances[account]
}

func (s *State) mint(to engine.Account, amount engine.Amount) error {
	supply, err := s.TotalSupply.Add(amount)
	if err != nil {
		return err
	}
	bal, err := s.Balances[to].Add(amount)
	if err != nil {
		return err
	}
	s.TotalSupply = supply
	s.Balances[to] = bal
	return nil
}

// move debits from and credits to, or changes nothing.
func (s *State) move(from, to engine.Account, amount engine.Amount) error {
	if amount.IsZero() {
		return fmt.Errorf("%w: zero transfer", engine.ErrInvalidAmount)
	}
	fromBal, err := s.Balances[from].Sub(amount)
	if err != nil {
		return fmt.Errorf("%w: %s has %s, needs %s", engine.ErrInsufficientFunds, from, s.Balances[from], amount)
	}
	if from == to {
		return nil
	}
	toBal, err := s.Balances[to].Add(amount)
	if err != nil {
		return err
	}
	if fromBal.IsZero() {
		delete(s.Balances, from)
	} else {
		s.Balances[from] = fromBal
	}
	s.Balances[to] = toBal
	return nil
}

// sortedBalances returns balances ordered by account for stable views.
func (s *State) sortedBalances() []Balance {
	out := make([]Balance, 0, len(s.Balances))
	for acc, amt := range s.Balances {
		out = append(out, Balance{Account: acc, Amount: amt})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := bytes.Compare(out[i].Account.ChainID[:], out[j].Account.ChainID[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(out[i].Account.Owner[:], out[j].Account.Owner[:]) < 0
	})
	return out
}
