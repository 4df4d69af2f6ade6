package pool

import (
	"sort"

	"github.com/defistate/microswap/engine"
)

// Patcher builds a new pool view from prev and diff without mutating prev.
func Patcher(prev View, diff ViewDiff) (View, error) {
	next := View{Pool: prev.Pool, LastTransaction: prev.LastTransaction}
	if diff.Pool != nil {
		next.Pool = *diff.Pool
	}
	if diff.Transaction != nil {
		tx := *diff.Transaction
		next.LastTransaction = &tx
	}

	shares := make(map[engine.Account]engine.Amount, len(prev.Shares))
	for _, s := range prev.Shares {
		shares[s.Account] = s.Amount
	}
	for _, acc := range diff.ShareDeletions {
		delete(shares, acc)
	}
	for _, s := range diff.ShareUpdates {
		shares[s.Account] = s.Amount
	}
	next.Shares = make([]Share, 0, len(shares))
	for acc, amt := range shares {
		next.Shares = append(next.Shares, Share{Account: acc, Amount: amt})
	}
	sort.Slice(next.Shares, func(i, j int) bool { return accountLess(next.Shares[i].Account, next.Shares[j].Account) })

	removed := make(map[uint64]struct{}, len(diff.PendingRemoved))
	for _, id := range diff.PendingRemoved {
		removed[id] = struct{}{}
	}
	next.PendingRequests = make([]FundRequest, 0, len(prev.PendingRequests)+len(diff.PendingAdded))
	for _, r := range prev.PendingRequests {
		if _, gone := removed[r.TransferID]; !gone {
			next.PendingRequests = append(next.PendingRequests, *r.clone())
		}
	}
	for _, r := range diff.PendingAdded {
		next.PendingRequests = append(next.PendingRequests, *r.clone())
	}
	sort.Slice(next.PendingRequests, func(i, j int) bool {
		return next.PendingRequests[i].TransferID < next.PendingRequests[j].TransferID
	})
	return next, nil
}
