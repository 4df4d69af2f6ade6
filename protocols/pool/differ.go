package pool

import (
	"reflect"

	"github.com/defistate/microswap/engine"
	"github.com/defistate/microswap/protocols/router/routerabi"
)

type ViewDiff struct {
	// Pool is set when any pool field changed; the whole record is small.
	Pool           *Pool                  `json:"pool,omitempty"`
	ShareUpdates   []Share                `json:"shareUpdates,omitempty"`
	ShareDeletions []engine.Account       `json:"shareDeletions,omitempty"`
	PendingAdded   []FundRequest          `json:"pendingAdded,omitempty"`
	PendingRemoved []uint64               `json:"pendingRemoved,omitempty"`
	Transaction    *routerabi.Transaction `json:"transaction,omitempty"`
}

// IsEmpty returns true if the diff contains no changes.
func (d ViewDiff) IsEmpty() bool {
	return d.Pool == nil && len(d.ShareUpdates) == 0 && len(d.ShareDeletions) == 0 &&
		len(d.PendingAdded) == 0 && len(d.PendingRemoved) == 0 && d.Transaction == nil
}

// Differ calculates the changes between two pool views.
// Pending requests are immutable while pending, so only arrivals and departures are tracked.
func Differ(old, new View) ViewDiff {
	var diff ViewDiff
	if !reflect.DeepEqual(old.Pool, new.Pool) {
		p := new.Pool
		diff.Pool = &p
	}

	oldShares := make(map[engine.Account]engine.Amount, len(old.Shares))
	for _, s := range old.Shares {
		oldShares[s.Account] = s.Amount
	}
	seen := make(map[engine.Account]struct{}, len(new.Shares))
	for _, s := range new.Shares {
		seen[s.Account] = struct{}{}
		if prev, exists := oldShares[s.Account]; !exists || !prev.Eq(s.Amount) {
			diff.ShareUpdates = append(diff.ShareUpdates, s)
		}
	}
	for _, s := range old.Shares {
		if _, exists := seen[s.Account]; !exists {
			diff.ShareDeletions = append(diff.ShareDeletions, s.Account)
		}
	}

	oldPending := make(map[uint64]struct{}, len(old.PendingRequests))
	for _, r := range old.PendingRequests {
		oldPending[r.TransferID] = struct{}{}
	}
	newPending := make(map[uint64]struct{}, len(new.PendingRequests))
	for _, r := range new.PendingRequests {
		newPending[r.TransferID] = struct{}{}
		if _, exists := oldPending[r.TransferID]; !exists {
			diff.PendingAdded = append(diff.PendingAdded, r)
		}
	}
	for _, r := range old.PendingRequests {
		if _, exists := newPending[r.TransferID]; !exists {
			diff.PendingRemoved = append(diff.PendingRemoved, r.TransferID)
		}
	}

	if new.LastTransaction != nil && (old.LastTransaction == nil || old.LastTransaction.ID != new.LastTransaction.ID) {
		tx := *new.LastTransaction
		diff.Transaction = &tx
	}
	return diff
}
