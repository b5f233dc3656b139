package inventory

import "sort"

// Snapshot pairs a transaction id with a recomputed balance-after value.
type Snapshot struct {
	ID           int64
	BalanceAfter float64
}

// RecomputeSnapshots derives the balance-after snapshot for target and
// re-chains every transaction dated on or after it. It is the single
// implementation behind both issue creation and issue approval, so the
// two call sites cannot drift.
//
// existing is the full sibling set for the item regardless of approval
// status; a sibling sharing target's id is skipped so approval can pass
// the stored row unchanged. ledgerBalance is the item's current balance
// after the optimistic debit.
//
// Partitioning is by date only: siblings dated before target anchor its
// snapshot (balance-after of the latest such sibling by date then id,
// minus target quantity); with no earlier sibling the anchor is the
// smallest balance-after among later siblings, or the ledger balance
// when target is alone.
func RecomputeSnapshots(existing []IssueTransaction, target IssueTransaction, ledgerBalance float64) (float64, []Snapshot) {
	var before, after []IssueTransaction
	for _, tx := range existing {
		if tx.ID != 0 && tx.ID == target.ID {
			continue
		}
		if tx.Date.Before(target.Date) {
			before = append(before, tx)
		} else {
			after = append(after, tx)
		}
	}

	var balance float64
	switch {
	case len(before) == 0 && len(after) == 0:
		balance = ledgerBalance
	case len(before) == 0:
		balance = after[0].BalanceAfter
		for _, tx := range after[1:] {
			if tx.BalanceAfter < balance {
				balance = tx.BalanceAfter
			}
		}
	default:
		latest := before[0]
		for _, tx := range before[1:] {
			if tx.Date.After(latest.Date) || (tx.Date.Equal(latest.Date) && tx.ID > latest.ID) {
				latest = tx
			}
		}
		balance = latest.BalanceAfter - target.Qty
	}

	sort.Slice(after, func(i, j int) bool {
		if after[i].Date.Equal(after[j].Date) {
			return after[i].ID < after[j].ID
		}
		return after[i].Date.Before(after[j].Date)
	})

	updates := make([]Snapshot, 0, len(after))
	running := balance
	for _, tx := range after {
		running -= tx.Qty
		updates = append(updates, Snapshot{ID: tx.ID, BalanceAfter: running})
	}
	return balance, updates
}

// ShiftAfterRemoval returns the snapshot updates needed when removed is
// deleted from the item's transaction set: every sibling dated on or
// after it gets the removed quantity added back, preserving the chain
// invariant without touching earlier snapshots.
func ShiftAfterRemoval(existing []IssueTransaction, removed IssueTransaction) []Snapshot {
	var updates []Snapshot
	for _, tx := range existing {
		if tx.ID == removed.ID {
			continue
		}
		if tx.Date.Before(removed.Date) {
			continue
		}
		updates = append(updates, Snapshot{ID: tx.ID, BalanceAfter: tx.BalanceAfter + removed.Qty})
	}
	return updates
}
