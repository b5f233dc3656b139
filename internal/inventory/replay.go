package inventory

import (
	"sort"
	"time"
)

// replayEvent is one chronological step of an item's approved history.
type replayEvent struct {
	date      time.Time
	receipt   bool
	qty       float64
	amount    float64
	unitCost  float64
	reference string
}

type deferredDemand struct {
	qty       float64
	reference string
}

// Replay reconstructs an item's ledger from its opening balance and the
// approved movement set, in physical fulfillment order. Issues that
// outrun stock on hand wait in a FIFO queue and settle against later
// receipts, so the emitted balances can legitimately differ from the
// reconciler's insertion-order snapshots.
//
// When from is set later than the opening date, movements before the
// window roll into the starting balance without being emitted.
func Replay(item StockItem, receipts []ReceiptTransaction, issues []IssueTransaction, from, to time.Time) []Movement {
	events := make([]replayEvent, 0, len(receipts)+len(issues))
	for _, r := range receipts {
		events = append(events, replayEvent{
			date:      r.Date,
			receipt:   true,
			qty:       r.Qty,
			amount:    r.LandedAmount,
			reference: r.Reference,
		})
	}
	for _, i := range issues {
		events = append(events, replayEvent{
			date:      i.Date,
			qty:       i.Qty,
			unitCost:  i.UnitCost,
			reference: i.Reference,
		})
	}
	// Receipts sort ahead of issues on the same date so same-day arrivals
	// can cover same-day consumption.
	sort.SliceStable(events, func(a, b int) bool {
		if events[a].date.Equal(events[b].date) {
			return events[a].receipt && !events[b].receipt
		}
		return events[a].date.Before(events[b].date)
	})

	balance := item.OpeningQty
	var deferred []deferredDemand
	var out []Movement

	for _, ev := range events {
		if !to.IsZero() && ev.date.After(to) {
			break
		}
		if !from.IsZero() && ev.date.Before(from) {
			if ev.receipt {
				balance += ev.qty
			} else {
				balance -= ev.qty
			}
			continue
		}
		if ev.receipt {
			balance += ev.qty
			out = append(out, Movement{
				Kind:         MovementReceipt,
				Date:         ev.date,
				Qty:          ev.qty,
				UnitCost:     receiptUnitCost(ev),
				BalanceAfter: balance,
				Reference:    ev.reference,
			})
			available := ev.qty
			for len(deferred) > 0 && available > 0 {
				d := &deferred[0]
				if available >= d.qty {
					balance -= d.qty
					available -= d.qty
					out = append(out, Movement{
						Kind:         MovementIssueBackfilled,
						Date:         ev.date,
						Qty:          d.qty,
						BalanceAfter: balance,
						Reference:    d.reference,
					})
					deferred = deferred[1:]
					continue
				}
				balance -= available
				d.qty -= available
				out = append(out, Movement{
					Kind:         MovementIssuePartial,
					Date:         ev.date,
					Qty:          available,
					BalanceAfter: balance,
					Reference:    d.reference,
				})
				available = 0
			}
			continue
		}

		switch {
		case balance >= ev.qty:
			balance -= ev.qty
			out = append(out, Movement{
				Kind:         MovementIssue,
				Date:         ev.date,
				Qty:          ev.qty,
				UnitCost:     ev.unitCost,
				BalanceAfter: balance,
				Reference:    ev.reference,
			})
		case balance > 0:
			covered := balance
			balance = 0
			out = append(out, Movement{
				Kind:         MovementIssuePartial,
				Date:         ev.date,
				Qty:          covered,
				UnitCost:     ev.unitCost,
				BalanceAfter: 0,
				Reference:    ev.reference,
			})
			deferred = append(deferred, deferredDemand{qty: ev.qty - covered, reference: ev.reference})
		default:
			deferred = append(deferred, deferredDemand{qty: ev.qty, reference: ev.reference})
		}
	}

	return out
}

func receiptUnitCost(ev replayEvent) float64 {
	if ev.qty > 0 {
		return ev.amount / ev.qty
	}
	return 0
}
