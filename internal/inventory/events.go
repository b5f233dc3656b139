package inventory

import (
	"context"
	"time"
)

// IssueApprovedEvent is published after an issue becomes the value of record.
type IssueApprovedEvent struct {
	Number       string
	ItemCode     string
	Qty          float64
	UnitCost     float64
	BalanceAfter float64
	Date         time.Time
}

// ReceiptPostedEvent is published after a receipt is credited to the ledger.
type ReceiptPostedEvent struct {
	Number       string
	ItemCode     string
	Qty          float64
	LandedAmount float64
	Date         time.Time
}

// LedgerMutatedEvent is published after any ledger mutation, approved or
// not, so dependants such as the replay report cache can invalidate.
type LedgerMutatedEvent struct {
	ItemCode  string
	Operation string
}

// IntegrationHandler receives inventory events for downstream wiring.
type IntegrationHandler interface {
	HandleIssueApproved(ctx context.Context, evt IssueApprovedEvent) error
	HandleReceiptPosted(ctx context.Context, evt ReceiptPostedEvent) error
	HandleLedgerMutated(ctx context.Context, evt LedgerMutatedEvent) error
}
