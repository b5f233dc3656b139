package inventory

import (
	"fmt"
	"time"

	"github.com/warp/resource-engine/internal/shared"
)

// ApprovalStatus tracks the lifecycle of ledger transactions.
type ApprovalStatus string

const (
	// StatusPending marks a transaction awaiting approval.
	StatusPending ApprovalStatus = "PENDING"
	// StatusApproved marks a transaction that is the value of record.
	StatusApproved ApprovalStatus = "APPROVED"
)

// StockItem is the authoritative quantity record per item code.
// Balance always equals opening quantity plus approved receipts minus
// issues; issues subtract at creation already (optimistic debit).
type StockItem struct {
	Code          string
	Unit          string
	OpeningQty    float64
	OpeningAmount float64
	OpeningDate   time.Time
	Balance       float64
}

// IssueTransaction models one outgoing movement. UnitCost is fixed when
// the transaction is created and never rewritten; BalanceAfter is the
// snapshot maintained by the reconciler.
type IssueTransaction struct {
	ID           int64
	Number       string
	ItemCode     string
	Date         time.Time
	Qty          float64
	UnitCost     float64
	BalanceAfter float64
	Status       ApprovalStatus
	Reference    string
	CreatedAt    time.Time
}

// ReceiptTransaction models one incoming delivery line. It stays out of
// the ledger balance and out of costing until its landed-cost line is
// attached and the document approved.
type ReceiptTransaction struct {
	ID           int64
	Number       string
	ItemCode     string
	Date         time.Time
	Qty          float64
	LandedAmount float64
	CostLineID   int64
	Status       ApprovalStatus
	Reference    string
	CreatedAt    time.Time
}

// MovementKind classifies replayed ledger movements.
type MovementKind string

const (
	// MovementReceipt is an inbound movement.
	MovementReceipt MovementKind = "RECEIPT"
	// MovementIssue is an outbound movement fully covered by stock on hand.
	MovementIssue MovementKind = "ISSUE"
	// MovementIssuePartial covers only part of an issue; the remainder is deferred.
	MovementIssuePartial MovementKind = "ISSUE_PARTIAL"
	// MovementIssueBackfilled settles deferred demand out of a later receipt.
	MovementIssueBackfilled MovementKind = "ISSUE_BACKFILLED"
)

// Movement is one row of a replayed ledger report.
type Movement struct {
	Kind         MovementKind
	Date         time.Time
	Qty          float64
	UnitCost     float64
	BalanceAfter float64
	Reference    string
}

// CostTotals aggregates approved landed-cost history for an item.
type CostTotals struct {
	Amount float64
	Qty    float64
}

var (
	// ErrItemNotFound indicates a missing stock item.
	ErrItemNotFound = fmt.Errorf("inventory: item %w", shared.ErrNotFound)
	// ErrTxNotFound indicates a missing transaction.
	ErrTxNotFound = fmt.Errorf("inventory: transaction %w", shared.ErrNotFound)
	// ErrInvalidQuantity indicates a non-positive quantity.
	ErrInvalidQuantity = fmt.Errorf("inventory: quantity must be positive: %w", shared.ErrInvalidInput)
	// ErrAlreadyApproved indicates an approval against a finalised transaction.
	ErrAlreadyApproved = fmt.Errorf("inventory: transaction already approved: %w", shared.ErrStateConflict)
	// ErrReceiptAttached indicates a receipt already bound to a cost line.
	ErrReceiptAttached = fmt.Errorf("inventory: receipt already attached to a cost line: %w", shared.ErrStateConflict)
)
