package procurement

import (
	"fmt"
	"time"

	"github.com/warp/resource-engine/internal/shared"
)

// Landed-cost document lifecycle statuses.
type DocStatus string

const (
	// DocStatusPending marks a document allocated and awaiting approval.
	DocStatusPending DocStatus = "PENDING"
	// DocStatusApproved marks a document whose lines are costed into the ledger.
	DocStatusApproved DocStatus = "APPROVED"
	// DocStatusRejected marks a rejected document; its lines are detached.
	DocStatusRejected DocStatus = "REJECTED"
)

// LandedCostDocument covers one purchase document spanning one or more
// receipt transactions. Freight and the customs service charge are
// document-level aggregates distributed across lines by price share;
// the customs service charge is entered directly in base currency and
// never exchange-adjusted.
type LandedCostDocument struct {
	ID                   int64
	Number               string
	Currency             string
	ExchangeRate         float64
	FreightCharge        float64
	CustomsServiceCharge float64
	VATRate              float64
	Status               DocStatus
	CreatedAt            time.Time
}

// LandedCostLine carries one receipt's declared price and its computed
// landed total. Lines stay mutable until the document is approved.
type LandedCostLine struct {
	ID            int64
	DocumentID    int64
	ReceiptID     int64
	ItemCode      string
	Qty           float64
	UnitPrice     float64
	CustomsCharge float64
	VATApplicable bool

	ConvertedPrice          float64
	AllocatedFreight        float64
	AllocatedCustomsService float64
	VATAmount               float64
	TotalAmount             float64
}

var (
	// ErrDocNotFound indicates a missing landed-cost document.
	ErrDocNotFound = fmt.Errorf("procurement: document %w", shared.ErrNotFound)
	// ErrAlreadyApproved indicates an action against an approved document.
	ErrAlreadyApproved = fmt.Errorf("procurement: document already approved: %w", shared.ErrStateConflict)
	// ErrEmptyDocument indicates a document without lines.
	ErrEmptyDocument = fmt.Errorf("procurement: document has no lines: %w", shared.ErrInvalidInput)
	// ErrInvalidCharge indicates missing or negative charge fields.
	ErrInvalidCharge = fmt.Errorf("procurement: invalid charge: %w", shared.ErrInvalidInput)
)
