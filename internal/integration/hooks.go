package integration

import (
	"context"
	"log/slog"

	"github.com/warp/resource-engine/internal/inventory"
	"github.com/warp/resource-engine/internal/observability"
)

// Hooks fans inventory events out to the replay cache and metrics. It
// keeps the ledger service free of reporting concerns.
type Hooks struct {
	cache   *inventory.ReportCache
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewHooks constructs Hooks. Nil collaborators are skipped.
func NewHooks(cache *inventory.ReportCache, metrics *observability.Metrics, logger *slog.Logger) *Hooks {
	return &Hooks{cache: cache, metrics: metrics, logger: logger}
}

// HandleIssueApproved logs the approval for downstream consumers.
func (h *Hooks) HandleIssueApproved(ctx context.Context, evt inventory.IssueApprovedEvent) error {
	if h.logger != nil {
		h.logger.Info("issue approved",
			slog.String("number", evt.Number),
			slog.String("item_code", evt.ItemCode),
			slog.Float64("qty", evt.Qty),
			slog.Float64("unit_cost", evt.UnitCost))
	}
	return nil
}

// HandleReceiptPosted logs the posting for downstream consumers.
func (h *Hooks) HandleReceiptPosted(ctx context.Context, evt inventory.ReceiptPostedEvent) error {
	if h.logger != nil {
		h.logger.Info("receipt posted",
			slog.String("number", evt.Number),
			slog.String("item_code", evt.ItemCode),
			slog.Float64("landed_amount", evt.LandedAmount))
	}
	return nil
}

// HandleLedgerMutated invalidates cached replay reports for the item and
// counts the operation.
func (h *Hooks) HandleLedgerMutated(ctx context.Context, evt inventory.LedgerMutatedEvent) error {
	if h.cache != nil {
		h.cache.Invalidate(ctx, evt.ItemCode)
	}
	if h.metrics != nil {
		h.metrics.ObserveLedgerOp(evt.Operation)
	}
	return nil
}
