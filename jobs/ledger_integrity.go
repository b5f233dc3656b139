package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/warp/resource-engine/internal/inventory"
)

// BalanceChecker recomputes stored balances and reports drifted items.
type BalanceChecker interface {
	VerifyBalances(ctx context.Context) ([]inventory.BalanceDrift, error)
}

// DriftSink receives the drifted-item count after each run.
type DriftSink interface {
	SetBalanceDrift(count int)
}

// NewLedgerIntegrityHandler builds the handler for TaskLedgerIntegrity.
// Drift is logged and published, never repaired: a drifted balance means
// a bug or manual interference, and repair would hide it.
func NewLedgerIntegrityHandler(checker BalanceChecker, sink DriftSink, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		started := time.Now()
		drifts, err := checker.VerifyBalances(ctx)
		if err != nil {
			logger.Error("ledger integrity check failed", slog.Any("error", err))
			return err
		}
		if sink != nil {
			sink.SetBalanceDrift(len(drifts))
		}
		for _, d := range drifts {
			logger.Warn("ledger balance drift",
				slog.String("item_code", d.ItemCode),
				slog.Float64("stored", d.Stored),
				slog.Float64("computed", d.Computed))
		}
		logger.Info("ledger integrity check done",
			slog.Int("drifted", len(drifts)),
			slog.Duration("took", time.Since(started)))
		return nil
	}
}

// ReplaySource lists items and replays their movement history.
type ReplaySource interface {
	ListItems(ctx context.Context) ([]string, error)
	ReplayLedger(ctx context.Context, itemCode string, from, to time.Time) ([]inventory.Movement, error)
}

// NewReplayWarmupHandler builds the handler for TaskReplayWarmup.
func NewReplayWarmupHandler(source ReplaySource, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ReplayWarmupPayload
		if len(t.Payload()) > 0 {
			if err := json.Unmarshal(t.Payload(), &payload); err != nil {
				return asynq.SkipRetry
			}
		}
		codes := []string{payload.ItemCode}
		if payload.ItemCode == "" {
			all, err := source.ListItems(ctx)
			if err != nil {
				return err
			}
			codes = all
		}
		for _, code := range codes {
			if _, err := source.ReplayLedger(ctx, code, time.Time{}, time.Time{}); err != nil {
				logger.Warn("replay warmup", slog.String("item_code", code), slog.Any("error", err))
			}
		}
		return nil
	}
}
