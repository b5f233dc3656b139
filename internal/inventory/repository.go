package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/warp/resource-engine/internal/platform/db"
	"github.com/warp/resource-engine/internal/shared"
)

// Repository persists ledger data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const itemColumns = `code, unit, opening_qty, opening_amount, opening_date, balance`

// GetItem returns the current item record.
func (r *Repository) GetItem(ctx context.Context, code string) (StockItem, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM stock_items WHERE code=$1`, code)
	return scanItem(row)
}

const issueColumns = `id, number, item_code, tx_date, qty, unit_cost, balance_after, status, reference, created_at`

// GetIssue returns an issue transaction by id.
func (r *Repository) GetIssue(ctx context.Context, id int64) (IssueTransaction, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+issueColumns+` FROM issue_transactions WHERE id=$1`, id)
	return scanIssue(row)
}

const receiptColumns = `id, number, item_code, tx_date, qty, landed_amount, cost_line_id, status, reference, created_at`

// GetReceipt returns a receipt transaction by id.
func (r *Repository) GetReceipt(ctx context.Context, id int64) (ReceiptTransaction, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+receiptColumns+` FROM receipt_transactions WHERE id=$1`, id)
	return scanReceipt(row)
}

// GetReplaySource reads the item and its approved movements in one
// repeatable-read transaction so the replay engine never observes a
// partially applied reconciliation.
func (r *Repository) GetReplaySource(ctx context.Context, code string) (ReplaySource, error) {
	var src ReplaySource
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM stock_items WHERE code=$1`, code)
		item, err := scanItem(row)
		if err != nil {
			return err
		}
		src.Item = item

		rows, err := tx.Query(ctx, `SELECT `+receiptColumns+` FROM receipt_transactions
WHERE item_code=$1 AND status=$2 ORDER BY tx_date, id`, code, string(StatusApproved))
		if err != nil {
			return storage("list receipts", err)
		}
		defer rows.Close()
		for rows.Next() {
			receipt, err := scanReceipt(rows)
			if err != nil {
				return err
			}
			src.Receipts = append(src.Receipts, receipt)
		}
		if err := rows.Err(); err != nil {
			return storage("list receipts", err)
		}

		issueRows, err := tx.Query(ctx, `SELECT `+issueColumns+` FROM issue_transactions
WHERE item_code=$1 AND status=$2 ORDER BY tx_date, id`, code, string(StatusApproved))
		if err != nil {
			return storage("list issues", err)
		}
		defer issueRows.Close()
		for issueRows.Next() {
			issue, err := scanIssue(issueRows)
			if err != nil {
				return err
			}
			src.Issues = append(src.Issues, issue)
		}
		return issueRows.Err()
	})
	if err != nil {
		return ReplaySource{}, err
	}
	return src, nil
}

// ListItemCodes returns every registered item code.
func (r *Repository) ListItemCodes(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT code FROM stock_items ORDER BY code`)
	if err != nil {
		return nil, storage("list item codes", err)
	}
	defer rows.Close()
	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, storage("scan item code", err)
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

type txRepo struct {
	tx pgx.Tx
}

func (r *txRepo) GetItemForUpdate(ctx context.Context, code string) (StockItem, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM stock_items WHERE code=$1 FOR UPDATE`, code)
	return scanItem(row)
}

func (r *txRepo) InsertItem(ctx context.Context, item StockItem) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_items (code, unit, opening_qty, opening_amount, opening_date, balance)
VALUES ($1, $2, $3, $4, $5, $6)`,
		item.Code, item.Unit, item.OpeningQty, item.OpeningAmount, item.OpeningDate, item.Balance)
	if err != nil {
		return storage("insert item", err)
	}
	return nil
}

func (r *txRepo) UpdateItemBalance(ctx context.Context, code string, balance float64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE stock_items SET balance=$2 WHERE code=$1`, code, balance)
	if err != nil {
		return storage("update balance", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (r *txRepo) InsertIssue(ctx context.Context, issue IssueTransaction) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO issue_transactions (number, item_code, tx_date, qty, unit_cost, balance_after, status, reference, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW()) RETURNING id`,
		issue.Number, issue.ItemCode, issue.Date, issue.Qty, issue.UnitCost, issue.BalanceAfter, string(issue.Status), issue.Reference).Scan(&id)
	if err != nil {
		return 0, storage("insert issue", err)
	}
	return id, nil
}

func (r *txRepo) GetIssueForUpdate(ctx context.Context, id int64) (IssueTransaction, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+issueColumns+` FROM issue_transactions WHERE id=$1 FOR UPDATE`, id)
	return scanIssue(row)
}

func (r *txRepo) ListIssues(ctx context.Context, code string) ([]IssueTransaction, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+issueColumns+` FROM issue_transactions WHERE item_code=$1 ORDER BY tx_date, id`, code)
	if err != nil {
		return nil, storage("list issues", err)
	}
	defer rows.Close()
	var issues []IssueTransaction
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

func (r *txRepo) UpdateSnapshots(ctx context.Context, updates []Snapshot) error {
	for _, u := range updates {
		if _, err := r.tx.Exec(ctx, `UPDATE issue_transactions SET balance_after=$2 WHERE id=$1`, u.ID, u.BalanceAfter); err != nil {
			return storage("update snapshot", err)
		}
	}
	return nil
}

func (r *txRepo) SetIssueStatus(ctx context.Context, id int64, status ApprovalStatus) error {
	tag, err := r.tx.Exec(ctx, `UPDATE issue_transactions SET status=$2 WHERE id=$1`, id, string(status))
	if err != nil {
		return storage("set issue status", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTxNotFound
	}
	return nil
}

func (r *txRepo) DeleteIssue(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM issue_transactions WHERE id=$1`, id)
	if err != nil {
		return storage("delete issue", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTxNotFound
	}
	return nil
}

func (r *txRepo) InsertReceipt(ctx context.Context, receipt ReceiptTransaction) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO receipt_transactions (number, item_code, tx_date, qty, landed_amount, cost_line_id, status, reference, created_at)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, 0), $7, $8, NOW()) RETURNING id`,
		receipt.Number, receipt.ItemCode, receipt.Date, receipt.Qty, receipt.LandedAmount, receipt.CostLineID, string(receipt.Status), receipt.Reference).Scan(&id)
	if err != nil {
		return 0, storage("insert receipt", err)
	}
	return id, nil
}

func (r *txRepo) GetReceiptForUpdate(ctx context.Context, id int64) (ReceiptTransaction, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+receiptColumns+` FROM receipt_transactions WHERE id=$1 FOR UPDATE`, id)
	return scanReceipt(row)
}

func (r *txRepo) MarkReceiptPosted(ctx context.Context, id int64, landedAmount float64, costLineID int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE receipt_transactions SET status=$2, landed_amount=$3, cost_line_id=$4 WHERE id=$1`,
		id, string(StatusApproved), landedAmount, costLineID)
	if err != nil {
		return storage("mark receipt posted", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTxNotFound
	}
	return nil
}

func (r *txRepo) AttachReceipt(ctx context.Context, id int64, costLineID int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE receipt_transactions SET cost_line_id=$2 WHERE id=$1 AND cost_line_id IS NULL`, id, costLineID)
	if err != nil {
		return storage("attach receipt", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrReceiptAttached
	}
	return nil
}

func (r *txRepo) DetachReceipt(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE receipt_transactions SET cost_line_id=NULL, landed_amount=0 WHERE id=$1`, id)
	if err != nil {
		return storage("detach receipt", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTxNotFound
	}
	return nil
}

func (r *txRepo) GetCostTotals(ctx context.Context, code string) (CostTotals, error) {
	var totals CostTotals
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(landed_amount), 0), COALESCE(SUM(qty), 0)
FROM receipt_transactions WHERE item_code=$1 AND status=$2 AND cost_line_id IS NOT NULL`,
		code, string(StatusApproved)).Scan(&totals.Amount, &totals.Qty)
	if err != nil {
		return CostTotals{}, storage("cost totals", err)
	}
	return totals, nil
}

func (r *txRepo) GetMovementTotals(ctx context.Context, code string) (float64, float64, error) {
	var receiptQty, issueQty float64
	err := r.tx.QueryRow(ctx, `SELECT
	COALESCE((SELECT SUM(qty) FROM receipt_transactions WHERE item_code=$1 AND status=$2), 0),
	COALESCE((SELECT SUM(qty) FROM issue_transactions WHERE item_code=$1), 0)`,
		code, string(StatusApproved)).Scan(&receiptQty, &issueQty)
	if err != nil {
		return 0, 0, storage("movement totals", err)
	}
	return receiptQty, issueQty, nil
}

func (r *txRepo) NextSequence(ctx context.Context, prefix string) (int64, error) {
	var value int64
	err := r.tx.QueryRow(ctx, `INSERT INTO ref_sequences (prefix, value) VALUES ($1, 1)
ON CONFLICT (prefix) DO UPDATE SET value = ref_sequences.value + 1 RETURNING value`, prefix).Scan(&value)
	if err != nil {
		return 0, storage("next sequence", err)
	}
	return value, nil
}

func scanItem(row pgx.Row) (StockItem, error) {
	var item StockItem
	err := row.Scan(&item.Code, &item.Unit, &item.OpeningQty, &item.OpeningAmount, &item.OpeningDate, &item.Balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockItem{}, ErrItemNotFound
		}
		return StockItem{}, storage("scan item", err)
	}
	return item, nil
}

func scanIssue(row pgx.Row) (IssueTransaction, error) {
	var issue IssueTransaction
	var status string
	err := row.Scan(&issue.ID, &issue.Number, &issue.ItemCode, &issue.Date, &issue.Qty, &issue.UnitCost,
		&issue.BalanceAfter, &status, &issue.Reference, &issue.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return IssueTransaction{}, ErrTxNotFound
		}
		return IssueTransaction{}, storage("scan issue", err)
	}
	issue.Status = ApprovalStatus(status)
	return issue, nil
}

func scanReceipt(row pgx.Row) (ReceiptTransaction, error) {
	var receipt ReceiptTransaction
	var status string
	var costLineID *int64
	var landedAmount *float64
	err := row.Scan(&receipt.ID, &receipt.Number, &receipt.ItemCode, &receipt.Date, &receipt.Qty, &landedAmount,
		&costLineID, &status, &receipt.Reference, &receipt.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ReceiptTransaction{}, ErrTxNotFound
		}
		return ReceiptTransaction{}, storage("scan receipt", err)
	}
	receipt.Status = ApprovalStatus(status)
	if costLineID != nil {
		receipt.CostLineID = *costLineID
	}
	if landedAmount != nil {
		receipt.LandedAmount = *landedAmount
	}
	return receipt, nil
}

func storage(op string, err error) error {
	return fmt.Errorf("inventory: %s: %v: %w", op, err, shared.ErrStorageFailure)
}
