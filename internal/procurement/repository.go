package procurement

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/warp/resource-engine/internal/platform/db"
	"github.com/warp/resource-engine/internal/shared"
)

// Repository persists landed-cost documents in PostgreSQL.
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

const docColumns = `id, number, currency, exchange_rate, freight_charge, customs_service_charge, vat_rate, status, created_at`

const lineColumns = `id, document_id, receipt_id, item_code, qty, unit_price, customs_charge, vat_applicable,
converted_price, allocated_freight, allocated_customs_service, vat_amount, total_amount`

// GetDocument returns a document with its lines, ordered by line id.
func (r *Repository) GetDocument(ctx context.Context, id int64) (LandedCostDocument, []LandedCostLine, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+docColumns+` FROM landed_cost_documents WHERE id=$1`, id)
	doc, err := scanDocument(row)
	if err != nil {
		return LandedCostDocument{}, nil, err
	}

	rows, err := r.pool.Query(ctx, `SELECT `+lineColumns+` FROM landed_cost_lines WHERE document_id=$1 ORDER BY id`, id)
	if err != nil {
		return LandedCostDocument{}, nil, storage("list lines", err)
	}
	defer rows.Close()
	var lines []LandedCostLine
	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return LandedCostDocument{}, nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return LandedCostDocument{}, nil, storage("list lines", err)
	}
	return doc, lines, nil
}

type txRepo struct {
	tx pgx.Tx
}

func (r *txRepo) InsertDocument(ctx context.Context, doc LandedCostDocument) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO landed_cost_documents
(number, currency, exchange_rate, freight_charge, customs_service_charge, vat_rate, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, NOW()) RETURNING id`,
		doc.Number, doc.Currency, doc.ExchangeRate, doc.FreightCharge, doc.CustomsServiceCharge,
		doc.VATRate, string(doc.Status)).Scan(&id)
	if err != nil {
		return 0, storage("insert document", err)
	}
	return id, nil
}

func (r *txRepo) InsertLine(ctx context.Context, line LandedCostLine) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO landed_cost_lines
(document_id, receipt_id, item_code, qty, unit_price, customs_charge, vat_applicable,
 converted_price, allocated_freight, allocated_customs_service, vat_amount, total_amount)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING id`,
		line.DocumentID, line.ReceiptID, line.ItemCode, line.Qty, line.UnitPrice, line.CustomsCharge,
		line.VATApplicable, line.ConvertedPrice, line.AllocatedFreight, line.AllocatedCustomsService,
		line.VATAmount, line.TotalAmount).Scan(&id)
	if err != nil {
		return 0, storage("insert line", err)
	}
	return id, nil
}

func (r *txRepo) GetDocumentForUpdate(ctx context.Context, id int64) (LandedCostDocument, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+docColumns+` FROM landed_cost_documents WHERE id=$1 FOR UPDATE`, id)
	return scanDocument(row)
}

func (r *txRepo) UpdateLineTotals(ctx context.Context, line LandedCostLine) error {
	tag, err := r.tx.Exec(ctx, `UPDATE landed_cost_lines
SET converted_price=$2, allocated_freight=$3, allocated_customs_service=$4, vat_amount=$5, total_amount=$6
WHERE id=$1`,
		line.ID, line.ConvertedPrice, line.AllocatedFreight, line.AllocatedCustomsService, line.VATAmount, line.TotalAmount)
	if err != nil {
		return storage("update line totals", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDocNotFound
	}
	return nil
}

func (r *txRepo) SetDocumentStatus(ctx context.Context, id int64, status DocStatus) error {
	tag, err := r.tx.Exec(ctx, `UPDATE landed_cost_documents SET status=$2 WHERE id=$1`, id, string(status))
	if err != nil {
		return storage("set document status", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDocNotFound
	}
	return nil
}

func (r *txRepo) DeleteLines(ctx context.Context, docID int64) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM landed_cost_lines WHERE document_id=$1`, docID); err != nil {
		return storage("delete lines", err)
	}
	return nil
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

func scanDocument(row pgx.Row) (LandedCostDocument, error) {
	var doc LandedCostDocument
	var status string
	err := row.Scan(&doc.ID, &doc.Number, &doc.Currency, &doc.ExchangeRate, &doc.FreightCharge,
		&doc.CustomsServiceCharge, &doc.VATRate, &status, &doc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LandedCostDocument{}, ErrDocNotFound
		}
		return LandedCostDocument{}, storage("scan document", err)
	}
	doc.Status = DocStatus(status)
	return doc, nil
}

func scanLine(row pgx.Row) (LandedCostLine, error) {
	var line LandedCostLine
	err := row.Scan(&line.ID, &line.DocumentID, &line.ReceiptID, &line.ItemCode, &line.Qty, &line.UnitPrice,
		&line.CustomsCharge, &line.VATApplicable, &line.ConvertedPrice, &line.AllocatedFreight,
		&line.AllocatedCustomsService, &line.VATAmount, &line.TotalAmount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LandedCostLine{}, ErrDocNotFound
		}
		return LandedCostLine{}, storage("scan line", err)
	}
	return line, nil
}

func storage(op string, err error) error {
	return fmt.Errorf("procurement: %s: %v: %w", op, err, shared.ErrStorageFailure)
}
