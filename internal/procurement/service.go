package procurement

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/resource-engine/internal/inventory"
	"github.com/warp/resource-engine/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetDocument(ctx context.Context, id int64) (LandedCostDocument, []LandedCostLine, error)
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	InsertDocument(ctx context.Context, doc LandedCostDocument) (int64, error)
	InsertLine(ctx context.Context, line LandedCostLine) (int64, error)
	GetDocumentForUpdate(ctx context.Context, id int64) (LandedCostDocument, error)
	UpdateLineTotals(ctx context.Context, line LandedCostLine) error
	SetDocumentStatus(ctx context.Context, id int64, status DocStatus) error
	DeleteLines(ctx context.Context, docID int64) error
	NextSequence(ctx context.Context, prefix string) (int64, error)
}

// InventoryPort exposes the required inventory integration.
type InventoryPort interface {
	GetReceipt(ctx context.Context, id int64) (inventory.ReceiptTransaction, error)
	AttachReceipt(ctx context.Context, receiptID, costLineID int64) error
	PostReceipt(ctx context.Context, input inventory.PostReceiptInput) (inventory.ReceiptTransaction, error)
	DetachReceipt(ctx context.Context, receiptID int64, actorID int64) error
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ApprovalPort records approval history.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
}

// Service orchestrates the landed-cost document lifecycle. Document
// approval is atomic per item, not per document: each line posts to the
// ledger in its own unit of work, matching the engine's concurrency
// contract.
type Service struct {
	repo      RepositoryPort
	inventory InventoryPort
	approvals ApprovalPort
	audit     AuditPort
}

// NewService constructs procurement service.
func NewService(repo RepositoryPort, inv InventoryPort, approvals ApprovalPort, audit AuditPort) *Service {
	return &Service{repo: repo, inventory: inv, approvals: approvals, audit: audit}
}

// LineInput describes one document line at creation.
type LineInput struct {
	ReceiptID     int64
	UnitPrice     float64
	CustomsCharge float64
	VATApplicable bool
}

// CreateDocumentInput describes a landed-cost document.
type CreateDocumentInput struct {
	Currency             string
	ExchangeRate         float64
	FreightCharge        float64
	CustomsServiceCharge float64
	VATRate              float64
	Lines                []LineInput
	ActorID              int64
}

// CreateDocument persists the document with allocation already run, in
// PENDING state, and attaches each referenced receipt to its line.
func (s *Service) CreateDocument(ctx context.Context, input CreateDocumentInput) (LandedCostDocument, []LandedCostLine, error) {
	if len(input.Lines) == 0 {
		return LandedCostDocument{}, nil, ErrEmptyDocument
	}
	doc := LandedCostDocument{
		Currency:             input.Currency,
		ExchangeRate:         input.ExchangeRate,
		FreightCharge:        input.FreightCharge,
		CustomsServiceCharge: input.CustomsServiceCharge,
		VATRate:              input.VATRate,
		Status:               DocStatusPending,
	}

	lines := make([]LandedCostLine, 0, len(input.Lines))
	for _, li := range input.Lines {
		receipt, err := s.inventory.GetReceipt(ctx, li.ReceiptID)
		if err != nil {
			return LandedCostDocument{}, nil, err
		}
		if receipt.Status == inventory.StatusApproved || receipt.CostLineID != 0 {
			return LandedCostDocument{}, nil, inventory.ErrReceiptAttached
		}
		lines = append(lines, LandedCostLine{
			ReceiptID:     li.ReceiptID,
			ItemCode:      receipt.ItemCode,
			Qty:           receipt.Qty,
			UnitPrice:     li.UnitPrice,
			CustomsCharge: li.CustomsCharge,
			VATApplicable: li.VATApplicable,
		})
	}

	allocated, err := Allocate(doc, lines)
	if err != nil {
		return LandedCostDocument{}, nil, err
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		seq, err := tx.NextSequence(ctx, "LCD")
		if err != nil {
			return err
		}
		doc.Number = shared.FiscalYearOf(time.Now().UTC()).Reference("LCD", seq)
		docID, err := tx.InsertDocument(ctx, doc)
		if err != nil {
			return err
		}
		doc.ID = docID
		for i := range allocated {
			allocated[i].DocumentID = docID
			lineID, err := tx.InsertLine(ctx, allocated[i])
			if err != nil {
				return err
			}
			allocated[i].ID = lineID
		}
		return nil
	})
	if err != nil {
		return LandedCostDocument{}, nil, err
	}

	for _, line := range allocated {
		if err := s.inventory.AttachReceipt(ctx, line.ReceiptID, line.ID); err != nil {
			return LandedCostDocument{}, nil, err
		}
	}

	s.recordAudit(ctx, input.ActorID, "landed_cost:create", doc.Number, map[string]any{
		"currency": doc.Currency,
		"lines":    len(allocated),
	})
	return doc, allocated, nil
}

// GetDocument returns a document with its lines.
func (s *Service) GetDocument(ctx context.Context, id int64) (LandedCostDocument, []LandedCostLine, error) {
	return s.repo.GetDocument(ctx, id)
}

// Reallocate re-runs allocation on an unapproved document. With
// unchanged inputs the persisted per-line totals come out identical.
func (s *Service) Reallocate(ctx context.Context, id int64) ([]LandedCostLine, error) {
	doc, lines, err := s.repo.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.Status == DocStatusApproved {
		return nil, ErrAlreadyApproved
	}
	allocated, err := Allocate(doc, lines)
	if err != nil {
		return nil, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, line := range allocated {
			if err := tx.UpdateLineTotals(ctx, line); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return allocated, nil
}

// ApproveDocument finalises allocation and posts every line into the
// ledger: each receipt is credited and its landed total becomes part of
// the item's cost history.
func (s *Service) ApproveDocument(ctx context.Context, id int64, actorID int64) (LandedCostDocument, error) {
	doc, lines, err := s.repo.GetDocument(ctx, id)
	if err != nil {
		return LandedCostDocument{}, err
	}
	if doc.Status == DocStatusApproved {
		return LandedCostDocument{}, ErrAlreadyApproved
	}
	if len(lines) == 0 {
		return LandedCostDocument{}, ErrEmptyDocument
	}
	allocated, err := Allocate(doc, lines)
	if err != nil {
		return LandedCostDocument{}, err
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetDocumentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if current.Status == DocStatusApproved {
			return ErrAlreadyApproved
		}
		for _, line := range allocated {
			if err := tx.UpdateLineTotals(ctx, line); err != nil {
				return err
			}
		}
		return tx.SetDocumentStatus(ctx, id, DocStatusApproved)
	})
	if err != nil {
		return LandedCostDocument{}, err
	}
	doc.Status = DocStatusApproved

	for _, line := range allocated {
		_, err := s.inventory.PostReceipt(ctx, inventory.PostReceiptInput{
			ReceiptID:    line.ReceiptID,
			LandedAmount: line.TotalAmount,
			CostLineID:   line.ID,
			ActorID:      actorID,
		})
		if err != nil {
			return LandedCostDocument{}, fmt.Errorf("procurement: post line %d: %w", line.ID, err)
		}
	}

	s.recordApproval(ctx, actorID, shared.ApprovalApprove, doc.Number)
	s.recordAudit(ctx, actorID, "landed_cost:approve", doc.Number, map[string]any{
		"lines": len(allocated),
	})
	return doc, nil
}

// RejectDocument detaches every line and marks the document rejected.
// Approved documents are final and cannot be rejected.
func (s *Service) RejectDocument(ctx context.Context, id int64, actorID int64) error {
	doc, lines, err := s.repo.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	if doc.Status == DocStatusApproved {
		return ErrAlreadyApproved
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.DeleteLines(ctx, id); err != nil {
			return err
		}
		return tx.SetDocumentStatus(ctx, id, DocStatusRejected)
	})
	if err != nil {
		return err
	}

	for _, line := range lines {
		if err := s.inventory.DetachReceipt(ctx, line.ReceiptID, actorID); err != nil {
			return err
		}
	}

	s.recordApproval(ctx, actorID, shared.ApprovalReject, doc.Number)
	s.recordAudit(ctx, actorID, "landed_cost:reject", doc.Number, map[string]any{
		"lines": len(lines),
	})
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "landed_cost_doc",
		EntityID: entityID,
		Meta:     meta,
	})
}

func (s *Service) recordApproval(ctx context.Context, actorID int64, action shared.ApprovalAction, refID string) {
	if s.approvals == nil {
		return
	}
	_ = s.approvals.Record(ctx, shared.ApprovalLog{
		Module:  "procurement",
		RefID:   refID,
		ActorID: actorID,
		Action:  action,
	})
}
