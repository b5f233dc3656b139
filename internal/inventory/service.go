package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/warp/resource-engine/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetItem(ctx context.Context, code string) (StockItem, error)
	GetIssue(ctx context.Context, id int64) (IssueTransaction, error)
	GetReceipt(ctx context.Context, id int64) (ReceiptTransaction, error)
	GetReplaySource(ctx context.Context, code string) (ReplaySource, error)
	ListItemCodes(ctx context.Context) ([]string, error)
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	GetItemForUpdate(ctx context.Context, code string) (StockItem, error)
	InsertItem(ctx context.Context, item StockItem) error
	UpdateItemBalance(ctx context.Context, code string, balance float64) error
	InsertIssue(ctx context.Context, tx IssueTransaction) (int64, error)
	GetIssueForUpdate(ctx context.Context, id int64) (IssueTransaction, error)
	ListIssues(ctx context.Context, code string) ([]IssueTransaction, error)
	UpdateSnapshots(ctx context.Context, updates []Snapshot) error
	SetIssueStatus(ctx context.Context, id int64, status ApprovalStatus) error
	DeleteIssue(ctx context.Context, id int64) error
	InsertReceipt(ctx context.Context, tx ReceiptTransaction) (int64, error)
	GetReceiptForUpdate(ctx context.Context, id int64) (ReceiptTransaction, error)
	MarkReceiptPosted(ctx context.Context, id int64, landedAmount float64, costLineID int64) error
	AttachReceipt(ctx context.Context, id int64, costLineID int64) error
	DetachReceipt(ctx context.Context, id int64) error
	GetCostTotals(ctx context.Context, code string) (CostTotals, error)
	GetMovementTotals(ctx context.Context, code string) (receiptQty, issueQty float64, err error)
	NextSequence(ctx context.Context, prefix string) (int64, error)
}

// ReplaySource is the consistent snapshot the replay engine works from:
// the item plus its approved movements, read in one transaction.
type ReplaySource struct {
	Item     StockItem
	Receipts []ReceiptTransaction
	Issues   []IssueTransaction
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ApprovalPort records approval history.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
}

// Service coordinates ledger operations. Every mutation locks the item
// code for its full read-compute-persist span; operations on distinct
// items run concurrently.
type Service struct {
	repo        RepositoryPort
	locks       *shared.KeyedMutex
	audit       AuditPort
	approvals   ApprovalPort
	idempotency *shared.IdempotencyStore
	integration IntegrationHandler
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, approvals ApprovalPort, idem *shared.IdempotencyStore, integration IntegrationHandler) *Service {
	return &Service{
		repo:        repo,
		locks:       shared.NewKeyedMutex(),
		audit:       audit,
		approvals:   approvals,
		idempotency: idem,
		integration: integration,
	}
}

// EnsureItemInput describes item registration on first reference.
type EnsureItemInput struct {
	Code          string
	Unit          string
	OpeningQty    float64
	OpeningAmount float64
	OpeningDate   time.Time
	ActorID       int64
}

// EnsureItem returns the stock item for code, creating it with the given
// opening balance when first referenced. Existing items are returned
// unchanged; opening values are immutable after creation.
func (s *Service) EnsureItem(ctx context.Context, input EnsureItemInput) (StockItem, error) {
	if input.Code == "" {
		return StockItem{}, fmt.Errorf("inventory: item code required: %w", shared.ErrInvalidInput)
	}
	if input.OpeningQty < 0 || input.OpeningAmount < 0 {
		return StockItem{}, fmt.Errorf("inventory: opening values must not be negative: %w", shared.ErrInvalidInput)
	}
	unlock := s.locks.Lock(input.Code)
	defer unlock()

	var item StockItem
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.GetItemForUpdate(ctx, input.Code)
		if err == nil {
			item = existing
			return nil
		}
		if !errors.Is(err, ErrItemNotFound) {
			return err
		}
		item = StockItem{
			Code:          input.Code,
			Unit:          input.Unit,
			OpeningQty:    input.OpeningQty,
			OpeningAmount: input.OpeningAmount,
			OpeningDate:   input.OpeningDate,
			Balance:       input.OpeningQty,
		}
		return tx.InsertItem(ctx, item)
	})
	if err != nil {
		return StockItem{}, err
	}
	return item, nil
}

// GetItem returns the current item record.
func (s *Service) GetItem(ctx context.Context, code string) (StockItem, error) {
	return s.repo.GetItem(ctx, code)
}

// CreateIssueInput describes an outgoing movement request.
type CreateIssueInput struct {
	ItemCode  string
	Date      time.Time
	Qty       float64
	Reference string
	ActorID   int64
}

// IssueResult is returned on issue creation.
type IssueResult struct {
	TransactionID int64
	Number        string
	UnitCost      float64
	BalanceAfter  float64
}

// CreateIssue records a pending issue: it fixes the unit cost from the
// cost engine, debits the ledger optimistically and gives the new
// transaction a coherent balance-after snapshot, cascading later ones.
func (s *Service) CreateIssue(ctx context.Context, input CreateIssueInput) (IssueResult, error) {
	if input.ItemCode == "" {
		return IssueResult{}, fmt.Errorf("inventory: item code required: %w", shared.ErrInvalidInput)
	}
	if input.Qty <= 0 {
		return IssueResult{}, ErrInvalidQuantity
	}
	date := input.Date
	if date.IsZero() {
		date = time.Now().UTC()
	}
	// References are opaque ids owned by the caller; only absent ones
	// get generated here.
	reference := input.Reference
	if reference == "" {
		reference = uuid.NewString()
	}

	key := fmt.Sprintf("issue:%s", reference)
	insertedKey := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "inventory"); err != nil {
			return IssueResult{}, err
		}
		insertedKey = true
	}

	unlock := s.locks.Lock(input.ItemCode)
	defer unlock()

	var result IssueResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err := tx.GetItemForUpdate(ctx, input.ItemCode)
		if err != nil {
			return err
		}
		totals, err := tx.GetCostTotals(ctx, input.ItemCode)
		if err != nil {
			return err
		}
		unitCost := UnitCost(totals, item)

		item.Balance -= input.Qty
		if err := tx.UpdateItemBalance(ctx, item.Code, item.Balance); err != nil {
			return err
		}

		siblings, err := tx.ListIssues(ctx, input.ItemCode)
		if err != nil {
			return err
		}
		issue := IssueTransaction{
			ItemCode:  input.ItemCode,
			Date:      date,
			Qty:       input.Qty,
			UnitCost:  unitCost,
			Status:    StatusPending,
			Reference: reference,
		}
		balanceAfter, updates := RecomputeSnapshots(siblings, issue, item.Balance)
		if err := tx.UpdateSnapshots(ctx, updates); err != nil {
			return err
		}
		issue.BalanceAfter = balanceAfter

		seq, err := tx.NextSequence(ctx, "ISS")
		if err != nil {
			return err
		}
		issue.Number = shared.FiscalYearOf(date).Reference("ISS", seq)

		id, err := tx.InsertIssue(ctx, issue)
		if err != nil {
			return err
		}
		result = IssueResult{
			TransactionID: id,
			Number:        issue.Number,
			UnitCost:      unitCost,
			BalanceAfter:  balanceAfter,
		}
		return nil
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		return IssueResult{}, err
	}

	s.recordAudit(ctx, input.ActorID, "issue:create", "issue_tx", result.Number, map[string]any{
		"item_code": input.ItemCode,
		"qty":       input.Qty,
		"unit_cost": result.UnitCost,
	})
	s.notifyMutation(ctx, input.ItemCode, "issue:create")
	return result, nil
}

// ApproveIssue re-runs reconciliation and marks the issue as the value
// of record.
func (s *Service) ApproveIssue(ctx context.Context, id int64, actorID int64) (IssueTransaction, error) {
	header, err := s.repo.GetIssue(ctx, id)
	if err != nil {
		return IssueTransaction{}, err
	}
	if header.Status == StatusApproved {
		return IssueTransaction{}, ErrAlreadyApproved
	}

	unlock := s.locks.Lock(header.ItemCode)
	defer unlock()

	var approved IssueTransaction
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		issue, err := tx.GetIssueForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if issue.Status == StatusApproved {
			return ErrAlreadyApproved
		}
		item, err := tx.GetItemForUpdate(ctx, issue.ItemCode)
		if err != nil {
			return err
		}
		siblings, err := tx.ListIssues(ctx, issue.ItemCode)
		if err != nil {
			return err
		}
		balanceAfter, updates := RecomputeSnapshots(siblings, issue, item.Balance)
		updates = append(updates, Snapshot{ID: issue.ID, BalanceAfter: balanceAfter})
		if err := tx.UpdateSnapshots(ctx, updates); err != nil {
			return err
		}
		if err := tx.SetIssueStatus(ctx, issue.ID, StatusApproved); err != nil {
			return err
		}
		issue.BalanceAfter = balanceAfter
		issue.Status = StatusApproved
		approved = issue
		return nil
	})
	if err != nil {
		return IssueTransaction{}, err
	}

	s.recordApproval(ctx, actorID, shared.ApprovalApprove, approved.Number)
	s.recordAudit(ctx, actorID, "issue:approve", "issue_tx", approved.Number, map[string]any{
		"item_code":     approved.ItemCode,
		"balance_after": approved.BalanceAfter,
	})
	if s.integration != nil {
		evt := IssueApprovedEvent{
			Number:       approved.Number,
			ItemCode:     approved.ItemCode,
			Qty:          approved.Qty,
			UnitCost:     approved.UnitCost,
			BalanceAfter: approved.BalanceAfter,
			Date:         approved.Date,
		}
		if err := s.integration.HandleIssueApproved(ctx, evt); err != nil {
			return IssueTransaction{}, err
		}
	}
	s.notifyMutation(ctx, approved.ItemCode, "issue:approve")
	return approved, nil
}

// RejectIssue reverses the optimistic ledger debit, deletes the
// transaction and shifts later snapshots back, keeping the chain intact.
func (s *Service) RejectIssue(ctx context.Context, id int64, actorID int64) error {
	header, err := s.repo.GetIssue(ctx, id)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(header.ItemCode)
	defer unlock()

	var rejected IssueTransaction
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		issue, err := tx.GetIssueForUpdate(ctx, id)
		if err != nil {
			return err
		}
		item, err := tx.GetItemForUpdate(ctx, issue.ItemCode)
		if err != nil {
			return err
		}
		item.Balance += issue.Qty
		if err := tx.UpdateItemBalance(ctx, item.Code, item.Balance); err != nil {
			return err
		}
		siblings, err := tx.ListIssues(ctx, issue.ItemCode)
		if err != nil {
			return err
		}
		if err := tx.UpdateSnapshots(ctx, ShiftAfterRemoval(siblings, issue)); err != nil {
			return err
		}
		if err := tx.DeleteIssue(ctx, issue.ID); err != nil {
			return err
		}
		rejected = issue
		return nil
	})
	if err != nil {
		return err
	}

	s.recordApproval(ctx, actorID, shared.ApprovalReject, rejected.Number)
	s.recordAudit(ctx, actorID, "issue:reject", "issue_tx", rejected.Number, map[string]any{
		"item_code": rejected.ItemCode,
		"qty":       rejected.Qty,
	})
	s.notifyMutation(ctx, rejected.ItemCode, "issue:reject")
	return nil
}

// CreateReceiptInput describes an incoming delivery line.
type CreateReceiptInput struct {
	ItemCode  string
	Date      time.Time
	Qty       float64
	Reference string
	ActorID   int64
}

// CreateReceipt records a pending receipt. It carries no cost and no
// balance effect until its landed-cost document is approved.
func (s *Service) CreateReceipt(ctx context.Context, input CreateReceiptInput) (ReceiptTransaction, error) {
	if input.ItemCode == "" {
		return ReceiptTransaction{}, fmt.Errorf("inventory: item code required: %w", shared.ErrInvalidInput)
	}
	if input.Qty <= 0 {
		return ReceiptTransaction{}, ErrInvalidQuantity
	}
	date := input.Date
	if date.IsZero() {
		date = time.Now().UTC()
	}
	reference := input.Reference
	if reference == "" {
		reference = uuid.NewString()
	}

	unlock := s.locks.Lock(input.ItemCode)
	defer unlock()

	var receipt ReceiptTransaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetItemForUpdate(ctx, input.ItemCode); err != nil {
			return err
		}
		seq, err := tx.NextSequence(ctx, "RCV")
		if err != nil {
			return err
		}
		receipt = ReceiptTransaction{
			Number:    shared.FiscalYearOf(date).Reference("RCV", seq),
			ItemCode:  input.ItemCode,
			Date:      date,
			Qty:       input.Qty,
			Status:    StatusPending,
			Reference: reference,
		}
		id, err := tx.InsertReceipt(ctx, receipt)
		if err != nil {
			return err
		}
		receipt.ID = id
		return nil
	})
	if err != nil {
		return ReceiptTransaction{}, err
	}

	s.recordAudit(ctx, input.ActorID, "receipt:create", "receipt_tx", receipt.Number, map[string]any{
		"item_code": input.ItemCode,
		"qty":       input.Qty,
	})
	return receipt, nil
}

// GetReceipt returns a receipt by id.
func (s *Service) GetReceipt(ctx context.Context, id int64) (ReceiptTransaction, error) {
	return s.repo.GetReceipt(ctx, id)
}

// PostReceiptInput binds a receipt to its approved landed-cost line.
type PostReceiptInput struct {
	ReceiptID    int64
	LandedAmount float64
	CostLineID   int64
	ActorID      int64
}

// PostReceipt credits the ledger for a receipt whose landed-cost
// document was approved, fixing the line's landed amount into the cost
// history. Called once per line; a second call is a state conflict.
func (s *Service) PostReceipt(ctx context.Context, input PostReceiptInput) (ReceiptTransaction, error) {
	if input.LandedAmount < 0 {
		return ReceiptTransaction{}, fmt.Errorf("inventory: landed amount must not be negative: %w", shared.ErrInvalidInput)
	}
	header, err := s.repo.GetReceipt(ctx, input.ReceiptID)
	if err != nil {
		return ReceiptTransaction{}, err
	}
	if header.Status == StatusApproved {
		return ReceiptTransaction{}, ErrAlreadyApproved
	}

	unlock := s.locks.Lock(header.ItemCode)
	defer unlock()

	var posted ReceiptTransaction
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		receipt, err := tx.GetReceiptForUpdate(ctx, input.ReceiptID)
		if err != nil {
			return err
		}
		if receipt.Status == StatusApproved {
			return ErrAlreadyApproved
		}
		item, err := tx.GetItemForUpdate(ctx, receipt.ItemCode)
		if err != nil {
			return err
		}
		item.Balance += receipt.Qty
		if err := tx.UpdateItemBalance(ctx, item.Code, item.Balance); err != nil {
			return err
		}
		if err := tx.MarkReceiptPosted(ctx, receipt.ID, input.LandedAmount, input.CostLineID); err != nil {
			return err
		}
		receipt.Status = StatusApproved
		receipt.LandedAmount = input.LandedAmount
		receipt.CostLineID = input.CostLineID
		posted = receipt
		return nil
	})
	if err != nil {
		return ReceiptTransaction{}, err
	}

	s.recordAudit(ctx, input.ActorID, "receipt:post", "receipt_tx", posted.Number, map[string]any{
		"item_code":     posted.ItemCode,
		"qty":           posted.Qty,
		"landed_amount": posted.LandedAmount,
	})
	if s.integration != nil {
		evt := ReceiptPostedEvent{
			Number:       posted.Number,
			ItemCode:     posted.ItemCode,
			Qty:          posted.Qty,
			LandedAmount: posted.LandedAmount,
			Date:         posted.Date,
		}
		if err := s.integration.HandleReceiptPosted(ctx, evt); err != nil {
			return ReceiptTransaction{}, err
		}
	}
	s.notifyMutation(ctx, posted.ItemCode, "receipt:post")
	return posted, nil
}

// AttachReceipt binds a pending receipt to a landed-cost line. A receipt
// belongs to at most one line, so a second attach is a state conflict.
func (s *Service) AttachReceipt(ctx context.Context, receiptID, costLineID int64) error {
	header, err := s.repo.GetReceipt(ctx, receiptID)
	if err != nil {
		return err
	}
	if header.Status == StatusApproved {
		return ErrAlreadyApproved
	}

	unlock := s.locks.Lock(header.ItemCode)
	defer unlock()

	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		receipt, err := tx.GetReceiptForUpdate(ctx, receiptID)
		if err != nil {
			return err
		}
		if receipt.Status == StatusApproved || receipt.CostLineID != 0 {
			return ErrReceiptAttached
		}
		return tx.AttachReceipt(ctx, receiptID, costLineID)
	})
}

// DetachReceipt unbinds a pending receipt from a rejected landed-cost
// line. Posted receipts cannot be detached.
func (s *Service) DetachReceipt(ctx context.Context, receiptID int64, actorID int64) error {
	header, err := s.repo.GetReceipt(ctx, receiptID)
	if err != nil {
		return err
	}
	if header.Status == StatusApproved {
		return ErrAlreadyApproved
	}

	unlock := s.locks.Lock(header.ItemCode)
	defer unlock()

	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		receipt, err := tx.GetReceiptForUpdate(ctx, receiptID)
		if err != nil {
			return err
		}
		if receipt.Status == StatusApproved {
			return ErrAlreadyApproved
		}
		return tx.DetachReceipt(ctx, receipt.ID)
	})
}

// ReplayLedger reconstructs the item's movement history for reporting.
func (s *Service) ReplayLedger(ctx context.Context, itemCode string, from, to time.Time) ([]Movement, error) {
	if itemCode == "" {
		return nil, fmt.Errorf("inventory: item code required: %w", shared.ErrInvalidInput)
	}
	src, err := s.repo.GetReplaySource(ctx, itemCode)
	if err != nil {
		return nil, err
	}
	return Replay(src.Item, src.Receipts, src.Issues, from, to), nil
}

// ListItems returns every registered item code.
func (s *Service) ListItems(ctx context.Context) ([]string, error) {
	return s.repo.ListItemCodes(ctx)
}

// BalanceDrift reports an item whose stored balance disagrees with its
// recomputed movement history.
type BalanceDrift struct {
	ItemCode string
	Stored   float64
	Computed float64
}

// VerifyBalances recomputes opening + approved receipts − issues for
// every item and returns the ones that drifted. Pending issues count:
// the ledger debits optimistically at creation. Read-only by design;
// drift is surfaced, never repaired here.
func (s *Service) VerifyBalances(ctx context.Context) ([]BalanceDrift, error) {
	codes, err := s.repo.ListItemCodes(ctx)
	if err != nil {
		return nil, err
	}
	var drifts []BalanceDrift
	for _, code := range codes {
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			item, err := tx.GetItemForUpdate(ctx, code)
			if err != nil {
				return err
			}
			receiptQty, issueQty, err := tx.GetMovementTotals(ctx, code)
			if err != nil {
				return err
			}
			computed := item.OpeningQty + receiptQty - issueQty
			if diff := computed - item.Balance; diff > 1e-6 || diff < -1e-6 {
				drifts = append(drifts, BalanceDrift{ItemCode: code, Stored: item.Balance, Computed: computed})
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return drifts, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entity, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Meta:     meta,
	})
}

func (s *Service) recordApproval(ctx context.Context, actorID int64, action shared.ApprovalAction, refID string) {
	if s.approvals == nil {
		return
	}
	_ = s.approvals.Record(ctx, shared.ApprovalLog{
		Module:  "inventory",
		RefID:   refID,
		ActorID: actorID,
		Action:  action,
	})
}

func (s *Service) notifyMutation(ctx context.Context, itemCode, operation string) {
	if s.integration == nil {
		return
	}
	_ = s.integration.HandleLedgerMutated(ctx, LedgerMutatedEvent{ItemCode: itemCode, Operation: operation})
}
