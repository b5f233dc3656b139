package procurement

import (
	"context"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/warp/resource-engine/internal/inventory"
	"github.com/warp/resource-engine/internal/shared"
)

type memoryRepo struct {
	docs   map[int64]LandedCostDocument
	lines  map[int64]LandedCostLine
	seqs   map[string]int64
	nextID int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		docs:  make(map[int64]LandedCostDocument),
		lines: make(map[int64]LandedCostLine),
		seqs:  make(map[string]int64),
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetDocument(ctx context.Context, id int64) (LandedCostDocument, []LandedCostLine, error) {
	doc, ok := r.docs[id]
	if !ok {
		return LandedCostDocument{}, nil, ErrDocNotFound
	}
	var lines []LandedCostLine
	for _, line := range r.lines {
		if line.DocumentID == id {
			lines = append(lines, line)
		}
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ID < lines[j].ID })
	return doc, lines, nil
}

func (tx *memoryTx) InsertDocument(ctx context.Context, doc LandedCostDocument) (int64, error) {
	tx.repo.nextID++
	doc.ID = tx.repo.nextID
	tx.repo.docs[doc.ID] = doc
	return doc.ID, nil
}

func (tx *memoryTx) InsertLine(ctx context.Context, line LandedCostLine) (int64, error) {
	tx.repo.nextID++
	line.ID = tx.repo.nextID
	tx.repo.lines[line.ID] = line
	return line.ID, nil
}

func (tx *memoryTx) GetDocumentForUpdate(ctx context.Context, id int64) (LandedCostDocument, error) {
	doc, ok := tx.repo.docs[id]
	if !ok {
		return LandedCostDocument{}, ErrDocNotFound
	}
	return doc, nil
}

func (tx *memoryTx) UpdateLineTotals(ctx context.Context, line LandedCostLine) error {
	stored, ok := tx.repo.lines[line.ID]
	if !ok {
		return ErrDocNotFound
	}
	stored.ConvertedPrice = line.ConvertedPrice
	stored.AllocatedFreight = line.AllocatedFreight
	stored.AllocatedCustomsService = line.AllocatedCustomsService
	stored.VATAmount = line.VATAmount
	stored.TotalAmount = line.TotalAmount
	tx.repo.lines[line.ID] = stored
	return nil
}

func (tx *memoryTx) SetDocumentStatus(ctx context.Context, id int64, status DocStatus) error {
	doc, ok := tx.repo.docs[id]
	if !ok {
		return ErrDocNotFound
	}
	doc.Status = status
	tx.repo.docs[id] = doc
	return nil
}

func (tx *memoryTx) DeleteLines(ctx context.Context, docID int64) error {
	for id, line := range tx.repo.lines {
		if line.DocumentID == docID {
			delete(tx.repo.lines, id)
		}
	}
	return nil
}

func (tx *memoryTx) NextSequence(ctx context.Context, prefix string) (int64, error) {
	tx.repo.seqs[prefix]++
	return tx.repo.seqs[prefix], nil
}

// fakeInventory mimics the receipt side of the ledger.
type fakeInventory struct {
	receipts map[int64]inventory.ReceiptTransaction
	posted   []inventory.PostReceiptInput
	detached []int64
}

func newFakeInventory(receipts ...inventory.ReceiptTransaction) *fakeInventory {
	f := &fakeInventory{receipts: make(map[int64]inventory.ReceiptTransaction)}
	for _, r := range receipts {
		f.receipts[r.ID] = r
	}
	return f
}

func (f *fakeInventory) GetReceipt(ctx context.Context, id int64) (inventory.ReceiptTransaction, error) {
	receipt, ok := f.receipts[id]
	if !ok {
		return inventory.ReceiptTransaction{}, inventory.ErrTxNotFound
	}
	return receipt, nil
}

func (f *fakeInventory) AttachReceipt(ctx context.Context, receiptID, costLineID int64) error {
	receipt, ok := f.receipts[receiptID]
	if !ok {
		return inventory.ErrTxNotFound
	}
	if receipt.CostLineID != 0 {
		return inventory.ErrReceiptAttached
	}
	receipt.CostLineID = costLineID
	f.receipts[receiptID] = receipt
	return nil
}

func (f *fakeInventory) PostReceipt(ctx context.Context, input inventory.PostReceiptInput) (inventory.ReceiptTransaction, error) {
	receipt, ok := f.receipts[input.ReceiptID]
	if !ok {
		return inventory.ReceiptTransaction{}, inventory.ErrTxNotFound
	}
	if receipt.Status == inventory.StatusApproved {
		return inventory.ReceiptTransaction{}, inventory.ErrAlreadyApproved
	}
	receipt.Status = inventory.StatusApproved
	receipt.LandedAmount = input.LandedAmount
	receipt.CostLineID = input.CostLineID
	f.receipts[input.ReceiptID] = receipt
	f.posted = append(f.posted, input)
	return receipt, nil
}

func (f *fakeInventory) DetachReceipt(ctx context.Context, receiptID int64, actorID int64) error {
	receipt, ok := f.receipts[receiptID]
	if !ok {
		return inventory.ErrTxNotFound
	}
	receipt.CostLineID = 0
	f.receipts[receiptID] = receipt
	f.detached = append(f.detached, receiptID)
	return nil
}

func pendingReceipt(id int64, code string, qty float64) inventory.ReceiptTransaction {
	return inventory.ReceiptTransaction{ID: id, ItemCode: code, Qty: qty, Status: inventory.StatusPending}
}

func testInput() CreateDocumentInput {
	return CreateDocumentInput{
		Currency:             "USD",
		ExchangeRate:         2,
		FreightCharge:        100,
		CustomsServiceCharge: 30,
		VATRate:              0.1,
		Lines: []LineInput{
			{ReceiptID: 1, UnitPrice: 5, VATApplicable: true},
			{ReceiptID: 2, UnitPrice: 25, CustomsCharge: 12},
		},
	}
}

func TestCreateDocumentAllocatesAndAttaches(t *testing.T) {
	repo := newMemoryRepo()
	inv := newFakeInventory(pendingReceipt(1, "CEM-001", 10), pendingReceipt(2, "STL-002", 4))
	svc := NewService(repo, inv, nil, nil)
	ctx := context.Background()

	doc, lines, err := svc.CreateDocument(ctx, testInput())
	require.NoError(t, err)
	require.Equal(t, DocStatusPending, doc.Status)
	require.True(t, strings.HasPrefix(doc.Number, "LCD-"), doc.Number)
	require.Len(t, lines, 2)

	// Quantities came from the receipts, not the request.
	require.InDelta(t, 10.0, lines[0].Qty, 0.0001)
	require.InDelta(t, 4.0, lines[1].Qty, 0.0001)

	// Each receipt is now bound to its line.
	for _, line := range lines {
		require.Equal(t, line.ID, inv.receipts[line.ReceiptID].CostLineID)
	}

	// Allocation already ran: freight sums back to the document charge.
	var freight float64
	for _, line := range lines {
		freight += line.AllocatedFreight
	}
	require.InDelta(t, 100.0, freight, 1e-9)
}

func TestCreateDocumentRejectsAttachedReceipt(t *testing.T) {
	taken := pendingReceipt(1, "CEM-001", 10)
	taken.CostLineID = 99
	inv := newFakeInventory(taken, pendingReceipt(2, "STL-002", 4))
	svc := NewService(newMemoryRepo(), inv, nil, nil)

	_, _, err := svc.CreateDocument(context.Background(), testInput())
	require.ErrorIs(t, err, shared.ErrStateConflict)
}

func TestCreateDocumentRejectsUnknownReceipt(t *testing.T) {
	inv := newFakeInventory(pendingReceipt(1, "CEM-001", 10))
	svc := NewService(newMemoryRepo(), inv, nil, nil)

	_, _, err := svc.CreateDocument(context.Background(), testInput())
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestApproveDocumentPostsEveryLine(t *testing.T) {
	repo := newMemoryRepo()
	inv := newFakeInventory(pendingReceipt(1, "CEM-001", 10), pendingReceipt(2, "STL-002", 4))
	svc := NewService(repo, inv, nil, nil)
	ctx := context.Background()

	doc, lines, err := svc.CreateDocument(ctx, testInput())
	require.NoError(t, err)

	approved, err := svc.ApproveDocument(ctx, doc.ID, 7)
	require.NoError(t, err)
	require.Equal(t, DocStatusApproved, approved.Status)

	require.Len(t, inv.posted, 2)
	for i, post := range inv.posted {
		require.Equal(t, lines[i].ReceiptID, post.ReceiptID)
		require.InDelta(t, lines[i].TotalAmount, post.LandedAmount, 0.001)
		require.Equal(t, lines[i].ID, post.CostLineID)
	}

	_, err = svc.ApproveDocument(ctx, doc.ID, 7)
	require.ErrorIs(t, err, shared.ErrStateConflict)
}

func TestApproveDocumentMissing(t *testing.T) {
	svc := NewService(newMemoryRepo(), newFakeInventory(), nil, nil)

	_, err := svc.ApproveDocument(context.Background(), 42, 1)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestRejectDocumentDetachesLines(t *testing.T) {
	repo := newMemoryRepo()
	inv := newFakeInventory(pendingReceipt(1, "CEM-001", 10), pendingReceipt(2, "STL-002", 4))
	svc := NewService(repo, inv, nil, nil)
	ctx := context.Background()

	doc, _, err := svc.CreateDocument(ctx, testInput())
	require.NoError(t, err)

	require.NoError(t, svc.RejectDocument(ctx, doc.ID, 7))

	rejected, lines, err := svc.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, DocStatusRejected, rejected.Status)
	require.Empty(t, lines)
	require.ElementsMatch(t, []int64{1, 2}, inv.detached)

	// Freed receipts can join a new document.
	_, _, err = svc.CreateDocument(ctx, testInput())
	require.NoError(t, err)
}

func TestRejectApprovedDocumentConflicts(t *testing.T) {
	repo := newMemoryRepo()
	inv := newFakeInventory(pendingReceipt(1, "CEM-001", 10), pendingReceipt(2, "STL-002", 4))
	svc := NewService(repo, inv, nil, nil)
	ctx := context.Background()

	doc, _, err := svc.CreateDocument(ctx, testInput())
	require.NoError(t, err)
	_, err = svc.ApproveDocument(ctx, doc.ID, 7)
	require.NoError(t, err)

	require.ErrorIs(t, svc.RejectDocument(ctx, doc.ID, 7), shared.ErrStateConflict)
}

func TestReallocateIsStable(t *testing.T) {
	repo := newMemoryRepo()
	inv := newFakeInventory(pendingReceipt(1, "CEM-001", 10), pendingReceipt(2, "STL-002", 4))
	svc := NewService(repo, inv, nil, nil)
	ctx := context.Background()

	doc, created, err := svc.CreateDocument(ctx, testInput())
	require.NoError(t, err)

	again, err := svc.Reallocate(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, again, len(created))
	for i := range created {
		require.InDelta(t, created[i].TotalAmount, again[i].TotalAmount, 1e-9)
	}
}
