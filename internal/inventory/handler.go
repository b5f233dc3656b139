package inventory

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/warp/resource-engine/internal/platform/httpx"
)

const dateLayout = "2006-01-02"

// Handler wires HTTP endpoints for the inventory module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	cache    *ReportCache
	validate *validator.Validate
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service, cache *ReportCache) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		cache:    cache,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/items", h.handleEnsureItem)
	r.Get("/items/{code}", h.handleGetItem)
	r.Get("/items/{code}/ledger", h.handleReplayLedger)
	r.Post("/issues", h.handleCreateIssue)
	r.Post("/issues/{id}/approve", h.handleApproveIssue)
	r.Post("/issues/{id}/reject", h.handleRejectIssue)
	r.Post("/receipts", h.handleCreateReceipt)
}

type ensureItemRequest struct {
	Code          string  `json:"code" validate:"required"`
	Unit          string  `json:"unit" validate:"required"`
	OpeningQty    float64 `json:"opening_qty" validate:"gte=0"`
	OpeningAmount float64 `json:"opening_amount" validate:"gte=0"`
	OpeningDate   string  `json:"opening_date" validate:"omitempty,datetime=2006-01-02"`
}

type itemResponse struct {
	Code          string  `json:"code"`
	Unit          string  `json:"unit"`
	OpeningQty    float64 `json:"opening_qty"`
	OpeningAmount float64 `json:"opening_amount"`
	Balance       float64 `json:"balance"`
}

func (h *Handler) handleEnsureItem(w http.ResponseWriter, r *http.Request) {
	var req ensureItemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", "malformed json body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", err.Error())
		return
	}
	openingDate, _ := time.Parse(dateLayout, req.OpeningDate)
	item, err := h.service.EnsureItem(r.Context(), EnsureItemInput{
		Code:          req.Code,
		Unit:          req.Unit,
		OpeningQty:    req.OpeningQty,
		OpeningAmount: req.OpeningAmount,
		OpeningDate:   openingDate,
		ActorID:       actorID(r),
	})
	if err != nil {
		h.logger.Error("ensure item", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toItemResponse(item))
}

func (h *Handler) handleGetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.service.GetItem(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toItemResponse(item))
}

type createIssueRequest struct {
	ItemCode  string  `json:"item_code" validate:"required"`
	Date      string  `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Qty       float64 `json:"qty" validate:"gt=0"`
	Reference string  `json:"reference"`
}

type issueResponse struct {
	TransactionID int64   `json:"transaction_id"`
	Number        string  `json:"number"`
	UnitCost      float64 `json:"unit_cost"`
	BalanceAfter  float64 `json:"balance_after"`
}

func (h *Handler) handleCreateIssue(w http.ResponseWriter, r *http.Request) {
	var req createIssueRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", "malformed json body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", err.Error())
		return
	}
	date, _ := time.Parse(dateLayout, req.Date)
	result, err := h.service.CreateIssue(r.Context(), CreateIssueInput{
		ItemCode:  req.ItemCode,
		Date:      date,
		Qty:       req.Qty,
		Reference: req.Reference,
		ActorID:   actorID(r),
	})
	if err != nil {
		h.logger.Error("create issue", slog.Any("error", err), slog.String("item_code", req.ItemCode))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, issueResponse{
		TransactionID: result.TransactionID,
		Number:        result.Number,
		UnitCost:      result.UnitCost,
		BalanceAfter:  result.BalanceAfter,
	})
}

func (h *Handler) handleApproveIssue(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", "transaction id must be numeric")
		return
	}
	approved, err := h.service.ApproveIssue(r.Context(), id, actorID(r))
	if err != nil {
		h.logger.Error("approve issue", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, issueResponse{
		TransactionID: approved.ID,
		Number:        approved.Number,
		UnitCost:      approved.UnitCost,
		BalanceAfter:  approved.BalanceAfter,
	})
}

func (h *Handler) handleRejectIssue(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", "transaction id must be numeric")
		return
	}
	if err := h.service.RejectIssue(r.Context(), id, actorID(r)); err != nil {
		h.logger.Error("reject issue", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createReceiptRequest struct {
	ItemCode  string  `json:"item_code" validate:"required"`
	Date      string  `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Qty       float64 `json:"qty" validate:"gt=0"`
	Reference string  `json:"reference"`
}

type receiptResponse struct {
	ReceiptID int64   `json:"receipt_id"`
	Number    string  `json:"number"`
	ItemCode  string  `json:"item_code"`
	Qty       float64 `json:"qty"`
	Status    string  `json:"status"`
}

func (h *Handler) handleCreateReceipt(w http.ResponseWriter, r *http.Request) {
	var req createReceiptRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", "malformed json body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", err.Error())
		return
	}
	date, _ := time.Parse(dateLayout, req.Date)
	receipt, err := h.service.CreateReceipt(r.Context(), CreateReceiptInput{
		ItemCode:  req.ItemCode,
		Date:      date,
		Qty:       req.Qty,
		Reference: req.Reference,
		ActorID:   actorID(r),
	})
	if err != nil {
		h.logger.Error("create receipt", slog.Any("error", err), slog.String("item_code", req.ItemCode))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, receiptResponse{
		ReceiptID: receipt.ID,
		Number:    receipt.Number,
		ItemCode:  receipt.ItemCode,
		Qty:       receipt.Qty,
		Status:    string(receipt.Status),
	})
}

type movementResponse struct {
	Kind         string  `json:"kind"`
	Date         string  `json:"date"`
	Qty          float64 `json:"qty"`
	UnitCost     float64 `json:"unit_cost"`
	BalanceAfter float64 `json:"balance_after"`
	Reference    string  `json:"reference,omitempty"`
}

func (h *Handler) handleReplayLedger(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	q := r.URL.Query()
	from, err := parseOptionalDate(q.Get("from"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", "from must be YYYY-MM-DD")
		return
	}
	to, err := parseOptionalDate(q.Get("to"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", "to must be YYYY-MM-DD")
		return
	}
	if !to.IsZero() {
		to = to.Add(24*time.Hour - time.Nanosecond)
	}

	key := h.cache.Key(r.Context(), code, q.Get("from"), q.Get("to"))
	if payload := h.cache.Get(r.Context(), key); payload != nil {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(payload)
		return
	}

	payload, err := h.cache.Do(r.Context(), key, func(ctx context.Context) ([]byte, error) {
		movements, err := h.service.ReplayLedger(ctx, code, from, to)
		if err != nil {
			return nil, err
		}
		out := make([]movementResponse, 0, len(movements))
		for _, m := range movements {
			out = append(out, movementResponse{
				Kind:         string(m.Kind),
				Date:         m.Date.Format(dateLayout),
				Qty:          m.Qty,
				UnitCost:     m.UnitCost,
				BalanceAfter: m.BalanceAfter,
				Reference:    m.Reference,
			})
		}
		return json.Marshal(map[string]any{"item_code": code, "movements": out})
	})
	if err != nil {
		h.logger.Error("replay ledger", slog.Any("error", err), slog.String("item_code", code))
		httpx.RespondError(w, err)
		return
	}
	h.cache.Set(r.Context(), key, payload)
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(payload)
}

func toItemResponse(item StockItem) itemResponse {
	return itemResponse{
		Code:          item.Code,
		Unit:          item.Unit,
		OpeningQty:    item.OpeningQty,
		OpeningAmount: item.OpeningAmount,
		Balance:       item.Balance,
	}
}

func parseOptionalDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(dateLayout, s)
}

// actorID reads the acting user from the X-Actor-ID header; identity is
// established by the surrounding workflow, not the engine.
func actorID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(r.Header.Get("X-Actor-ID"), 10, 64)
	return id
}
