package procurement

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/warp/resource-engine/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the procurement module.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs procurement handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/documents", h.handleCreateDocument)
	r.Get("/documents/{id}", h.handleGetDocument)
	r.Post("/documents/{id}/reallocate", h.handleReallocate)
	r.Post("/documents/{id}/approve", h.handleApproveDocument)
	r.Post("/documents/{id}/reject", h.handleRejectDocument)
}

type lineRequest struct {
	ReceiptID     int64   `json:"receipt_id" validate:"required,gt=0"`
	UnitPrice     float64 `json:"unit_price" validate:"gte=0"`
	CustomsCharge float64 `json:"customs_charge" validate:"gte=0"`
	VATApplicable bool    `json:"vat_applicable"`
}

type createDocumentRequest struct {
	Currency             string        `json:"currency" validate:"required,len=3"`
	ExchangeRate         float64       `json:"exchange_rate" validate:"gt=0"`
	FreightCharge        float64       `json:"freight_charge" validate:"gte=0"`
	CustomsServiceCharge float64       `json:"customs_service_charge" validate:"gte=0"`
	VATRate              float64       `json:"vat_rate" validate:"gte=0"`
	Lines                []lineRequest `json:"lines" validate:"required,min=1,dive"`
}

type lineResponse struct {
	LineID                  int64   `json:"line_id"`
	ReceiptID               int64   `json:"receipt_id"`
	ItemCode                string  `json:"item_code"`
	Qty                     float64 `json:"qty"`
	ConvertedPrice          float64 `json:"converted_price"`
	AllocatedFreight        float64 `json:"allocated_freight"`
	CustomsCharge           float64 `json:"customs_charge"`
	AllocatedCustomsService float64 `json:"allocated_customs_service"`
	VATAmount               float64 `json:"vat_amount"`
	TotalAmount             float64 `json:"total_amount"`
}

type documentResponse struct {
	DocumentID int64          `json:"document_id"`
	Number     string         `json:"number"`
	Currency   string         `json:"currency"`
	Status     string         `json:"status"`
	Lines      []lineResponse `json:"lines"`
}

func (h *Handler) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	var req createDocumentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", "malformed json body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", err.Error())
		return
	}
	input := CreateDocumentInput{
		Currency:             req.Currency,
		ExchangeRate:         req.ExchangeRate,
		FreightCharge:        req.FreightCharge,
		CustomsServiceCharge: req.CustomsServiceCharge,
		VATRate:              req.VATRate,
		ActorID:              actorID(r),
	}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, LineInput{
			ReceiptID:     line.ReceiptID,
			UnitPrice:     line.UnitPrice,
			CustomsCharge: line.CustomsCharge,
			VATApplicable: line.VATApplicable,
		})
	}
	doc, lines, err := h.service.CreateDocument(r.Context(), input)
	if err != nil {
		h.logger.Error("create landed cost document", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toDocumentResponse(doc, lines))
}

func (h *Handler) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := docID(w, r)
	if !ok {
		return
	}
	doc, lines, err := h.service.GetDocument(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDocumentResponse(doc, lines))
}

func (h *Handler) handleReallocate(w http.ResponseWriter, r *http.Request) {
	id, ok := docID(w, r)
	if !ok {
		return
	}
	lines, err := h.service.Reallocate(r.Context(), id)
	if err != nil {
		h.logger.Error("reallocate document", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	doc, _, err := h.service.GetDocument(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDocumentResponse(doc, lines))
}

func (h *Handler) handleApproveDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := docID(w, r)
	if !ok {
		return
	}
	doc, err := h.service.ApproveDocument(r.Context(), id, actorID(r))
	if err != nil {
		h.logger.Error("approve document", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	_, lines, err := h.service.GetDocument(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDocumentResponse(doc, lines))
}

func (h *Handler) handleRejectDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := docID(w, r)
	if !ok {
		return
	}
	if err := h.service.RejectDocument(r.Context(), id, actorID(r)); err != nil {
		h.logger.Error("reject document", slog.Any("error", err), slog.Int64("id", id))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toDocumentResponse(doc LandedCostDocument, lines []LandedCostLine) documentResponse {
	resp := documentResponse{
		DocumentID: doc.ID,
		Number:     doc.Number,
		Currency:   doc.Currency,
		Status:     string(doc.Status),
		Lines:      make([]lineResponse, 0, len(lines)),
	}
	for _, line := range lines {
		resp.Lines = append(resp.Lines, lineResponse{
			LineID:                  line.ID,
			ReceiptID:               line.ReceiptID,
			ItemCode:                line.ItemCode,
			Qty:                     line.Qty,
			ConvertedPrice:          line.ConvertedPrice,
			AllocatedFreight:        line.AllocatedFreight,
			CustomsCharge:           line.CustomsCharge,
			AllocatedCustomsService: line.AllocatedCustomsService,
			VATAmount:               line.VATAmount,
			TotalAmount:             line.TotalAmount,
		})
	}
	return resp
}

func docID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", "document id must be numeric")
		return 0, false
	}
	return id, true
}

func actorID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(r.Header.Get("X-Actor-ID"), 10, 64)
	return id
}
