package reception

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/stockbook/stockbook/internal/catalog"
	"github.com/stockbook/stockbook/internal/ledger"
	"github.com/stockbook/stockbook/internal/platform/httpx"
	"github.com/stockbook/stockbook/internal/shared"
)

// Handler exposes the goods-receipt workflow over HTTP.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers reception routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/receptions/confirm", h.handleConfirm)
	r.Post("/receptions/cancel", h.handleCancel)
}

type confirmLine struct {
	ItemType string             `json:"item_type" validate:"required"`
	ItemID   int64              `json:"item_id" validate:"required,gt=0"`
	Qty      string             `json:"qty" validate:"required"`
	UnitCost string             `json:"unit_cost" validate:"required"`
	Quality  ledger.QualityMeta `json:"quality"`
	OrderRef string             `json:"order_ref"`
}

type confirmRequest struct {
	RefID      string        `json:"ref_id" validate:"required"`
	SupplierID *int64        `json:"supplier_id"`
	Location   string        `json:"location"`
	OccurredAt *time.Time    `json:"occurred_at"`
	ActorID    int64         `json:"actor_id"`
	Lines      []confirmLine `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	input := ConfirmInput{
		RefID:      req.RefID,
		SupplierID: req.SupplierID,
		Location:   ledger.Location(req.Location),
		ActorID:    req.ActorID,
	}
	if req.OccurredAt != nil {
		input.OccurredAt = *req.OccurredAt
	}
	for _, line := range req.Lines {
		qty, err := decimal.NewFromString(line.Qty)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "qty is not a valid number")
			return
		}
		unitCost, err := decimal.NewFromString(line.UnitCost)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unit_cost is not a valid number")
			return
		}
		input.Lines = append(input.Lines, Line{
			Item:     ledger.ItemRef{Type: catalog.ItemType(line.ItemType), ID: line.ItemID},
			Qty:      qty,
			UnitCost: unitCost,
			Quality:  line.Quality,
			OrderRef: line.OrderRef,
		})
	}

	movements, err := h.service.Confirm(r.Context(), input)
	if err != nil {
		h.respondError(w, "confirm reception", err)
		return
	}
	ids := make([]int64, 0, len(movements))
	for _, mv := range movements {
		ids = append(ids, mv.ID)
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"status": "confirmed", "movement_ids": ids})
}

type cancelRequest struct {
	RefID   string `json:"ref_id" validate:"required"`
	ActorID int64  `json:"actor_id"`
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.Cancel(r.Context(), req.RefID, req.ActorID); err != nil {
		h.respondError(w, "cancel reception", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	var insufficient *ledger.InsufficientError
	switch {
	case errors.Is(err, ErrMissingRef), errors.Is(err, ErrNoLines),
		errors.Is(err, ledger.ErrInvalidQuantity), errors.Is(err, ledger.ErrMissingUnitCost):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate Request", err.Error())
	case errors.As(err, &insufficient):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Insufficient Quantity", err.Error())
	case errors.Is(err, ledger.ErrBatchConsumed):
		httpx.Problem(w, http.StatusConflict, "Reversal Blocked", err.Error())
	case errors.Is(err, ledger.ErrNothingToReverse):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
