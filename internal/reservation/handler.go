package reservation

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/stockbook/stockbook/internal/catalog"
	"github.com/stockbook/stockbook/internal/ledger"
	"github.com/stockbook/stockbook/internal/platform/httpx"
)

// Handler exposes the reservation cascade over HTTP.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers reservation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/reservations", h.handleReserve)
	r.Post("/reservations/release", h.handleRelease)
	r.Post("/reservations/fulfill", h.handleFulfill)
}

type reserveLine struct {
	LineID   int64  `json:"line_id" validate:"required,gt=0"`
	ItemType string `json:"item_type" validate:"required"`
	ItemID   int64  `json:"item_id" validate:"required,gt=0"`
	Qty      string `json:"qty" validate:"required"`
}

type reserveRequest struct {
	OrderID  int64         `json:"order_id" validate:"required,gt=0"`
	ClientID int64         `json:"client_id" validate:"required,gt=0"`
	Lines    []reserveLine `json:"lines" validate:"required,min=1,dive"`
}

type reservationView struct {
	ID        int64           `json:"id"`
	LineID    int64           `json:"line_id"`
	Item      ledger.ItemRef  `json:"item"`
	Location  ledger.Location `json:"location"`
	Qty       string          `json:"qty"`
	Backorder bool            `json:"backorder"`
	Status    Status          `json:"status"`
}

func (h *Handler) handleReserve(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	lines := make([]Line, 0, len(req.Lines))
	for _, line := range req.Lines {
		qty, err := decimal.NewFromString(line.Qty)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "qty is not a valid number")
			return
		}
		lines = append(lines, Line{
			LineID: line.LineID,
			Item:   ledger.ItemRef{Type: catalog.ItemType(line.ItemType), ID: line.ItemID},
			Qty:    qty,
		})
	}

	out, err := h.service.Reserve(r.Context(), req.OrderID, req.ClientID, lines)
	if err != nil {
		h.respondError(w, "reserve stock", err)
		return
	}
	views := make([]reservationView, 0, len(out))
	for _, res := range out {
		views = append(views, reservationView{
			ID:        res.ID,
			LineID:    res.LineID,
			Item:      res.Item,
			Location:  res.Location,
			Qty:       res.Qty.String(),
			Backorder: res.Backorder,
			Status:    res.Status,
		})
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"reservations": views})
}

type releaseRequest struct {
	OrderID int64   `json:"order_id" validate:"required,gt=0"`
	LineIDs []int64 `json:"line_ids"`
}

func (h *Handler) handleRelease(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRelease(w, r)
	if !ok {
		return
	}
	if err := h.service.Unreserve(r.Context(), req.OrderID, req.LineIDs...); err != nil {
		h.respondError(w, "release reservations", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "released"})
}

func (h *Handler) handleFulfill(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRelease(w, r)
	if !ok {
		return
	}
	if err := h.service.Fulfill(r.Context(), req.OrderID, req.LineIDs...); err != nil {
		h.respondError(w, "fulfill reservations", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "fulfilled"})
}

func (h *Handler) decodeRelease(w http.ResponseWriter, r *http.Request) (releaseRequest, bool) {
	var req releaseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return releaseRequest{}, false
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return releaseRequest{}, false
	}
	return req, true
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrInvalidLine):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrNothingReserved):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
