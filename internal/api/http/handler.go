package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/shestoi/backoffice/internal/service"
	"github.com/shestoi/backoffice/platform/observability"
)

// Handler содержит HTTP-обработчики Ledger Service.
// Зависит от service слоя и не знает о хранилище.
type Handler struct {
	logger       *zap.Logger
	ledger       *service.InventoryLedger
	reservations *service.ReservationManager
	quotes       *service.QuoteService
	invoices     *service.InvoiceService
}

// NewHandler создаёт новый HTTP handler
func NewHandler(
	logger *zap.Logger,
	ledger *service.InventoryLedger,
	reservations *service.ReservationManager,
	quotes *service.QuoteService,
	invoices *service.InvoiceService,
) *Handler {
	return &Handler{
		logger:       logger,
		ledger:       ledger,
		reservations: reservations,
		quotes:       quotes,
		invoices:     invoices,
	}
}

// log возвращает logger запроса (с trace_id), если его положил observability middleware
func (h *Handler) log(r *http.Request) *zap.Logger {
	if l := observability.LoggerFromContext(r.Context()); l != nil {
		return l
	}
	return h.logger
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.log(r).Debug("json decode error", zap.Error(err))
		h.writeJSON(w, r, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("invalid JSON: %v", err)})
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log(r).Error("failed to encode response", zap.Error(err))
	}
}

// statusFor сопоставляет вид ошибки ядра HTTP статусу.
// ReservationFailed проверяется первым: он оборачивает причину, которая может быть NotFound или Validation.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrReservationFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInsufficientStock):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	body := ErrorResponse{Error: err.Error()}

	var lineErr *service.LineItemError
	if errors.As(err, &lineErr) {
		idx := lineErr.Index
		body.LineItem = &idx
		if lineErr.StockItemID != "" {
			id := lineErr.StockItemID
			body.StockItemID = &id
		}
	}
	var stockErr *service.StockError
	if errors.As(err, &stockErr) {
		id := stockErr.StockItemID
		body.StockItemID = &id
	}

	if status == http.StatusInternalServerError {
		h.log(r).Error(op+" failed", zap.Error(err))
		body.Error = "internal server error"
	} else {
		h.log(r).Info(op+" rejected", zap.Int("status", status), zap.Error(err))
	}
	h.writeJSON(w, r, status, body)
}
