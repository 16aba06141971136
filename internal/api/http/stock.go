package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shestoi/backoffice/internal/service"
)

// PostStockItems обрабатывает POST /stock-items - приёмка новой позиции
func (h *Handler) PostStockItems(w http.ResponseWriter, r *http.Request) {
	var req CreateStockItemRequest
	if !h.decode(w, r, &req) {
		return
	}

	item, err := h.ledger.CreateStockItem(r.Context(), service.CreateStockItemInput{
		SKU:            req.SKU,
		Name:           req.Name,
		Unit:           req.Unit,
		QuantityOnHand: req.QuantityOnHand,
		MinimumStock:   req.MinimumStock,
		UnitSalePrice:  req.UnitSalePrice,
		UnitCostPrice:  req.UnitCostPrice,
	})
	if err != nil {
		h.writeError(w, r, "create stock item", err)
		return
	}
	h.writeJSON(w, r, http.StatusCreated, toStockItemResponse(item))
}

// GetStockItem обрабатывает GET /stock-items/{id} - чтение из основного хранилища
func (h *Handler) GetStockItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.ledger.GetStockItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "get stock item", err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, toStockItemResponse(item))
}

// GetStockItemSnapshot обрабатывает GET /stock-items/{id}/snapshot - чтение из кэша
func (h *Handler) GetStockItemSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.ledger.Snapshot(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "get stock snapshot", err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, SnapshotResponse{
		StockItemID:       snap.StockItemID,
		QuantityOnHand:    snap.OnHand,
		QuantityReserved:  snap.Reserved,
		AvailableQuantity: snap.Available,
		TakenAt:           snap.TakenAt,
	})
}

// PostAdjustment обрабатывает POST /stock-items/{id}/adjustments - корректировка остатка
func (h *Handler) PostAdjustment(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if !h.decode(w, r, &req) {
		return
	}

	item, err := h.ledger.AdjustOnHand(r.Context(), chi.URLParam(r, "id"), req.Delta, req.Reason)
	if err != nil {
		h.writeError(w, r, "adjust on hand", err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, toStockItemResponse(item))
}

// GetReconcile обрабатывает GET /stock-items/{id}/reconcile - отчёт о расхождении
func (h *Handler) GetReconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.ledger.Reconcile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "reconcile", err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, ReconcileResponse{
		StockItemID:      report.StockItemID,
		QuantityReserved: report.QuantityReserved,
		ActiveTotal:      report.ActiveTotal,
		ActiveCount:      report.ActiveCount,
		Drift:            report.Drift,
		Consistent:       report.Consistent(),
	})
}

// DeleteStockItem обрабатывает DELETE /stock-items/{id}
func (h *Handler) DeleteStockItem(w http.ResponseWriter, r *http.Request) {
	if err := h.ledger.DeleteStockItem(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, "delete stock item", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetBelowMinimum обрабатывает GET /stock-items/below-minimum - отчёт для дозаказа
func (h *Handler) GetBelowMinimum(w http.ResponseWriter, r *http.Request) {
	items, err := h.ledger.ListBelowMinimum(r.Context())
	if err != nil {
		h.writeError(w, r, "list below minimum", err)
		return
	}
	resp := make([]StockItemResponse, 0, len(items))
	for _, item := range items {
		resp = append(resp, toStockItemResponse(item))
	}
	h.writeJSON(w, r, http.StatusOK, resp)
}
