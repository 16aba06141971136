package httpapi

import (
	"errors"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/shestoi/backoffice/internal/calc"
	"github.com/shestoi/backoffice/internal/repository"
)

// PostQuotes обрабатывает POST /quotes - создание предложения в статусе draft с резервами
func (h *Handler) PostQuotes(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if !h.decode(w, r, &req) {
		return
	}

	details, err := h.quotes.Create(r.Context(), req.toInput())
	if err != nil {
		h.writeError(w, r, "create quote", err)
		return
	}

	resp := toDetailsResponse(details)
	resp.Availability = h.availability(r, details.Reservations)
	h.writeJSON(w, r, http.StatusCreated, resp)
}

// availability доступные количества позиций после резервирования.
// Овербукинг не блокируется: решение остаётся за клиентом.
func (h *Handler) availability(r *http.Request, reservations []repository.Reservation) []Availability {
	seen := make(map[string]struct{})
	out := make([]Availability, 0)
	for _, res := range reservations {
		if _, ok := seen[res.StockItemID]; ok {
			continue
		}
		seen[res.StockItemID] = struct{}{}

		available, err := h.ledger.AvailableQuantity(r.Context(), res.StockItemID)
		if err != nil {
			h.log(r).Warn("failed to read available quantity",
				zap.String("stock_item_id", res.StockItemID),
				zap.Error(err),
			)
			continue
		}
		out = append(out, Availability{StockItemID: res.StockItemID, AvailableQuantity: available})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StockItemID < out[j].StockItemID })
	return out
}

// GetQuotes обрабатывает GET /quotes?client_id=&status=
func (h *Handler) GetQuotes(w http.ResponseWriter, r *http.Request) {
	filter := repository.QuoteFilter{
		ClientID: r.URL.Query().Get("client_id"),
		Status:   repository.QuoteStatus(r.URL.Query().Get("status")),
	}

	quotes, err := h.quotes.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, "list quotes", err)
		return
	}
	resp := make([]QuoteResponse, 0, len(quotes))
	for _, q := range quotes {
		resp = append(resp, toQuoteResponse(q))
	}
	h.writeJSON(w, r, http.StatusOK, resp)
}

// GetQuote обрабатывает GET /quotes/{id} - предложение со строками, резервами и счётом
func (h *Handler) GetQuote(w http.ResponseWriter, r *http.Request) {
	details, err := h.quotes.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "get quote", err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, toDetailsResponse(details))
}

// PostQuoteStatus обрабатывает POST /quotes/{id}/status - смена статуса
func (h *Handler) PostQuoteStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if !h.decode(w, r, &req) {
		return
	}

	quote, err := h.quotes.ChangeStatus(r.Context(), chi.URLParam(r, "id"), repository.QuoteStatus(req.Status))
	if err != nil {
		h.writeError(w, r, "change quote status", err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, toQuoteResponse(quote))
}

// DeleteQuote обрабатывает DELETE /quotes/{id}
func (h *Handler) DeleteQuote(w http.ResponseWriter, r *http.Request) {
	if err := h.quotes.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, "delete quote", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PostQuoteInvoice обрабатывает POST /quotes/{id}/invoice - счёт по принятому предложению
func (h *Handler) PostQuoteInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.invoices.ConvertToInvoice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "convert to invoice", err)
		return
	}
	h.writeJSON(w, r, http.StatusCreated, toInvoiceResponse(inv))
}

// GetInvoice обрабатывает GET /invoices/{id}
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.invoices.GetInvoice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, "get invoice", err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, toInvoiceResponse(inv))
}

// PostTotals обрабатывает POST /calc/totals - расчёт итогов без сохранения
func (h *Handler) PostTotals(w http.ResponseWriter, r *http.Request) {
	var req TotalsRequest
	if !h.decode(w, r, &req) {
		return
	}

	lines := make([]calc.Line, 0, len(req.LineItems))
	for _, li := range req.LineItems {
		lines = append(lines, calc.Line{Quantity: li.Quantity, UnitPrice: li.UnitPrice})
	}
	if req.Discount.IsNegative() || req.Shipping.IsNegative() || req.TaxRate.IsNegative() {
		h.writeJSON(w, r, http.StatusBadRequest, ErrorResponse{Error: "discount, shipping and tax_rate must not be negative"})
		return
	}

	totals, err := calc.Compute(lines, req.Discount, req.Shipping, req.TaxRate)
	if err != nil {
		body := ErrorResponse{Error: err.Error()}
		var lineErr *calc.LineError
		if errors.As(err, &lineErr) {
			idx := lineErr.Index
			body.LineItem = &idx
		}
		h.writeJSON(w, r, http.StatusBadRequest, body)
		return
	}
	h.writeJSON(w, r, http.StatusOK, toTotalsResponse(totals))
}
