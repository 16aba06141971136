package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/shestoi/backoffice/internal/calc"
	"github.com/shestoi/backoffice/internal/repository"
	"github.com/shestoi/backoffice/internal/service"
)

// ErrorResponse тело ответа с ошибкой. line_item и stock_item_id указывают, что исправить в запросе.
type ErrorResponse struct {
	Error       string  `json:"error"`
	LineItem    *int    `json:"line_item,omitempty"`
	StockItemID *string `json:"stock_item_id,omitempty"`
}

// CreateStockItemRequest HTTP запрос на приёмку складской позиции
type CreateStockItemRequest struct {
	SKU            string          `json:"sku"`
	Name           string          `json:"name"`
	Unit           string          `json:"unit"`
	QuantityOnHand decimal.Decimal `json:"quantity_on_hand"`
	MinimumStock   decimal.Decimal `json:"minimum_stock"`
	UnitSalePrice  decimal.Decimal `json:"unit_sale_price"`
	UnitCostPrice  decimal.Decimal `json:"unit_cost_price"`
}

// StockItemResponse складская позиция с доступным количеством
type StockItemResponse struct {
	ID                string          `json:"id"`
	SKU               string          `json:"sku"`
	Name              string          `json:"name"`
	Unit              string          `json:"unit"`
	QuantityOnHand    decimal.Decimal `json:"quantity_on_hand"`
	QuantityReserved  decimal.Decimal `json:"quantity_reserved"`
	AvailableQuantity decimal.Decimal `json:"available_quantity"`
	MinimumStock      decimal.Decimal `json:"minimum_stock"`
	UnitSalePrice     decimal.Decimal `json:"unit_sale_price"`
	UnitCostPrice     decimal.Decimal `json:"unit_cost_price"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func toStockItemResponse(item repository.StockItem) StockItemResponse {
	return StockItemResponse{
		ID:                item.ID,
		SKU:               item.SKU,
		Name:              item.Name,
		Unit:              item.Unit,
		QuantityOnHand:    item.QuantityOnHand,
		QuantityReserved:  item.QuantityReserved,
		AvailableQuantity: item.Available(),
		MinimumStock:      item.MinimumStock,
		UnitSalePrice:     item.UnitSalePrice,
		UnitCostPrice:     item.UnitCostPrice,
		CreatedAt:         item.CreatedAt,
		UpdatedAt:         item.UpdatedAt,
	}
}

// AdjustmentRequest корректировка физического остатка
type AdjustmentRequest struct {
	Delta  decimal.Decimal `json:"delta"`
	Reason string          `json:"reason"`
}

// SnapshotResponse снимок из кэша (может устареть)
type SnapshotResponse struct {
	StockItemID       string          `json:"stock_item_id"`
	QuantityOnHand    decimal.Decimal `json:"quantity_on_hand"`
	QuantityReserved  decimal.Decimal `json:"quantity_reserved"`
	AvailableQuantity decimal.Decimal `json:"available_quantity"`
	TakenAt           time.Time       `json:"taken_at"`
}

// ReconcileResponse отчёт о расхождении агрегата с резервами
type ReconcileResponse struct {
	StockItemID      string          `json:"stock_item_id"`
	QuantityReserved decimal.Decimal `json:"quantity_reserved"`
	ActiveTotal      decimal.Decimal `json:"active_total"`
	ActiveCount      int             `json:"active_count"`
	Drift            decimal.Decimal `json:"drift"`
	Consistent       bool            `json:"consistent"`
}

// LineItem строка предложения в HTTP запросе/ответе
type LineItem struct {
	ID          string          `json:"id,omitempty"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Total       decimal.Decimal `json:"total"`
	StockItemID *string         `json:"stock_item_id,omitempty"`
}

// QuoteRequest HTTP запрос на создание предложения
type QuoteRequest struct {
	ClientID  string          `json:"client_id"`
	LineItems []LineItem      `json:"line_items"`
	Discount  decimal.Decimal `json:"discount"`
	Shipping  decimal.Decimal `json:"shipping"`
	TaxRate   decimal.Decimal `json:"tax_rate"`
	Notes     string          `json:"notes"`
}

func (r QuoteRequest) toInput() service.CreateQuoteInput {
	lines := make([]service.LineItemInput, 0, len(r.LineItems))
	for _, li := range r.LineItems {
		lines = append(lines, service.LineItemInput{
			Description: li.Description,
			Quantity:    li.Quantity,
			UnitPrice:   li.UnitPrice,
			StockItemID: li.StockItemID,
		})
	}
	return service.CreateQuoteInput{
		ClientID:  r.ClientID,
		LineItems: lines,
		Discount:  r.Discount,
		Shipping:  r.Shipping,
		TaxRate:   r.TaxRate,
		Notes:     r.Notes,
	}
}

// ReservationResponse резерв складской позиции
type ReservationResponse struct {
	ID          string          `json:"id"`
	StockItemID string          `json:"stock_item_id"`
	LineItemID  string          `json:"line_item_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	Status      string          `json:"status"`
	CreatedBy   string          `json:"created_by"`
	CreatedAt   time.Time       `json:"created_at"`
	CancelledAt *time.Time      `json:"cancelled_at,omitempty"`
}

// Availability доступное количество позиции после операции; отрицательное значит овербукинг
type Availability struct {
	StockItemID       string          `json:"stock_item_id"`
	AvailableQuantity decimal.Decimal `json:"available_quantity"`
}

// QuoteResponse предложение в HTTP ответе
type QuoteResponse struct {
	ID           string                `json:"id"`
	Number       string                `json:"number"`
	ClientID     string                `json:"client_id"`
	Status       string                `json:"status"`
	LineItems    []LineItem            `json:"line_items,omitempty"`
	Subtotal     decimal.Decimal       `json:"subtotal"`
	Discount     decimal.Decimal       `json:"discount"`
	Shipping     decimal.Decimal       `json:"shipping"`
	TaxRate      decimal.Decimal       `json:"tax_rate"`
	TaxAmount    decimal.Decimal       `json:"tax_amount"`
	Total        decimal.Decimal       `json:"total"`
	Notes        string                `json:"notes,omitempty"`
	CreatedBy    string                `json:"created_by"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
	Reservations []ReservationResponse `json:"reservations,omitempty"`
	Availability []Availability        `json:"availability,omitempty"`
	Invoice      *InvoiceResponse      `json:"invoice,omitempty"`
}

func toQuoteResponse(q repository.Quote) QuoteResponse {
	resp := QuoteResponse{
		ID:        q.ID,
		Number:    q.Number,
		ClientID:  q.ClientID,
		Status:    string(q.Status),
		Subtotal:  q.Subtotal,
		Discount:  q.Discount,
		Shipping:  q.Shipping,
		TaxRate:   q.TaxRate,
		TaxAmount: q.TaxAmount,
		Total:     q.Total,
		Notes:     q.Notes,
		CreatedBy: q.CreatedBy,
		CreatedAt: q.CreatedAt,
		UpdatedAt: q.UpdatedAt,
	}
	for _, li := range q.LineItems {
		resp.LineItems = append(resp.LineItems, LineItem{
			ID:          li.ID,
			Description: li.Description,
			Quantity:    li.Quantity,
			UnitPrice:   li.UnitPrice,
			Total:       li.Total,
			StockItemID: li.StockItemID,
		})
	}
	return resp
}

func toDetailsResponse(d service.QuoteDetails) QuoteResponse {
	resp := toQuoteResponse(d.Quote)
	for _, r := range d.Reservations {
		resp.Reservations = append(resp.Reservations, ReservationResponse{
			ID:          r.ID,
			StockItemID: r.StockItemID,
			LineItemID:  r.LineItemID,
			Quantity:    r.Quantity,
			Status:      string(r.Status),
			CreatedBy:   r.CreatedBy,
			CreatedAt:   r.CreatedAt,
			CancelledAt: r.CancelledAt,
		})
	}
	if d.Invoice != nil {
		inv := toInvoiceResponse(*d.Invoice)
		resp.Invoice = &inv
	}
	return resp
}

// StatusRequest смена статуса предложения
type StatusRequest struct {
	Status string `json:"status"`
}

// InvoiceResponse счёт в HTTP ответе
type InvoiceResponse struct {
	ID        string          `json:"id"`
	Number    string          `json:"number"`
	QuoteID   *string         `json:"quote_id"`
	ClientID  string          `json:"client_id"`
	LineItems []LineItem      `json:"line_items,omitempty"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Discount  decimal.Decimal `json:"discount"`
	Shipping  decimal.Decimal `json:"shipping"`
	TaxRate   decimal.Decimal `json:"tax_rate"`
	TaxAmount decimal.Decimal `json:"tax_amount"`
	Total     decimal.Decimal `json:"total"`
	CreatedBy string          `json:"created_by"`
	CreatedAt time.Time       `json:"created_at"`
}

func toInvoiceResponse(inv repository.Invoice) InvoiceResponse {
	resp := InvoiceResponse{
		ID:        inv.ID,
		Number:    inv.Number,
		QuoteID:   inv.QuoteID,
		ClientID:  inv.ClientID,
		Subtotal:  inv.Subtotal,
		Discount:  inv.Discount,
		Shipping:  inv.Shipping,
		TaxRate:   inv.TaxRate,
		TaxAmount: inv.TaxAmount,
		Total:     inv.Total,
		CreatedBy: inv.CreatedBy,
		CreatedAt: inv.CreatedAt,
	}
	for _, li := range inv.LineItems {
		resp.LineItems = append(resp.LineItems, LineItem{
			Description: li.Description,
			Quantity:    li.Quantity,
			UnitPrice:   li.UnitPrice,
			Total:       li.Total,
		})
	}
	return resp
}

// TotalsRequest запрос на расчёт итогов без сохранения
type TotalsRequest struct {
	LineItems []LineItem      `json:"line_items"`
	Discount  decimal.Decimal `json:"discount"`
	Shipping  decimal.Decimal `json:"shipping"`
	TaxRate   decimal.Decimal `json:"tax_rate"`
}

// TotalsResponse итоги расчёта
type TotalsResponse struct {
	Subtotal    decimal.Decimal `json:"subtotal"`
	TaxableBase decimal.Decimal `json:"taxable_base"`
	TaxAmount   decimal.Decimal `json:"tax_amount"`
	Total       decimal.Decimal `json:"total"`
}

func toTotalsResponse(t calc.Totals) TotalsResponse {
	return TotalsResponse{
		Subtotal:    t.Subtotal,
		TaxableBase: t.TaxableBase,
		TaxAmount:   t.TaxAmount,
		Total:       t.Total,
	}
}
