package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// StockItem складская позиция: физический остаток и зарезервированное количество
type StockItem struct {
	ID               string
	SKU              string
	Name             string
	Unit             string // единица измерения (шт, м2, ...)
	QuantityOnHand   decimal.Decimal
	QuantityReserved decimal.Decimal // агрегат: сумма активных резервов
	MinimumStock     decimal.Decimal // порог дозаказа
	UnitSalePrice    decimal.Decimal
	UnitCostPrice    decimal.Decimal
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Available возвращает onHand − reserved; может быть отрицательным при овербукинге
func (s StockItem) Available() decimal.Decimal {
	return s.QuantityOnHand.Sub(s.QuantityReserved)
}

// StockMovement запись о ручной корректировке физического остатка
type StockMovement struct {
	ID          string
	StockItemID string
	Delta       decimal.Decimal
	Reason      string
	CreatedBy   string
	CreatedAt   time.Time
}

// ReservationStatus статус резерва
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "active"
	ReservationCancelled ReservationStatus = "cancelled"
)

// Reservation резерв количества складской позиции под строку предложения.
// Количество не редактируется: только создание и однократная отмена.
type Reservation struct {
	ID          string
	StockItemID string
	QuoteID     string
	LineItemID  string
	ClientID    string
	Quantity    decimal.Decimal
	Status      ReservationStatus
	CreatedBy   string
	CreatedAt   time.Time
	CancelledAt *time.Time
}

// QuoteStatus статус ценового предложения
type QuoteStatus string

const (
	QuoteDraft    QuoteStatus = "draft"
	QuoteSent     QuoteStatus = "sent"
	QuoteAccepted QuoteStatus = "accepted"
	QuoteRejected QuoteStatus = "rejected"
)

// Valid проверяет, что статус входит в известный набор
func (s QuoteStatus) Valid() bool {
	switch s {
	case QuoteDraft, QuoteSent, QuoteAccepted, QuoteRejected:
		return true
	}
	return false
}

// Quote ценовое предложение. Итоги считаются один раз при создании.
type Quote struct {
	ID        string
	Number    string
	ClientID  string
	Status    QuoteStatus
	LineItems []QuoteLineItem
	Subtotal  decimal.Decimal
	Discount  decimal.Decimal
	Shipping  decimal.Decimal
	TaxRate   decimal.Decimal
	TaxAmount decimal.Decimal
	Total     decimal.Decimal
	Notes     string
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// QuoteLineItem строка предложения. В резервировании участвуют только строки со StockItemID.
type QuoteLineItem struct {
	ID          string
	QuoteID     string
	Position    int
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	Total       decimal.Decimal
	StockItemID *string
}

// Invoice счёт, выставленный по принятому предложению
type Invoice struct {
	ID        string
	Number    string
	QuoteID   *string // обнуляется при удалении предложения
	ClientID  string
	LineItems []InvoiceLineItem
	Subtotal  decimal.Decimal
	Discount  decimal.Decimal
	Shipping  decimal.Decimal
	TaxRate   decimal.Decimal
	TaxAmount decimal.Decimal
	Total     decimal.Decimal
	CreatedBy string
	CreatedAt time.Time
}

// InvoiceLineItem строка счёта
type InvoiceLineItem struct {
	Position    int
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	Total       decimal.Decimal
}

// QuoteFilter фильтр для списка предложений; пустые поля не фильтруют
type QuoteFilter struct {
	ClientID string
	Status   QuoteStatus
}

// Sequence имя счётчика для человекочитаемых номеров
type Sequence string

const (
	SequenceQuote   Sequence = "quote"
	SequenceInvoice Sequence = "invoice"
)

// Store набор операций над хранилищем в рамках одной единицы работы.
// Lock* методы блокируют строку до конца транзакции: через них идёт любой read-modify-write.
type Store interface {
	CreateStockItem(ctx context.Context, item StockItem) error
	GetStockItem(ctx context.Context, id string) (StockItem, error)
	LockStockItem(ctx context.Context, id string) (StockItem, error)
	ListStockItems(ctx context.Context) ([]StockItem, error)
	UpdateStockQuantities(ctx context.Context, id string, onHand, reserved decimal.Decimal, at time.Time) error
	DeleteStockItem(ctx context.Context, id string) error
	InsertStockMovement(ctx context.Context, m StockMovement) error

	CreateReservation(ctx context.Context, r Reservation) error
	ListReservationsByQuote(ctx context.Context, quoteID string) ([]Reservation, error)
	// LockActiveReservationsByQuote возвращает активные резервы, упорядоченные по stock_item_id
	LockActiveReservationsByQuote(ctx context.Context, quoteID string) ([]Reservation, error)
	CancelReservation(ctx context.Context, id string, at time.Time) error
	SumActiveReservations(ctx context.Context, stockItemID string) (total decimal.Decimal, count int, err error)

	NextNumber(ctx context.Context, seq Sequence) (int64, error)
	CreateQuote(ctx context.Context, q Quote) error
	GetQuote(ctx context.Context, id string) (Quote, error)
	LockQuote(ctx context.Context, id string) (Quote, error)
	ListQuotes(ctx context.Context, filter QuoteFilter) ([]Quote, error)
	UpdateQuoteStatus(ctx context.Context, id string, status QuoteStatus, at time.Time) error
	DeleteQuoteLineItems(ctx context.Context, quoteID string) error
	DeleteQuote(ctx context.Context, id string) error

	CreateInvoice(ctx context.Context, inv Invoice) error
	GetInvoice(ctx context.Context, id string) (Invoice, error)
	FindInvoiceByQuote(ctx context.Context, quoteID string) (Invoice, error)
	// DetachInvoicesFromQuote обнуляет quote_id у всех счетов предложения, возвращает число строк
	DetachInvoicesFromQuote(ctx context.Context, quoteID string) (int64, error)
}

// TxManager даёт доступ к Store.
// WithinTx выполняет fn атомарно: либо все изменения применены, либо ни одного.
// View выполняет только чтение без транзакции.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, store Store) error) error
	View(ctx context.Context, fn func(ctx context.Context, store Store) error) error
}

// ErrNotFound возвращается, когда запись не найдена в хранилище
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists возвращается при нарушении уникальности (например, SKU)
var ErrAlreadyExists = errors.New("already exists")
