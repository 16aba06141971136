package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shestoi/backoffice/internal/repository"
)

// MemoryRepository реализует repository.TxManager используя in-memory хранилище.
// Используется для разработки и тестирования.
// WithinTx работает на копии состояния под эксклюзивным мьютексом и публикует копию только при успехе,
// поэтому транзакции сериализованы, а откат бесплатный.
type MemoryRepository struct {
	mu    sync.RWMutex
	state *state
}

// NewMemoryRepository создаёт пустой in-memory репозиторий
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		state: newState(),
	}
}

// WithinTx выполняет fn атомарно
func (r *MemoryRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, store repository.Store) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	draft := r.state.clone()
	if err := fn(ctx, draft); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.state = draft
	return nil
}

// View выполняет fn над зафиксированным состоянием; запись через store в View не допускается
func (r *MemoryRepository) View(ctx context.Context, fn func(ctx context.Context, store repository.Store) error) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// копия защищает зафиксированное состояние от случайной записи
	return fn(ctx, r.state.clone())
}

type state struct {
	stock        map[string]repository.StockItem
	movements    []repository.StockMovement
	reservations map[string]repository.Reservation
	quotes       map[string]repository.Quote
	invoices     map[string]repository.Invoice
	sequences    map[repository.Sequence]int64
}

func newState() *state {
	return &state{
		stock:        make(map[string]repository.StockItem),
		reservations: make(map[string]repository.Reservation),
		quotes:       make(map[string]repository.Quote),
		invoices:     make(map[string]repository.Invoice),
		sequences:    make(map[repository.Sequence]int64),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.stock {
		c.stock[k] = v
	}
	c.movements = append(c.movements, s.movements...)
	for k, v := range s.reservations {
		c.reservations[k] = v
	}
	for k, v := range s.quotes {
		c.quotes[k] = copyQuote(v)
	}
	for k, v := range s.invoices {
		c.invoices[k] = copyInvoice(v)
	}
	for k, v := range s.sequences {
		c.sequences[k] = v
	}
	return c
}

func copyQuote(q repository.Quote) repository.Quote {
	items := make([]repository.QuoteLineItem, len(q.LineItems))
	copy(items, q.LineItems)
	q.LineItems = items
	return q
}

func copyInvoice(inv repository.Invoice) repository.Invoice {
	items := make([]repository.InvoiceLineItem, len(inv.LineItems))
	copy(items, inv.LineItems)
	inv.LineItems = items
	if inv.QuoteID != nil {
		id := *inv.QuoteID
		inv.QuoteID = &id
	}
	return inv
}

// --- stock ---

func (s *state) CreateStockItem(ctx context.Context, item repository.StockItem) error {
	if _, exists := s.stock[item.ID]; exists {
		return repository.ErrAlreadyExists
	}
	for _, other := range s.stock {
		if other.SKU == item.SKU {
			return repository.ErrAlreadyExists
		}
	}
	s.stock[item.ID] = item
	return nil
}

func (s *state) GetStockItem(ctx context.Context, id string) (repository.StockItem, error) {
	item, exists := s.stock[id]
	if !exists {
		return repository.StockItem{}, repository.ErrNotFound
	}
	return item, nil
}

// LockStockItem в памяти совпадает с GetStockItem: транзакция уже держит эксклюзивный мьютекс
func (s *state) LockStockItem(ctx context.Context, id string) (repository.StockItem, error) {
	return s.GetStockItem(ctx, id)
}

func (s *state) ListStockItems(ctx context.Context) ([]repository.StockItem, error) {
	items := make([]repository.StockItem, 0, len(s.stock))
	for _, item := range s.stock {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].SKU < items[j].SKU })
	return items, nil
}

func (s *state) UpdateStockQuantities(ctx context.Context, id string, onHand, reserved decimal.Decimal, at time.Time) error {
	item, exists := s.stock[id]
	if !exists {
		return repository.ErrNotFound
	}
	item.QuantityOnHand = onHand
	item.QuantityReserved = reserved
	item.UpdatedAt = at
	s.stock[id] = item
	return nil
}

func (s *state) DeleteStockItem(ctx context.Context, id string) error {
	if _, exists := s.stock[id]; !exists {
		return repository.ErrNotFound
	}
	delete(s.stock, id)

	// ON DELETE CASCADE / SET NULL как в схеме Postgres
	for rid, r := range s.reservations {
		if r.StockItemID == id {
			delete(s.reservations, rid)
		}
	}
	for qid, q := range s.quotes {
		for i, item := range q.LineItems {
			if item.StockItemID != nil && *item.StockItemID == id {
				q.LineItems[i].StockItemID = nil
			}
		}
		s.quotes[qid] = q
	}

	kept := s.movements[:0]
	for _, m := range s.movements {
		if m.StockItemID != id {
			kept = append(kept, m)
		}
	}
	s.movements = kept
	return nil
}

func (s *state) InsertStockMovement(ctx context.Context, m repository.StockMovement) error {
	if _, exists := s.stock[m.StockItemID]; !exists {
		return repository.ErrNotFound
	}
	s.movements = append(s.movements, m)
	return nil
}

// Movements возвращает историю корректировок позиции (для тестов и отладки)
func (r *MemoryRepository) Movements(stockItemID string) []repository.StockMovement {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]repository.StockMovement, 0)
	for _, m := range r.state.movements {
		if m.StockItemID == stockItemID {
			out = append(out, m)
		}
	}
	return out
}

// --- reservations ---

func (s *state) CreateReservation(ctx context.Context, r repository.Reservation) error {
	if _, exists := s.reservations[r.ID]; exists {
		return repository.ErrAlreadyExists
	}
	if _, exists := s.stock[r.StockItemID]; !exists {
		return repository.ErrNotFound
	}
	s.reservations[r.ID] = r
	return nil
}

func (s *state) reservationsWhere(match func(repository.Reservation) bool) []repository.Reservation {
	out := make([]repository.Reservation, 0)
	for _, r := range s.reservations {
		if match(r) {
			out = append(out, r)
		}
	}
	return out
}

func (s *state) ListReservationsByQuote(ctx context.Context, quoteID string) ([]repository.Reservation, error) {
	out := s.reservationsWhere(func(r repository.Reservation) bool { return r.QuoteID == quoteID })
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *state) LockActiveReservationsByQuote(ctx context.Context, quoteID string) ([]repository.Reservation, error) {
	out := s.reservationsWhere(func(r repository.Reservation) bool {
		return r.QuoteID == quoteID && r.Status == repository.ReservationActive
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].StockItemID != out[j].StockItemID {
			return out[i].StockItemID < out[j].StockItemID
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *state) CancelReservation(ctx context.Context, id string, at time.Time) error {
	r, exists := s.reservations[id]
	if !exists || r.Status != repository.ReservationActive {
		return repository.ErrNotFound
	}
	r.Status = repository.ReservationCancelled
	r.CancelledAt = &at
	s.reservations[id] = r
	return nil
}

func (s *state) SumActiveReservations(ctx context.Context, stockItemID string) (decimal.Decimal, int, error) {
	total := decimal.Zero
	count := 0
	for _, r := range s.reservations {
		if r.StockItemID == stockItemID && r.Status == repository.ReservationActive {
			total = total.Add(r.Quantity)
			count++
		}
	}
	return total, count, nil
}

// --- quotes ---

func (s *state) NextNumber(ctx context.Context, seq repository.Sequence) (int64, error) {
	s.sequences[seq]++
	return s.sequences[seq], nil
}

func (s *state) CreateQuote(ctx context.Context, q repository.Quote) error {
	if _, exists := s.quotes[q.ID]; exists {
		return repository.ErrAlreadyExists
	}
	for _, other := range s.quotes {
		if other.Number == q.Number {
			return repository.ErrAlreadyExists
		}
	}
	for _, item := range q.LineItems {
		if item.StockItemID != nil {
			if _, exists := s.stock[*item.StockItemID]; !exists {
				return repository.ErrNotFound
			}
		}
	}
	s.quotes[q.ID] = copyQuote(q)
	return nil
}

func (s *state) GetQuote(ctx context.Context, id string) (repository.Quote, error) {
	q, exists := s.quotes[id]
	if !exists {
		return repository.Quote{}, repository.ErrNotFound
	}
	return copyQuote(q), nil
}

func (s *state) LockQuote(ctx context.Context, id string) (repository.Quote, error) {
	return s.GetQuote(ctx, id)
}

func (s *state) ListQuotes(ctx context.Context, filter repository.QuoteFilter) ([]repository.Quote, error) {
	out := make([]repository.Quote, 0)
	for _, q := range s.quotes {
		if filter.ClientID != "" && q.ClientID != filter.ClientID {
			continue
		}
		if filter.Status != "" && q.Status != filter.Status {
			continue
		}
		q.LineItems = nil
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Number > out[j].Number
	})
	return out, nil
}

func (s *state) UpdateQuoteStatus(ctx context.Context, id string, status repository.QuoteStatus, at time.Time) error {
	q, exists := s.quotes[id]
	if !exists {
		return repository.ErrNotFound
	}
	q.Status = status
	q.UpdatedAt = at
	s.quotes[id] = q
	return nil
}

func (s *state) DeleteQuoteLineItems(ctx context.Context, quoteID string) error {
	q, exists := s.quotes[quoteID]
	if !exists {
		return nil
	}
	q.LineItems = nil
	s.quotes[quoteID] = q
	return nil
}

func (s *state) DeleteQuote(ctx context.Context, id string) error {
	if _, exists := s.quotes[id]; !exists {
		return repository.ErrNotFound
	}
	for _, inv := range s.invoices {
		if inv.QuoteID != nil && *inv.QuoteID == id {
			// то же поведение, что у внешнего ключа invoices.quote_id в Postgres
			return fmt.Errorf("quote %s is referenced by invoice %s", id, inv.ID)
		}
	}
	delete(s.quotes, id)
	return nil
}

// --- invoices ---

func (s *state) CreateInvoice(ctx context.Context, inv repository.Invoice) error {
	if _, exists := s.invoices[inv.ID]; exists {
		return repository.ErrAlreadyExists
	}
	if inv.QuoteID != nil {
		if _, exists := s.quotes[*inv.QuoteID]; !exists {
			return repository.ErrNotFound
		}
		for _, other := range s.invoices {
			if other.QuoteID != nil && *other.QuoteID == *inv.QuoteID {
				return repository.ErrAlreadyExists
			}
		}
	}
	s.invoices[inv.ID] = copyInvoice(inv)
	return nil
}

func (s *state) GetInvoice(ctx context.Context, id string) (repository.Invoice, error) {
	inv, exists := s.invoices[id]
	if !exists {
		return repository.Invoice{}, repository.ErrNotFound
	}
	return copyInvoice(inv), nil
}

func (s *state) FindInvoiceByQuote(ctx context.Context, quoteID string) (repository.Invoice, error) {
	for _, inv := range s.invoices {
		if inv.QuoteID != nil && *inv.QuoteID == quoteID {
			return copyInvoice(inv), nil
		}
	}
	return repository.Invoice{}, repository.ErrNotFound
}

func (s *state) DetachInvoicesFromQuote(ctx context.Context, quoteID string) (int64, error) {
	var n int64
	for id, inv := range s.invoices {
		if inv.QuoteID != nil && *inv.QuoteID == quoteID {
			inv.QuoteID = nil
			s.invoices[id] = inv
			n++
		}
	}
	return n, nil
}
