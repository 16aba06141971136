package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/shestoi/backoffice/internal/authctx"
	"github.com/shestoi/backoffice/internal/repository"
	"github.com/shestoi/backoffice/platform/observability"
)

// ReservationManager ведёт резервы складских позиций под строки предложений.
// Все изменения агрегата quantityReserved идут через InventoryLedger в той же транзакции,
// что и запись/отмена резерва.
type ReservationManager struct {
	logger   *zap.Logger
	tx       repository.TxManager
	ledger   *InventoryLedger
	activity ActivityPublisher
	metrics  ReservationMetrics
	now      func() time.Time
}

// WithMetrics подключает счётчики резервов
func (m *ReservationManager) WithMetrics(metrics ReservationMetrics) *ReservationManager {
	m.metrics = metrics
	return m
}

func (m *ReservationManager) record(ctx context.Context, op string, count int) {
	if m.metrics != nil && count > 0 {
		m.metrics.RecordReservations(ctx, op, count)
	}
}

// NewReservationManager создаёт новый экземпляр ReservationManager
func NewReservationManager(logger *zap.Logger, tx repository.TxManager, ledger *InventoryLedger, activity ActivityPublisher) *ReservationManager {
	if activity == nil {
		activity = NoopActivityPublisher{}
	}
	return &ReservationManager{
		logger:   logger,
		tx:       tx,
		ledger:   ledger,
		activity: activity,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// createForQuote создаёт по резерву на каждую строку с StockItemID и увеличивает агрегаты.
// Выполняется в транзакции вызывающего: любая ошибка откатывает всё, включая само предложение.
// Позиции блокируются заранее в порядке id, чтобы параллельные предложения не ловили deadlock.
func (m *ReservationManager) createForQuote(ctx context.Context, store repository.Store, quote repository.Quote) ([]repository.Reservation, []repository.StockItem, error) {
	ids, err := m.lockStockItems(ctx, store, quote.LineItems)
	if err != nil {
		return nil, nil, err
	}

	actor := authctx.ActorFromContext(ctx)
	now := m.now()
	touched := make(map[string]repository.StockItem, len(ids))
	reservations := make([]repository.Reservation, 0, len(quote.LineItems))

	for i, line := range quote.LineItems {
		if line.StockItemID == nil {
			continue
		}
		stockID := *line.StockItemID
		fail := func(err error) error {
			return &LineItemError{Index: i, StockItemID: stockID, Kind: ErrReservationFailed, Err: err}
		}

		if !line.Quantity.IsPositive() {
			return nil, nil, fail(fmt.Errorf("%w: quantity must be positive", ErrValidation))
		}

		r := repository.Reservation{
			ID:          uuid.NewString(),
			StockItemID: stockID,
			QuoteID:     quote.ID,
			LineItemID:  line.ID,
			ClientID:    quote.ClientID,
			Quantity:    line.Quantity,
			Status:      repository.ReservationActive,
			CreatedBy:   actor,
			CreatedAt:   now,
		}
		if err := store.CreateReservation(ctx, r); err != nil {
			return nil, nil, fail(err)
		}

		item, err := m.ledger.reserve(ctx, store, stockID, line.Quantity)
		if err != nil {
			return nil, nil, fail(err)
		}
		touched[stockID] = item
		reservations = append(reservations, r)
	}

	items := make([]repository.StockItem, 0, len(touched))
	for _, id := range ids {
		if item, ok := touched[id]; ok {
			items = append(items, item)
		}
	}
	return reservations, items, nil
}

// lockStockItems блокирует все позиции строк в порядке id и возвращает этот порядок.
// В Postgres повторная блокировка строки той же транзакцией проходит сразу.
func (m *ReservationManager) lockStockItems(ctx context.Context, store repository.Store, lines []repository.QuoteLineItem) ([]string, error) {
	ids := stockItemIDs(lines)
	for _, id := range ids {
		if _, err := store.LockStockItem(ctx, id); err != nil {
			return nil, &LineItemError{
				Index:       lineIndexOf(lines, id),
				StockItemID: id,
				Kind:        ErrReservationFailed,
				Err:         notFound(err, "stock item", id),
			}
		}
	}
	return ids, nil
}

// releaseForQuote отменяет все активные резервы предложения и уменьшает агрегаты.
// Единая точка освобождения для отклонения и удаления. Повторный вызов ничего не меняет.
func (m *ReservationManager) releaseForQuote(ctx context.Context, store repository.Store, quoteID string) ([]repository.Reservation, []repository.StockItem, error) {
	active, err := store.LockActiveReservationsByQuote(ctx, quoteID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to lock reservations of quote %s: %w", quoteID, err)
	}
	if len(active) == 0 {
		return nil, nil, nil
	}

	now := m.now()
	touched := make(map[string]repository.StockItem)
	order := make([]string, 0)
	released := make([]repository.Reservation, 0, len(active))

	for _, r := range active {
		item, err := m.ledger.release(ctx, store, r.StockItemID, r.Quantity)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				return nil, nil, fmt.Errorf("failed to release reservation %s: %w", r.ID, err)
			}
			// позиция удалена вместе со своими резервами; отменяем то, что осталось
			observability.L(ctx, m.logger).Warn("reservation references missing stock item",
				zap.String("reservation_id", r.ID),
				zap.String("stock_item_id", r.StockItemID),
			)
		} else {
			if _, ok := touched[r.StockItemID]; !ok {
				order = append(order, r.StockItemID)
			}
			touched[r.StockItemID] = item
		}

		if err := store.CancelReservation(ctx, r.ID, now); err != nil {
			return nil, nil, fmt.Errorf("failed to cancel reservation %s: %w", r.ID, err)
		}
		r.Status = repository.ReservationCancelled
		cancelledAt := now
		r.CancelledAt = &cancelledAt
		released = append(released, r)
	}

	items := make([]repository.StockItem, 0, len(order))
	for _, id := range order {
		items = append(items, touched[id])
	}
	return released, items, nil
}

// ReleaseForQuote добирает оставшиеся активные резервы отклонённого предложения
// в собственной транзакции; для неизвестного предложения ничего не делает. Для draft, sent и accepted возвращает TransitionError: их резервы
// освобождаются только через ChangeStatus(rejected) или Delete.
// Возвращает число отменённых резервов (0 при повторном вызове).
func (m *ReservationManager) ReleaseForQuote(ctx context.Context, quoteID string) (int, error) {
	var (
		released []repository.Reservation
		items    []repository.StockItem
	)
	err := m.tx.WithinTx(ctx, func(ctx context.Context, store repository.Store) error {
		quote, err := store.LockQuote(ctx, quoteID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			// Delete освобождает резервы в своей транзакции, после него освобождать нечего
			return nil
		case err != nil:
			return fmt.Errorf("failed to lock quote %s: %w", quoteID, err)
		case quote.Status != repository.QuoteRejected:
			return &TransitionError{
				QuoteID: quoteID,
				From:    quote.Status,
				To:      repository.QuoteRejected,
				Reason:  "reservations of a live quote are released only by rejection or deletion",
			}
		}

		released, items, err = m.releaseForQuote(ctx, store, quoteID)
		return err
	})
	if err != nil {
		return 0, err
	}
	m.afterRelease(ctx, quoteID, released, items)
	return len(released), nil
}

// afterRelease обновляет снимки и публикует факты после commit
func (m *ReservationManager) afterRelease(ctx context.Context, quoteID string, released []repository.Reservation, items []repository.StockItem) {
	if len(released) == 0 {
		return
	}
	m.ledger.refreshSnapshots(ctx, items...)
	m.record(ctx, ReservationOpReleased, len(released))

	actor := authctx.ActorFromContext(ctx)
	for _, r := range released {
		publish(ctx, m.logger, m.activity, Activity{
			Type:        ActivityReservationReleased,
			ActorID:     actor,
			QuoteID:     quoteID,
			StockItemID: r.StockItemID,
			ClientID:    r.ClientID,
			Attributes: map[string]string{
				"reservation_id": r.ID,
				"quantity":       r.Quantity.String(),
			},
		}, m.now())
	}

	observability.L(ctx, m.logger).Info("reservations released",
		zap.String("quote_id", quoteID),
		zap.Int("count", len(released)),
	)
}

// ListForQuote возвращает все резервы предложения, включая отменённые
func (m *ReservationManager) ListForQuote(ctx context.Context, quoteID string) ([]repository.Reservation, error) {
	var out []repository.Reservation
	err := m.tx.View(ctx, func(ctx context.Context, store repository.Store) error {
		var err error
		out, err = store.ListReservationsByQuote(ctx, quoteID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations of quote %s: %w", quoteID, err)
	}
	return out, nil
}

// ActiveTotal сумма активных резервов позиции и их количество
func (m *ReservationManager) ActiveTotal(ctx context.Context, stockItemID string) (decimal.Decimal, int, error) {
	var (
		total decimal.Decimal
		count int
	)
	err := m.tx.View(ctx, func(ctx context.Context, store repository.Store) error {
		if _, err := store.GetStockItem(ctx, stockItemID); err != nil {
			return notFound(err, "stock item", stockItemID)
		}
		var err error
		total, count, err = store.SumActiveReservations(ctx, stockItemID)
		return err
	})
	if err != nil {
		return decimal.Zero, 0, err
	}
	return total, count, nil
}

// stockItemIDs уникальные id складских позиций строк в порядке сортировки
func stockItemIDs(lines []repository.QuoteLineItem) []string {
	seen := make(map[string]struct{})
	ids := make([]string, 0)
	for _, line := range lines {
		if line.StockItemID == nil {
			continue
		}
		if _, ok := seen[*line.StockItemID]; ok {
			continue
		}
		seen[*line.StockItemID] = struct{}{}
		ids = append(ids, *line.StockItemID)
	}
	sort.Strings(ids)
	return ids
}

func lineIndexOf(lines []repository.QuoteLineItem, stockItemID string) int {
	for i, line := range lines {
		if line.StockItemID != nil && *line.StockItemID == stockItemID {
			return i
		}
	}
	return -1
}
