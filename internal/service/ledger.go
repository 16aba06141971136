package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/shestoi/backoffice/internal/authctx"
	"github.com/shestoi/backoffice/internal/repository"
	"github.com/shestoi/backoffice/platform/observability"
)

// InventoryLedger владеет остатком и резервом складских позиций.
// quantityOnHand меняется только через AdjustOnHand, quantityReserved только через reserve/release,
// которые вызывает ReservationManager. Каждое изменение: блокировка строки, расчёт, запись в одной транзакции.
type InventoryLedger struct {
	logger    *zap.Logger
	tx        repository.TxManager
	snapshots StockSnapshotCache
	activity  ActivityPublisher
	now       func() time.Time
}

// NewInventoryLedger создаёт новый экземпляр InventoryLedger.
// snapshots и activity могут быть nil, тогда используются no-op реализации.
func NewInventoryLedger(
	logger *zap.Logger,
	tx repository.TxManager,
	snapshots StockSnapshotCache,
	activity ActivityPublisher,
) *InventoryLedger {
	if snapshots == nil {
		snapshots = NoopSnapshotCache{}
	}
	if activity == nil {
		activity = NoopActivityPublisher{}
	}
	return &InventoryLedger{
		logger:    logger,
		tx:        tx,
		snapshots: snapshots,
		activity:  activity,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateStockItemInput данные приёмки новой складской позиции
type CreateStockItemInput struct {
	SKU            string
	Name           string
	Unit           string
	QuantityOnHand decimal.Decimal
	MinimumStock   decimal.Decimal
	UnitSalePrice  decimal.Decimal
	UnitCostPrice  decimal.Decimal
}

// CreateStockItem заводит позицию с нулевым резервом
func (l *InventoryLedger) CreateStockItem(ctx context.Context, input CreateStockItemInput) (repository.StockItem, error) {
	if strings.TrimSpace(input.SKU) == "" {
		return repository.StockItem{}, validationf("sku is required")
	}
	if strings.TrimSpace(input.Name) == "" {
		return repository.StockItem{}, validationf("name is required")
	}
	if strings.TrimSpace(input.Unit) == "" {
		return repository.StockItem{}, validationf("unit is required")
	}
	for field, v := range map[string]decimal.Decimal{
		"quantity_on_hand": input.QuantityOnHand,
		"minimum_stock":    input.MinimumStock,
		"unit_sale_price":  input.UnitSalePrice,
		"unit_cost_price":  input.UnitCostPrice,
	} {
		if v.IsNegative() {
			return repository.StockItem{}, validationf("%s must not be negative", field)
		}
	}
	if err := checkQuantityScale("quantity_on_hand", input.QuantityOnHand); err != nil {
		return repository.StockItem{}, err
	}
	if err := checkQuantityScale("minimum_stock", input.MinimumStock); err != nil {
		return repository.StockItem{}, err
	}

	now := l.now()
	item := repository.StockItem{
		ID:               uuid.NewString(),
		SKU:              strings.TrimSpace(input.SKU),
		Name:             strings.TrimSpace(input.Name),
		Unit:             strings.TrimSpace(input.Unit),
		QuantityOnHand:   input.QuantityOnHand,
		QuantityReserved: decimal.Zero,
		MinimumStock:     input.MinimumStock,
		UnitSalePrice:    input.UnitSalePrice,
		UnitCostPrice:    input.UnitCostPrice,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err := l.tx.WithinTx(ctx, func(ctx context.Context, store repository.Store) error {
		return store.CreateStockItem(ctx, item)
	})
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return repository.StockItem{}, validationf("sku %s already exists", item.SKU)
		}
		return repository.StockItem{}, fmt.Errorf("failed to create stock item: %w", err)
	}

	observability.L(ctx, l.logger).Info("stock item created",
		zap.String("stock_item_id", item.ID),
		zap.String("sku", item.SKU),
		zap.String("on_hand", item.QuantityOnHand.String()),
	)
	l.refreshSnapshots(ctx, item)
	return item, nil
}

// GetStockItem читает позицию из основного хранилища
func (l *InventoryLedger) GetStockItem(ctx context.Context, id string) (repository.StockItem, error) {
	var item repository.StockItem
	err := l.tx.View(ctx, func(ctx context.Context, store repository.Store) error {
		var err error
		item, err = store.GetStockItem(ctx, id)
		return err
	})
	if err != nil {
		return repository.StockItem{}, notFound(err, "stock item", id)
	}
	return item, nil
}

// AvailableQuantity возвращает onHand − reserved. Отрицательное значение означает овербукинг;
// блокировать или предупреждать решает вызывающий.
func (l *InventoryLedger) AvailableQuantity(ctx context.Context, id string) (decimal.Decimal, error) {
	item, err := l.GetStockItem(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	return item.Available(), nil
}

// AdjustOnHand применяет физическую корректировку остатка (приход, инвентаризация).
// Резервы не затрагиваются. Остаток не может уйти в минус.
func (l *InventoryLedger) AdjustOnHand(ctx context.Context, id string, delta decimal.Decimal, reason string) (repository.StockItem, error) {
	if delta.IsZero() {
		return repository.StockItem{}, validationf("delta must not be zero")
	}
	if err := checkQuantityScale("delta", delta); err != nil {
		return repository.StockItem{}, err
	}
	actor := authctx.ActorFromContext(ctx)

	var item repository.StockItem
	err := l.tx.WithinTx(ctx, func(ctx context.Context, store repository.Store) error {
		current, err := store.LockStockItem(ctx, id)
		if err != nil {
			return notFound(err, "stock item", id)
		}

		onHand := current.QuantityOnHand.Add(delta)
		if onHand.IsNegative() {
			return &StockError{StockItemID: id, OnHand: current.QuantityOnHand, Delta: delta}
		}

		now := l.now()
		if err := store.UpdateStockQuantities(ctx, id, onHand, current.QuantityReserved, now); err != nil {
			return err
		}
		if err := store.InsertStockMovement(ctx, repository.StockMovement{
			ID:          uuid.NewString(),
			StockItemID: id,
			Delta:       delta,
			Reason:      reason,
			CreatedBy:   actor,
			CreatedAt:   now,
		}); err != nil {
			return err
		}

		current.QuantityOnHand = onHand
		current.UpdatedAt = now
		item = current
		return nil
	})
	if err != nil {
		return repository.StockItem{}, err
	}

	observability.L(ctx, l.logger).Info("stock on hand adjusted",
		zap.String("stock_item_id", id),
		zap.String("delta", delta.String()),
		zap.String("on_hand", item.QuantityOnHand.String()),
		zap.String("reason", reason),
	)
	l.refreshSnapshots(ctx, item)
	l.emit(ctx, Activity{
		Type:        ActivityStockAdjusted,
		ActorID:     actor,
		StockItemID: id,
		Attributes: map[string]string{
			"delta":   delta.String(),
			"on_hand": item.QuantityOnHand.String(),
			"reason":  reason,
		},
	})
	return item, nil
}

// Reserve увеличивает резерв позиции в собственной транзакции
func (l *InventoryLedger) Reserve(ctx context.Context, id string, quantity decimal.Decimal) (repository.StockItem, error) {
	var item repository.StockItem
	err := l.tx.WithinTx(ctx, func(ctx context.Context, store repository.Store) error {
		var err error
		item, err = l.reserve(ctx, store, id, quantity)
		return err
	})
	if err != nil {
		return repository.StockItem{}, err
	}
	l.refreshSnapshots(ctx, item)
	return item, nil
}

// Release уменьшает резерв позиции в собственной транзакции
func (l *InventoryLedger) Release(ctx context.Context, id string, quantity decimal.Decimal) (repository.StockItem, error) {
	var item repository.StockItem
	err := l.tx.WithinTx(ctx, func(ctx context.Context, store repository.Store) error {
		var err error
		item, err = l.release(ctx, store, id, quantity)
		return err
	})
	if err != nil {
		return repository.StockItem{}, err
	}
	l.refreshSnapshots(ctx, item)
	return item, nil
}

// reserve: reserved += quantity внутри транзакции вызывающего.
// Превышение onHand допускается (предложение может опережать поставку), но логируется.
func (l *InventoryLedger) reserve(ctx context.Context, store repository.Store, id string, quantity decimal.Decimal) (repository.StockItem, error) {
	if !quantity.IsPositive() {
		return repository.StockItem{}, validationf("reserve quantity must be positive, got %s", quantity.String())
	}
	if err := checkQuantityScale("quantity", quantity); err != nil {
		return repository.StockItem{}, err
	}

	item, err := store.LockStockItem(ctx, id)
	if err != nil {
		return repository.StockItem{}, notFound(err, "stock item", id)
	}

	item.QuantityReserved = item.QuantityReserved.Add(quantity)
	item.UpdatedAt = l.now()
	if err := store.UpdateStockQuantities(ctx, id, item.QuantityOnHand, item.QuantityReserved, item.UpdatedAt); err != nil {
		return repository.StockItem{}, err
	}

	if item.Available().IsNegative() {
		observability.L(ctx, l.logger).Warn("stock item over-reserved",
			zap.String("stock_item_id", id),
			zap.String("on_hand", item.QuantityOnHand.String()),
			zap.String("reserved", item.QuantityReserved.String()),
			zap.String("available", item.Available().String()),
		)
	}
	return item, nil
}

// release: reserved = max(0, reserved − quantity) внутри транзакции вызывающего.
// Ограничение нулём терпит повторный release после частично применённого резерва.
func (l *InventoryLedger) release(ctx context.Context, store repository.Store, id string, quantity decimal.Decimal) (repository.StockItem, error) {
	if quantity.IsNegative() {
		return repository.StockItem{}, validationf("release quantity must not be negative, got %s", quantity.String())
	}
	if err := checkQuantityScale("quantity", quantity); err != nil {
		return repository.StockItem{}, err
	}

	item, err := store.LockStockItem(ctx, id)
	if err != nil {
		return repository.StockItem{}, notFound(err, "stock item", id)
	}

	reserved := item.QuantityReserved.Sub(quantity)
	if reserved.IsNegative() {
		observability.L(ctx, l.logger).Warn("release exceeds reserved quantity, clamping to zero",
			zap.String("stock_item_id", id),
			zap.String("reserved", item.QuantityReserved.String()),
			zap.String("release", quantity.String()),
		)
		reserved = decimal.Zero
	}

	item.QuantityReserved = reserved
	item.UpdatedAt = l.now()
	if err := store.UpdateStockQuantities(ctx, id, item.QuantityOnHand, item.QuantityReserved, item.UpdatedAt); err != nil {
		return repository.StockItem{}, err
	}
	return item, nil
}

// ListBelowMinimum возвращает позиции, у которых доступное количество ниже порога дозаказа
func (l *InventoryLedger) ListBelowMinimum(ctx context.Context) ([]repository.StockItem, error) {
	var items []repository.StockItem
	err := l.tx.View(ctx, func(ctx context.Context, store repository.Store) error {
		var err error
		items, err = store.ListStockItems(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list stock items: %w", err)
	}

	out := make([]repository.StockItem, 0)
	for _, item := range items {
		if item.Available().LessThan(item.MinimumStock) {
			out = append(out, item)
		}
	}
	return out, nil
}

// DeleteStockItem удаляет позицию, если на неё нет активных резервов
func (l *InventoryLedger) DeleteStockItem(ctx context.Context, id string) error {
	err := l.tx.WithinTx(ctx, func(ctx context.Context, store repository.Store) error {
		if _, err := store.LockStockItem(ctx, id); err != nil {
			return notFound(err, "stock item", id)
		}
		_, count, err := store.SumActiveReservations(ctx, id)
		if err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: stock item %s has %d active reservations", ErrInvalidTransition, id, count)
		}
		return store.DeleteStockItem(ctx, id)
	})
	if err != nil {
		return err
	}

	observability.L(ctx, l.logger).Info("stock item deleted", zap.String("stock_item_id", id))
	return nil
}

// ReconcileReport сравнение агрегата с суммой активных резервов
type ReconcileReport struct {
	StockItemID      string
	QuantityReserved decimal.Decimal
	ActiveTotal      decimal.Decimal
	ActiveCount      int
	Drift            decimal.Decimal // QuantityReserved − ActiveTotal
}

// Consistent true, если агрегат совпадает с суммой активных резервов
func (r ReconcileReport) Consistent() bool {
	return r.Drift.IsZero()
}

// Reconcile сообщает о расхождении quantityReserved с суммой активных резервов.
// Ничего не исправляет: расхождение требует разбора, а не тихой перезаписи.
func (l *InventoryLedger) Reconcile(ctx context.Context, id string) (ReconcileReport, error) {
	var report ReconcileReport
	err := l.tx.WithinTx(ctx, func(ctx context.Context, store repository.Store) error {
		item, err := store.LockStockItem(ctx, id)
		if err != nil {
			return notFound(err, "stock item", id)
		}
		total, count, err := store.SumActiveReservations(ctx, id)
		if err != nil {
			return err
		}
		report = ReconcileReport{
			StockItemID:      id,
			QuantityReserved: item.QuantityReserved,
			ActiveTotal:      total,
			ActiveCount:      count,
			Drift:            item.QuantityReserved.Sub(total),
		}
		return nil
	})
	if err != nil {
		return ReconcileReport{}, err
	}

	if !report.Consistent() {
		observability.L(ctx, l.logger).Warn("reserved quantity drift detected",
			zap.String("stock_item_id", id),
			zap.String("reserved", report.QuantityReserved.String()),
			zap.String("active_total", report.ActiveTotal.String()),
			zap.String("drift", report.Drift.String()),
		)
	}
	return report, nil
}

// Snapshot отдаёт снимок из кэша; при промахе читает основное хранилище и обновляет кэш.
// Снимок может быть устаревшим, решения по нему не принимаются.
func (l *InventoryLedger) Snapshot(ctx context.Context, id string) (StockSnapshot, error) {
	snap, found, err := l.snapshots.Get(ctx, id)
	if err != nil {
		observability.L(ctx, l.logger).Warn("snapshot cache read failed",
			zap.String("stock_item_id", id),
			zap.Error(err),
		)
	}
	if err == nil && found {
		return snap, nil
	}

	item, err := l.GetStockItem(ctx, id)
	if err != nil {
		return StockSnapshot{}, err
	}
	snap = l.snapshotOf(item)
	l.storeSnapshot(ctx, snap)
	return snap, nil
}

func (l *InventoryLedger) snapshotOf(item repository.StockItem) StockSnapshot {
	return StockSnapshot{
		StockItemID: item.ID,
		OnHand:      item.QuantityOnHand,
		Reserved:    item.QuantityReserved,
		Available:   item.Available(),
		TakenAt:     l.now(),
	}
}

// refreshSnapshots обновляет кэш после commit; ошибки только логируются
func (l *InventoryLedger) refreshSnapshots(ctx context.Context, items ...repository.StockItem) {
	for _, item := range items {
		l.storeSnapshot(ctx, l.snapshotOf(item))
	}
}

func (l *InventoryLedger) storeSnapshot(ctx context.Context, snap StockSnapshot) {
	if err := l.snapshots.Set(ctx, snap); err != nil {
		observability.L(ctx, l.logger).Warn("snapshot cache write failed",
			zap.String("stock_item_id", snap.StockItemID),
			zap.Error(err),
		)
	}
}

// emit публикует факт; ошибка не влияет на результат операции
func (l *InventoryLedger) emit(ctx context.Context, a Activity) {
	publish(ctx, l.logger, l.activity, a, l.now())
}

func publish(ctx context.Context, logger *zap.Logger, p ActivityPublisher, a Activity, now time.Time) {
	if a.EventID == "" {
		a.EventID = uuid.NewString()
	}
	if a.OccurredAt.IsZero() {
		a.OccurredAt = now
	}
	if err := p.Publish(ctx, a); err != nil {
		observability.L(ctx, logger).Warn("failed to publish activity",
			zap.String("event_id", a.EventID),
			zap.String("type", a.Type),
			zap.Error(err),
		)
	}
}
