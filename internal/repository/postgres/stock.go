package postgres

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shestoi/backoffice/internal/repository"
)

const stockColumns = `id, sku, name, unit, quantity_on_hand, quantity_reserved, minimum_stock,
	unit_sale_price, unit_cost_price, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStockItem(row rowScanner) (repository.StockItem, error) {
	var item repository.StockItem
	err := row.Scan(&item.ID, &item.SKU, &item.Name, &item.Unit,
		&item.QuantityOnHand, &item.QuantityReserved, &item.MinimumStock,
		&item.UnitSalePrice, &item.UnitCostPrice, &item.CreatedAt, &item.UpdatedAt)
	return item, err
}

// CreateStockItem сохраняет новую складскую позицию
func (s *store) CreateStockItem(ctx context.Context, item repository.StockItem) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO stock_items (id, sku, name, unit, quantity_on_hand, quantity_reserved, minimum_stock,
		                          unit_sale_price, unit_cost_price, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		item.ID, item.SKU, item.Name, item.Unit, item.QuantityOnHand, item.QuantityReserved, item.MinimumStock,
		item.UnitSalePrice, item.UnitCostPrice, item.CreatedAt, item.UpdatedAt)
	return mapErr(err)
}

// GetStockItem получает позицию без блокировки
func (s *store) GetStockItem(ctx context.Context, id string) (repository.StockItem, error) {
	item, err := scanStockItem(s.q.QueryRow(ctx,
		`SELECT `+stockColumns+` FROM stock_items WHERE id = $1`, id))
	if err != nil {
		return repository.StockItem{}, mapErr(err)
	}
	return item, nil
}

// LockStockItem получает позицию и блокирует строку до конца транзакции.
// Все изменения quantity_reserved / quantity_on_hand идут через эту блокировку.
func (s *store) LockStockItem(ctx context.Context, id string) (repository.StockItem, error) {
	item, err := scanStockItem(s.q.QueryRow(ctx,
		`SELECT `+stockColumns+` FROM stock_items WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return repository.StockItem{}, mapErr(err)
	}
	return item, nil
}

// ListStockItems возвращает все позиции, упорядоченные по SKU
func (s *store) ListStockItems(ctx context.Context) ([]repository.StockItem, error) {
	rows, err := s.q.Query(ctx, `SELECT `+stockColumns+` FROM stock_items ORDER BY sku`)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	items := make([]repository.StockItem, 0)
	for rows.Next() {
		item, err := scanStockItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// UpdateStockQuantities записывает новые значения остатка и резерва
func (s *store) UpdateStockQuantities(ctx context.Context, id string, onHand, reserved decimal.Decimal, at time.Time) error {
	return affected(s.q.Exec(ctx,
		`UPDATE stock_items
		 SET quantity_on_hand = $2, quantity_reserved = $3, updated_at = $4
		 WHERE id = $1`,
		id, onHand, reserved, at))
}

// DeleteStockItem удаляет позицию вместе с историей движений
func (s *store) DeleteStockItem(ctx context.Context, id string) error {
	return affected(s.q.Exec(ctx, `DELETE FROM stock_items WHERE id = $1`, id))
}

// InsertStockMovement сохраняет запись о корректировке остатка
func (s *store) InsertStockMovement(ctx context.Context, m repository.StockMovement) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO stock_movements (id, stock_item_id, delta, reason, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.StockItemID, m.Delta, m.Reason, m.CreatedBy, m.CreatedAt)
	return mapErr(err)
}
