package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/shestoi/backoffice/internal/repository"
)

const reservationColumns = `id, stock_item_id, quote_id, line_item_id, client_id, quantity, status,
	created_by, created_at, cancelled_at`

func scanReservations(rows pgx.Rows) ([]repository.Reservation, error) {
	defer rows.Close()

	out := make([]repository.Reservation, 0)
	for rows.Next() {
		var r repository.Reservation
		var status string
		if err := rows.Scan(&r.ID, &r.StockItemID, &r.QuoteID, &r.LineItemID, &r.ClientID,
			&r.Quantity, &status, &r.CreatedBy, &r.CreatedAt, &r.CancelledAt); err != nil {
			return nil, err
		}
		r.Status = repository.ReservationStatus(status)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateReservation сохраняет резерв
func (s *store) CreateReservation(ctx context.Context, r repository.Reservation) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO reservations (id, stock_item_id, quote_id, line_item_id, client_id, quantity, status,
		                           created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.StockItemID, r.QuoteID, r.LineItemID, r.ClientID, r.Quantity, string(r.Status),
		r.CreatedBy, r.CreatedAt)
	return mapErr(err)
}

// ListReservationsByQuote возвращает все резервы предложения (активные и отменённые)
func (s *store) ListReservationsByQuote(ctx context.Context, quoteID string) ([]repository.Reservation, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+reservationColumns+`
		 FROM reservations
		 WHERE quote_id = $1
		 ORDER BY created_at, id`,
		quoteID)
	if err != nil {
		return nil, mapErr(err)
	}
	return scanReservations(rows)
}

// LockActiveReservationsByQuote блокирует активные резервы предложения.
// Порядок по stock_item_id совпадает с порядком блокировки складских строк.
func (s *store) LockActiveReservationsByQuote(ctx context.Context, quoteID string) ([]repository.Reservation, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+reservationColumns+`
		 FROM reservations
		 WHERE quote_id = $1 AND status = 'active'
		 ORDER BY stock_item_id, id
		 FOR UPDATE`,
		quoteID)
	if err != nil {
		return nil, mapErr(err)
	}
	return scanReservations(rows)
}

// CancelReservation переводит активный резерв в cancelled.
// Уже отменённый резерв не трогается и даёт ErrNotFound.
func (s *store) CancelReservation(ctx context.Context, id string, at time.Time) error {
	return affected(s.q.Exec(ctx,
		`UPDATE reservations
		 SET status = 'cancelled', cancelled_at = $2
		 WHERE id = $1 AND status = 'active'`,
		id, at))
}

// SumActiveReservations считает сумму и число активных резервов по позиции
func (s *store) SumActiveReservations(ctx context.Context, stockItemID string) (decimal.Decimal, int, error) {
	var total decimal.Decimal
	var count int
	err := s.q.QueryRow(ctx,
		`SELECT COALESCE(SUM(quantity), 0), COUNT(*)
		 FROM reservations
		 WHERE stock_item_id = $1 AND status = 'active'`,
		stockItemID).Scan(&total, &count)
	if err != nil {
		return decimal.Zero, 0, mapErr(err)
	}
	return total, count, nil
}
