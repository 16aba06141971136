package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shestoi/backoffice/internal/repository"
)

const quoteColumns = `id, number, client_id, status, subtotal, discount, shipping, tax_rate, tax_amount, total,
	notes, created_by, created_at, updated_at`

// NextNumber возвращает следующее значение последовательности.
// nextval не откатывается вместе с транзакцией, поэтому в номерах возможны пропуски.
func (s *store) NextNumber(ctx context.Context, seq repository.Sequence) (int64, error) {
	var name string
	switch seq {
	case repository.SequenceQuote:
		name = "quote_number_seq"
	case repository.SequenceInvoice:
		name = "invoice_number_seq"
	default:
		return 0, fmt.Errorf("unknown sequence %q", seq)
	}

	var n int64
	if err := s.q.QueryRow(ctx, `SELECT nextval($1::regclass)`, name).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// CreateQuote сохраняет предложение и его строки
func (s *store) CreateQuote(ctx context.Context, q repository.Quote) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO quotes (id, number, client_id, status, subtotal, discount, shipping, tax_rate, tax_amount,
		                     total, notes, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		q.ID, q.Number, q.ClientID, string(q.Status), q.Subtotal, q.Discount, q.Shipping, q.TaxRate, q.TaxAmount,
		q.Total, q.Notes, q.CreatedBy, q.CreatedAt, q.UpdatedAt)
	if err != nil {
		return mapErr(err)
	}

	for _, item := range q.LineItems {
		_, err = s.q.Exec(ctx,
			`INSERT INTO quote_items (id, quote_id, position, description, quantity, unit_price, total, stock_item_id)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			item.ID, q.ID, item.Position, item.Description, item.Quantity, item.UnitPrice, item.Total, item.StockItemID)
		if err != nil {
			return mapErr(err)
		}
	}
	return nil
}

func (s *store) getQuote(ctx context.Context, id string, forUpdate bool) (repository.Quote, error) {
	query := `SELECT ` + quoteColumns + ` FROM quotes WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var q repository.Quote
	var status string
	err := s.q.QueryRow(ctx, query, id).Scan(&q.ID, &q.Number, &q.ClientID, &status,
		&q.Subtotal, &q.Discount, &q.Shipping, &q.TaxRate, &q.TaxAmount, &q.Total,
		&q.Notes, &q.CreatedBy, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return repository.Quote{}, mapErr(err)
	}
	q.Status = repository.QuoteStatus(status)

	items, err := s.quoteItems(ctx, q.ID)
	if err != nil {
		return repository.Quote{}, err
	}
	q.LineItems = items
	return q, nil
}

func (s *store) quoteItems(ctx context.Context, quoteID string) ([]repository.QuoteLineItem, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, quote_id, position, description, quantity, unit_price, total, stock_item_id
		 FROM quote_items
		 WHERE quote_id = $1
		 ORDER BY position`,
		quoteID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	items := make([]repository.QuoteLineItem, 0)
	for rows.Next() {
		var it repository.QuoteLineItem
		if err := rows.Scan(&it.ID, &it.QuoteID, &it.Position, &it.Description,
			&it.Quantity, &it.UnitPrice, &it.Total, &it.StockItemID); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// GetQuote получает предложение со строками
func (s *store) GetQuote(ctx context.Context, id string) (repository.Quote, error) {
	return s.getQuote(ctx, id, false)
}

// LockQuote получает предложение и блокирует его строку до конца транзакции
func (s *store) LockQuote(ctx context.Context, id string) (repository.Quote, error) {
	return s.getQuote(ctx, id, true)
}

// ListQuotes возвращает предложения по фильтру, новые первыми. Строки не загружаются.
func (s *store) ListQuotes(ctx context.Context, filter repository.QuoteFilter) ([]repository.Quote, error) {
	var (
		where []string
		args  []any
	)
	if filter.ClientID != "" {
		args = append(args, filter.ClientID)
		where = append(where, fmt.Sprintf("client_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + quoteColumns + ` FROM quotes`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, number DESC`

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	quotes := make([]repository.Quote, 0)
	for rows.Next() {
		var q repository.Quote
		var status string
		if err := rows.Scan(&q.ID, &q.Number, &q.ClientID, &status,
			&q.Subtotal, &q.Discount, &q.Shipping, &q.TaxRate, &q.TaxAmount, &q.Total,
			&q.Notes, &q.CreatedBy, &q.CreatedAt, &q.UpdatedAt); err != nil {
			return nil, err
		}
		q.Status = repository.QuoteStatus(status)
		quotes = append(quotes, q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return quotes, nil
}

// UpdateQuoteStatus меняет статус предложения
func (s *store) UpdateQuoteStatus(ctx context.Context, id string, status repository.QuoteStatus, at time.Time) error {
	return affected(s.q.Exec(ctx,
		`UPDATE quotes SET status = $2, updated_at = $3 WHERE id = $1`,
		id, string(status), at))
}

// DeleteQuoteLineItems удаляет строки предложения
func (s *store) DeleteQuoteLineItems(ctx context.Context, quoteID string) error {
	_, err := s.q.Exec(ctx, `DELETE FROM quote_items WHERE quote_id = $1`, quoteID)
	return mapErr(err)
}

// DeleteQuote удаляет строку предложения. Строки и ссылки из счетов должны быть убраны заранее.
func (s *store) DeleteQuote(ctx context.Context, id string) error {
	return affected(s.q.Exec(ctx, `DELETE FROM quotes WHERE id = $1`, id))
}
