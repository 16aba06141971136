package postgres

import (
	"context"

	"github.com/shestoi/backoffice/internal/repository"
)

const invoiceColumns = `id, number, quote_id, client_id, subtotal, discount, shipping, tax_rate, tax_amount, total,
	created_by, created_at`

// CreateInvoice сохраняет счёт и его строки
func (s *store) CreateInvoice(ctx context.Context, inv repository.Invoice) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO invoices (id, number, quote_id, client_id, subtotal, discount, shipping, tax_rate, tax_amount,
		                       total, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		inv.ID, inv.Number, inv.QuoteID, inv.ClientID, inv.Subtotal, inv.Discount, inv.Shipping, inv.TaxRate,
		inv.TaxAmount, inv.Total, inv.CreatedBy, inv.CreatedAt)
	if err != nil {
		return mapErr(err)
	}

	for _, item := range inv.LineItems {
		_, err = s.q.Exec(ctx,
			`INSERT INTO invoice_items (invoice_id, position, description, quantity, unit_price, total)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			inv.ID, item.Position, item.Description, item.Quantity, item.UnitPrice, item.Total)
		if err != nil {
			return mapErr(err)
		}
	}
	return nil
}

func (s *store) findInvoice(ctx context.Context, where string, arg string) (repository.Invoice, error) {
	var inv repository.Invoice
	err := s.q.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE `+where+` = $1`, arg).
		Scan(&inv.ID, &inv.Number, &inv.QuoteID, &inv.ClientID, &inv.Subtotal, &inv.Discount, &inv.Shipping,
			&inv.TaxRate, &inv.TaxAmount, &inv.Total, &inv.CreatedBy, &inv.CreatedAt)
	if err != nil {
		return repository.Invoice{}, mapErr(err)
	}

	rows, err := s.q.Query(ctx,
		`SELECT position, description, quantity, unit_price, total
		 FROM invoice_items
		 WHERE invoice_id = $1
		 ORDER BY position`,
		inv.ID)
	if err != nil {
		return repository.Invoice{}, mapErr(err)
	}
	defer rows.Close()

	inv.LineItems = make([]repository.InvoiceLineItem, 0)
	for rows.Next() {
		var it repository.InvoiceLineItem
		if err := rows.Scan(&it.Position, &it.Description, &it.Quantity, &it.UnitPrice, &it.Total); err != nil {
			return repository.Invoice{}, err
		}
		inv.LineItems = append(inv.LineItems, it)
	}
	if err := rows.Err(); err != nil {
		return repository.Invoice{}, err
	}
	return inv, nil
}

// GetInvoice получает счёт по ID
func (s *store) GetInvoice(ctx context.Context, id string) (repository.Invoice, error) {
	return s.findInvoice(ctx, "id", id)
}

// FindInvoiceByQuote получает счёт, выставленный по предложению
func (s *store) FindInvoiceByQuote(ctx context.Context, quoteID string) (repository.Invoice, error) {
	return s.findInvoice(ctx, "quote_id", quoteID)
}

// DetachInvoicesFromQuote обнуляет обратную ссылку счетов на предложение
func (s *store) DetachInvoicesFromQuote(ctx context.Context, quoteID string) (int64, error) {
	tag, err := s.q.Exec(ctx, `UPDATE invoices SET quote_id = NULL WHERE quote_id = $1`, quoteID)
	if err != nil {
		return 0, mapErr(err)
	}
	return tag.RowsAffected(), nil
}
