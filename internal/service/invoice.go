package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shestoi/backoffice/internal/authctx"
	"github.com/shestoi/backoffice/internal/repository"
	"github.com/shestoi/backoffice/platform/observability"
)

// InvoiceService выставляет счёт по принятому предложению.
// Склад не трогает: резервы остаются активными до явного освобождения.
type InvoiceService struct {
	logger   *zap.Logger
	tx       repository.TxManager
	activity ActivityPublisher
	now      func() time.Time
}

// NewInvoiceService создаёт новый экземпляр InvoiceService
func NewInvoiceService(logger *zap.Logger, tx repository.TxManager, activity ActivityPublisher) *InvoiceService {
	if activity == nil {
		activity = NoopActivityPublisher{}
	}
	return &InvoiceService{
		logger:   logger,
		tx:       tx,
		activity: activity,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ConvertToInvoice копирует итоги и строки принятого предложения в новый счёт.
// На одно предложение выставляется не больше одного счёта.
func (s *InvoiceService) ConvertToInvoice(ctx context.Context, quoteID string) (repository.Invoice, error) {
	actor := authctx.ActorFromContext(ctx)

	var inv repository.Invoice
	err := s.tx.WithinTx(ctx, func(ctx context.Context, store repository.Store) error {
		quote, err := store.LockQuote(ctx, quoteID)
		if err != nil {
			return notFound(err, "quote", quoteID)
		}
		if quote.Status != repository.QuoteAccepted {
			return &TransitionError{
				QuoteID: quoteID,
				From:    quote.Status,
				To:      repository.QuoteAccepted,
				Reason:  "only accepted quotes can be invoiced",
			}
		}

		existing, err := store.FindInvoiceByQuote(ctx, quoteID)
		switch {
		case err == nil:
			return fmt.Errorf("%w: quote %s already invoiced as %s", ErrInvalidTransition, quoteID, existing.Number)
		case !errors.Is(err, repository.ErrNotFound):
			return err
		}

		now := s.now()
		seq, err := store.NextNumber(ctx, repository.SequenceInvoice)
		if err != nil {
			return fmt.Errorf("failed to allocate invoice number: %w", err)
		}

		qid := quote.ID
		inv = repository.Invoice{
			ID:        uuid.NewString(),
			Number:    FormatNumber("INV", now, seq),
			QuoteID:   &qid,
			ClientID:  quote.ClientID,
			Subtotal:  quote.Subtotal,
			Discount:  quote.Discount,
			Shipping:  quote.Shipping,
			TaxRate:   quote.TaxRate,
			TaxAmount: quote.TaxAmount,
			Total:     quote.Total,
			CreatedBy: actor,
			CreatedAt: now,
		}
		inv.LineItems = make([]repository.InvoiceLineItem, len(quote.LineItems))
		for i, line := range quote.LineItems {
			inv.LineItems[i] = repository.InvoiceLineItem{
				Position:    line.Position,
				Description: line.Description,
				Quantity:    line.Quantity,
				UnitPrice:   line.UnitPrice,
				Total:       line.Total,
			}
		}

		if err := store.CreateInvoice(ctx, inv); err != nil {
			if errors.Is(err, repository.ErrAlreadyExists) {
				return fmt.Errorf("%w: quote %s already invoiced", ErrInvalidTransition, quoteID)
			}
			return fmt.Errorf("failed to create invoice: %w", err)
		}
		return nil
	})
	if err != nil {
		return repository.Invoice{}, err
	}

	observability.L(ctx, s.logger).Info("invoice created",
		zap.String("invoice_id", inv.ID),
		zap.String("number", inv.Number),
		zap.String("quote_id", quoteID),
	)
	publish(ctx, s.logger, s.activity, Activity{
		Type:     ActivityInvoiceCreated,
		ActorID:  actor,
		QuoteID:  quoteID,
		ClientID: inv.ClientID,
		Attributes: map[string]string{
			"invoice_id": inv.ID,
			"number":     inv.Number,
			"total":      inv.Total.String(),
		},
	}, s.now())
	return inv, nil
}

// GetInvoice возвращает счёт по id
func (s *InvoiceService) GetInvoice(ctx context.Context, id string) (repository.Invoice, error) {
	var inv repository.Invoice
	err := s.tx.View(ctx, func(ctx context.Context, store repository.Store) error {
		var err error
		inv, err = store.GetInvoice(ctx, id)
		return err
	})
	if err != nil {
		return repository.Invoice{}, notFound(err, "invoice", id)
	}
	return inv, nil
}
