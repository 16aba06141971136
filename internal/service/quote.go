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
	"github.com/shestoi/backoffice/internal/calc"
	"github.com/shestoi/backoffice/internal/repository"
	"github.com/shestoi/backoffice/platform/observability"
)

// transitions допустимые переходы статусов предложения.
// accepted и rejected терминальные. sent информационный: draft → accepted разрешён.
var transitions = map[repository.QuoteStatus][]repository.QuoteStatus{
	repository.QuoteDraft: {repository.QuoteSent, repository.QuoteAccepted, repository.QuoteRejected},
	repository.QuoteSent:  {repository.QuoteAccepted, repository.QuoteRejected},
}

// CanTransition проверяет, разрешён ли переход from → to
func CanTransition(from, to repository.QuoteStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// QuoteService жизненный цикл ценового предложения: создание с резервами,
// смена статуса, удаление. Освобождение резервов всегда идёт через ReservationManager.releaseForQuote.
type QuoteService struct {
	logger       *zap.Logger
	tx           repository.TxManager
	ledger       *InventoryLedger
	reservations *ReservationManager
	activity     ActivityPublisher
	now          func() time.Time
}

// NewQuoteService создаёт новый экземпляр QuoteService
func NewQuoteService(
	logger *zap.Logger,
	tx repository.TxManager,
	ledger *InventoryLedger,
	reservations *ReservationManager,
	activity ActivityPublisher,
) *QuoteService {
	if activity == nil {
		activity = NoopActivityPublisher{}
	}
	return &QuoteService{
		logger:       logger,
		tx:           tx,
		ledger:       ledger,
		reservations: reservations,
		activity:     activity,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// LineItemInput строка создаваемого предложения
type LineItemInput struct {
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	StockItemID *string
}

// CreateQuoteInput данные нового предложения
type CreateQuoteInput struct {
	ClientID  string
	LineItems []LineItemInput
	Discount  decimal.Decimal
	Shipping  decimal.Decimal
	TaxRate   decimal.Decimal // в процентах
	Notes     string
}

// QuoteDetails предложение вместе с резервами и счётом, если он выставлен
type QuoteDetails struct {
	Quote        repository.Quote
	Reservations []repository.Reservation
	Invoice      *repository.Invoice
}

func (s *QuoteService) validate(input CreateQuoteInput) error {
	if strings.TrimSpace(input.ClientID) == "" {
		return validationf("client_id is required")
	}
	if len(input.LineItems) == 0 {
		return validationf("at least one line item is required")
	}
	if input.Discount.IsNegative() {
		return validationf("discount must not be negative")
	}
	if input.Shipping.IsNegative() {
		return validationf("shipping must not be negative")
	}
	if input.TaxRate.IsNegative() {
		return validationf("tax rate must not be negative")
	}
	for i, line := range input.LineItems {
		if strings.TrimSpace(line.Description) == "" {
			return &LineItemError{Index: i, Kind: ErrValidation, Err: errors.New("description is required")}
		}
		if err := quantityScaleError("quantity", line.Quantity); err != nil {
			stockItemID := ""
			if line.StockItemID != nil {
				stockItemID = *line.StockItemID
			}
			return &LineItemError{Index: i, StockItemID: stockItemID, Kind: ErrValidation, Err: err}
		}
		if line.StockItemID != nil {
			if strings.TrimSpace(*line.StockItemID) == "" {
				return &LineItemError{Index: i, Kind: ErrValidation, Err: errors.New("stock_item_id must not be empty")}
			}
			if !line.Quantity.IsPositive() {
				return &LineItemError{Index: i, StockItemID: *line.StockItemID, Kind: ErrValidation,
					Err: errors.New("quantity of a stock line must be positive")}
			}
		}
	}
	return nil
}

// Create рассчитывает итоги, сохраняет предложение в статусе draft и резервирует склад.
// Всё в одной транзакции: при ошибке резервирования не остаётся ни предложения, ни строк, ни резервов.
func (s *QuoteService) Create(ctx context.Context, input CreateQuoteInput) (QuoteDetails, error) {
	if err := s.validate(input); err != nil {
		return QuoteDetails{}, err
	}

	lines := make([]calc.Line, len(input.LineItems))
	for i, li := range input.LineItems {
		lines[i] = calc.Line{Quantity: li.Quantity, UnitPrice: li.UnitPrice}
	}
	totals, err := calc.Compute(lines, input.Discount, input.Shipping, input.TaxRate)
	if err != nil {
		var lineErr *calc.LineError
		if errors.As(err, &lineErr) {
			return QuoteDetails{}, &LineItemError{Index: lineErr.Index, Kind: ErrValidation, Err: err}
		}
		return QuoteDetails{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	actor := authctx.ActorFromContext(ctx)
	now := s.now()
	quote := repository.Quote{
		ID:        uuid.NewString(),
		ClientID:  strings.TrimSpace(input.ClientID),
		Status:    repository.QuoteDraft,
		Subtotal:  totals.Subtotal,
		Discount:  input.Discount,
		Shipping:  input.Shipping,
		TaxRate:   input.TaxRate,
		TaxAmount: totals.TaxAmount,
		Total:     totals.Total,
		Notes:     input.Notes,
		CreatedBy: actor,
		CreatedAt: now,
		UpdatedAt: now,
	}
	quote.LineItems = make([]repository.QuoteLineItem, len(input.LineItems))
	for i, li := range input.LineItems {
		var stockID *string
		if li.StockItemID != nil {
			id := strings.TrimSpace(*li.StockItemID)
			stockID = &id
		}
		quote.LineItems[i] = repository.QuoteLineItem{
			ID:          uuid.NewString(),
			QuoteID:     quote.ID,
			Position:    i,
			Description: strings.TrimSpace(li.Description),
			Quantity:    li.Quantity,
			UnitPrice:   li.UnitPrice,
			Total:       lines[i].Total(),
			StockItemID: stockID,
		}
	}

	var (
		reservations []repository.Reservation
		touched      []repository.StockItem
	)
	err = s.tx.WithinTx(ctx, func(ctx context.Context, store repository.Store) error {
		// ссылки на склад проверяются до вставки строк, чтобы ошибка указывала на строку
		if _, err := s.reservations.lockStockItems(ctx, store, quote.LineItems); err != nil {
			return err
		}

		seq, err := store.NextNumber(ctx, repository.SequenceQuote)
		if err != nil {
			return fmt.Errorf("failed to allocate quote number: %w", err)
		}
		quote.Number = FormatNumber("Q", now, seq)

		if err := store.CreateQuote(ctx, quote); err != nil {
			return fmt.Errorf("failed to create quote: %w", err)
		}

		reservations, touched, err = s.reservations.createForQuote(ctx, store, quote)
		return err
	})
	if err != nil {
		observability.L(ctx, s.logger).Warn("quote creation rolled back",
			zap.String("client_id", quote.ClientID),
			zap.Error(err),
		)
		return QuoteDetails{}, err
	}

	s.ledger.refreshSnapshots(ctx, touched...)
	s.reservations.record(ctx, ReservationOpCreated, len(reservations))
	observability.L(ctx, s.logger).Info("quote created",
		zap.String("quote_id", quote.ID),
		zap.String("number", quote.Number),
		zap.Int("line_items", len(quote.LineItems)),
		zap.Int("reservations", len(reservations)),
		zap.String("total", quote.Total.String()),
	)
	s.emit(ctx, Activity{
		Type:     ActivityQuoteCreated,
		ActorID:  actor,
		QuoteID:  quote.ID,
		ClientID: quote.ClientID,
		Attributes: map[string]string{
			"number": quote.Number,
			"total":  quote.Total.String(),
		},
	})

	return QuoteDetails{Quote: quote, Reservations: reservations}, nil
}

// Get возвращает предложение со строками, резервами и счётом
func (s *QuoteService) Get(ctx context.Context, id string) (QuoteDetails, error) {
	var details QuoteDetails
	err := s.tx.View(ctx, func(ctx context.Context, store repository.Store) error {
		quote, err := store.GetQuote(ctx, id)
		if err != nil {
			return notFound(err, "quote", id)
		}
		reservations, err := store.ListReservationsByQuote(ctx, id)
		if err != nil {
			return err
		}
		details = QuoteDetails{Quote: quote, Reservations: reservations}

		inv, err := store.FindInvoiceByQuote(ctx, id)
		switch {
		case err == nil:
			details.Invoice = &inv
		case !errors.Is(err, repository.ErrNotFound):
			return err
		}
		return nil
	})
	if err != nil {
		return QuoteDetails{}, err
	}
	return details, nil
}

// List возвращает предложения по фильтру (без строк)
func (s *QuoteService) List(ctx context.Context, filter repository.QuoteFilter) ([]repository.Quote, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, validationf("unknown status %q", filter.Status)
	}
	var quotes []repository.Quote
	err := s.tx.View(ctx, func(ctx context.Context, store repository.Store) error {
		var err error
		quotes, err = store.ListQuotes(ctx, filter)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list quotes: %w", err)
	}
	return quotes, nil
}

// ChangeStatus переводит предложение в новый статус.
// Переход в rejected освобождает резервы в той же транзакции, что и смена статуса.
func (s *QuoteService) ChangeStatus(ctx context.Context, id string, to repository.QuoteStatus) (repository.Quote, error) {
	if !to.Valid() {
		return repository.Quote{}, validationf("unknown status %q", to)
	}

	var (
		quote    repository.Quote
		from     repository.QuoteStatus
		released []repository.Reservation
		touched  []repository.StockItem
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context, store repository.Store) error {
		var err error
		quote, err = store.LockQuote(ctx, id)
		if err != nil {
			return notFound(err, "quote", id)
		}
		from = quote.Status

		if !CanTransition(from, to) {
			reason := ""
			switch {
			case from == to:
				reason = "quote is already in this status"
			case from == repository.QuoteAccepted || from == repository.QuoteRejected:
				reason = "status is terminal"
			}
			return &TransitionError{QuoteID: id, From: from, To: to, Reason: reason}
		}

		if to == repository.QuoteRejected {
			released, touched, err = s.reservations.releaseForQuote(ctx, store, id)
			if err != nil {
				return err
			}
		}

		now := s.now()
		if err := store.UpdateQuoteStatus(ctx, id, to, now); err != nil {
			return fmt.Errorf("failed to update quote status: %w", err)
		}
		quote.Status = to
		quote.UpdatedAt = now
		return nil
	})
	if err != nil {
		return repository.Quote{}, err
	}

	s.reservations.afterRelease(ctx, id, released, touched)
	observability.L(ctx, s.logger).Info("quote status changed",
		zap.String("quote_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	s.emit(ctx, Activity{
		Type:     ActivityQuoteStatusChanged,
		ActorID:  authctx.ActorFromContext(ctx),
		QuoteID:  id,
		ClientID: quote.ClientID,
		Attributes: map[string]string{
			"from": string(from),
			"to":   string(to),
		},
	})
	return quote, nil
}

// Delete удаляет предложение из любого статуса: отвязывает счета, освобождает активные резервы,
// удаляет строки и само предложение. Отменённые резервы остаются как история.
func (s *QuoteService) Delete(ctx context.Context, id string) error {
	var (
		quote    repository.Quote
		detached int64
		released []repository.Reservation
		touched  []repository.StockItem
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context, store repository.Store) error {
		var err error
		quote, err = store.LockQuote(ctx, id)
		if err != nil {
			return notFound(err, "quote", id)
		}

		detached, err = store.DetachInvoicesFromQuote(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to detach invoices: %w", err)
		}

		released, touched, err = s.reservations.releaseForQuote(ctx, store, id)
		if err != nil {
			return err
		}

		if err := store.DeleteQuoteLineItems(ctx, id); err != nil {
			return fmt.Errorf("failed to delete quote line items: %w", err)
		}
		if err := store.DeleteQuote(ctx, id); err != nil {
			return fmt.Errorf("failed to delete quote: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.reservations.afterRelease(ctx, id, released, touched)
	observability.L(ctx, s.logger).Info("quote deleted",
		zap.String("quote_id", id),
		zap.String("status", string(quote.Status)),
		zap.Int64("detached_invoices", detached),
	)
	s.emit(ctx, Activity{
		Type:     ActivityQuoteDeleted,
		ActorID:  authctx.ActorFromContext(ctx),
		QuoteID:  id,
		ClientID: quote.ClientID,
		Attributes: map[string]string{
			"number": quote.Number,
			"status": string(quote.Status),
		},
	})
	return nil
}

func (s *QuoteService) emit(ctx context.Context, a Activity) {
	publish(ctx, s.logger, s.activity, a, s.now())
}

// FormatNumber собирает человекочитаемый номер документа: Q-2025-000042
func FormatNumber(prefix string, at time.Time, seq int64) string {
	return fmt.Sprintf("%s-%d-%06d", prefix, at.Year(), seq)
}
