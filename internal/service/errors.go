package service

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/shestoi/backoffice/internal/repository"
)

// Виды ошибок ядра. Конкретные ошибки оборачивают их, проверка через errors.Is.
var (
	ErrValidation        = errors.New("validation error")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrReservationFailed = errors.New("reservation failed")
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid transition")
)

// LineItemError указывает строку предложения и складскую позицию, на которой упала операция.
// errors.Is срабатывает и на Kind, и на причину.
type LineItemError struct {
	Index       int
	StockItemID string
	Kind        error
	Err         error
}

func (e *LineItemError) Error() string {
	if e.StockItemID != "" {
		return fmt.Sprintf("line item %d (stock item %s): %v: %v", e.Index, e.StockItemID, e.Kind, e.Err)
	}
	return fmt.Sprintf("line item %d: %v: %v", e.Index, e.Kind, e.Err)
}

func (e *LineItemError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// StockError корректировка остатка увела бы его в минус
type StockError struct {
	StockItemID string
	OnHand      decimal.Decimal
	Delta       decimal.Decimal
}

func (e *StockError) Error() string {
	return fmt.Sprintf("stock item %s: on hand %s cannot absorb delta %s",
		e.StockItemID, e.OnHand.String(), e.Delta.String())
}

func (e *StockError) Unwrap() error {
	return ErrInsufficientStock
}

// TransitionError недопустимый переход статуса
type TransitionError struct {
	QuoteID string
	From    repository.QuoteStatus
	To      repository.QuoteStatus
	Reason  string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("quote %s: cannot move from %s to %s", e.QuoteID, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// QuantityScale число знаков после запятой у количеств в хранилище (NUMERIC(14, 3))
const QuantityScale = 3

// checkQuantityScale отклоняет количество, которое хранилище округлило бы
func checkQuantityScale(field string, q decimal.Decimal) error {
	if err := quantityScaleError(field, q); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

func quantityScaleError(field string, q decimal.Decimal) error {
	if q.Equal(q.Truncate(QuantityScale)) {
		return nil
	}
	return fmt.Errorf("%s must have at most %d decimal places, got %s", field, QuantityScale, q.String())
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// notFound переводит repository.ErrNotFound в ErrNotFound с указанием сущности
func notFound(err error, kind, id string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return err
}
