// Package calc считает итоги ценового предложения: subtotal, налоговую базу, налог и итог.
// Чистые функции без состояния и I/O, их можно вызывать отдельно от хранилища
// (пересчёт и проверка итогов).
package calc

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrNegativeValue возвращается, если у строки отрицательное количество или цена
var ErrNegativeValue = errors.New("negative value")

var hundred = decimal.NewFromInt(100)

// Line представляет одну строку предложения для расчёта
type Line struct {
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
}

// Total возвращает quantity × unitPrice
func (l Line) Total() decimal.Decimal {
	return l.Quantity.Mul(l.UnitPrice)
}

// Totals результат расчёта
type Totals struct {
	Subtotal    decimal.Decimal
	TaxableBase decimal.Decimal
	TaxAmount   decimal.Decimal
	Total       decimal.Decimal
}

// LineError указывает на строку, из-за которой расчёт отклонён
type LineError struct {
	Index int
	Field string
	Value decimal.Decimal
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %s must not be negative, got %s", e.Index, e.Field, e.Value.String())
}

func (e *LineError) Unwrap() error {
	return ErrNegativeValue
}

// Compute считает итоги:
//
//	subtotal    = Σ quantity × unitPrice
//	taxableBase = max(0, subtotal − discount + shipping)
//	taxAmount   = taxableBase × taxRatePercent / 100
//	total       = taxableBase + taxAmount
//
// Отрицательное количество или цена в любой строке отклоняет весь запрос.
func Compute(lines []Line, discount, shipping, taxRatePercent decimal.Decimal) (Totals, error) {
	if err := Validate(lines); err != nil {
		return Totals{}, err
	}

	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.Total())
	}

	base := subtotal.Sub(discount).Add(shipping)
	if base.IsNegative() {
		// скидка больше суммы не должна давать отрицательную базу
		base = decimal.Zero
	}

	tax := base.Mul(taxRatePercent).Div(hundred)

	return Totals{
		Subtotal:    subtotal,
		TaxableBase: base,
		TaxAmount:   tax,
		Total:       base.Add(tax),
	}, nil
}

// Validate проверяет строки без расчёта
func Validate(lines []Line) error {
	for i, l := range lines {
		if l.Quantity.IsNegative() {
			return &LineError{Index: i, Field: "quantity", Value: l.Quantity}
		}
		if l.UnitPrice.IsNegative() {
			return &LineError{Index: i, Field: "unit_price", Value: l.UnitPrice}
		}
	}
	return nil
}
