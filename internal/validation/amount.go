// Package validation содержит функции валидации входных данных.
package validation

import (
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultAmountIncrement - шаг суммы пожертвования по умолчанию.
var DefaultAmountIncrement = decimal.New(1, -2)

// ParseAmount разбирает строковую сумму. Пробелы по краям игнорируются.
func ParseAmount(raw string) (decimal.Decimal, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// ParsePositiveAmount разбирает сумму и проверяет, что она строго больше нуля.
func ParsePositiveAmount(raw string) (decimal.Decimal, bool) {
	d, ok := ParseAmount(raw)
	if !ok || !d.IsPositive() {
		return decimal.Zero, false
	}
	return d, true
}

// NormalizeIncrement приводит шаг суммы к двум знакам после запятой.
// Пустое, нечисловое или нулевое значение заменяется шагом по умолчанию.
func NormalizeIncrement(raw string) decimal.Decimal {
	d, ok := ParseAmount(raw)
	if !ok || d.IsZero() {
		return DefaultAmountIncrement
	}
	return d.Round(2)
}

// IsTruthy повторяет правило истинности значения флажка формы: пустая строка и "0" - ложь.
func IsTruthy(v string) bool {
	return v != "" && v != "0"
}
