package domain

import "github.com/shopspring/decimal"

// MoneyPlaces — количество знаков после запятой для денежных сумм.
const MoneyPlaces = 2

// RoundMoney округляет сумму до копеек по правилу half-up
// (для неотрицательных сумм Round в decimal округляет половину вверх).
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// LineSubtotal возвращает qty × price без округления.
func LineSubtotal(qty int, unitPrice decimal.Decimal) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(qty)))
}
