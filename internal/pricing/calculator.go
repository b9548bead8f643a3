// Package pricing считает итог корзины. Пакет не выполняет I/O:
// одинаковые позиции всегда дают одинаковую сумму.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Promotion — точка расширения для скидок. Получает позиции и сумму до округления,
// возвращает скорректированную сумму. Движок промо-акций не реализован.
type Promotion interface {
	Apply(items []domain.CartItem, subtotal decimal.Decimal) decimal.Decimal
}

// Calculator вычисляет total = Σ quantity × unit_price с округлением half-up до копеек.
type Calculator struct {
	promotions []Promotion
}

// NewCalculator создаёт калькулятор с необязательными промо-правилами.
func NewCalculator(promotions ...Promotion) *Calculator {
	return &Calculator{promotions: promotions}
}

// Total возвращает итог по позициям корзины.
func (c *Calculator) Total(items []domain.CartItem) decimal.Decimal {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(domain.LineSubtotal(item.Quantity, item.UnitPrice))
	}
	if c != nil {
		for _, promo := range c.promotions {
			subtotal = promo.Apply(items, subtotal)
		}
	}
	if subtotal.IsNegative() {
		subtotal = decimal.Zero
	}
	return domain.RoundMoney(subtotal)
}

// Reprice пересчитывает производный итог корзины и возвращает её копию.
func (c *Calculator) Reprice(cart domain.Cart) domain.Cart {
	cart.Total = c.Total(cart.Items)
	return cart
}
