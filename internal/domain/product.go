package domain

import "github.com/shopspring/decimal"

// ProductStatus отражает видимость товара в каталоге.
type ProductStatus string

const (
	ProductStatusActive   ProductStatus = "active"
	ProductStatusInactive ProductStatus = "inactive"
)

// Product — товар каталога. Для ядра оформления только для чтения,
// сток меняет исключительно InventoryLedger.
type Product struct {
	ID        string
	Name      string
	UnitPrice decimal.Decimal
	Stock     int
	Status    ProductStatus
}

// Active сообщает, можно ли класть товар в корзину.
func (p Product) Active() bool {
	return p.Status == ProductStatusActive
}

// Visible — товар показывается в публичном каталоге: активен и есть на складе.
func (p Product) Visible() bool {
	return p.Active() && p.Stock > 0
}
