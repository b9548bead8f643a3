package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CartItem — строка корзины. Цена фиксируется в момент добавления
// и не зависит от последующих изменений каталога.
type CartItem struct {
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
}

// Cart — незавершённый выбор пользователя. Total производный и пересчитывается
// при каждом чтении и записи; хранилища его не сохраняют как источник истины.
type Cart struct {
	ID        string
	UserID    string
	Items     []CartItem
	Total     decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Empty сообщает, что в корзине нет позиций.
func (c *Cart) Empty() bool {
	return len(c.Items) == 0
}

// IndexOf возвращает индекс строки товара или -1.
func (c *Cart) IndexOf(productID string) int {
	for i, item := range c.Items {
		if item.ProductID == productID {
			return i
		}
	}
	return -1
}

// QuantityOf возвращает количество товара в корзине (0, если строки нет).
func (c *Cart) QuantityOf(productID string) int {
	if idx := c.IndexOf(productID); idx >= 0 {
		return c.Items[idx].Quantity
	}
	return 0
}

// RemoveItem удаляет строку товара и сообщает, изменилась ли корзина.
func (c *Cart) RemoveItem(productID string) bool {
	idx := c.IndexOf(productID)
	if idx < 0 {
		return false
	}
	c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
	return true
}

// Clone возвращает глубокую копию корзины.
func (c Cart) Clone() Cart {
	dst := c
	dst.Items = append([]CartItem(nil), c.Items...)
	return dst
}
