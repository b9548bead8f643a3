package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// productRepositoryInMemory хранит каталог и остатки. Списание выполняется под
// эксклюзивной блокировкой, поэтому проверка и уменьшение остатка атомарны.
type productRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Product
}

// NewProductRepository возвращает in-memory каталог со складским учётом.
func NewProductRepository() domain.ProductRepository {
	return &productRepositoryInMemory{items: make(map[string]domain.Product)}
}

// Upsert сохраняет товар; пустой ID означает создание.
func (r *productRepositoryInMemory) Upsert(_ context.Context, product domain.Product) (domain.Product, error) {
	if product.Stock < 0 {
		return domain.Product{}, domain.ErrInvalidQuantity
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	if product.Status == "" {
		product.Status = domain.ProductStatusActive
	}
	r.items[product.ID] = product
	return product, nil
}

// GetProduct возвращает товар или ErrProductNotFound.
func (r *productRepositoryInMemory) GetProduct(_ context.Context, id string) (domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	product, ok := r.items[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

// ListVisible возвращает активные товары с остатком, отсортированные по имени.
func (r *productRepositoryInMemory) ListVisible(_ context.Context) ([]domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Product, 0, len(r.items))
	for _, product := range r.items {
		if product.Visible() {
			result = append(result, product)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// CheckAvailable сообщает, хватает ли остатка.
func (r *productRepositoryInMemory) CheckAvailable(_ context.Context, productID string, quantity int) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	product, ok := r.items[productID]
	if !ok {
		return false, domain.ErrProductNotFound
	}
	return quantity <= product.Stock, nil
}

// Decrement атомарно уменьшает остаток; остаток никогда не становится отрицательным.
func (r *productRepositoryInMemory) Decrement(_ context.Context, productID string, quantity int) error {
	if quantity <= 0 {
		return domain.ErrInvalidQuantity
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	product, ok := r.items[productID]
	if !ok {
		return domain.ErrProductNotFound
	}
	if quantity > product.Stock {
		return domain.ErrInsufficientStock
	}
	product.Stock -= quantity
	r.items[productID] = product
	return nil
}

var _ domain.ProductRepository = (*productRepositoryInMemory)(nil)
