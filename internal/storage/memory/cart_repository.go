package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// cartRepositoryInMemory хранит корзины и индекс user → cart (не более одной корзины на пользователя).
type cartRepositoryInMemory struct {
	mu     sync.RWMutex
	items  map[string]domain.Cart
	byUser map[string]string
}

// NewCartRepository возвращает in-memory репозиторий корзин.
func NewCartRepository() domain.CartRepository {
	return &cartRepositoryInMemory{
		items:  make(map[string]domain.Cart),
		byUser: make(map[string]string),
	}
}

// Save создаёт корзину при пустом ID или перезаписывает существующую.
func (r *cartRepositoryInMemory) Save(_ context.Context, cart domain.Cart) (domain.Cart, error) {
	if cart.UserID == "" {
		return domain.Cart{}, domain.ErrUserRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	if cart.ID == "" {
		if _, exists := r.byUser[cart.UserID]; exists {
			return domain.Cart{}, domain.ErrCartAlreadyExists
		}
		cart.ID = uuid.NewString()
		cart.CreatedAt = now
	} else if _, ok := r.items[cart.ID]; !ok {
		return domain.Cart{}, domain.ErrCartNotFound
	}
	cart.UpdatedAt = now

	stored := cart.Clone()
	r.items[cart.ID] = stored
	r.byUser[cart.UserID] = cart.ID
	return stored.Clone(), nil
}

// Get возвращает корзину по идентификатору.
func (r *cartRepositoryInMemory) Get(_ context.Context, id string) (domain.Cart, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cart, ok := r.items[id]
	if !ok {
		return domain.Cart{}, domain.ErrCartNotFound
	}
	return cart.Clone(), nil
}

// GetByUser возвращает корзину пользователя.
func (r *cartRepositoryInMemory) GetByUser(_ context.Context, userID string) (domain.Cart, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byUser[userID]
	if !ok {
		return domain.Cart{}, domain.ErrCartNotFound
	}
	return r.items[id].Clone(), nil
}

// Delete удаляет корзину; отсутствие записи — ErrCartNotFound.
func (r *cartRepositoryInMemory) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cart, ok := r.items[id]
	if !ok {
		return domain.ErrCartNotFound
	}
	delete(r.items, id)
	delete(r.byUser, cart.UserID)
	return nil
}

var _ domain.CartRepository = (*cartRepositoryInMemory)(nil)
