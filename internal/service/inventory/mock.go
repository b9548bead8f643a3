package inventory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// MockLedger — конфигурируемая заглушка InventoryLedger для тестов.
// Ошибки можно задать для конкретного товара через DecrementErrs.
type MockLedger struct {
	mu sync.Mutex

	Available     bool
	CheckErr      error
	DecrementErr  error
	DecrementErrs map[string]error

	CheckCalls     int
	DecrementCalls int
	Decremented    map[string]int
}

// NewMockLedger возвращает mock с успешным сценарием по умолчанию.
func NewMockLedger() *MockLedger {
	return &MockLedger{
		Available:     true,
		DecrementErrs: make(map[string]error),
		Decremented:   make(map[string]int),
	}
}

// CheckAvailable возвращает заранее настроенный ответ и считает вызовы.
func (m *MockLedger) CheckAvailable(_ context.Context, _ string, _ int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CheckCalls++
	return m.Available, m.CheckErr
}

// Decrement возвращает заранее настроенную ошибку и запоминает успешные списания.
func (m *MockLedger) Decrement(_ context.Context, productID string, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DecrementCalls++
	if err, ok := m.DecrementErrs[productID]; ok {
		return err
	}
	if m.DecrementErr != nil {
		return m.DecrementErr
	}
	m.Decremented[productID] += quantity
	return nil
}

var _ domain.InventoryLedger = (*MockLedger)(nil)
