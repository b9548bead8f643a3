package payment

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// MockGateway — конфигурируемая заглушка PaymentGateway для тестов.
type MockGateway struct {
	mu sync.Mutex

	Result domain.PaymentResult
	Err    error
	// Delay задерживает ответ; отмена ctx прерывает ожидание.
	Delay <-chan struct{}

	Calls      int
	LastAmount decimal.Decimal
}

// NewMockGateway возвращает mock с успешным сценарием по умолчанию.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		Result: domain.PaymentResult{
			Approved:  true,
			Reference: "TRX-MOCK",
			Method:    SimulatedMethod,
		},
	}
}

// Authorize возвращает заранее настроенный результат и считает вызовы.
func (m *MockGateway) Authorize(ctx context.Context, amount decimal.Decimal, _ domain.PaymentInstrument) (domain.PaymentResult, error) {
	m.mu.Lock()
	m.Calls++
	m.LastAmount = amount
	result, err, delay := m.Result, m.Err, m.Delay
	m.mu.Unlock()

	if delay != nil {
		select {
		case <-delay:
		case <-ctx.Done():
			return domain.PaymentResult{}, ctx.Err()
		}
	}
	return result, err
}

// CallCount возвращает число вызовов Authorize.
func (m *MockGateway) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls
}

var _ domain.PaymentGateway = (*MockGateway)(nil)
