package payment

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// BreakerSettings задаёт параметры circuit breaker вокруг платёжного шлюза.
type BreakerSettings struct {
	// ConsecutiveFailures — после стольких подряд ошибок шлюза цепь размыкается.
	ConsecutiveFailures uint32
	// OpenTimeout — сколько цепь остаётся разомкнутой перед пробным запросом.
	OpenTimeout time.Duration
	// HalfOpenRequests — число пробных запросов в полуоткрытом состоянии.
	HalfOpenRequests uint32
}

// DefaultBreakerSettings возвращает настройки по умолчанию.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
		HalfOpenRequests:    1,
	}
}

// BreakerGateway оборачивает шлюз в circuit breaker. Отказ в оплате — штатный ответ
// и цепь не размыкает; размыкают только ошибки транспорта и таймауты.
type BreakerGateway struct {
	next   domain.PaymentGateway
	cb     *gobreaker.CircuitBreaker[domain.PaymentResult]
	logger *log.Entry
}

// NewBreakerGateway создаёт шлюз с circuit breaker.
func NewBreakerGateway(next domain.PaymentGateway, settings BreakerSettings, logger *log.Entry) *BreakerGateway {
	if logger == nil {
		logger = log.WithField("component", "payment-breaker")
	}
	defaults := DefaultBreakerSettings()
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = defaults.ConsecutiveFailures
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = defaults.OpenTimeout
	}
	if settings.HalfOpenRequests == 0 {
		settings.HalfOpenRequests = defaults.HalfOpenRequests
	}

	threshold := settings.ConsecutiveFailures
	cb := gobreaker.NewCircuitBreaker[domain.PaymentResult](gobreaker.Settings{
		Name:        "payment-gateway",
		MaxRequests: settings.HalfOpenRequests,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// Отмена запроса клиентом ничего не говорит о здоровье шлюза.
		IsExcluded: func(err error) bool {
			return errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(log.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("payment circuit breaker state changed")
		},
	})

	return &BreakerGateway{next: next, cb: cb, logger: logger}
}

// Authorize вызывает шлюз через circuit breaker. Разомкнутая цепь возвращает
// ErrPaymentGatewayUnavailable без обращения к шлюзу.
func (g *BreakerGateway) Authorize(ctx context.Context, amount decimal.Decimal, instrument domain.PaymentInstrument) (domain.PaymentResult, error) {
	result, err := g.cb.Execute(func() (domain.PaymentResult, error) {
		return g.next.Authorize(ctx, amount, instrument)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domain.PaymentResult{}, errors.Join(domain.ErrPaymentGatewayUnavailable, err)
	}
	return result, err
}

// State возвращает текущее состояние цепи (для health и тестов).
func (g *BreakerGateway) State() gobreaker.State {
	return g.cb.State()
}

var _ domain.PaymentGateway = (*BreakerGateway)(nil)
