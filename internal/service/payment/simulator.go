package payment

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	// SimulatedMethod — метка способа оплаты, которую симулятор отдаёт для заказа.
	SimulatedMethod = "Card (simulated)"
	// DeclineSuffix — карты с таким окончанием симулятор отклоняет.
	DeclineSuffix = "000"
	// ReasonInsufficientFunds — причина отказа симулятора.
	ReasonInsufficientFunds = "insufficient funds"
)

// Simulator — платёжный шлюз для разработки: отклоняет карты, оканчивающиеся на "000",
// остальные одобряет со ссылкой вида TRX-<id>.
type Simulator struct {
	logger *log.Entry
}

// NewSimulator создаёт симулятор платёжного шлюза.
func NewSimulator(logger *log.Entry) *Simulator {
	if logger == nil {
		logger = log.WithField("component", "payment-simulator")
	}
	return &Simulator{logger: logger}
}

// Authorize имитирует синхронную авторизацию.
func (s *Simulator) Authorize(ctx context.Context, amount decimal.Decimal, instrument domain.PaymentInstrument) (domain.PaymentResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.PaymentResult{}, err
	}

	fields := log.Fields{
		"amount":     amount.StringFixed(domain.MoneyPlaces),
		"card_last4": instrument.Last4(),
	}

	if strings.HasSuffix(strings.TrimSpace(instrument.CardNumber), DeclineSuffix) {
		s.logger.WithFields(fields).Info("payment declined by simulator")
		return domain.PaymentResult{
			Approved: false,
			Reason:   ReasonInsufficientFunds,
			Method:   SimulatedMethod,
		}, nil
	}

	ref := "TRX-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
	s.logger.WithFields(fields).WithField("reference", ref).Info("payment approved by simulator")
	return domain.PaymentResult{
		Approved:  true,
		Reference: ref,
		Method:    SimulatedMethod,
	}, nil
}

var _ domain.PaymentGateway = (*Simulator)(nil)
