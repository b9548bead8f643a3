// Package inventory содержит обёртки над InventoryLedger хранилища.
package inventory

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Recorder принимает результат списания (ok, insufficient, error).
type Recorder interface {
	RecordDecrement(result string)
}

// Ledger добавляет к складскому учёту хранилища логирование и метрики.
// Атомарность списания обеспечивает нижележащее хранилище.
type Ledger struct {
	next    domain.InventoryLedger
	metrics Recorder
	logger  *log.Entry
}

// NewLedger оборачивает ledger хранилища. metrics может быть nil.
func NewLedger(next domain.InventoryLedger, metrics Recorder, logger *log.Entry) *Ledger {
	if logger == nil {
		logger = log.WithField("component", "inventory-ledger")
	}
	return &Ledger{next: next, metrics: metrics, logger: logger}
}

// CheckAvailable проксирует проверку остатка.
func (l *Ledger) CheckAvailable(ctx context.Context, productID string, quantity int) (bool, error) {
	return l.next.CheckAvailable(ctx, productID, quantity)
}

// Decrement списывает остаток и учитывает результат.
func (l *Ledger) Decrement(ctx context.Context, productID string, quantity int) error {
	err := l.next.Decrement(ctx, productID, quantity)
	entry := l.logger.WithFields(log.Fields{
		"product_id": productID,
		"quantity":   quantity,
	})

	switch {
	case err == nil:
		l.record("ok")
		entry.Debug("stock decremented")
	case errors.Is(err, domain.ErrInsufficientStock):
		l.record("insufficient")
		entry.Warn("insufficient stock on decrement")
	default:
		l.record("error")
		entry.WithError(err).Error("stock decrement failed")
	}
	return err
}

func (l *Ledger) record(result string) {
	if l.metrics != nil {
		l.metrics.RecordDecrement(result)
	}
}

var _ domain.InventoryLedger = (*Ledger)(nil)
