package notification

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

// Sender доставляет квитанцию получателю.
type Sender interface {
	Send(ctx context.Context, receipt Receipt) error
}

// LogSender пишет квитанцию в лог вместо отправки письма.
type LogSender struct {
	logger *log.Entry
}

// NewLogSender создаёт LogSender.
func NewLogSender(logger *log.Entry) *LogSender {
	if logger == nil {
		logger = log.WithField("component", "receipt-sender")
	}
	return &LogSender{logger: logger}
}

// Send логирует квитанцию.
func (s *LogSender) Send(_ context.Context, receipt Receipt) error {
	s.logger.WithFields(log.Fields{
		"order_id":  receipt.OrderID,
		"recipient": receipt.Recipient,
		"total":     receipt.Total,
		"lines":     len(receipt.Lines),
		"payment":   receipt.PaymentRef,
	}).Info("order receipt sent")
	return nil
}

// Dispatcher разбирает события из топика квитанций и передаёт их Sender-у.
// Посторонние типы событий пропускаются без ошибки, чтобы не уходить в DLQ.
type Dispatcher struct {
	sender Sender
	logger *log.Entry
}

// NewDispatcher создаёт Dispatcher.
func NewDispatcher(sender Sender, logger *log.Entry) *Dispatcher {
	if logger == nil {
		logger = log.WithField("component", "notification-dispatcher")
	}
	if sender == nil {
		sender = NewLogSender(logger)
	}
	return &Dispatcher{sender: sender, logger: logger}
}

// Handle реализует kafka.MessageHandler.
func (d *Dispatcher) Handle(ctx context.Context, message *sarama.ConsumerMessage) error {
	envelope, err := kafka.ParseEnvelope(message)
	if err != nil {
		return err
	}

	if envelope.EventType != EventOrderReceiptRequested {
		d.logger.WithFields(log.Fields{
			"event_type": envelope.EventType,
			"order_id":   envelope.AggregateID,
		}).Debug("skipping non-receipt event")
		return nil
	}

	var receipt Receipt
	if err := envelope.DecodePayload(&receipt); err != nil {
		return err
	}
	if receipt.Recipient == "" {
		return fmt.Errorf("receipt for order %s has no recipient", receipt.OrderID)
	}
	return d.sender.Send(ctx, receipt)
}
