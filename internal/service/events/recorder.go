// Package events пишет события заказа в timeline и transactional outbox.
package events

import (
	"context"
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// AggregateOrder — тип агрегата для событий заказа в outbox.
const AggregateOrder = "order"

// Metrics принимает счётчики записанных событий.
type Metrics interface {
	RecordOutboxEvent()
	RecordTimelineEvent()
}

// Recorder публикует событие заказа в outbox и добавляет запись в timeline.
// Ошибки записи логируются и не прерывают вызывающую операцию.
type Recorder struct {
	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository
	metrics  Metrics
	logger   *log.Entry
	now      func() time.Time
}

// NewRecorder создаёт Recorder. Любая из зависимостей может быть nil.
func NewRecorder(outbox domain.OutboxRepository, timeline domain.TimelineRepository, metrics Metrics, logger *log.Entry) *Recorder {
	if logger == nil {
		logger = log.WithField("component", "order-events")
	}
	return &Recorder{
		outbox:   outbox,
		timeline: timeline,
		metrics:  metrics,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Emit записывает событие. Поле reason из payload попадает в timeline.
func (r *Recorder) Emit(ctx context.Context, orderID, eventType string, payload map[string]any) {
	if r == nil {
		return
	}
	if payload == nil {
		payload = make(map[string]any)
	}
	occurred := r.now()
	payload["order_id"] = orderID
	if _, ok := payload["ts"]; !ok {
		payload["ts"] = occurred.Format(time.RFC3339Nano)
	}

	entry := r.logger.WithFields(log.Fields{
		"order_id": orderID,
		"event":    eventType,
	})

	if r.outbox != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			entry.WithError(err).Error("marshal event failed")
		} else {
			msg := domain.OutboxMessage{
				AggregateType: AggregateOrder,
				AggregateID:   orderID,
				EventType:     eventType,
				Payload:       data,
			}
			if _, err := r.outbox.Enqueue(ctx, msg); err != nil {
				entry.WithError(err).Error("enqueue event failed")
			} else if r.metrics != nil {
				r.metrics.RecordOutboxEvent()
			}
		}
	}

	if r.timeline != nil {
		var reason string
		if v, ok := payload["reason"].(string); ok {
			reason = v
		}
		event := domain.TimelineEvent{
			OrderID:  orderID,
			Type:     eventType,
			Reason:   reason,
			Occurred: occurred,
		}
		if err := r.timeline.Append(ctx, event); err != nil {
			entry.WithError(err).Warn("append timeline event failed")
		} else if r.metrics != nil {
			r.metrics.RecordTimelineEvent()
		}
	}
}
