// Package outbox переносит события заказов из transactional outbox в брокер.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	defaultPollInterval   = 1 * time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
	maxRetryDelay         = 5 * time.Second
)

// Исходы обработки события, они же значения label result.
const (
	resultPublished    = "published"
	resultRetried      = "retried"
	resultDeadLettered = "dead_lettered"
	resultDLQFailed    = "dlq_failed"
	resultDeferred     = "deferred"
)

var (
	outboxEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_outbox_relay_events_total",
		Help: "Outbox events handled by the relay, by event type and result.",
	}, []string{"event_type", "result"})
	outboxPublishDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "storefront_outbox_publish_duration_seconds",
		Help:    "Time to hand one outbox event to the broker, retries included.",
		Buckets: prometheus.DefBuckets,
	}, []string{"event_type"})
	outboxPendingRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storefront_outbox_pending_records",
		Help: "Pending records in the transactional outbox.",
	})
	outboxOldestPendingAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storefront_outbox_oldest_pending_age_seconds",
		Help: "Age of the oldest pending outbox record.",
	})
)

// BatchResult — итог одного прохода по outbox.
type BatchResult struct {
	Published    int
	DeadLettered int
	// Deferred — события заказа, предыдущее событие которого в этом проходе не ушло.
	// Они остаются pending до следующего опроса.
	Deferred int
}

type settings struct {
	logger         *log.Entry
	routes         map[string]domain.OutboxPublisher
	dlq            domain.OutboxPublisher
	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
}

// Option настраивает Worker.
type Option func(*settings)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(s *settings) { s.logger = logger }
}

// WithRoute отправляет события eventType в отдельный publisher
// (например, квитанции — в топик нотификатора). Остальные события идут в publisher по умолчанию.
func WithRoute(eventType string, publisher domain.OutboxPublisher) Option {
	return func(s *settings) {
		if publisher == nil {
			return
		}
		if s.routes == nil {
			s.routes = make(map[string]domain.OutboxPublisher)
		}
		s.routes[eventType] = publisher
	}
}

// WithDLQPublisher задаёт получателя событий, исчерпавших попытки.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(s *settings) { s.dlq = publisher }
}

// WithPollInterval задаёт период опроса outbox.
func WithPollInterval(interval time.Duration) Option {
	return func(s *settings) { s.pollInterval = interval }
}

// WithBatchSize задаёт число событий за один проход.
func WithBatchSize(size int) Option {
	return func(s *settings) { s.batchSize = size }
}

// WithMaxAttempts задаёт число попыток публикации одного события.
func WithMaxAttempts(attempts int) Option {
	return func(s *settings) { s.maxAttempts = attempts }
}

// WithRetryBaseDelay задаёт первую паузу между попытками; дальше она удваивается до maxRetryDelay.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(s *settings) { s.retryBaseDelay = delay }
}

// Worker публикует pending-события заказов. Порядок событий одного заказа сохраняется:
// если событие не ушло, следующие события того же заказа ждут следующего прохода.
type Worker struct {
	repo     domain.OutboxRepository
	fallback domain.OutboxPublisher
	settings
}

// NewWorker создаёт relay. publisher получает все события без отдельного маршрута.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	s := settings{
		pollInterval:   defaultPollInterval,
		batchSize:      defaultBatchSize,
		maxAttempts:    defaultMaxAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
	}
	for _, option := range options {
		option(&s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "outbox-worker")
	}
	if s.pollInterval <= 0 {
		s.pollInterval = defaultPollInterval
	}
	if s.batchSize <= 0 {
		s.batchSize = defaultBatchSize
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = defaultMaxAttempts
	}
	if s.retryBaseDelay < 0 {
		s.retryBaseDelay = 0
	}
	return &Worker{repo: repo, fallback: publisher, settings: s}
}

// Run опрашивает outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || (w.fallback == nil && len(w.routes) == 0) {
		w.logger.Warn("outbox worker is disabled: no repository or publisher")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.logger.WithFields(log.Fields{
		"poll_interval": w.pollInterval.String(),
		"batch_size":    w.batchSize,
		"routes":        len(w.routes),
	}).Info("outbox worker started")

	for {
		w.ProcessOnce(ctx)
		select {
		case <-ctx.Done():
			w.logger.Info("outbox worker stopped")
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce публикует одну пачку pending-событий.
func (w *Worker) ProcessOnce(ctx context.Context) BatchResult {
	var result BatchResult
	if ctx.Err() != nil {
		return result
	}
	defer w.refreshBacklogMetrics(ctx)

	events, err := w.repo.PullPending(ctx, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return result
	}

	stalled := make(map[string]struct{})
	for _, event := range events {
		if ctx.Err() != nil {
			return result
		}

		aggregate := event.AggregateType + "/" + event.AggregateID
		if _, ok := stalled[aggregate]; ok {
			outboxEvents.WithLabelValues(event.EventType, resultDeferred).Inc()
			result.Deferred++
			continue
		}

		if err := w.deliver(ctx, event); err != nil {
			if ctx.Err() != nil {
				return result
			}
			stalled[aggregate] = struct{}{}
			w.deadLetter(ctx, event, err)
			result.DeadLettered++
			continue
		}

		if err := w.repo.MarkSent(ctx, event.ID); err != nil {
			// Сообщение уйдёт повторно: publisher обязан быть идемпотентным.
			w.logger.WithError(err).WithField("outbox_id", event.ID).Warn("failed to mark outbox as sent")
			continue
		}
		result.Published++
	}
	return result
}

func (w *Worker) publisherFor(eventType string) domain.OutboxPublisher {
	if publisher, ok := w.routes[eventType]; ok {
		return publisher
	}
	return w.fallback
}

// deliver публикует событие с повторами и экспоненциальной паузой между ними.
func (w *Worker) deliver(ctx context.Context, event domain.OutboxMessage) error {
	publisher := w.publisherFor(event.EventType)
	if publisher == nil {
		return fmt.Errorf("no publisher for event type %s", event.EventType)
	}

	timer := prometheus.NewTimer(outboxPublishDuration.WithLabelValues(event.EventType))
	defer timer.ObserveDuration()

	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		if attempt > 1 {
			outboxEvents.WithLabelValues(event.EventType, resultRetried).Inc()
			if err := sleep(ctx, w.retryDelay(attempt-1)); err != nil {
				return err
			}
		}
		if lastErr = publisher.Publish(ctx, event); lastErr == nil {
			outboxEvents.WithLabelValues(event.EventType, resultPublished).Inc()
			return nil
		}
	}
	return fmt.Errorf("publish %s after %d attempts: %w", event.EventType, w.maxAttempts, lastErr)
}

// retryDelay возвращает паузу перед попыткой attempt+1.
func (w *Worker) retryDelay(attempt int) time.Duration {
	if w.retryBaseDelay <= 0 || attempt < 1 {
		return 0
	}
	delay := w.retryBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return min(delay, maxRetryDelay)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// deadLetterPayload — тело события в DLQ; его разбирает dlq-replay.
type deadLetterPayload struct {
	OutboxID       string          `json:"outbox_id"`
	AggregateType  string          `json:"aggregate_type"`
	AggregateID    string          `json:"aggregate_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	PublishError   string          `json:"publish_error"`
	DLQPublishedAt time.Time       `json:"dlq_published_at"`
}

// deadLetter переносит событие в DLQ и помечает его failed, чтобы оно не блокировало outbox.
func (w *Worker) deadLetter(ctx context.Context, event domain.OutboxMessage, publishErr error) {
	entry := w.logger.WithFields(log.Fields{
		"outbox_id":    event.ID,
		"event_type":   event.EventType,
		"aggregate_id": event.AggregateID,
	})
	entry.WithError(publishErr).Error("outbox publish failed after retries")
	outboxEvents.WithLabelValues(event.EventType, resultDeadLettered).Inc()

	if w.dlq != nil {
		if err := w.publishDeadLetter(ctx, event, publishErr); err != nil {
			entry.WithError(err).Warn("failed to publish to DLQ")
			outboxEvents.WithLabelValues(event.EventType, resultDLQFailed).Inc()
		}
	}
	if err := w.repo.MarkFailed(ctx, event.ID); err != nil {
		entry.WithError(err).Warn("failed to mark outbox as failed")
	}
}

func (w *Worker) publishDeadLetter(ctx context.Context, event domain.OutboxMessage, publishErr error) error {
	payload, err := json.Marshal(deadLetterPayload{
		OutboxID:       event.ID,
		AggregateType:  event.AggregateType,
		AggregateID:    event.AggregateID,
		EventType:      event.EventType,
		Payload:        json.RawMessage(event.Payload),
		PublishError:   publishErr.Error(),
		DLQPublishedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	letter := event
	letter.Payload = payload
	if err := w.dlq.Publish(ctx, letter); err != nil {
		return fmt.Errorf("publish to dlq: %w", err)
	}
	return nil
}

func (w *Worker) refreshBacklogMetrics(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}

	outboxPendingRecords.Set(float64(stats.PendingCount))
	age := 0.0
	if stats.PendingCount > 0 && !stats.OldestPendingAt.IsZero() {
		age = max(time.Since(stats.OldestPendingAt).Seconds(), 0)
	}
	outboxOldestPendingAge.Set(age)
}
