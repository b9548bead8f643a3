// Package order — чтение заказов, смена статуса и административное удаление.
package order

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/events"
)

const (
	defaultMaxRetries = 3
	defaultBaseDelay  = 10 * time.Millisecond
)

// Details — заказ вместе с историей событий.
type Details struct {
	Order    domain.Order
	Timeline []domain.TimelineEvent
}

// Service управляет заказами после их создания.
type Service struct {
	orders     domain.OrderRepository
	timeline   domain.TimelineRepository
	events     *events.Recorder
	logger     *log.Entry
	maxRetries int
	baseDelay  time.Duration
}

// NewService создаёт сервис заказов. timeline и recorder могут быть nil.
func NewService(orders domain.OrderRepository, timeline domain.TimelineRepository, recorder *events.Recorder, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "orders")
	}
	return &Service{
		orders:     orders,
		timeline:   timeline,
		events:     recorder,
		logger:     logger,
		maxRetries: defaultMaxRetries,
		baseDelay:  defaultBaseDelay,
	}
}

// Get возвращает заказ и его timeline.
func (s *Service) Get(ctx context.Context, id string) (Details, error) {
	order, err := s.orders.Get(ctx, id)
	if err != nil {
		return Details{}, err
	}

	details := Details{Order: order}
	if s.timeline != nil {
		history, err := s.timeline.List(ctx, id)
		if err != nil {
			s.logger.WithError(err).WithField("order_id", id).Warn("load timeline failed")
		}
		details.Timeline = history
	}
	return details, nil
}

// ListByUser возвращает заказы пользователя от новых к старым.
func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	if userID == "" {
		return nil, domain.ErrUserRequired
	}
	orders, err := s.orders.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list orders for user %s: %w", userID, err)
	}
	return orders, nil
}

// ListAll возвращает все заказы (админский отчёт).
func (s *Service) ListAll(ctx context.Context, limit int) ([]domain.Order, error) {
	orders, err := s.orders.ListAll(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

// UpdateStatus выставляет один из четырёх допустимых статусов.
// Граф переходов не навязывается: переход вне графа выполняется и логируется как предупреждение.
// Повторная установка текущего статуса сохраняет заказ и обновляет UpdatedAt
// без события смены статуса. Конфликт версий повторяется с exponential backoff.
func (s *Service) UpdateStatus(ctx context.Context, id, rawStatus string) (domain.Order, error) {
	order, err := s.orders.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}

	newStatus, err := domain.ParseOrderStatus(rawStatus)
	if err != nil {
		return domain.Order{}, err
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		previous := order.Status
		unchanged := previous == newStatus
		if !unchanged && !previous.CanTransitionTo(newStatus) {
			s.logger.WithFields(log.Fields{
				"order_id": order.ID,
				"from":     previous,
				"to":       newStatus,
			}).Warn("status transition outside lifecycle graph")
		}

		next := order.Clone()
		next.Status = newStatus
		saved, err := s.orders.Save(ctx, next)
		if err == nil && unchanged {
			return saved, nil
		}
		if err == nil {
			s.events.Emit(ctx, saved.ID, domain.EventOrderStatusChanged, map[string]any{
				"from":       string(previous),
				"status":     string(saved.Status),
				"updated_at": saved.UpdatedAt.Format(time.RFC3339Nano),
			})
			return saved, nil
		}

		if !domain.IsVersionConflict(err) || attempt == s.maxRetries-1 {
			s.logger.WithError(err).WithFields(log.Fields{
				"order_id": order.ID,
				"attempt":  attempt + 1,
			}).Error("failed to persist status")
			return domain.Order{}, err
		}

		s.logger.WithFields(log.Fields{
			"order_id": order.ID,
			"attempt":  attempt + 1,
			"version":  order.Version,
		}).Warn("version conflict detected, retrying")

		if err := sleep(ctx, s.baseDelay*time.Duration(1<<uint(attempt))); err != nil {
			return domain.Order{}, err
		}
		fresh, err := s.orders.Get(ctx, id)
		if err != nil {
			s.logger.WithError(err).WithField("order_id", id).Error("failed to reload order after conflict")
			return domain.Order{}, err
		}
		order = fresh
	}

	return domain.Order{}, domain.ErrOrderVersionConflict
}

// Delete физически удаляет заказ. Операция административная и не связана с оформлением.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.orders.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.WithField("order_id", id).Info("order deleted")
	s.events.Emit(ctx, id, domain.EventOrderDeleted, nil)
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
