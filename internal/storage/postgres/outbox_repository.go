package postgres

import (
	"cmp"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// outboxLease — сколько выбранное relay-ем событие скрыто от других реплик.
// Если реплика упала, не отметив событие, после лизинга его заберёт другая.
const outboxLease = 30 * time.Second

type outboxRepository struct {
	db    *sql.DB
	now   func() time.Time
	lease time.Duration
}

// NewOutboxRepository создаёт PostgreSQL-реализацию OutboxRepository.
// Несколько реплик витрины могут опрашивать одну таблицу: события разбираются
// через лизинг, а события одного заказа не выдаются двум репликам одновременно.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxRepository{
		db:    store.DB(),
		now:   func() time.Time { return time.Now().UTC() },
		lease: outboxLease,
	}
}

// Enqueue сохраняет событие. Повтор с тем же ID ничего не меняет.
func (r *outboxRepository) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if !json.Valid(msg.Payload) {
		return domain.OutboxMessage{}, fmt.Errorf("enqueue %s: payload is not valid JSON", msg.EventType)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	now := r.now()
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO outbox_messages (id, aggregate_type, aggregate_id, event_type, payload, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6, $6)
		ON CONFLICT (id) DO NOTHING
	`, msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, now); err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("enqueue %s for %s: %w", msg.EventType, msg.AggregateID, err)
	}
	return msg, nil
}

// PullPending забирает до limit событий под лизинг. Событие не выдаётся,
// пока более раннее событие того же агрегата удерживает другая реплика.
func (r *outboxRepository) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	now := r.now()
	rows, err := r.db.QueryContext(ctx, `
		UPDATE outbox_messages
		SET leased_until = $2
		WHERE id IN (
			SELECT o.id
			FROM outbox_messages o
			WHERE o.status = 'pending'
			  AND (o.leased_until IS NULL OR o.leased_until < $3)
			  AND NOT EXISTS (
				SELECT 1 FROM outbox_messages earlier
				WHERE earlier.aggregate_type = o.aggregate_type
				  AND earlier.aggregate_id = o.aggregate_id
				  AND earlier.status = 'pending'
				  AND earlier.leased_until >= $3
				  AND (earlier.created_at, earlier.id) < (o.created_at, o.id)
			  )
			ORDER BY o.created_at, o.id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, aggregate_type, aggregate_id, event_type, payload, created_at
	`, limit, now.Add(r.lease), now)
	if err != nil {
		return nil, fmt.Errorf("lease pending outbox messages: %w", err)
	}
	defer rows.Close()

	type leased struct {
		msg       domain.OutboxMessage
		createdAt time.Time
	}
	var batch []leased
	for rows.Next() {
		var item leased
		if err := rows.Scan(
			&item.msg.ID,
			&item.msg.AggregateType,
			&item.msg.AggregateID,
			&item.msg.EventType,
			&item.msg.Payload,
			&item.createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}
		batch = append(batch, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox rows: %w", err)
	}

	// RETURNING не сохраняет порядок подзапроса.
	slices.SortFunc(batch, func(a, b leased) int {
		if c := a.createdAt.Compare(b.createdAt); c != 0 {
			return c
		}
		return cmp.Compare(a.msg.ID, b.msg.ID)
	})
	result := make([]domain.OutboxMessage, 0, len(batch))
	for _, item := range batch {
		result = append(result, item.msg)
	}
	return result, nil
}

// Stats считает все pending-события, включая взятые под лизинг.
func (r *outboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)
	if err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(created_at) FROM outbox_messages WHERE status = 'pending'
	`).Scan(&stats.PendingCount, &oldest); err != nil {
		return domain.OutboxStats{}, fmt.Errorf("outbox stats: %w", err)
	}
	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	return stats, nil
}

// MarkSent удаляет опубликованное событие. Повторный вызов — no-op.
func (r *outboxRepository) MarkSent(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `DELETE FROM outbox_messages WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete sent outbox message %s: %w", id, err)
	}
	return nil
}

// MarkFailed оставляет событие в таблице со статусом failed для разбора.
func (r *outboxRepository) MarkFailed(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE outbox_messages SET status = 'failed', leased_until = NULL, updated_at = $2 WHERE id = $1
	`, id, r.now())
	if err != nil {
		return fmt.Errorf("mark outbox message %s failed: %w", id, err)
	}
	if affected, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("mark outbox message %s failed: %w", id, err)
	} else if affected == 0 {
		return fmt.Errorf("mark outbox message %s failed: %w", id, domain.ErrOutboxPublish)
	}
	return nil
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
