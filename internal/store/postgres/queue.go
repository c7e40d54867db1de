package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"fastlane/internal/store"
)

// Push enqueues a message on the named queue, visible starting at
// visibleAfter.
func (s *Store) Push(ctx context.Context, tx store.DBTransaction, queue store.QueueName, referenceID uuid.UUID, payload json.RawMessage, visibleAfter time.Time) (int64, error) {
	if visibleAfter.IsZero() {
		visibleAfter = time.Now().UTC()
	}

	executor := s.getExecutor(tx)
	var id int64
	err := executor.QueryRowContext(ctx, `
		INSERT INTO queue_messages (queue, reference_id, payload, visible_after)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, queue, referenceID, payload, visibleAfter).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("push %s: %w", queue, err)
	}
	return id, nil
}

// PopBatch claims up to limit visible messages atomically via
// SELECT ... FOR UPDATE SKIP LOCKED, so concurrent worker processes never
// claim the same message twice, then pushes their visibility out by vt.
func (s *Store) PopBatch(ctx context.Context, queue store.QueueName, limit int, vt time.Duration) ([]store.QueueItem, error) {
	if limit <= 0 {
		limit = 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, reference_id, payload
		FROM queue_messages
		WHERE queue = $1 AND visible_after <= now()
		ORDER BY id ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $2
	`, queue, limit)
	if err != nil {
		return nil, fmt.Errorf("pop batch %s: select: %w", queue, err)
	}

	var items []store.QueueItem
	var ids []int64
	for rows.Next() {
		var item store.QueueItem
		if err := rows.Scan(&item.MessageID, &item.ReferenceID, &item.Payload); err != nil {
			rows.Close()
			return nil, fmt.Errorf("pop batch %s: scan: %w", queue, err)
		}
		items = append(items, item)
		ids = append(ids, item.MessageID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(items) == 0 {
		return nil, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE queue_messages SET visible_after = now() + ($1 * INTERVAL '1 second')
		WHERE id = ANY($2)
	`, vt.Seconds(), pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("pop batch %s: extend visibility: %w", queue, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return items, nil
}

// Ack deletes a claimed message; the handler it belonged to completed
// successfully.
func (s *Store) Ack(ctx context.Context, messageID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM queue_messages WHERE id = $1`, messageID)
	return err
}

// Release makes a claimed message visible again after delay, for
// at-least-once redelivery when a handler fails.
func (s *Store) Release(ctx context.Context, messageID int64, delay time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE queue_messages SET visible_after = now() + ($1 * INTERVAL '1 second')
		WHERE id = $2
	`, delay.Seconds(), messageID)
	return err
}

// ExtendVisibility pushes a claimed message's invisibility window out,
// acting as a heartbeat for long-running handlers.
func (s *Store) ExtendVisibility(ctx context.Context, messageID int64, visibleAfter time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE queue_messages SET visible_after = $1 WHERE id = $2
	`, visibleAfter, messageID)
	return err
}

// Len returns the number of currently claimable messages on a queue.
func (s *Store) Len(ctx context.Context, queue store.QueueName) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM queue_messages WHERE queue = $1 AND visible_after <= now()
	`, queue).Scan(&count)
	return count, err
}
