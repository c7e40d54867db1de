package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// QueueName identifies one of the four named work streams described in the
// job lifecycle: jobs ready to dispatch, executions to poll, outbound
// webhooks, and terminal-state notifications.
type QueueName string

const (
	QueueJobs     QueueName = "jobs"
	QueueMonitor  QueueName = "monitor"
	QueueWebhooks QueueName = "webhooks"
	QueueNotify   QueueName = "notify"
)

// QueueItem is one claimed message. ReferenceID is the Execution or Job ID
// the payload concerns, used as the idempotency key for the handler that
// processes it.
type QueueItem struct {
	MessageID   int64
	ReferenceID uuid.UUID
	Payload     json.RawMessage
}

// Queue is the reliable work-queue primitive described in the spec: push at
// a delay (visibility timestamp), atomic batch claim with a visibility
// timeout, and a fast length query. Implementations must use
// SELECT ... FOR UPDATE SKIP LOCKED semantics so concurrent workers never
// claim the same message twice.
type Queue interface {
	// Push enqueues a message, visible starting at visibleAfter (the zero
	// value means immediately visible).
	Push(ctx context.Context, tx DBTransaction, queue QueueName, referenceID uuid.UUID, payload json.RawMessage, visibleAfter time.Time) (int64, error)

	// PopBatch claims up to limit visible messages from queue atomically,
	// marking them invisible for vt. Returns nil if none are available.
	PopBatch(ctx context.Context, queue QueueName, limit int, vt time.Duration) ([]QueueItem, error)

	// Ack deletes a claimed message; call on successful handling.
	Ack(ctx context.Context, messageID int64) error

	// Release makes a claimed message visible again after delay (used on
	// handler failure, so it is redelivered — at-least-once delivery).
	Release(ctx context.Context, messageID int64, delay time.Duration) error

	// ExtendVisibility pushes a claimed message's invisibility window out to
	// visibleAfter, used by long-running handlers as a heartbeat.
	ExtendVisibility(ctx context.Context, messageID int64, visibleAfter time.Time) error

	// Len returns the number of currently visible (claimable) messages on a
	// queue.
	Len(ctx context.Context, queue QueueName) (int64, error)
}
