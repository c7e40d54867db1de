// Package worker runs the pull loops that drain fastlane's four named
// queues, routing each claimed message to the Dispatcher, Runner, Monitor,
// or Notifier. Generalizes the teacher's single-queue Agent (semaphore-
// bounded pull loop with adaptive backoff and a heartbeat that extends
// message visibility) to four independently-tuned queues.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"fastlane/internal/backoff"
	"fastlane/internal/dispatch"
	"fastlane/internal/monitor"
	"fastlane/internal/notify"
	"fastlane/internal/runner"
	"fastlane/internal/store"
)

// Config tunes the pull loop shared by every queue.
type Config struct {
	PollInterval      time.Duration
	MaxPollBackoff    time.Duration
	VisibilityTimeout time.Duration
	HeartbeatInterval time.Duration

	// Concurrency overrides the default per-queue worker count.
	Concurrency map[store.QueueName]int

	DefaultConcurrency int

	// HandlerTimeout bounds one handler invocation. It is applied against a
	// context independent of the poll loop's, so an in-flight handler keeps
	// running to completion (or its own timeout) across a SIGTERM that
	// cancels the poll loop's context.
	HandlerTimeout time.Duration
}

// DefaultConfig returns the Worker's default tuning.
func DefaultConfig() Config {
	return Config{
		PollInterval:       1 * time.Second,
		MaxPollBackoff:     30 * time.Second,
		VisibilityTimeout:  5 * time.Minute,
		HeartbeatInterval:  2 * time.Minute,
		DefaultConcurrency: 4,
		HandlerTimeout:     15 * time.Minute,
	}
}

func (c Config) concurrencyFor(queue store.QueueName) int64 {
	if n, ok := c.Concurrency[queue]; ok && n > 0 {
		return int64(n)
	}
	if c.DefaultConcurrency > 0 {
		return int64(c.DefaultConcurrency)
	}
	return 1
}

// Worker drains the jobs/monitor/notify/webhooks queues.
type Worker struct {
	store      store.Store
	dispatcher *dispatch.Dispatcher
	runner     *runner.Runner
	monitor    *monitor.Monitor
	notifier   notify.Notifier
	cfg        Config
	log        *slog.Logger
}

// New builds a Worker. notifier is used for both the notify and webhooks
// queues; a notify.Multi combining email and webhook delivery leaves each
// item's unpopulated target list a no-op, so one notifier value correctly
// serves both queues' distinct payloads.
func New(s store.Store, d *dispatch.Dispatcher, r *runner.Runner, m *monitor.Monitor, n notify.Notifier, cfg Config, log *slog.Logger) *Worker {
	return &Worker{store: s, dispatcher: d, runner: r, monitor: m, notifier: n, cfg: cfg, log: log}
}

// Run blocks, draining all four queues until ctx is cancelled. On
// cancellation it stops claiming new work and waits for in-flight handlers
// to finish before returning, the same graceful-drain contract as the
// teacher's Agent.Run.
func (w *Worker) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	loops := []struct {
		queue   store.QueueName
		handler func(context.Context, store.QueueItem) error
	}{
		{store.QueueJobs, w.handleJob},
		{store.QueueMonitor, w.handleMonitor},
		{store.QueueNotify, w.handleNotify},
		{store.QueueWebhooks, w.handleNotify},
	}

	for _, l := range loops {
		wg.Add(1)
		go func(queue store.QueueName, handler func(context.Context, store.QueueItem) error) {
			defer wg.Done()
			w.runQueueLoop(ctx, queue, handler)
		}(l.queue, l.handler)
	}

	wg.Wait()
	return ctx.Err()
}

// runQueueLoop is the per-queue pull loop: adaptive backoff on empty polls,
// a weighted semaphore bounding in-flight handlers, and a heartbeat per
// claimed item extending its visibility window while its handler runs.
func (w *Worker) runQueueLoop(ctx context.Context, queue store.QueueName, handler func(context.Context, store.QueueItem) error) {
	concurrency := w.cfg.concurrencyFor(queue)
	sem := semaphore.NewWeighted(concurrency)

	var inFlight sync.WaitGroup
	pollNow := make(chan struct{}, 1)
	triggerPoll := func() {
		select {
		case pollNow <- struct{}{}:
		default:
		}
	}
	triggerPoll()

	currentBackoff := w.cfg.PollInterval

	for {
		select {
		case <-ctx.Done():
			inFlight.Wait()
			return

		case <-time.After(currentBackoff):
			triggerPoll()

		case <-pollNow:
			var available int64
			for available < concurrency && sem.TryAcquire(1) {
				available++
			}
			if available == 0 {
				continue
			}

			items, err := w.store.PopBatch(ctx, queue, int(available), w.cfg.VisibilityTimeout)
			if err != nil {
				w.log.Error("pop batch failed", "queue", queue, "error", err)
				sem.Release(available)
				continue
			}

			if extra := available - int64(len(items)); extra > 0 {
				sem.Release(extra)
			}

			if len(items) == 0 {
				currentBackoff *= 2
				if currentBackoff > w.cfg.MaxPollBackoff {
					currentBackoff = w.cfg.MaxPollBackoff
				}
				continue
			}
			currentBackoff = w.cfg.PollInterval

			for _, item := range items {
				inFlight.Add(1)
				go func(item store.QueueItem) {
					defer inFlight.Done()
					defer sem.Release(1)
					defer triggerPoll()
					w.process(queue, item, handler)
				}(item)
			}

			if len(items) == int(available) {
				triggerPoll()
			}
		}
	}
}

// process runs one handler to completion, heartbeating the claimed message's
// visibility while it runs, and resolves the message (ack/release) on
// return. The handler runs against its own context, independent of the poll
// loop's ctx, so a SIGTERM that cancels the poll loop lets in-flight work
// finish rather than aborting it mid-flight.
func (w *Worker) process(queue store.QueueName, item store.QueueItem, handler func(context.Context, store.QueueItem) error) {
	heartbeatCtx, cancelHeartbeat := context.WithCancel(context.Background())
	defer cancelHeartbeat()
	go w.heartbeat(heartbeatCtx, item.MessageID)

	handlerCtx, cancel := context.WithTimeout(context.Background(), w.cfg.HandlerTimeout)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("worker: handler panic: %v", r)
			}
		}()
		return handler(handlerCtx, item)
	}()
	if err == nil {
		if err := w.store.Ack(context.Background(), item.MessageID); err != nil {
			w.log.Error("ack failed", "queue", queue, "message_id", item.MessageID, "error", err)
		}
		return
	}

	delay := w.releaseDelay(err)
	if releaseErr := w.store.Release(context.Background(), item.MessageID, delay); releaseErr != nil {
		w.log.Error("release failed", "queue", queue, "message_id", item.MessageID, "error", releaseErr)
	}

	w.log.Warn("handler error", "queue", queue, "reference_id", item.ReferenceID, "error", err, "retry_in", delay)
	if notifyErr := w.notifier.Notify(context.Background(), notify.Event{
		JobID:   item.ReferenceID.String(),
		Status:  "handler_error",
		Message: err.Error(),
	}); notifyErr != nil {
		w.log.Error("error notification failed", "error", notifyErr)
	}
}

func (w *Worker) releaseDelay(err error) time.Duration {
	switch err.(type) {
	case *dispatch.ErrPoolSaturated:
		return dispatch.BackoffForSaturation(0)
	case *dispatch.ErrNoAvailableHosts:
		return backoff.PoolSaturated.Delay(0)
	default:
		return backoff.RetryOnFailure.Delay(0)
	}
}

func (w *Worker) heartbeat(ctx context.Context, messageID int64) {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			visibleAfter := time.Now().UTC().Add(w.cfg.VisibilityTimeout)
			if err := w.store.ExtendVisibility(context.Background(), messageID, visibleAfter); err != nil {
				w.log.Error("heartbeat extend visibility failed", "message_id", messageID, "error", err)
			}
		}
	}
}

// handleJob serves the "jobs" queue, which carries two distinct payload
// shapes: a pending dispatch (job_id, from the Scheduler/Healer) or a
// dispatched Execution ready for the Runner (execution_id, from the
// Dispatcher itself). Tries one shape then falls back to the other, the
// same way the teacher's Agent.processItem tolerates two payload formats.
func (w *Worker) handleJob(ctx context.Context, item store.QueueItem) error {
	var envelope struct {
		JobID       uuid.UUID `json:"job_id"`
		ExecutionID uuid.UUID `json:"execution_id"`
	}
	if err := json.Unmarshal(item.Payload, &envelope); err != nil {
		return fmt.Errorf("worker: unmarshal jobs payload: %w", err)
	}

	if envelope.ExecutionID != uuid.Nil {
		return w.runner.Run(ctx, envelope.ExecutionID)
	}
	if envelope.JobID != uuid.Nil {
		return w.dispatcher.Dispatch(ctx, envelope.JobID)
	}
	return fmt.Errorf("worker: jobs payload has neither job_id nor execution_id")
}

func (w *Worker) handleMonitor(ctx context.Context, item store.QueueItem) error {
	var payload struct {
		ExecutionID uuid.UUID `json:"execution_id"`
	}
	if err := json.Unmarshal(item.Payload, &payload); err != nil {
		return fmt.Errorf("worker: unmarshal monitor payload: %w", err)
	}
	return w.monitor.Poll(ctx, payload.ExecutionID)
}

func (w *Worker) handleNotify(ctx context.Context, item store.QueueItem) error {
	var payload struct {
		JobID uuid.UUID `json:"job_id"`
		Event string    `json:"event"`
	}
	if err := json.Unmarshal(item.Payload, &payload); err != nil {
		return fmt.Errorf("worker: unmarshal notify payload: %w", err)
	}

	job, err := w.store.GetJobByID(ctx, payload.JobID)
	if err != nil {
		return fmt.Errorf("worker: get job %s: %w", payload.JobID, err)
	}
	if job == nil {
		return nil // job deleted since the event was enqueued
	}

	event := notify.Event{
		JobID:    job.ID.String(),
		TaskID:   job.TaskID,
		Status:   payload.Event,
		Metadata: job.Spec.Metadata,
		Targets: notify.Targets{
			Emails:   job.Spec.Notify.Emails,
			Webhooks: job.Spec.Notify.Webhooks,
		},
	}
	return w.notifier.Notify(ctx, event)
}
