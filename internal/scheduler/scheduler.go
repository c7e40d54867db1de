// Package scheduler drives Jobs from their Schedule into the jobs queue: an
// immediate Job enqueues once at creation, an "at" Job enqueues when its
// instant arrives, and a cron Job re-arms itself on every non-overlapping
// trigger.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"fastlane/internal/store"
)

// Config tunes the Scheduler's sweep cadence.
type Config struct {
	// SweepInterval is how often the Scheduler checks for due "at"/cron Jobs.
	SweepInterval time.Duration
}

// DefaultConfig returns the Scheduler's default tuning.
func DefaultConfig() Config {
	return Config{SweepInterval: 1 * time.Second}
}

// Scheduler polls the Store for due Jobs and enqueues their next Execution.
type Scheduler struct {
	store  store.Store
	cfg    Config
	log    *slog.Logger
	parser cron.Parser
}

// New builds a Scheduler over the given Store.
func New(s store.Store, cfg Config, log *slog.Logger) *Scheduler {
	return &Scheduler{
		store:  s,
		cfg:    cfg,
		log:    log,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// Run blocks, sweeping for due Jobs every SweepInterval until ctx is
// cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.sweep(ctx); err != nil {
				s.log.Error("scheduler sweep failed", "error", err)
			}
		}
	}
}

// SubmitImmediate enqueues a freshly created immediate Job's first
// Execution. Called synchronously by the controller's create-Job handler so
// a client observes the Job transition to running promptly.
func (s *Scheduler) SubmitImmediate(ctx context.Context, job *store.Job) error {
	if job.Schedule.Kind != store.ScheduleKindImmediate {
		return fmt.Errorf("scheduler: SubmitImmediate called on non-immediate job %s", job.ID)
	}
	return s.enqueueJob(ctx, job)
}

// Requeue enqueues another Execution for job regardless of its current
// status, used by the controller's manual /retry operation. Unlike
// SubmitImmediate it is not restricted to freshly created immediate Jobs: a
// manual retry is allowed even on an already-terminal Job, extending its
// attempt bound by one.
func (s *Scheduler) Requeue(ctx context.Context, job *store.Job) error {
	return s.enqueueJob(ctx, job)
}

func (s *Scheduler) sweep(ctx context.Context) error {
	tasks, err := s.store.ListTasks(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: list tasks: %w", err)
	}

	now := time.Now().UTC()
	for _, task := range tasks {
		jobs, err := s.store.ListJobsByTask(ctx, task.ID)
		if err != nil {
			s.log.Error("scheduler: list jobs by task failed", "task_id", task.ID, "error", err)
			continue
		}
		for i := range jobs {
			job := jobs[i]
			if job.Schedule.Kind == store.ScheduleKindImmediate {
				continue
			}
			if err := s.maybeTrigger(ctx, &job, now); err != nil {
				s.log.Error("scheduler: trigger failed", "job_id", job.ID, "error", err)
			}
		}
	}
	return nil
}

func (s *Scheduler) maybeTrigger(ctx context.Context, job *store.Job, now time.Time) error {
	sched := job.Schedule
	if sched.NextTriggerAt == nil || sched.NextTriggerAt.After(now) {
		return nil
	}

	if job.Spec.Expiration != nil && job.Spec.Expiration.Before(now) {
		return s.expire(ctx, job)
	}

	if sched.Kind == store.ScheduleKindCron {
		latest, err := s.store.GetLatestExecution(ctx, job.ID)
		if err != nil {
			return fmt.Errorf("get latest execution: %w", err)
		}
		if latest != nil && !latest.Status.Terminal() {
			sched.SkippedTriggers++
			sched.NextTriggerAt = s.nextCronFire(sched.Expr, now)
			if err := s.store.UpdateJobSpec(ctx, nil, job.ID, job.Spec, sched); err != nil {
				return fmt.Errorf("record skipped trigger: %w", err)
			}
			s.log.Warn("scheduler: overlap suppressed", "job_id", job.ID, "skipped_triggers", sched.SkippedTriggers)
			return nil
		}
	}

	switch sched.Kind {
	case store.ScheduleKindAt:
		sched.NextTriggerAt = nil
	case store.ScheduleKindCron:
		sched.NextTriggerAt = s.nextCronFire(sched.Expr, now)
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := s.pushJob(ctx, tx, job); err != nil {
		return err
	}
	if err := s.store.UpdateJobSpec(ctx, tx, job.ID, job.Spec, sched); err != nil {
		return fmt.Errorf("advance next trigger: %w", err)
	}
	return tx.Commit()
}

func (s *Scheduler) nextCronFire(expr string, after time.Time) *time.Time {
	schedule, err := s.parser.Parse(expr)
	if err != nil {
		s.log.Error("scheduler: invalid cron expression", "expr", expr, "error", err)
		return nil
	}
	next := schedule.Next(after)
	return &next
}

func (s *Scheduler) expire(ctx context.Context, job *store.Job) error {
	if err := s.store.SetJobStatus(ctx, nil, job.ID, store.JobStatusExpired); err != nil {
		return fmt.Errorf("expire job: %w", err)
	}
	payload, err := json.Marshal(notifyPayload{JobID: job.ID, Event: "expired"})
	if err != nil {
		return err
	}
	if _, err := s.store.Push(ctx, nil, store.QueueNotify, job.ID, payload, time.Time{}); err != nil {
		return fmt.Errorf("expire job: push notify: %w", err)
	}
	return nil
}

type notifyPayload struct {
	JobID uuid.UUID `json:"job_id"`
	Event string    `json:"event"`
}

type dispatchPayload struct {
	JobID uuid.UUID `json:"job_id"`
}

// enqueueJob pushes job onto the jobs queue and marks it enqueued in one
// transaction, so a crash between the two never leaves a Job enqueued
// without a corresponding queue message or vice versa.
func (s *Scheduler) enqueueJob(ctx context.Context, job *store.Job) error {
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := s.pushJob(ctx, tx, job); err != nil {
		return err
	}
	return tx.Commit()
}

// pushJob pushes job onto the jobs queue and marks it enqueued, within the
// caller's transaction.
func (s *Scheduler) pushJob(ctx context.Context, tx store.Tx, job *store.Job) error {
	payload, err := json.Marshal(dispatchPayload{JobID: job.ID})
	if err != nil {
		return err
	}
	if _, err := s.store.Push(ctx, tx, store.QueueJobs, job.ID, payload, time.Time{}); err != nil {
		return fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	return s.store.SetJobStatus(ctx, tx, job.ID, store.JobStatusEnqueued)
}
