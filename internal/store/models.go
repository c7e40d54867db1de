// Package store contains the durable model and persistence interfaces for fastlane.
package store

import (
	"time"

	"github.com/google/uuid"
)

// Task is a named logical unit that owns many Jobs sharing pool-matching
// conventions. Tasks are append-only in practice: they live as long as any
// Job references them.
type Task struct {
	ID             string
	CreatedAt      time.Time
	LastModifiedAt time.Time
}

// JobStatus is the derived status of a Job, computed from its latest
// Execution and schedule state.
type JobStatus string

const (
	JobStatusEnqueued  JobStatus = "enqueued"
	JobStatusScheduled JobStatus = "scheduled"
	JobStatusRunning   JobStatus = "running"
	JobStatusDone      JobStatus = "done"
	JobStatusFailed    JobStatus = "failed"
	JobStatusExpired   JobStatus = "expired"
	JobStatusStopped   JobStatus = "stopped"
)

// ExecutionStatus is the status of a single Execution attempt.
type ExecutionStatus string

const (
	ExecutionStatusPulling  ExecutionStatus = "pulling"
	ExecutionStatusCreated  ExecutionStatus = "created"
	ExecutionStatusRunning  ExecutionStatus = "running"
	ExecutionStatusDone     ExecutionStatus = "done"
	ExecutionStatusFailed   ExecutionStatus = "failed"
	ExecutionStatusTimedOut ExecutionStatus = "timedout"
	ExecutionStatusStopped  ExecutionStatus = "stopped"
	ExecutionStatusExpired  ExecutionStatus = "expired"
)

// Terminal reports whether status s admits no further transitions for its
// Execution.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionStatusDone, ExecutionStatusFailed, ExecutionStatusTimedOut,
		ExecutionStatusStopped, ExecutionStatusExpired:
		return true
	}
	return false
}

// ScheduleKind tags the variant carried by a Schedule value.
type ScheduleKind string

const (
	ScheduleKindImmediate ScheduleKind = "immediate"
	ScheduleKindAt        ScheduleKind = "at"
	ScheduleKindCron      ScheduleKind = "cron"
)

// Schedule is a tagged variant of a Job's trigger: immediate (run once, now),
// at (run once, at a future instant), or cron (recurring per a 5-field
// expression). Only the fields relevant to Kind are populated.
type Schedule struct {
	Kind ScheduleKind `json:"kind"`

	// At is populated for Kind == at: the instant the Job becomes due.
	At *time.Time `json:"at,omitempty"`

	// Expr is populated for Kind == cron: a standard 5-field cron expression,
	// evaluated in UTC.
	Expr string `json:"expr,omitempty"`

	// NextTriggerAt is the next instant this schedule fires. Nil once an `at`
	// schedule has been consumed, or always unset for `immediate`.
	NextTriggerAt *time.Time `json:"next_trigger_at,omitempty"`

	// SkippedTriggers counts cron fires suppressed because the previous
	// Execution was still non-terminal (overlap suppression).
	SkippedTriggers int `json:"skipped_triggers,omitempty"`
}

// NotifyTargets holds the outbound addresses a Job's terminal state should be
// reported to.
type NotifyTargets struct {
	Emails   []string `json:"emails,omitempty"`
	Webhooks []string `json:"webhooks,omitempty"`
}

// JobSpec is the frozen execution request carried by a Job.
type JobSpec struct {
	Image   string            `json:"image"`
	Command []string          `json:"command"`
	Envs    map[string]string `json:"envs,omitempty"`

	// Metadata is opaque to the core; it is forwarded verbatim to webhooks.
	Metadata map[string]any `json:"metadata,omitempty"`

	// Retries is the number of additional attempts allowed beyond the first.
	Retries int `json:"retries"`

	// Expiration is the absolute deadline after which the Job may not start
	// a new Execution. Nil means no deadline.
	Expiration *time.Time `json:"expiration,omitempty"`

	// Timeout is the per-Execution hard wall-clock limit.
	Timeout time.Duration `json:"timeout"`

	Notify NotifyTargets `json:"notify,omitempty"`
}

// Job is a single client submission that yields one or more Executions.
type Job struct {
	ID             uuid.UUID
	TaskID         string
	Spec           JobSpec
	Schedule       Schedule
	Status         JobStatus
	CreatedAt      time.Time
	LastModifiedAt time.Time
}

// Execution is one container invocation attempt for a Job.
type Execution struct {
	ID            uuid.UUID
	JobID         uuid.UUID
	Attempt       int
	ContainerID   string
	ContainerHost string

	// Image and Command are frozen from the Job's spec at creation time, so
	// a later Job.update does not retroactively change a past attempt.
	Image   string
	Command []string

	Status ExecutionStatus

	StartedAt  *time.Time
	FinishedAt *time.Time
	ExitCode   *int

	// Stdout/Stderr hold the last tail-truncated bytes captured at terminal
	// transition. Only the latest Execution's are considered canonical.
	Stdout []byte
	Stderr []byte

	Error *string

	// PollCount drives the Monitor's poll back-off; it is distinct from
	// Attempt, which counts Executions, not polls of one Execution.
	PollCount int

	CreatedAt time.Time
}

// RedactedEnvs renders Spec.Envs with any blacklisted names masked. Used
// whenever a spec is rendered outside the process boundary (webhooks, API
// responses, logs).
func (s JobSpec) RedactedEnvs(isBlacklisted func(name string) bool) map[string]string {
	out := make(map[string]string, len(s.Envs))
	for k, v := range s.Envs {
		if isBlacklisted(k) {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = v
	}
	return out
}
