// Package api contains shared JSON request/response structs.
// This package is shared between the CLI and Controller.
package api

import "time"

// CreateJobRequest is the submission body for POST /tasks/{task_id}/ and the
// update body for PUT /tasks/{task_id}/jobs/{job_id}. At most one of Cron,
// StartAt, or StartIn may be set; none set means run immediately.
type CreateJobRequest struct {
	Image   string            `json:"image"`
	Command []string          `json:"command,omitempty"`
	Envs    map[string]string `json:"envs,omitempty"`
	Metadata map[string]any   `json:"metadata,omitempty"`

	Retries    int        `json:"retries"`
	Timeout    int64      `json:"timeout,omitempty"` // seconds
	Expiration *time.Time `json:"expiration,omitempty"`

	StartAt *time.Time `json:"startAt,omitempty"`
	StartIn string     `json:"startIn,omitempty"` // time.ParseDuration syntax
	Cron    string     `json:"cron,omitempty"`

	Notify NotifyTargets `json:"notify,omitempty"`
}

// NotifyTargets mirrors store.NotifyTargets for the wire format.
type NotifyTargets struct {
	Emails   []string `json:"emails,omitempty"`
	Webhooks []string `json:"webhooks,omitempty"`
}

// ScheduleResponse mirrors store.Schedule for the wire format.
type ScheduleResponse struct {
	Kind            string     `json:"kind"`
	At              *time.Time `json:"at,omitempty"`
	Expr            string     `json:"expr,omitempty"`
	NextTriggerAt   *time.Time `json:"next_trigger_at,omitempty"`
	SkippedTriggers int        `json:"skipped_triggers,omitempty"`
}

// CreateJobResponse is the response body after submitting a job.
type CreateJobResponse struct {
	JobID string `json:"job_id"`
}

// JobResponse is the canonical representation of a Job returned by the API.
type JobResponse struct {
	JobID          string              `json:"job_id"`
	TaskID         string              `json:"task_id"`
	Image          string              `json:"image"`
	Command        []string            `json:"command,omitempty"`
	Envs           map[string]string   `json:"envs,omitempty"`
	Metadata       map[string]any      `json:"metadata,omitempty"`
	Retries        int                 `json:"retries"`
	TimeoutSeconds int64               `json:"timeout,omitempty"`
	Expiration     *time.Time          `json:"expiration,omitempty"`
	Notify         NotifyTargets       `json:"notify,omitempty"`
	Schedule       ScheduleResponse    `json:"schedule"`
	Status         string              `json:"status"`
	CreatedAt      time.Time           `json:"created_at"`
	LastModifiedAt time.Time           `json:"last_modified_at"`
	Executions     []ExecutionResponse `json:"executions,omitempty"`
}

// ExecutionResponse represents one Execution attempt in API responses.
type ExecutionResponse struct {
	ExecutionID   string     `json:"execution_id"`
	JobID         string     `json:"job_id"`
	Attempt       int        `json:"attempt"`
	ContainerID   string     `json:"container_id,omitempty"`
	ContainerHost string     `json:"container_host,omitempty"`
	Image         string     `json:"image"`
	Command       []string   `json:"command,omitempty"`
	Status        string     `json:"status"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	ExitCode      *int       `json:"exit_code,omitempty"`
	Error         *string    `json:"error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// TaskResponse is the canonical representation of a Task.
type TaskResponse struct {
	TaskID         string    `json:"task_id"`
	CreatedAt      time.Time `json:"created_at"`
	LastModifiedAt time.Time `json:"last_modified_at"`
}

// ListTasksResponse is the response body for GET /tasks.
type ListTasksResponse struct {
	Tasks []TaskResponse `json:"tasks"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// LogEntry represents a single log line in a logs response.
type LogEntry struct {
	ID        int64     `json:"id"`
	Stream    string    `json:"stream"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// GetLogsResponse is the response body for GET /tasks/{t}/jobs/{j}/logs.
type GetLogsResponse struct {
	Logs []LogEntry `json:"logs"`
}

// StdoutResponse is the response body for GET /tasks/{t}/jobs/{j}/stdout.
type StdoutResponse struct {
	ExecutionID string `json:"execution_id"`
	Content     string `json:"content"`
}

// StderrResponse is the response body for GET /tasks/{t}/jobs/{j}/stderr.
type StderrResponse struct {
	ExecutionID string `json:"execution_id"`
	Content     string `json:"content"`
}
