// Package handlers contains HTTP handlers for the controller API.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"fastlane/internal/monitor"
	"fastlane/internal/redact"
	"fastlane/internal/runtime"
	"fastlane/internal/scheduler"
	"fastlane/internal/store"
	"fastlane/pkg/api"
)

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	store     store.Store
	scheduler *scheduler.Scheduler
	monitor   *monitor.Monitor
	runtime   runtime.Runtime
	blacklist *redact.Blacklist
}

// New creates a new Handlers instance. scheduler drives immediate submission
// and manual retry, monitor drives cooperative stop, runtime backs the live
// log stream, and blacklist redacts env values before they leave the process.
func New(s store.Store, sched *scheduler.Scheduler, mon *monitor.Monitor, rt runtime.Runtime, bl *redact.Blacklist) *Handlers {
	return &Handlers{store: s, scheduler: sched, monitor: mon, runtime: rt, blacklist: bl}
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}

func jobToResponse(job *store.Job, execs []store.Execution, isBlacklisted func(string) bool) api.JobResponse {
	resp := api.JobResponse{
		JobID:          job.ID.String(),
		TaskID:         job.TaskID,
		Image:          job.Spec.Image,
		Command:        job.Spec.Command,
		Envs:           job.Spec.RedactedEnvs(isBlacklisted),
		Metadata:       job.Spec.Metadata,
		Retries:        job.Spec.Retries,
		TimeoutSeconds: int64(job.Spec.Timeout.Seconds()),
		Expiration:     job.Spec.Expiration,
		Notify: api.NotifyTargets{
			Emails:   job.Spec.Notify.Emails,
			Webhooks: job.Spec.Notify.Webhooks,
		},
		Schedule: api.ScheduleResponse{
			Kind:            string(job.Schedule.Kind),
			At:              job.Schedule.At,
			Expr:            job.Schedule.Expr,
			NextTriggerAt:   job.Schedule.NextTriggerAt,
			SkippedTriggers: job.Schedule.SkippedTriggers,
		},
		Status:         string(job.Status),
		CreatedAt:      job.CreatedAt,
		LastModifiedAt: job.LastModifiedAt,
	}
	for i := range execs {
		resp.Executions = append(resp.Executions, executionToResponse(&execs[i]))
	}
	return resp
}

func executionToResponse(e *store.Execution) api.ExecutionResponse {
	return api.ExecutionResponse{
		ExecutionID:   e.ID.String(),
		JobID:         e.JobID.String(),
		Attempt:       e.Attempt,
		ContainerID:   e.ContainerID,
		ContainerHost: e.ContainerHost,
		Image:         e.Image,
		Command:       e.Command,
		Status:        string(e.Status),
		StartedAt:     e.StartedAt,
		FinishedAt:    e.FinishedAt,
		ExitCode:      e.ExitCode,
		Error:         e.Error,
		CreatedAt:     e.CreatedAt,
	}
}

// jobInFlight reports whether a Job is currently between submission and a
// resting state: it has an Execution outstanding or pending.
func jobInFlight(status store.JobStatus) bool {
	switch status {
	case store.JobStatusEnqueued, store.JobStatusScheduled, store.JobStatusRunning:
		return true
	}
	return false
}

func jobTerminal(status store.JobStatus) bool {
	switch status {
	case store.JobStatusDone, store.JobStatusFailed, store.JobStatusExpired, store.JobStatusStopped:
		return true
	}
	return false
}
