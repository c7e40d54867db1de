package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"fastlane/internal/store"
	"fastlane/pkg/api"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// buildSchedule validates that at most one of Cron/StartAt/StartIn is set
// and derives the Schedule it describes. No trigger fields set means run
// immediately.
func buildSchedule(req api.CreateJobRequest, now time.Time) (store.Schedule, error) {
	set := 0
	if req.Cron != "" {
		set++
	}
	if req.StartAt != nil {
		set++
	}
	if req.StartIn != "" {
		set++
	}
	if set > 1 {
		return store.Schedule{}, errors.New("at most one of cron, startAt, startIn may be set")
	}

	switch {
	case req.Cron != "":
		sched, err := cronParser.Parse(req.Cron)
		if err != nil {
			return store.Schedule{}, fmt.Errorf("invalid cron expression: %w", err)
		}
		next := sched.Next(now)
		return store.Schedule{Kind: store.ScheduleKindCron, Expr: req.Cron, NextTriggerAt: &next}, nil
	case req.StartAt != nil:
		at := req.StartAt.UTC()
		return store.Schedule{Kind: store.ScheduleKindAt, At: &at, NextTriggerAt: &at}, nil
	case req.StartIn != "":
		d, err := time.ParseDuration(req.StartIn)
		if err != nil {
			return store.Schedule{}, fmt.Errorf("invalid startIn duration: %w", err)
		}
		at := now.Add(d)
		return store.Schedule{Kind: store.ScheduleKindAt, At: &at, NextTriggerAt: &at}, nil
	default:
		return store.Schedule{Kind: store.ScheduleKindImmediate}, nil
	}
}

func specFromRequest(req api.CreateJobRequest) store.JobSpec {
	return store.JobSpec{
		Image:      req.Image,
		Command:    req.Command,
		Envs:       req.Envs,
		Metadata:   req.Metadata,
		Retries:    req.Retries,
		Expiration: req.Expiration,
		Timeout:    time.Duration(req.Timeout) * time.Second,
		Notify: store.NotifyTargets{
			Emails:   req.Notify.Emails,
			Webhooks: req.Notify.Webhooks,
		},
	}
}

// CreateJob handles POST /tasks/{task_id}/. It creates the Task implicitly
// if this is its first Job, persists the Job, and for immediate Jobs
// submits the first Execution synchronously so a client observes the
// transition to running promptly.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	taskID := r.PathValue("task_id")
	if taskID == "" {
		h.httpError(w, "task_id is required", http.StatusBadRequest)
		return
	}

	var req api.CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Image == "" {
		h.httpError(w, "image is required", http.StatusBadRequest)
		return
	}

	now := time.Now().UTC()
	schedule, err := buildSchedule(req, now)
	if err != nil {
		h.httpError(w, err.Error(), http.StatusBadRequest)
		return
	}

	job := &store.Job{
		ID:             uuid.Must(uuid.NewV7()),
		TaskID:         taskID,
		Spec:           specFromRequest(req),
		Schedule:       schedule,
		Status:         store.JobStatusScheduled,
		CreatedAt:      now,
		LastModifiedAt: now,
	}

	tx, err := h.store.BeginTx(ctx)
	if err != nil {
		h.httpError(w, "Internal database error", http.StatusInternalServerError)
		return
	}
	defer tx.Rollback()

	if err := h.store.EnsureTask(ctx, tx, taskID); err != nil {
		h.httpError(w, "Failed to create task", http.StatusInternalServerError)
		return
	}
	if err := h.store.CreateJob(ctx, tx, job); err != nil {
		h.httpError(w, "Failed to create job", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(); err != nil {
		h.httpError(w, "Failed to commit transaction", http.StatusInternalServerError)
		return
	}

	if schedule.Kind == store.ScheduleKindImmediate {
		if err := h.scheduler.SubmitImmediate(ctx, job); err != nil {
			h.httpError(w, "Failed to submit job", http.StatusInternalServerError)
			return
		}
	}

	h.respondJson(w, http.StatusCreated, api.CreateJobResponse{JobID: job.ID.String()})
}

// UpdateJob handles PUT /tasks/{task_id}/jobs/{job_id}. Only a Job that has
// not yet started running may be updated.
func (h *Handlers) UpdateJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	jobID, err := uuid.Parse(r.PathValue("job_id"))
	if err != nil {
		h.httpError(w, "Invalid job id", http.StatusBadRequest)
		return
	}
	taskID := r.PathValue("task_id")

	job, err := h.store.GetJobByID(ctx, jobID)
	if err != nil {
		h.httpError(w, "Failed to read job", http.StatusInternalServerError)
		return
	}
	if job == nil || job.TaskID != taskID {
		h.httpError(w, "Job not found", http.StatusNotFound)
		return
	}
	if job.Status != store.JobStatusEnqueued && job.Status != store.JobStatusScheduled {
		h.httpError(w, "Job has already started running", http.StatusConflict)
		return
	}

	var req api.CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Image == "" {
		h.httpError(w, "image is required", http.StatusBadRequest)
		return
	}

	schedule, err := buildSchedule(req, time.Now().UTC())
	if err != nil {
		h.httpError(w, err.Error(), http.StatusBadRequest)
		return
	}
	spec := specFromRequest(req)

	if err := h.store.UpdateJobSpec(ctx, nil, jobID, spec, schedule); err != nil {
		h.httpError(w, "Failed to update job", http.StatusInternalServerError)
		return
	}

	job.Spec = spec
	job.Schedule = schedule
	h.respondJson(w, http.StatusOK, jobToResponse(job, nil, h.blacklist.Contains))
}

// GetJob handles GET /tasks/{task_id}/jobs/{job_id}.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	jobID, err := uuid.Parse(r.PathValue("job_id"))
	if err != nil {
		h.httpError(w, "Invalid job id", http.StatusBadRequest)
		return
	}
	taskID := r.PathValue("task_id")

	job, err := h.store.GetJobByID(ctx, jobID)
	if err != nil {
		h.httpError(w, "Failed to read job", http.StatusInternalServerError)
		return
	}
	if job == nil || job.TaskID != taskID {
		h.httpError(w, "Job not found", http.StatusNotFound)
		return
	}

	execs, err := h.store.ListExecutionsByJob(ctx, jobID)
	if err != nil {
		h.httpError(w, "Failed to list executions", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusOK, jobToResponse(job, execs, h.blacklist.Contains))
}

// ListJobsByTask handles GET /tasks/{task_id}/jobs.
func (h *Handlers) ListJobsByTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	taskID := r.PathValue("task_id")

	jobs, err := h.store.ListJobsByTask(ctx, taskID)
	if err != nil {
		h.httpError(w, "Failed to list jobs", http.StatusInternalServerError)
		return
	}

	resp := make([]api.JobResponse, 0, len(jobs))
	for i := range jobs {
		resp = append(resp, jobToResponse(&jobs[i], nil, h.blacklist.Contains))
	}
	h.respondJson(w, http.StatusOK, resp)
}

// StopJob handles POST /tasks/{task_id}/jobs/{job_id}/stop. A Job already
// in a terminal state cannot be stopped again.
func (h *Handlers) StopJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	jobID, err := uuid.Parse(r.PathValue("job_id"))
	if err != nil {
		h.httpError(w, "Invalid job id", http.StatusBadRequest)
		return
	}
	taskID := r.PathValue("task_id")

	job, err := h.store.GetJobByID(ctx, jobID)
	if err != nil {
		h.httpError(w, "Failed to read job", http.StatusInternalServerError)
		return
	}
	if job == nil || job.TaskID != taskID {
		h.httpError(w, "Job not found", http.StatusNotFound)
		return
	}
	if jobTerminal(job.Status) {
		h.httpError(w, "Job has already finished", http.StatusConflict)
		return
	}

	execution, err := h.store.GetLatestExecution(ctx, jobID)
	if err != nil {
		h.httpError(w, "Failed to read latest execution", http.StatusInternalServerError)
		return
	}
	if execution == nil {
		if err := h.store.SetJobStatus(ctx, nil, jobID, store.JobStatusStopped); err != nil {
			h.httpError(w, "Failed to stop job", http.StatusInternalServerError)
			return
		}
		h.respondJson(w, http.StatusOK, nil)
		return
	}

	if err := h.monitor.Stop(ctx, execution.ID); err != nil {
		h.httpError(w, "Failed to stop job", http.StatusInternalServerError)
		return
	}
	h.respondJson(w, http.StatusOK, nil)
}

// RetryJob handles POST /tasks/{task_id}/jobs/{job_id}/retry. Retrying is
// only meaningful once a Job has settled into a terminal state; retrying a
// Job that is already in flight makes no sense. Each manual retry extends
// the Job's attempt bound by one.
func (h *Handlers) RetryJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	jobID, err := uuid.Parse(r.PathValue("job_id"))
	if err != nil {
		h.httpError(w, "Invalid job id", http.StatusBadRequest)
		return
	}
	taskID := r.PathValue("task_id")

	job, err := h.store.GetJobByID(ctx, jobID)
	if err != nil {
		h.httpError(w, "Failed to read job", http.StatusInternalServerError)
		return
	}
	if job == nil || job.TaskID != taskID {
		h.httpError(w, "Job not found", http.StatusNotFound)
		return
	}
	if jobInFlight(job.Status) {
		h.httpError(w, "Job is currently in flight", http.StatusConflict)
		return
	}

	job.Spec.Retries++
	if err := h.store.UpdateJobSpec(ctx, nil, jobID, job.Spec, job.Schedule); err != nil {
		h.httpError(w, "Failed to record retry", http.StatusInternalServerError)
		return
	}

	if err := h.scheduler.Requeue(ctx, job); err != nil {
		h.httpError(w, "Failed to requeue job", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusOK, nil)
}
