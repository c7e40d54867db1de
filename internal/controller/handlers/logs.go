package handlers

import (
	"bufio"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"fastlane/internal/store"
	"fastlane/pkg/api"
)

func (h *Handlers) latestExecutionForJob(w http.ResponseWriter, r *http.Request) (*store.Job, *store.Execution, bool) {
	ctx := r.Context()

	jobID, err := uuid.Parse(r.PathValue("job_id"))
	if err != nil {
		h.httpError(w, "Invalid job id", http.StatusBadRequest)
		return nil, nil, false
	}
	taskID := r.PathValue("task_id")

	job, err := h.store.GetJobByID(ctx, jobID)
	if err != nil {
		h.httpError(w, "Failed to read job", http.StatusInternalServerError)
		return nil, nil, false
	}
	if job == nil || job.TaskID != taskID {
		h.httpError(w, "Job not found", http.StatusNotFound)
		return nil, nil, false
	}

	execution, err := h.store.GetLatestExecution(ctx, jobID)
	if err != nil {
		h.httpError(w, "Failed to read latest execution", http.StatusInternalServerError)
		return nil, nil, false
	}
	if execution == nil {
		h.httpError(w, "Job has not run yet", http.StatusNotFound)
		return nil, nil, false
	}
	return job, execution, true
}

// GetStdout handles GET /tasks/{task_id}/jobs/{job_id}/stdout, returning the
// last tail-truncated stdout bytes captured at the latest Execution's
// terminal transition.
func (h *Handlers) GetStdout(w http.ResponseWriter, r *http.Request) {
	_, execution, ok := h.latestExecutionForJob(w, r)
	if !ok {
		return
	}
	h.respondJson(w, http.StatusOK, api.StdoutResponse{
		ExecutionID: execution.ID.String(),
		Content:     string(execution.Stdout),
	})
}

// GetStderr handles GET /tasks/{task_id}/jobs/{job_id}/stderr.
func (h *Handlers) GetStderr(w http.ResponseWriter, r *http.Request) {
	_, execution, ok := h.latestExecutionForJob(w, r)
	if !ok {
		return
	}
	h.respondJson(w, http.StatusOK, api.StderrResponse{
		ExecutionID: execution.ID.String(),
		Content:     string(execution.Stderr),
	})
}

// GetLogs handles GET /tasks/{task_id}/jobs/{job_id}/logs, returning the
// live-captured log entries for the Job's latest Execution, paginated with
// after_id/limit query params.
func (h *Handlers) GetLogs(w http.ResponseWriter, r *http.Request) {
	_, execution, ok := h.latestExecutionForJob(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	query := r.URL.Query()
	limit := 1000
	if l := query.Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 10000 {
			limit = parsed
		}
	}
	var afterID int64
	if after := query.Get("after_id"); after != "" {
		if parsed, err := strconv.ParseInt(after, 10, 64); err == nil {
			afterID = parsed
		}
	}

	logs, err := h.store.GetLogs(ctx, execution.ID, afterID, limit)
	if err != nil {
		h.httpError(w, "Failed to fetch logs", http.StatusInternalServerError)
		return
	}

	apiLogs := make([]api.LogEntry, len(logs))
	for i, l := range logs {
		apiLogs[i] = api.LogEntry{ID: l.ID, Stream: l.Stream, Content: l.Content, CreatedAt: l.CreatedAt}
	}
	h.respondJson(w, http.StatusOK, api.GetLogsResponse{Logs: apiLogs})
}

// StreamLogs handles GET /tasks/{task_id}/jobs/{job_id}/stream: a chunked
// HTTP response that tails the running container's combined output live,
// persisting each line to the LogStore as it passes through.
func (h *Handlers) StreamLogs(w http.ResponseWriter, r *http.Request) {
	job, execution, ok := h.latestExecutionForJob(w, r)
	if !ok {
		return
	}
	if job.Status != store.JobStatusRunning {
		h.httpError(w, "Job is not currently running", http.StatusConflict)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.httpError(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	reader, err := h.runtime.StreamLogs(ctx, execution.ContainerHost, execution.ContainerID)
	if err != nil {
		h.httpError(w, "Failed to open log stream", http.StatusInternalServerError)
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return
		}
		flusher.Flush()
		_ = h.store.AppendLog(ctx, execution.ID, "stdout", line)
	}
}
