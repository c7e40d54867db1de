package handlers

import (
	"net/http"

	"fastlane/pkg/api"
)

// ListTasks handles GET /tasks.
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tasks, err := h.store.ListTasks(ctx)
	if err != nil {
		h.httpError(w, "Failed to list tasks", http.StatusInternalServerError)
		return
	}

	resp := api.ListTasksResponse{}
	for _, t := range tasks {
		resp.Tasks = append(resp.Tasks, api.TaskResponse{
			TaskID:         t.ID,
			CreatedAt:      t.CreatedAt,
			LastModifiedAt: t.LastModifiedAt,
		})
	}
	h.respondJson(w, http.StatusOK, resp)
}

// GetTask handles GET /tasks/{task_id}.
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	taskID := r.PathValue("task_id")
	task, err := h.store.GetTaskByID(ctx, taskID)
	if err != nil {
		h.httpError(w, "Failed to read task", http.StatusInternalServerError)
		return
	}
	if task == nil {
		h.httpError(w, "Task not found", http.StatusNotFound)
		return
	}

	h.respondJson(w, http.StatusOK, api.TaskResponse{
		TaskID:         task.ID,
		CreatedAt:      task.CreatedAt,
		LastModifiedAt: task.LastModifiedAt,
	})
}
