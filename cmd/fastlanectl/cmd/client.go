package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"fastlane/pkg/api"
)

// Client handles API calls to the fastlane controller.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewClient creates a new client with the given base URL and token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

func (c *Client) do(method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// CreateJob sends POST /tasks/{task_id}/.
func (c *Client) CreateJob(taskID string, req api.CreateJobRequest) (*api.CreateJobResponse, error) {
	var result api.CreateJobResponse
	if err := c.do(http.MethodPost, fmt.Sprintf("/tasks/%s/", taskID), req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetJob sends GET /tasks/{task_id}/jobs/{job_id}.
func (c *Client) GetJob(taskID, jobID string) (*api.JobResponse, error) {
	var result api.JobResponse
	if err := c.do(http.MethodGet, fmt.Sprintf("/tasks/%s/jobs/%s", taskID, jobID), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListJobs sends GET /tasks/{task_id}/jobs.
func (c *Client) ListJobs(taskID string) ([]api.JobResponse, error) {
	var result []api.JobResponse
	if err := c.do(http.MethodGet, fmt.Sprintf("/tasks/%s/jobs", taskID), nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// ListTasks sends GET /tasks.
func (c *Client) ListTasks() (*api.ListTasksResponse, error) {
	var result api.ListTasksResponse
	if err := c.do(http.MethodGet, "/tasks", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// StopJob sends POST /tasks/{task_id}/jobs/{job_id}/stop.
func (c *Client) StopJob(taskID, jobID string) error {
	return c.do(http.MethodPost, fmt.Sprintf("/tasks/%s/jobs/%s/stop", taskID, jobID), nil, nil)
}

// RetryJob sends POST /tasks/{task_id}/jobs/{job_id}/retry.
func (c *Client) RetryJob(taskID, jobID string) error {
	return c.do(http.MethodPost, fmt.Sprintf("/tasks/%s/jobs/%s/retry", taskID, jobID), nil, nil)
}

// GetLogs sends GET /tasks/{task_id}/jobs/{job_id}/logs.
func (c *Client) GetLogs(taskID, jobID string, afterID int64) ([]api.LogEntry, error) {
	var result api.GetLogsResponse
	path := fmt.Sprintf("/tasks/%s/jobs/%s/logs?after_id=%d", taskID, jobID, afterID)
	if err := c.do(http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result.Logs, nil
}

// StreamLogs sends GET /tasks/{task_id}/jobs/{job_id}/stream and returns the
// open chunked response body for the caller to read incrementally.
func (c *Client) StreamLogs(taskID, jobID string) (io.ReadCloser, error) {
	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("%s/tasks/%s/jobs/%s/stream", c.BaseURL, taskID, jobID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)

	// The stream response stays open as long as the job runs, so it needs a
	// client with no fixed timeout, unlike every other request this Client
	// makes.
	streamClient := &http.Client{}
	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &APIError{StatusCode: resp.StatusCode, Message: string(body)}
	}
	return resp.Body, nil
}
