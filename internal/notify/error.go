package notify

import (
	"context"
	"log/slog"
)

// ErrorNotifier logs an Event at error level rather than delivering it
// externally. cmd/worker does not build one: the Worker loop logs handler
// failures itself and passes them to its configured Notifier as a
// "handler_error" Event.
type ErrorNotifier struct {
	log *slog.Logger
}

// NewErrorNotifier builds an ErrorNotifier.
func NewErrorNotifier(log *slog.Logger) *ErrorNotifier {
	return &ErrorNotifier{log: log}
}

func (n *ErrorNotifier) Notify(ctx context.Context, event Event) error {
	n.log.Error("handler error",
		"job_id", event.JobID,
		"task_id", event.TaskID,
		"status", event.Status,
		"message", event.Message,
	)
	return nil
}
