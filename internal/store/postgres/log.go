package postgres

import (
	"context"

	"github.com/google/uuid"

	"fastlane/internal/store"
)

// AppendLog records one chunk of an Execution's live output, independent of
// the terminal stdout/stderr tail stored on the Execution row.
func (s *Store) AppendLog(ctx context.Context, executionID uuid.UUID, stream, content string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_logs (execution_id, stream, content) VALUES ($1, $2, $3)
	`, executionID, stream, content)
	return err
}

func (s *Store) GetLogs(ctx context.Context, executionID uuid.UUID, afterID int64, limit int) ([]store.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, execution_id, stream, content, created_at
		FROM execution_logs
		WHERE execution_id = $1 AND id > $2
		ORDER BY id ASC
		LIMIT $3
	`, executionID, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []store.LogEntry
	for rows.Next() {
		var e store.LogEntry
		if err := rows.Scan(&e.ID, &e.ExecutionID, &e.Stream, &e.Content, &e.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, e)
	}
	return logs, rows.Err()
}
