package postgres

import (
	"context"
	"database/sql"
	"errors"

	"fastlane/internal/store"
)

// EnsureTask inserts the Task row if it does not already exist. It is called
// implicitly whenever a Job references a TaskID for the first time.
func (s *Store) EnsureTask(ctx context.Context, tx store.DBTransaction, taskID string) error {
	executor := s.getExecutor(tx)
	_, err := executor.ExecContext(ctx, `
		INSERT INTO tasks (id) VALUES ($1)
		ON CONFLICT (id) DO NOTHING
	`, taskID)
	return err
}

func (s *Store) GetTaskByID(ctx context.Context, id string) (*store.Task, error) {
	query := `SELECT id, created_at, last_modified_at FROM tasks WHERE id = $1`

	var t store.Task
	err := s.db.QueryRowContext(ctx, query, id).Scan(&t.ID, &t.CreatedAt, &t.LastModifiedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

func (s *Store) ListTasks(ctx context.Context) ([]store.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, created_at, last_modified_at FROM tasks ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []store.Task
	for rows.Next() {
		var t store.Task
		if err := rows.Scan(&t.ID, &t.CreatedAt, &t.LastModifiedAt); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
