package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/video-stream/subtitler/internal/db/models"
)

const taskColumns = `t.task_id, t.file_hash, COALESCE(f.file_path, ''), COALESCE(f.file_name, ''),
	t.status, t.progress, t.message, t.output_path, t.created_at, t.updated_at`

const taskFrom = `FROM tasks t LEFT JOIN files f ON f.file_hash = t.file_hash`

// CreateTask inserts a new task row. CreatedAt and UpdatedAt are stamped here.
func (d *Database) CreateTask(ctx context.Context, t *models.Task) error {
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	return retryOnBusy(ctx, func() error {
		_, err := d.db.ExecContext(ctx, `
			INSERT INTO tasks (task_id, file_hash, status, progress, message, output_path, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.FileHash, string(t.Status), t.Progress, t.Message, t.OutputPath,
			formatTime(now), formatTime(now))
		return err
	})
}

func (d *Database) GetTask(ctx context.Context, id string) (*models.Task, error) {
	return scanTask(d.db.QueryRowContext(ctx, "SELECT "+taskColumns+" "+taskFrom+" WHERE t.task_id = ?", id))
}

// UpdateTask loads the task, lets fn mutate it and writes it back, all in one
// transaction. An error from fn aborts the update and is returned unchanged.
func (d *Database) UpdateTask(ctx context.Context, id string, fn func(*models.Task) error) (*models.Task, error) {
	var updated *models.Task
	err := d.withTx(ctx, func(tx *sql.Tx) error {
		t, err := scanTask(tx.QueryRowContext(ctx, "SELECT "+taskColumns+" "+taskFrom+" WHERE t.task_id = ?", id))
		if err != nil {
			return err
		}
		if err := fn(t); err != nil {
			return err
		}
		t.UpdatedAt = time.Now().UTC()
		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks SET status = ?, progress = ?, message = ?, output_path = ?, updated_at = ?
			WHERE task_id = ?`,
			string(t.Status), t.Progress, t.Message, t.OutputPath, formatTime(t.UpdatedAt), id); err != nil {
			return err
		}
		updated = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ListTasks returns tasks newest first, optionally filtered by status.
func (d *Database) ListTasks(ctx context.Context, statuses ...models.Status) ([]models.Task, error) {
	query := "SELECT " + taskColumns + " " + taskFrom
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += " WHERE t.status IN (" + placeholders(len(statuses)) + ")"
		for _, s := range statuses {
			args = append(args, string(s))
		}
	}
	query += " ORDER BY t.created_at DESC"
	return d.queryTasks(ctx, query, args...)
}

// TasksOlderThan returns tasks created before cutoff.
func (d *Database) TasksOlderThan(ctx context.Context, cutoff time.Time) ([]models.Task, error) {
	return d.queryTasks(ctx,
		"SELECT "+taskColumns+" "+taskFrom+" WHERE t.created_at < ? ORDER BY t.created_at ASC",
		formatTime(cutoff))
}

// DeleteTasks removes the given task rows.
func (d *Database) DeleteTasks(ctx context.Context, ids ...string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	var n int64
	err := retryOnBusy(ctx, func() error {
		res, err := d.db.ExecContext(ctx, "DELETE FROM tasks WHERE task_id IN ("+placeholders(len(ids))+")", args...)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// MarkInterrupted moves every task left in processing to error with message.
// Workers do not survive a restart, so these rows can never finish.
func (d *Database) MarkInterrupted(ctx context.Context, message string) (int64, error) {
	var n int64
	err := retryOnBusy(ctx, func() error {
		res, err := d.db.ExecContext(ctx,
			"UPDATE tasks SET status = ?, message = ?, updated_at = ? WHERE status = ?",
			string(models.StatusError), message, formatTime(time.Now()), string(models.StatusProcessing))
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

func (d *Database) queryTasks(ctx context.Context, query string, args ...any) ([]models.Task, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []models.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func scanTask(scanner interface{ Scan(dest ...any) error }) (*models.Task, error) {
	var (
		t                    models.Task
		status               string
		createdAt, updatedAt string
	)
	err := scanner.Scan(&t.ID, &t.FileHash, &t.FilePath, &t.FileName,
		&status, &t.Progress, &t.Message, &t.OutputPath, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	t.Status = models.Status(status)
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return &t, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
