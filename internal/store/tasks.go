package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/solostack/kernel/internal/models"
)

// GetTaskTx reads a task row within tx. Returns (nil, nil) if absent.
func GetTaskTx(tx *sql.Tx, id string) (*models.Task, error) {
	var t models.Task
	var priority, status, recurrence string
	var dueAt, remindAt sql.NullTime

	err := tx.QueryRow(`
		SELECT id, title, description, notes, project_id, priority, is_important, status, due_at, remind_at, recurrence, created_at, updated_at, updated_by_device, sync_version
		FROM tasks WHERE id = ?
	`, id).Scan(&t.ID, &t.Title, &t.Description, &t.Notes, &t.ProjectID, &priority, &t.IsImportant, &status, &dueAt, &remindAt, &recurrence, &t.CreatedAt, &t.UpdatedAt, &t.UpdatedByDevice, &t.SyncVersion)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	t.Priority = models.Priority(priority)
	t.Status = models.Status(status)
	t.Recurrence = models.Recurrence(recurrence)
	if dueAt.Valid {
		t.DueAt = &dueAt.Time
	}
	if remindAt.Valid {
		t.RemindAt = &remindAt.Time
	}
	return &t, nil
}

// PutTaskTx inserts or replaces a task row within tx, writing exactly the
// fields passed (the post-state snapshot).
func PutTaskTx(tx *sql.Tx, t *models.Task) error {
	_, err := tx.Exec(`
		INSERT INTO tasks (id, title, description, notes, project_id, priority, is_important, status, due_at, remind_at, recurrence, created_at, updated_at, updated_by_device, sync_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title, description = excluded.description, notes = excluded.notes,
			project_id = excluded.project_id, priority = excluded.priority, is_important = excluded.is_important,
			status = excluded.status, due_at = excluded.due_at, remind_at = excluded.remind_at,
			recurrence = excluded.recurrence, updated_at = excluded.updated_at,
			updated_by_device = excluded.updated_by_device, sync_version = excluded.sync_version
	`, t.ID, t.Title, t.Description, t.Notes, t.ProjectID, string(t.Priority), t.IsImportant, string(t.Status),
		nullTime(t.DueAt), nullTime(t.RemindAt), string(t.Recurrence), t.CreatedAt, t.UpdatedAt, t.UpdatedByDevice, t.SyncVersion)
	if err != nil {
		return fmt.Errorf("put task %s: %w", t.ID, err)
	}
	return nil
}

// DeleteTaskTx removes a task row within tx.
func DeleteTaskTx(tx *sql.Tx, id string) error {
	_, err := tx.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
