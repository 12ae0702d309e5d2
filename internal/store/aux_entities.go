package store

import (
	"database/sql"
	"fmt"

	"github.com/solostack/kernel/internal/models"
)

// Subtask, TaskChangelog, and TaskTemplate share the same versioning
// contract as Task/Project (§3): the kernel treats them uniformly, so their
// store-level access is grouped in one file rather than one per entity.

// GetSubtaskTx reads a subtask row within tx.
func GetSubtaskTx(tx *sql.Tx, id string) (*models.Subtask, error) {
	var s models.Subtask
	err := tx.QueryRow(`
		SELECT id, task_id, title, done, created_at, updated_at, updated_by_device, sync_version
		FROM subtasks WHERE id = ?
	`, id).Scan(&s.ID, &s.TaskID, &s.Title, &s.Done, &s.CreatedAt, &s.UpdatedAt, &s.UpdatedByDevice, &s.SyncVersion)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subtask %s: %w", id, err)
	}
	return &s, nil
}

// PutSubtaskTx inserts or replaces a subtask row within tx.
func PutSubtaskTx(tx *sql.Tx, s *models.Subtask) error {
	_, err := tx.Exec(`
		INSERT INTO subtasks (id, task_id, title, done, created_at, updated_at, updated_by_device, sync_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			task_id = excluded.task_id, title = excluded.title, done = excluded.done,
			updated_at = excluded.updated_at, updated_by_device = excluded.updated_by_device, sync_version = excluded.sync_version
	`, s.ID, s.TaskID, s.Title, s.Done, s.CreatedAt, s.UpdatedAt, s.UpdatedByDevice, s.SyncVersion)
	if err != nil {
		return fmt.Errorf("put subtask %s: %w", s.ID, err)
	}
	return nil
}

// DeleteSubtaskTx removes a subtask row within tx.
func DeleteSubtaskTx(tx *sql.Tx, id string) error {
	_, err := tx.Exec(`DELETE FROM subtasks WHERE id = ?`, id)
	return err
}

// GetTaskChangelogTx reads a task changelog row within tx.
func GetTaskChangelogTx(tx *sql.Tx, id string) (*models.TaskChangelog, error) {
	var c models.TaskChangelog
	err := tx.QueryRow(`
		SELECT id, task_id, message, created_at, updated_at, updated_by_device, sync_version
		FROM task_changelogs WHERE id = ?
	`, id).Scan(&c.ID, &c.TaskID, &c.Message, &c.CreatedAt, &c.UpdatedAt, &c.UpdatedByDevice, &c.SyncVersion)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task changelog %s: %w", id, err)
	}
	return &c, nil
}

// PutTaskChangelogTx inserts or replaces a task changelog row within tx.
func PutTaskChangelogTx(tx *sql.Tx, c *models.TaskChangelog) error {
	_, err := tx.Exec(`
		INSERT INTO task_changelogs (id, task_id, message, created_at, updated_at, updated_by_device, sync_version)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			task_id = excluded.task_id, message = excluded.message, updated_at = excluded.updated_at,
			updated_by_device = excluded.updated_by_device, sync_version = excluded.sync_version
	`, c.ID, c.TaskID, c.Message, c.CreatedAt, c.UpdatedAt, c.UpdatedByDevice, c.SyncVersion)
	if err != nil {
		return fmt.Errorf("put task changelog %s: %w", c.ID, err)
	}
	return nil
}

// DeleteTaskChangelogTx removes a task changelog row within tx.
func DeleteTaskChangelogTx(tx *sql.Tx, id string) error {
	_, err := tx.Exec(`DELETE FROM task_changelogs WHERE id = ?`, id)
	return err
}

// GetTaskTemplateTx reads a task template row within tx.
func GetTaskTemplateTx(tx *sql.Tx, id string) (*models.TaskTemplate, error) {
	var t models.TaskTemplate
	var priority, recurrence string
	err := tx.QueryRow(`
		SELECT id, name, title_template, priority, recurrence, created_at, updated_at, updated_by_device, sync_version
		FROM task_templates WHERE id = ?
	`, id).Scan(&t.ID, &t.Name, &t.TitleTemplate, &priority, &recurrence, &t.CreatedAt, &t.UpdatedAt, &t.UpdatedByDevice, &t.SyncVersion)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task template %s: %w", id, err)
	}
	t.Priority = models.Priority(priority)
	t.Recurrence = models.Recurrence(recurrence)
	return &t, nil
}

// PutTaskTemplateTx inserts or replaces a task template row within tx.
func PutTaskTemplateTx(tx *sql.Tx, t *models.TaskTemplate) error {
	_, err := tx.Exec(`
		INSERT INTO task_templates (id, name, title_template, priority, recurrence, created_at, updated_at, updated_by_device, sync_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, title_template = excluded.title_template, priority = excluded.priority,
			recurrence = excluded.recurrence, updated_at = excluded.updated_at,
			updated_by_device = excluded.updated_by_device, sync_version = excluded.sync_version
	`, t.ID, t.Name, t.TitleTemplate, string(t.Priority), string(t.Recurrence), t.CreatedAt, t.UpdatedAt, t.UpdatedByDevice, t.SyncVersion)
	if err != nil {
		return fmt.Errorf("put task template %s: %w", t.ID, err)
	}
	return nil
}

// DeleteTaskTemplateTx removes a task template row within tx.
func DeleteTaskTemplateTx(tx *sql.Tx, id string) error {
	_, err := tx.Exec(`DELETE FROM task_templates WHERE id = ?`, id)
	return err
}
