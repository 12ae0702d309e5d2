package store

import (
	"database/sql"
	"fmt"

	"github.com/solostack/kernel/internal/models"
)

// ListTasks returns every task row (deleted_at is not filtered on), used by internal/backup's
// full-store export (§4.9).
func ListTasks(db *DB) ([]models.Task, error) {
	rows, err := db.Conn().Query(`
		SELECT id, title, description, notes, project_id, priority, is_important, status, due_at, remind_at, recurrence, created_at, updated_at, updated_by_device, sync_version
		FROM tasks
	`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		var t models.Task
		var priority, status, recurrence string
		var dueAt, remindAt sql.NullTime
		if err := rows.Scan(&t.ID, &t.Title, &t.Description, &t.Notes, &t.ProjectID, &priority, &t.IsImportant, &status, &dueAt, &remindAt, &recurrence, &t.CreatedAt, &t.UpdatedAt, &t.UpdatedByDevice, &t.SyncVersion); err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
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
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// ListProjects returns every project row.
func ListProjects(db *DB) ([]models.Project, error) {
	rows, err := db.Conn().Query(`SELECT id, name, archived, created_at, updated_at, updated_by_device, sync_version FROM projects`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []models.Project
	for rows.Next() {
		var p models.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Archived, &p.CreatedAt, &p.UpdatedAt, &p.UpdatedByDevice, &p.SyncVersion); err != nil {
			return nil, fmt.Errorf("scan project row: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// ListSubtasks returns every subtask row.
func ListSubtasks(db *DB) ([]models.Subtask, error) {
	rows, err := db.Conn().Query(`SELECT id, task_id, title, done, created_at, updated_at, updated_by_device, sync_version FROM subtasks`)
	if err != nil {
		return nil, fmt.Errorf("list subtasks: %w", err)
	}
	defer rows.Close()

	var subtasks []models.Subtask
	for rows.Next() {
		var s models.Subtask
		if err := rows.Scan(&s.ID, &s.TaskID, &s.Title, &s.Done, &s.CreatedAt, &s.UpdatedAt, &s.UpdatedByDevice, &s.SyncVersion); err != nil {
			return nil, fmt.Errorf("scan subtask row: %w", err)
		}
		subtasks = append(subtasks, s)
	}
	return subtasks, rows.Err()
}

// ListTaskTemplates returns every task template row.
func ListTaskTemplates(db *DB) ([]models.TaskTemplate, error) {
	rows, err := db.Conn().Query(`SELECT id, name, title_template, priority, recurrence, created_at, updated_at, updated_by_device, sync_version FROM task_templates`)
	if err != nil {
		return nil, fmt.Errorf("list task templates: %w", err)
	}
	defer rows.Close()

	var templates []models.TaskTemplate
	for rows.Next() {
		var t models.TaskTemplate
		var priority, recurrence string
		if err := rows.Scan(&t.ID, &t.Name, &t.TitleTemplate, &priority, &recurrence, &t.CreatedAt, &t.UpdatedAt, &t.UpdatedByDevice, &t.SyncVersion); err != nil {
			return nil, fmt.Errorf("scan task template row: %w", err)
		}
		t.Priority = models.Priority(priority)
		t.Recurrence = models.Recurrence(recurrence)
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

// TruncateAllExceptDeviceIDTx deletes every row from every table except the
// device.id setting, within tx (§4.9 force restore). Callers run this in
// the same transaction as the data they restore afterward, so the
// truncate-then-replace is atomic.
func TruncateAllExceptDeviceIDTx(tx *sql.Tx) error {
	tables := []string{"conflict_events", "conflicts", "outbox", "checkpoint", "task_changelogs", "task_templates", "subtasks", "tasks", "projects"}
	for _, table := range tables {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("truncate %s: %w", table, err)
		}
	}
	if _, err := tx.Exec(`DELETE FROM settings WHERE key != ?`, SettingDeviceID); err != nil {
		return fmt.Errorf("truncate settings: %w", err)
	}
	return nil
}
