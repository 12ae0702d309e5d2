package store

import (
	"database/sql"
	"fmt"

	"github.com/solostack/kernel/internal/models"
)

// GetProjectTx reads a project row within tx. Returns (nil, nil) if absent.
func GetProjectTx(tx *sql.Tx, id string) (*models.Project, error) {
	var p models.Project
	err := tx.QueryRow(`
		SELECT id, name, archived, created_at, updated_at, updated_by_device, sync_version
		FROM projects WHERE id = ?
	`, id).Scan(&p.ID, &p.Name, &p.Archived, &p.CreatedAt, &p.UpdatedAt, &p.UpdatedByDevice, &p.SyncVersion)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project %s: %w", id, err)
	}
	return &p, nil
}

// ProjectExistsTx reports whether a project row exists within tx (used by
// Task validation's project_id invariant, §3).
func ProjectExistsTx(tx *sql.Tx, id string) (bool, error) {
	var n int
	err := tx.QueryRow(`SELECT COUNT(*) FROM projects WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check project exists %s: %w", id, err)
	}
	return n > 0, nil
}

// PutProjectTx inserts or replaces a project row within tx.
func PutProjectTx(tx *sql.Tx, p *models.Project) error {
	_, err := tx.Exec(`
		INSERT INTO projects (id, name, archived, created_at, updated_at, updated_by_device, sync_version)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, archived = excluded.archived, updated_at = excluded.updated_at,
			updated_by_device = excluded.updated_by_device, sync_version = excluded.sync_version
	`, p.ID, p.Name, p.Archived, p.CreatedAt, p.UpdatedAt, p.UpdatedByDevice, p.SyncVersion)
	if err != nil {
		return fmt.Errorf("put project %s: %w", p.ID, err)
	}
	return nil
}

// DeleteProjectTx removes a project row within tx.
func DeleteProjectTx(tx *sql.Tx, id string) error {
	_, err := tx.Exec(`DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete project %s: %w", id, err)
	}
	return nil
}
