// Package backup implements C10: full-store export, destructive-restore
// preflight, and restore itself (§4.9). It is grounded on the teacher's
// admin-snapshot export idiom (internal/api/admin_snapshots.go) — a
// directory of timestamped artifacts, the newest one found by filename scan
// — re-expressed against the abstract internal/store API rather than the
// teacher's HTTP admin surface, which is out of scope here (§1).
package backup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/solostack/kernel/internal/conflict"
	"github.com/solostack/kernel/internal/models"
	"github.com/solostack/kernel/internal/outbox"
	"github.com/solostack/kernel/internal/store"
)

// FormatVersion identifies the backup JSON document's shape.
const FormatVersion = 1

// Data is the exported store content (§4.9): tasks, projects, templates and
// subtasks plus settings (safe keys only — device.id never leaves the
// device) and the full conflict/event history. Task changelog rows are not
// exported.
type Data struct {
	Tasks     []models.Task         `json:"tasks"`
	Projects  []models.Project      `json:"projects"`
	Templates []models.TaskTemplate `json:"templates"`
	Subtasks  []models.Subtask      `json:"subtasks"`
	Settings  map[string]string     `json:"settings"`
	Conflicts []conflict.Record     `json:"conflicts"`
	Events    []conflict.Event      `json:"events"`
}

// Backup is the full export document (§4.9, §6 "backup file format").
type Backup struct {
	Version    int       `json:"version"`
	ExportedAt time.Time `json:"exported_at"`
	Data       Data      `json:"data"`
}

// Summary is the lightweight header read back during preflight without
// parsing an entire backup file's entity rows.
type Summary struct {
	TaskCount     int `json:"task_count"`
	ProjectCount  int `json:"project_count"`
	TemplateCount int `json:"template_count"`
	SubtaskCount  int `json:"subtask_count"`
	ConflictCount int `json:"conflict_count"`
}

// Export builds a full backup document from the live store (§4.9
// export_backup). at is the caller-supplied export timestamp; Export does
// not read the clock itself, so a fixed at gives a reproducible document.
func Export(db *store.DB, at time.Time) (Backup, error) {
	var b Backup
	b.Version = FormatVersion
	b.ExportedAt = at

	tasks, err := store.ListTasks(db)
	if err != nil {
		return b, fmt.Errorf("export tasks: %w", err)
	}
	projects, err := store.ListProjects(db)
	if err != nil {
		return b, fmt.Errorf("export projects: %w", err)
	}
	templates, err := store.ListTaskTemplates(db)
	if err != nil {
		return b, fmt.Errorf("export templates: %w", err)
	}
	subtasks, err := store.ListSubtasks(db)
	if err != nil {
		return b, fmt.Errorf("export subtasks: %w", err)
	}
	settings, err := db.AllSafeSettings()
	if err != nil {
		return b, fmt.Errorf("export settings: %w", err)
	}

	var allConflicts []conflict.Record
	var allEvents []conflict.Event
	for _, status := range []conflict.Status{conflict.StatusOpen, conflict.StatusResolved, conflict.StatusIgnored} {
		records, err := conflict.ListByStatus(db, status)
		if err != nil {
			return b, fmt.Errorf("export conflicts (%s): %w", status, err)
		}
		allConflicts = append(allConflicts, records...)
		for _, rec := range records {
			events, err := conflict.ListEvents(db, rec.ID)
			if err != nil {
				return b, fmt.Errorf("export conflict events for %s: %w", rec.ID, err)
			}
			allEvents = append(allEvents, events...)
		}
	}

	b.Data = Data{
		Tasks:     tasks,
		Projects:  projects,
		Templates: templates,
		Subtasks:  subtasks,
		Settings:  settings,
		Conflicts: allConflicts,
		Events:    allEvents,
	}
	return b, nil
}

func (b Backup) summary() Summary {
	return Summary{
		TaskCount:     len(b.Data.Tasks),
		ProjectCount:  len(b.Data.Projects),
		TemplateCount: len(b.Data.Templates),
		SubtaskCount:  len(b.Data.Subtasks),
		ConflictCount: len(b.Data.Conflicts),
	}
}

// FileName returns the §6 backup filename for exportedAt: colons and dots
// in the UTC timestamp (RFC 3339 with a fixed nine-digit fraction) are
// replaced with "-" so the name is safe on filesystems that reject ":".
func FileName(exportedAt time.Time) string {
	return "solostack-backup-" + sanitizeTimestamp(exportedAt) + ".json"
}

// ConflictReportFileName returns the §6 filename for a standalone conflict
// report (open conflicts + their event histories, for support hand-off).
func ConflictReportFileName(exportedAt time.Time) string {
	return "solostack-conflicts-" + sanitizeTimestamp(exportedAt) + ".json"
}

func sanitizeTimestamp(t time.Time) string {
	s := t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
	s = strings.ReplaceAll(s, ":", "-")
	s = strings.ReplaceAll(s, ".", "-")
	return s
}

// WriteFile marshals b as indented JSON and writes it to dir/FileName(b.ExportedAt).
func WriteFile(b Backup, dir string) (string, error) {
	path := filepath.Join(dir, FileName(b.ExportedAt))
	buf, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal backup: %w", err)
	}
	if err := os.WriteFile(path, buf, 0o600); err != nil {
		return "", fmt.Errorf("write backup file %s: %w", path, err)
	}
	return path, nil
}

// ConflictReport is the standalone export of every open conflict and its
// event history (§6), independent of a full backup.
type ConflictReport struct {
	ExportedAt time.Time         `json:"exported_at"`
	Conflicts  []conflict.Record `json:"conflicts"`
	Events     []conflict.Event  `json:"events"`
}

// ExportConflictReport builds the open-conflicts report and writes it to dir.
func ExportConflictReport(db *store.DB, dir string, at time.Time) (string, error) {
	records, err := conflict.ListByStatus(db, conflict.StatusOpen)
	if err != nil {
		return "", fmt.Errorf("list open conflicts: %w", err)
	}

	var events []conflict.Event
	for _, rec := range records {
		evs, err := conflict.ListEvents(db, rec.ID)
		if err != nil {
			return "", fmt.Errorf("list events for conflict %s: %w", rec.ID, err)
		}
		events = append(events, evs...)
	}

	report := ConflictReport{ExportedAt: at, Conflicts: records, Events: events}
	path := filepath.Join(dir, ConflictReportFileName(at))
	buf, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal conflict report: %w", err)
	}
	if err := os.WriteFile(path, buf, 0o600); err != nil {
		return "", fmt.Errorf("write conflict report %s: %w", path, err)
	}
	return path, nil
}

// findLatestBackupFile scans dir for "solostack-backup-*.json" files and
// returns the lexically greatest name — safe because the timestamp
// component is a fixed-width UTC timestamp, which sorts lexically in time
// order.
// Grounded on admin_snapshots.go's directory-scan-for-highest-numbered-file
// idiom, adapted to sort by name instead of a numeric sequence suffix.
func findLatestBackupFile(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read backup dir %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "solostack-backup-") && strings.HasSuffix(name, ".json") {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "", nil
	}
	sort.Strings(names)
	return names[len(names)-1], nil
}

// PreflightResult is restore_preflight()'s response (§4.9).
type PreflightResult struct {
	LatestBackupExportedAt *time.Time
	LatestBackupSummary    *Summary
	PendingOutboxChanges   int64
	OpenConflicts          int64
	RequiresForceRestore   bool
	HasLatestBackup        bool
}

// Preflight computes restore_preflight() against the live store and,
// if backupDir is non-empty, the newest backup file found there.
func Preflight(db *store.DB, backupDir string) (PreflightResult, error) {
	var result PreflightResult

	pending, err := outbox.Count(db)
	if err != nil {
		return result, fmt.Errorf("count pending outbox changes: %w", err)
	}
	result.PendingOutboxChanges = pending

	open, err := conflict.ListByStatus(db, conflict.StatusOpen)
	if err != nil {
		return result, fmt.Errorf("list open conflicts: %w", err)
	}
	result.OpenConflicts = int64(len(open))
	result.RequiresForceRestore = result.PendingOutboxChanges > 0 || result.OpenConflicts > 0

	if backupDir == "" {
		return result, nil
	}

	name, err := findLatestBackupFile(backupDir)
	if err != nil {
		return result, err
	}
	if name == "" {
		return result, nil
	}

	buf, err := os.ReadFile(filepath.Join(backupDir, name))
	if err != nil {
		return result, fmt.Errorf("read backup file %s: %w", name, err)
	}
	var b Backup
	if err := json.Unmarshal(buf, &b); err != nil {
		return result, fmt.Errorf("parse backup file %s: %w", name, err)
	}

	result.HasLatestBackup = true
	exportedAt := b.ExportedAt
	result.LatestBackupExportedAt = &exportedAt
	summary := b.summary()
	result.LatestBackupSummary = &summary
	return result, nil
}

// restoreRefusedError is raised when Restore is called without force while
// the live store has pending outbox changes or open conflicts (§4.9, §7).
type restoreRefusedError struct {
	pendingOutboxChanges int64
	openConflicts        int64
}

func (e *restoreRefusedError) Error() string {
	return fmt.Sprintf("restore refused: %d pending outbox changes, %d open conflicts — pass force=true to override",
		e.pendingOutboxChanges, e.openConflicts)
}

// Restore replaces the live store's content with b. Without force it
// refuses whenever pending_outbox_changes > 0 or open_conflicts > 0 (§4.9);
// with force it truncates every table except device identity and writes
// b's content back atomically.
func Restore(db *store.DB, b Backup, force bool) error {
	if !force {
		pre, err := Preflight(db, "")
		if err != nil {
			return err
		}
		if pre.RequiresForceRestore {
			return &restoreRefusedError{pendingOutboxChanges: pre.PendingOutboxChanges, openConflicts: pre.OpenConflicts}
		}
	}

	return restoreDataTx(db, b.Data)
}

// restoreDataTx truncates every table except device identity and writes
// every row of d back, all within one transaction under the write lock so
// the truncate-then-replace is atomic: no concurrent writer or reader can
// observe the store between the old content disappearing and the new
// content landing.
func restoreDataTx(db *store.DB, d Data) error {
	return db.WithWriteLock(func() error {
		tx, err := db.Conn().Begin()
		if err != nil {
			return fmt.Errorf("begin restore tx: %w", err)
		}
		defer tx.Rollback()

		if err := store.TruncateAllExceptDeviceIDTx(tx); err != nil {
			return err
		}

		for i := range d.Projects {
			if err := store.PutProjectTx(tx, &d.Projects[i]); err != nil {
				return fmt.Errorf("restore project %s: %w", d.Projects[i].ID, err)
			}
		}
		for i := range d.Tasks {
			if err := store.PutTaskTx(tx, &d.Tasks[i]); err != nil {
				return fmt.Errorf("restore task %s: %w", d.Tasks[i].ID, err)
			}
		}
		for i := range d.Subtasks {
			if err := store.PutSubtaskTx(tx, &d.Subtasks[i]); err != nil {
				return fmt.Errorf("restore subtask %s: %w", d.Subtasks[i].ID, err)
			}
		}
		for i := range d.Templates {
			if err := store.PutTaskTemplateTx(tx, &d.Templates[i]); err != nil {
				return fmt.Errorf("restore task template %s: %w", d.Templates[i].ID, err)
			}
		}
		for key, value := range d.Settings {
			if err := store.SetSettingTx(tx, key, value); err != nil {
				return fmt.Errorf("restore setting %s: %w", key, err)
			}
		}
		for _, rec := range d.Conflicts {
			if err := conflict.CreateTx(tx, rec); err != nil {
				return fmt.Errorf("restore conflict %s: %w", rec.ID, err)
			}
		}
		for _, ev := range d.Events {
			// Preserve the exported id rather than going through
			// AppendEventTx's autoincrement, so a subsequent export is
			// byte-equal to the one that produced d (§4.9 round-trip law).
			if err := conflict.RestoreEventTx(tx, ev); err != nil {
				return fmt.Errorf("restore conflict event for %s: %w", ev.ConflictID, err)
			}
		}

		return tx.Commit()
	})
}
