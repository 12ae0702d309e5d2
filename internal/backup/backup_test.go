package backup

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/solostack/kernel/internal/applier"
	"github.com/solostack/kernel/internal/conflict"
	"github.com/solostack/kernel/internal/models"
	"github.com/solostack/kernel/internal/mutation"
	"github.com/solostack/kernel/internal/resolution"
	"github.com/solostack/kernel/internal/store"
)

func openTestDB(t *testing.T) *store.DB {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Initialize(dir)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedOneTask(t *testing.T, db *store.DB) {
	t.Helper()
	api, err := mutation.New(db)
	if err != nil {
		t.Fatalf("mutation.New: %v", err)
	}
	task := &models.Task{
		ID:         "t1",
		Title:      "write release notes",
		Priority:   models.PriorityNormal,
		Status:     models.StatusTodo,
		Recurrence: models.RecurrenceNone,
	}
	if err := api.UpsertTask(task); err != nil {
		t.Fatalf("UpsertTask: %v", err)
	}
}

func TestExportThenRestoreYieldsSamePayload(t *testing.T) {
	db := openTestDB(t)
	seedOneTask(t, db)

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	b1, err := Export(db, at)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(b1.Data.Tasks) != 1 {
		t.Fatalf("expected 1 task in export, got %d", len(b1.Data.Tasks))
	}

	if err := Restore(db, b1, true); err != nil {
		t.Fatalf("Restore(force=true): %v", err)
	}

	b2, err := Export(db, at.Add(time.Hour))
	if err != nil {
		t.Fatalf("second Export: %v", err)
	}

	b1.ExportedAt = time.Time{}
	b2.ExportedAt = time.Time{}
	buf1, _ := json.Marshal(b1)
	buf2, _ := json.Marshal(b2)
	if string(buf1) != string(buf2) {
		t.Fatalf("export->restore->export mismatch:\nbefore: %s\nafter:  %s", buf1, buf2)
	}
}

// seedOneConflictWithEvents creates a conflict via the same missing-title
// path applier_test.go uses, then resolves it keep_local, leaving a
// [detected, resolved] event history for the round-trip test to export.
func seedOneConflictWithEvents(t *testing.T, db *store.DB) string {
	t.Helper()
	badTask := models.Task{ID: "t2", Priority: models.PriorityNormal, Status: models.StatusTodo, Recurrence: models.RecurrenceNone}
	body, err := json.Marshal(badTask)
	if err != nil {
		t.Fatalf("marshal task: %v", err)
	}
	change := applier.IncomingChange{
		EntityType:      models.EntityTask,
		EntityID:        "t2",
		Operation:       models.OperationUpsert,
		UpdatedAt:       time.Now(),
		UpdatedByDevice: "device-remote",
		SyncVersion:     1,
		Payload:         body,
		IdempotencyKey:  "idem-backup-conflict",
	}
	a := applier.New(db)
	result, err := a.Apply(change)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if result != applier.ResultConflict {
		t.Fatalf("expected the missing title to conflict, got %v", result)
	}

	open, err := conflict.ListByStatus(db, conflict.StatusOpen)
	if err != nil {
		t.Fatalf("ListByStatus(open): %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("expected one open conflict, got %d", len(open))
	}
	conflictID := open[0].ID

	engine := resolution.New(db)
	if err := engine.Resolve(resolution.Input{ConflictID: conflictID, Strategy: conflict.StrategyKeepLocal, ResolvedByDevice: "device-local"}); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	return conflictID
}

// TestExportThenRestoreYieldsSamePayloadWithConflictHistory exercises the
// §4.9 round-trip law against a store that actually has conflict/event rows,
// which is the case that previously let restored event ids drift from their
// exported ones (conflict_events.id is AUTOINCREMENT and Restore went through
// the normal append path instead of preserving ids).
func TestExportThenRestoreYieldsSamePayloadWithConflictHistory(t *testing.T) {
	db := openTestDB(t)
	seedOneTask(t, db)
	seedOneConflictWithEvents(t, db)

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	b1, err := Export(db, at)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(b1.Data.Events) != 2 {
		t.Fatalf("expected 2 events (detected, resolved) in export, got %d", len(b1.Data.Events))
	}

	if err := Restore(db, b1, true); err != nil {
		t.Fatalf("Restore(force=true): %v", err)
	}

	b2, err := Export(db, at.Add(time.Hour))
	if err != nil {
		t.Fatalf("second Export: %v", err)
	}

	b1.ExportedAt = time.Time{}
	b2.ExportedAt = time.Time{}
	buf1, _ := json.Marshal(b1)
	buf2, _ := json.Marshal(b2)
	if string(buf1) != string(buf2) {
		t.Fatalf("export->restore->export mismatch with conflict history:\nbefore: %s\nafter:  %s", buf1, buf2)
	}
}

func TestRestoreWithoutForceRefusedOnPendingOutbox(t *testing.T) {
	db := openTestDB(t)
	seedOneTask(t, db)

	b, err := Export(db, time.Now().UTC())
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	if err := Restore(db, b, false); err == nil {
		t.Fatal("expected Restore without force to be refused with pending outbox rows")
	}
}

func TestPreflightReportsLatestBackupFile(t *testing.T) {
	db := openTestDB(t)
	seedOneTask(t, db)

	dir := t.TempDir()
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	b, err := Export(db, at)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if _, err := WriteFile(b, dir); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	result, err := Preflight(db, dir)
	if err != nil {
		t.Fatalf("Preflight: %v", err)
	}
	if !result.HasLatestBackup {
		t.Fatal("expected HasLatestBackup=true")
	}
	if result.LatestBackupExportedAt == nil || !result.LatestBackupExportedAt.Equal(at) {
		t.Fatalf("expected latest backup exported_at %v, got %v", at, result.LatestBackupExportedAt)
	}
	if result.LatestBackupSummary == nil || result.LatestBackupSummary.TaskCount != 1 {
		t.Fatalf("expected summary task_count=1, got %+v", result.LatestBackupSummary)
	}
	if !result.RequiresForceRestore {
		t.Fatal("expected RequiresForceRestore=true with a pending outbox row")
	}
}

func TestPreflightNoBackupDir(t *testing.T) {
	db := openTestDB(t)

	result, err := Preflight(db, filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatalf("Preflight: %v", err)
	}
	if result.HasLatestBackup {
		t.Fatal("expected HasLatestBackup=false when no backup directory exists")
	}
	if result.RequiresForceRestore {
		t.Fatal("expected RequiresForceRestore=false on a clean store")
	}
}

func TestFileNameSanitizesTimestamp(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	name := FileName(at)
	if filepath.Ext(name) != ".json" {
		t.Fatalf("expected .json extension, got %q", name)
	}
	if strings.Contains(name, ":") {
		t.Fatalf("expected no ':' in sanitized filename %q", name)
	}
}

func TestConflictReportWritesOnlyOpenConflicts(t *testing.T) {
	db := openTestDB(t)
	seedOneConflictWithEvents(t, db)
	dir := t.TempDir()

	path, err := ExportConflictReport(db, dir, time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC))
	if err != nil {
		t.Fatalf("ExportConflictReport: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Fatalf("expected report written under %q, got %q", dir, path)
	}

	buf, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var report ConflictReport
	if err := json.Unmarshal(buf, &report); err != nil {
		t.Fatalf("parse report: %v", err)
	}
	if len(report.Conflicts) != 0 {
		t.Fatalf("expected the resolved conflict to be left out of the report, got %d conflicts", len(report.Conflicts))
	}
}
