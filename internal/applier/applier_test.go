package applier

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/solostack/kernel/internal/conflict"
	"github.com/solostack/kernel/internal/models"
	"github.com/solostack/kernel/internal/mutation"
	"github.com/solostack/kernel/internal/resolution"
	"github.com/solostack/kernel/internal/store"
)

func openTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Initialize(t.TempDir())
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func getTaskForTest(t *testing.T, db *store.DB, id string) *models.Task {
	t.Helper()
	tx, err := db.Conn().Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer tx.Rollback()
	task, err := store.GetTaskTx(tx, id)
	if err != nil {
		t.Fatalf("GetTaskTx: %v", err)
	}
	return task
}

func taskChange(t *testing.T, id string, task models.Task, updatedBy string, syncVersion int64, updatedAt time.Time, idemKey string) IncomingChange {
	t.Helper()
	body, err := json.Marshal(task)
	if err != nil {
		t.Fatalf("marshal task: %v", err)
	}
	return IncomingChange{
		EntityType:      models.EntityTask,
		EntityID:        id,
		Operation:       models.OperationUpsert,
		UpdatedAt:       updatedAt,
		UpdatedByDevice: updatedBy,
		SyncVersion:     syncVersion,
		Payload:         body,
		IdempotencyKey:  idemKey,
	}
}

func TestApplyNewTaskApplied(t *testing.T) {
	db := openTestDB(t)
	a := New(db)

	c := taskChange(t, "t1", models.Task{ID: "t1", Title: "write docs", Priority: models.PriorityNormal, Status: models.StatusTodo, Recurrence: models.RecurrenceNone}, "device-b", 1, time.Now(), "idem-1")
	result, err := a.Apply(c)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if result != ResultApplied {
		t.Fatalf("expected applied, got %v", result)
	}
}

func TestApplyMissingTitleRecordsFieldConflict(t *testing.T) {
	db := openTestDB(t)
	a := New(db)

	c := taskChange(t, "t1", models.Task{ID: "t1", Priority: models.PriorityNormal, Status: models.StatusTodo, Recurrence: models.RecurrenceNone}, "device-b", 1, time.Now(), "idem-1")
	result, err := a.Apply(c)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if result != ResultConflict {
		t.Fatalf("expected conflict, got %v", result)
	}

	records, err := conflict.ListByStatus(db, conflict.StatusOpen)
	if err != nil {
		t.Fatalf("ListByStatus: %v", err)
	}
	if len(records) != 1 || records[0].ConflictType != conflict.TypeFieldConflict {
		t.Fatalf("expected one field_conflict record, got %+v", records)
	}
}

func TestApplyUnknownProjectRecordsDeleteVsUpdateConflict(t *testing.T) {
	db := openTestDB(t)
	a := New(db)

	c := taskChange(t, "t1", models.Task{ID: "t1", Title: "write docs", ProjectID: "no-such-project", Priority: models.PriorityNormal, Status: models.StatusTodo, Recurrence: models.RecurrenceNone}, "device-b", 1, time.Now(), "idem-1")
	result, err := a.Apply(c)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if result != ResultConflict {
		t.Fatalf("expected conflict, got %v", result)
	}

	records, err := conflict.ListByStatus(db, conflict.StatusOpen)
	if err != nil {
		t.Fatalf("ListByStatus: %v", err)
	}
	if len(records) != 1 || records[0].ConflictType != conflict.TypeDeleteVsUpdate {
		t.Fatalf("expected one delete_vs_update record, got %+v", records)
	}
}

func TestApplyReplayOfOpenConflictSkipsAndAppendsRetriedEvent(t *testing.T) {
	db := openTestDB(t)
	a := New(db)

	c := taskChange(t, "t1", models.Task{ID: "t1", Priority: models.PriorityNormal, Status: models.StatusTodo, Recurrence: models.RecurrenceNone}, "device-b", 1, time.Now(), "idem-1")
	if _, err := a.Apply(c); err != nil {
		t.Fatalf("first Apply: %v", err)
	}

	result, err := a.Apply(c)
	if err != nil {
		t.Fatalf("replay Apply: %v", err)
	}
	if result != ResultSkipped {
		t.Fatalf("expected skipped on replay of an open conflict, got %v", result)
	}

	records, err := conflict.ListByStatus(db, conflict.StatusOpen)
	if err != nil {
		t.Fatalf("ListByStatus: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected replay not to open a second conflict record, got %d", len(records))
	}

	events, err := conflict.ListEvents(db, records[0].ID)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 2 || events[1].EventType != conflict.EventRetried {
		t.Fatalf("expected [detected, retried] events, got %+v", events)
	}
}

func TestApplyNotesCollisionRecordsConflict(t *testing.T) {
	db := openTestDB(t)
	api, err := mutation.New(db)
	if err != nil {
		t.Fatalf("mutation.New: %v", err)
	}
	local := &models.Task{ID: "t1", Title: "write docs", Notes: "local notes", Priority: models.PriorityNormal, Status: models.StatusTodo, Recurrence: models.RecurrenceNone}
	if err := api.UpsertTask(local); err != nil {
		t.Fatalf("UpsertTask: %v", err)
	}

	a := New(db)
	incoming := models.Task{ID: "t1", Title: "write docs", Notes: "remote notes", Priority: models.PriorityNormal, Status: models.StatusTodo, Recurrence: models.RecurrenceNone}
	c := taskChange(t, "t1", incoming, "device-b", local.SyncVersion, local.UpdatedAt, "idem-notes")
	result, err := a.Apply(c)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if result != ResultConflict {
		t.Fatalf("expected conflict on diverging concurrent notes edit, got %v", result)
	}

	records, err := conflict.ListByStatus(db, conflict.StatusOpen)
	if err != nil {
		t.Fatalf("ListByStatus: %v", err)
	}
	if len(records) != 1 || records[0].ConflictType != conflict.TypeNotesCollision {
		t.Fatalf("expected one notes_collision record, got %+v", records)
	}
}

// TestApplyReplayAfterKeepLocalResolutionSkipsEvenWithEntityAbsent is the
// literal §8 scenario: a missing-title change never creates the entity, the
// conflict is resolved keep_local (which never touches the entity), and
// replaying the identical change must return skipped, not a second conflict.
func TestApplyReplayAfterKeepLocalResolutionSkipsEvenWithEntityAbsent(t *testing.T) {
	db := openTestDB(t)
	a := New(db)

	c := taskChange(t, "t1", models.Task{ID: "t1", Priority: models.PriorityNormal, Status: models.StatusTodo, Recurrence: models.RecurrenceNone}, "device-b", 1, time.Now(), "idem-missing-title")
	result, err := a.Apply(c)
	if err != nil {
		t.Fatalf("first Apply: %v", err)
	}
	if result != ResultConflict {
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
	if err := engine.Resolve(resolution.Input{ConflictID: conflictID, Strategy: conflict.StrategyKeepLocal, ResolvedByDevice: "device-a"}); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if task := getTaskForTest(t, db, "t1"); task != nil {
		t.Fatalf("expected keep_local to leave the entity absent, got %+v", task)
	}

	result, err = a.Apply(c)
	if err != nil {
		t.Fatalf("replay Apply: %v", err)
	}
	if result != ResultSkipped {
		t.Fatalf("expected the replay after keep_local to be skipped, got %v", result)
	}

	records, err := conflict.ListByStatus(db, conflict.StatusResolved)
	if err != nil {
		t.Fatalf("ListByStatus(resolved): %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected the replay not to open a second conflict record, got %d resolved records", len(records))
	}

	events, err := conflict.ListEvents(db, conflictID)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 3 || events[2].EventType != conflict.EventRetried {
		t.Fatalf("expected [detected, resolved, retried] events, got %+v", events)
	}
}

func TestApplyReplayAfterResolutionAppliesOnceProjectExists(t *testing.T) {
	db := openTestDB(t)
	a := New(db)

	c := taskChange(t, "t1", models.Task{ID: "t1", Title: "write docs", ProjectID: "missing-project", Priority: models.PriorityNormal, Status: models.StatusTodo, Recurrence: models.RecurrenceNone}, "device-b", 1, time.Now(), "idem-dvu-1")
	result, err := a.Apply(c)
	if err != nil {
		t.Fatalf("first Apply: %v", err)
	}
	if result != ResultConflict {
		t.Fatalf("expected the unknown project to conflict, got %v", result)
	}

	open, err := conflict.ListByStatus(db, conflict.StatusOpen)
	if err != nil {
		t.Fatalf("ListByStatus(open): %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("expected one open conflict, got %d", len(open))
	}
	conflictID := open[0].ID

	// Resolve with retry: no entity write now, next clean replay applies.
	engine := resolution.New(db)
	if err := engine.Resolve(resolution.Input{ConflictID: conflictID, Strategy: conflict.StrategyRetry, ResolvedByDevice: "device-a"}); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	// The missing project now exists locally.
	api, err := mutation.New(db)
	if err != nil {
		t.Fatalf("mutation.New: %v", err)
	}
	if err := api.UpsertProject(&models.Project{ID: "missing-project", Name: "now exists"}); err != nil {
		t.Fatalf("UpsertProject: %v", err)
	}

	// Replay the identical incoming change: it should now apply cleanly.
	result, err = a.Apply(c)
	if err != nil {
		t.Fatalf("replay Apply: %v", err)
	}
	if result != ResultApplied {
		t.Fatalf("expected the replay to apply once its referenced project exists, got %v", result)
	}

	task := getTaskForTest(t, db, "t1")
	if task == nil {
		t.Fatal("expected task t1 to exist after the replay applied")
	}

	resolved, err := conflict.Get(db, conflictID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if resolved.Status != conflict.StatusResolved {
		t.Fatalf("expected the conflict to remain resolved, got %v", resolved.Status)
	}
}

func TestApplyOlderVersionSkipped(t *testing.T) {
	db := openTestDB(t)
	api, err := mutation.New(db)
	if err != nil {
		t.Fatalf("mutation.New: %v", err)
	}
	local := &models.Task{ID: "t1", Title: "write docs v2", Priority: models.PriorityNormal, Status: models.StatusTodo, Recurrence: models.RecurrenceNone}
	if err := api.UpsertTask(local); err != nil {
		t.Fatalf("first UpsertTask: %v", err)
	}
	local.Title = "write docs v2 edited"
	if err := api.UpsertTask(local); err != nil {
		t.Fatalf("second UpsertTask: %v", err)
	}

	a := New(db)
	stale := models.Task{ID: "t1", Title: "write docs v1", Priority: models.PriorityNormal, Status: models.StatusTodo, Recurrence: models.RecurrenceNone}
	c := taskChange(t, "t1", stale, "device-b", 1, time.Now(), "idem-stale")
	result, err := a.Apply(c)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if result != ResultSkipped {
		t.Fatalf("expected skipped for a sync_version older than the local row, got %v", result)
	}
}
