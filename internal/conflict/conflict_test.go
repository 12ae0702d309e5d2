package conflict

import (
	"database/sql"
	"testing"
	"time"

	"github.com/solostack/kernel/internal/models"
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

func withTx(t *testing.T, db *store.DB, fn func(tx *sql.Tx) error) {
	t.Helper()
	tx, err := db.Conn().Begin()
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		t.Fatalf("tx body: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func newRecord(id string) Record {
	return Record{
		ID:                     id,
		EntityType:             models.EntityTask,
		EntityID:               "t1",
		ConflictType:           TypeFieldConflict,
		ReasonCode:             "FIELD_CONFLICT",
		Message:                "both sides changed title",
		IncomingIdempotencyKey: "idem-" + id,
		Status:                 StatusOpen,
		DetectedAt:             time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestCreateAndGetRoundTrip(t *testing.T) {
	db := openTestDB(t)
	rec := newRecord("c1")

	withTx(t, db, func(tx *sql.Tx) error { return CreateTx(tx, rec) })

	got, err := Get(db, "c1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("expected record, got nil")
	}
	if got.Status != StatusOpen || got.ConflictType != TypeFieldConflict {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestGetByIdempotencyKeyReturnsMostRecent(t *testing.T) {
	db := openTestDB(t)
	rec1 := newRecord("c1")
	rec1.IncomingIdempotencyKey = "shared-key"
	rec1.DetectedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rec2 := newRecord("c2")
	rec2.IncomingIdempotencyKey = "shared-key"
	rec2.DetectedAt = time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	withTx(t, db, func(tx *sql.Tx) error {
		if err := CreateTx(tx, rec1); err != nil {
			return err
		}
		return CreateTx(tx, rec2)
	})

	var found *Record
	withTx(t, db, func(tx *sql.Tx) error {
		r, err := GetByIdempotencyKeyTx(tx, "shared-key")
		found = r
		return err
	})
	if found == nil || found.ID != "c2" {
		t.Fatalf("expected most recently detected record c2, got %+v", found)
	}
}

func TestUpdateTxTransitionsStatus(t *testing.T) {
	db := openTestDB(t)
	rec := newRecord("c1")
	withTx(t, db, func(tx *sql.Tx) error { return CreateTx(tx, rec) })

	resolvedAt := time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC)
	strategy := StrategyKeepLocal
	device := "device-a"
	rec.Status = StatusResolved
	rec.ResolutionStrategy = &strategy
	rec.ResolvedByDevice = &device
	rec.ResolvedAt = &resolvedAt

	withTx(t, db, func(tx *sql.Tx) error { return UpdateTx(tx, rec) })

	got, err := Get(db, "c1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusResolved {
		t.Fatalf("expected resolved status, got %v", got.Status)
	}
	if got.ResolutionStrategy == nil || *got.ResolutionStrategy != StrategyKeepLocal {
		t.Fatalf("expected resolution_strategy keep_local, got %+v", got.ResolutionStrategy)
	}
}

func TestAppendEventTxPrunesPast200(t *testing.T) {
	db := openTestDB(t)
	rec := newRecord("c1")
	withTx(t, db, func(tx *sql.Tx) error { return CreateTx(tx, rec) })

	for i := 0; i < 220; i++ {
		at := time.Date(2026, 1, 1, 0, 0, i, 0, time.UTC)
		withTx(t, db, func(tx *sql.Tx) error { return AppendEventTx(tx, "c1", EventRetried, nil, at) })
	}

	events, err := ListEvents(db, "c1")
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != maxEventsPerConflict {
		t.Fatalf("expected retention bound of %d events, got %d", maxEventsPerConflict, len(events))
	}
}

func TestListByStatusFiltersAndOrdersNewestFirst(t *testing.T) {
	db := openTestDB(t)
	open1 := newRecord("c1")
	open1.DetectedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	open2 := newRecord("c2")
	open2.DetectedAt = time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	resolved := newRecord("c3")
	resolved.Status = StatusResolved

	withTx(t, db, func(tx *sql.Tx) error {
		for _, r := range []Record{open1, open2, resolved} {
			if err := CreateTx(tx, r); err != nil {
				return err
			}
		}
		return nil
	})

	open, err := ListByStatus(db, StatusOpen)
	if err != nil {
		t.Fatalf("ListByStatus(open): %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("expected 2 open conflicts, got %d", len(open))
	}
	if open[0].ID != "c2" {
		t.Fatalf("expected newest-first ordering (c2 first), got %s", open[0].ID)
	}

	resolvedList, err := ListByStatus(db, StatusResolved)
	if err != nil {
		t.Fatalf("ListByStatus(resolved): %v", err)
	}
	if len(resolvedList) != 1 || resolvedList[0].ID != "c3" {
		t.Fatalf("expected single resolved conflict c3, got %+v", resolvedList)
	}
}
