// Package applier implements C5: the Incoming Applier. It consumes one
// remote change at a time, classifies it against the four-class conflict
// taxonomy (§4.4), and either applies it, skips it as a replay, or records
// a conflict.
package applier

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/solostack/kernel/internal/conflict"
	"github.com/solostack/kernel/internal/kernelerr"
	"github.com/solostack/kernel/internal/models"
	"github.com/solostack/kernel/internal/store"
)

// Result is the outcome of applying one IncomingChange.
type Result string

const (
	ResultApplied  Result = "applied"
	ResultSkipped  Result = "skipped"
	ResultConflict Result = "conflict"
)

// IncomingChange is one remote change as received from a pull (§4.4, §6).
type IncomingChange struct {
	EntityType      models.EntityType
	EntityID        string
	Operation       models.Operation
	UpdatedAt       time.Time
	UpdatedByDevice string
	SyncVersion     int64
	Payload         json.RawMessage
	IdempotencyKey  string
}

// Applier applies IncomingChanges against the store.
type Applier struct {
	db *store.DB
}

// New returns an Applier bound to db.
func New(db *store.DB) *Applier {
	return &Applier{db: db}
}

// localSnapshot is the generic view the applier needs of whatever entity row
// is already in the store, independent of entity type.
type localSnapshot struct {
	exists      bool
	syncVersion int64
	updatedBy   string
	updatedAt   time.Time
	notes       *string
	payload     json.RawMessage
}

// Apply classifies and applies c, following the §4.4 algorithm in order:
// replay guard, version compare, field validation, notes collision, apply.
func (a *Applier) Apply(c IncomingChange) (Result, error) {
	var result Result
	err := a.db.WithWriteLock(func() error {
		tx, err := a.db.Conn().Begin()
		if err != nil {
			return kernelerr.Storage("begin applier tx", err)
		}
		defer tx.Rollback()

		r, err := a.applyTx(tx, c)
		if err != nil {
			return err
		}
		result = r
		return tx.Commit()
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func (a *Applier) applyTx(tx *sql.Tx, c IncomingChange) (Result, error) {
	now := time.Now()

	// 1. Replay guard.
	existing, err := conflict.GetByIdempotencyKeyTx(tx, c.IdempotencyKey)
	if err != nil {
		return "", kernelerr.Storage("replay guard lookup", err)
	}
	if existing != nil {
		switch existing.Status {
		case conflict.StatusOpen:
			if err := appendEvent(tx, existing.ID, conflict.EventRetried, map[string]string{"reason": "incoming_change_repeated"}, now); err != nil {
				return "", err
			}
			return ResultSkipped, nil

		default: // resolved or ignored
			if existing.ResolutionStrategy == nil || *existing.ResolutionStrategy != conflict.StrategyRetry {
				// Terminal resolution (keep_local, keep_remote, manual_merge, or
				// an explicit ignore): the decision already stands regardless of
				// entity state, so the same incoming change arriving again is
				// just a replay, not a new attempt (§8 conflict closure).
				if err := appendEvent(tx, existing.ID, conflict.EventRetried, map[string]string{"reason": "incoming_change_repeated"}, now); err != nil {
					return "", err
				}
				return ResultSkipped, nil
			}

			// retry: the resolver asked for this exact replay to be re-attempted.
			local, err := getLocalSnapshotTx(tx, c.EntityType, c.EntityID)
			if err != nil {
				return "", err
			}
			if local.exists && local.syncVersion >= c.SyncVersion {
				return ResultSkipped, nil
			}
			cerr := classify(tx, c)
			if cerr == nil {
				strategy := conflict.StrategyRetry
				updated := *existing
				updated.Status = conflict.StatusResolved
				updated.ResolutionStrategy = &strategy
				updated.ResolvedByDevice = &c.UpdatedByDevice
				updated.ResolvedAt = &now
				if err := conflict.UpdateTx(tx, updated); err != nil {
					return "", err
				}
				if err := appendEvent(tx, existing.ID, conflict.EventResolved, map[string]string{"strategy": string(conflict.StrategyRetry)}, now); err != nil {
					return "", err
				}
				if err := applyChange(tx, c); err != nil {
					return "", err
				}
				return ResultApplied, nil
			}
			// Replay still doesn't apply cleanly: per the retry-then-reconflict
			// decision (DESIGN.md, Open Question (a)), this opens a new ConflictRecord rather
			// than reopening the resolved one, keeping the original row's
			// event history tied to its original detection.
			return a.recordConflict(tx, c, local, cerr, now)
		}
	}

	// 2. Version compare.
	local, err := getLocalSnapshotTx(tx, c.EntityType, c.EntityID)
	if err != nil {
		return "", err
	}
	if local.exists && local.syncVersion > c.SyncVersion {
		return ResultSkipped, nil
	}

	sameDeviceTie := local.exists && local.syncVersion == c.SyncVersion && local.updatedBy == c.UpdatedByDevice
	if sameDeviceTie {
		return ResultSkipped, nil
	}

	// 3. Field validation (TASK UPSERTs only).
	if cerr := classify(tx, c); cerr != nil {
		return a.recordConflict(tx, c, local, cerr, now)
	}

	// 4. Notes collision.
	if needsCollision, reasonCode, msg := notesCollision(c, local); needsCollision {
		return a.recordConflict(tx, c, local, &classifyResult{conflictType: conflict.TypeNotesCollision, reasonCode: reasonCode, message: msg}, now)
	}

	// 5. Apply.
	if err := applyChange(tx, c); err != nil {
		return "", err
	}
	return ResultApplied, nil
}

type classifyResult struct {
	conflictType conflict.Type
	reasonCode   string
	message      string
}

// classify runs §4.4 step 3's field validation for TASK upserts. Returns nil
// when the change passes validation.
func classify(tx *sql.Tx, c IncomingChange) *classifyResult {
	if c.EntityType != models.EntityTask || c.Operation != models.OperationUpsert {
		return nil
	}

	var t models.Task
	if err := json.Unmarshal(c.Payload, &t); err != nil {
		return &classifyResult{conflictType: conflict.TypeValidationError, reasonCode: "MALFORMED_PAYLOAD", message: err.Error()}
	}

	projectExists := func(id string) bool {
		ok, _ := store.ProjectExistsTx(tx, id)
		return ok
	}
	verr := models.ValidateTask(&t, projectExists)
	if verr == nil {
		return nil
	}
	ve, ok := verr.(*models.ValidationError)
	if !ok {
		return &classifyResult{conflictType: conflict.TypeValidationError, reasonCode: "UNKNOWN", message: verr.Error()}
	}

	switch ve.Reason {
	case "MISSING_TASK_TITLE":
		return &classifyResult{conflictType: conflict.TypeFieldConflict, reasonCode: ve.Reason, message: ve.Message}
	case "TASK_PROJECT_NOT_FOUND":
		return &classifyResult{conflictType: conflict.TypeDeleteVsUpdate, reasonCode: ve.Reason, message: ve.Message}
	default:
		return &classifyResult{conflictType: conflict.TypeValidationError, reasonCode: ve.Reason, message: ve.Message}
	}
}

// notesCollision runs §4.4 step 4.
func notesCollision(c IncomingChange, local localSnapshot) (bool, string, string) {
	if c.EntityType != models.EntityTask || c.Operation != models.OperationUpsert {
		return false, "", ""
	}
	if !local.exists || local.notes == nil || *local.notes == "" {
		return false, "", ""
	}

	var t models.Task
	if err := json.Unmarshal(c.Payload, &t); err != nil {
		return false, "", ""
	}
	if t.Notes == "" {
		return false, "", ""
	}
	if !local.updatedAt.Equal(c.UpdatedAt) {
		return false, "", ""
	}
	if local.updatedBy == c.UpdatedByDevice {
		return false, "", ""
	}
	if *local.notes == t.Notes {
		return false, "", ""
	}
	return true, "TASK_NOTES_COLLISION", "concurrent edits to notes diverge"
}

func (a *Applier) recordConflict(tx *sql.Tx, c IncomingChange, local localSnapshot, cr *classifyResult, now time.Time) (Result, error) {
	rec := conflict.Record{
		ID:                     store.NewID(),
		EntityType:             c.EntityType,
		EntityID:               c.EntityID,
		ConflictType:           cr.conflictType,
		ReasonCode:             cr.reasonCode,
		Message:                cr.message,
		RemotePayloadJSON:      c.Payload,
		IncomingIdempotencyKey: c.IdempotencyKey,
		Status:                 conflict.StatusOpen,
		DetectedAt:             now,
	}
	if local.exists {
		rec.LocalPayloadJSON = local.payload
	}

	if err := conflict.CreateTx(tx, rec); err != nil {
		return "", err
	}
	if err := appendEvent(tx, rec.ID, conflict.EventDetected, map[string]string{"reason_code": cr.reasonCode}, now); err != nil {
		return "", err
	}
	return ResultConflict, nil
}

func appendEvent(tx *sql.Tx, conflictID string, eventType conflict.EventType, payload any, now time.Time) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal conflict event payload: %w", err)
	}
	return conflict.AppendEventTx(tx, conflictID, eventType, body, now)
}

// getLocalSnapshotTx loads the current local row for (entityType, entityID),
// independent of concrete entity shape.
func getLocalSnapshotTx(tx *sql.Tx, entityType models.EntityType, entityID string) (localSnapshot, error) {
	switch entityType {
	case models.EntityTask:
		t, err := store.GetTaskTx(tx, entityID)
		if err != nil {
			return localSnapshot{}, kernelerr.Storage("load local task", err)
		}
		if t == nil {
			return localSnapshot{}, nil
		}
		body, _ := json.Marshal(t)
		notes := t.Notes
		return localSnapshot{exists: true, syncVersion: t.SyncVersion, updatedBy: t.UpdatedByDevice, updatedAt: t.UpdatedAt, notes: &notes, payload: body}, nil

	case models.EntityProject:
		p, err := store.GetProjectTx(tx, entityID)
		if err != nil {
			return localSnapshot{}, kernelerr.Storage("load local project", err)
		}
		if p == nil {
			return localSnapshot{}, nil
		}
		body, _ := json.Marshal(p)
		return localSnapshot{exists: true, syncVersion: p.SyncVersion, updatedBy: p.UpdatedByDevice, updatedAt: p.UpdatedAt, payload: body}, nil

	case models.EntitySubtask:
		s, err := store.GetSubtaskTx(tx, entityID)
		if err != nil {
			return localSnapshot{}, kernelerr.Storage("load local subtask", err)
		}
		if s == nil {
			return localSnapshot{}, nil
		}
		body, _ := json.Marshal(s)
		return localSnapshot{exists: true, syncVersion: s.SyncVersion, updatedBy: s.UpdatedByDevice, updatedAt: s.UpdatedAt, payload: body}, nil

	case models.EntityTaskChangelog:
		cg, err := store.GetTaskChangelogTx(tx, entityID)
		if err != nil {
			return localSnapshot{}, kernelerr.Storage("load local task changelog", err)
		}
		if cg == nil {
			return localSnapshot{}, nil
		}
		body, _ := json.Marshal(cg)
		return localSnapshot{exists: true, syncVersion: cg.SyncVersion, updatedBy: cg.UpdatedByDevice, updatedAt: cg.UpdatedAt, payload: body}, nil

	case models.EntityTaskTemplate:
		tpl, err := store.GetTaskTemplateTx(tx, entityID)
		if err != nil {
			return localSnapshot{}, kernelerr.Storage("load local task template", err)
		}
		if tpl == nil {
			return localSnapshot{}, nil
		}
		body, _ := json.Marshal(tpl)
		return localSnapshot{exists: true, syncVersion: tpl.SyncVersion, updatedBy: tpl.UpdatedByDevice, updatedAt: tpl.UpdatedAt, payload: body}, nil

	default:
		return localSnapshot{}, fmt.Errorf("unrecognized entity type %q", entityType)
	}
}

// applyChange writes c into the appropriate entity table (§4.4 step 5).
func applyChange(tx *sql.Tx, c IncomingChange) error {
	if c.Operation == models.OperationDelete {
		return applyDelete(tx, c.EntityType, c.EntityID)
	}
	return applyUpsert(tx, c)
}

func applyDelete(tx *sql.Tx, entityType models.EntityType, entityID string) error {
	switch entityType {
	case models.EntityTask:
		return store.DeleteTaskTx(tx, entityID)
	case models.EntityProject:
		return store.DeleteProjectTx(tx, entityID)
	case models.EntitySubtask:
		return store.DeleteSubtaskTx(tx, entityID)
	case models.EntityTaskChangelog:
		return store.DeleteTaskChangelogTx(tx, entityID)
	case models.EntityTaskTemplate:
		return store.DeleteTaskTemplateTx(tx, entityID)
	default:
		return fmt.Errorf("unrecognized entity type %q", entityType)
	}
}

func applyUpsert(tx *sql.Tx, c IncomingChange) error {
	switch c.EntityType {
	case models.EntityTask:
		var t models.Task
		if err := json.Unmarshal(c.Payload, &t); err != nil {
			return fmt.Errorf("unmarshal incoming task: %w", err)
		}
		t.ID, t.SyncVersion, t.UpdatedByDevice, t.UpdatedAt = c.EntityID, c.SyncVersion, c.UpdatedByDevice, c.UpdatedAt
		return store.PutTaskTx(tx, &t)

	case models.EntityProject:
		var p models.Project
		if err := json.Unmarshal(c.Payload, &p); err != nil {
			return fmt.Errorf("unmarshal incoming project: %w", err)
		}
		p.ID, p.SyncVersion, p.UpdatedByDevice, p.UpdatedAt = c.EntityID, c.SyncVersion, c.UpdatedByDevice, c.UpdatedAt
		return store.PutProjectTx(tx, &p)

	case models.EntitySubtask:
		var s models.Subtask
		if err := json.Unmarshal(c.Payload, &s); err != nil {
			return fmt.Errorf("unmarshal incoming subtask: %w", err)
		}
		s.ID, s.SyncVersion, s.UpdatedByDevice, s.UpdatedAt = c.EntityID, c.SyncVersion, c.UpdatedByDevice, c.UpdatedAt
		return store.PutSubtaskTx(tx, &s)

	case models.EntityTaskChangelog:
		var cg models.TaskChangelog
		if err := json.Unmarshal(c.Payload, &cg); err != nil {
			return fmt.Errorf("unmarshal incoming task changelog: %w", err)
		}
		cg.ID, cg.SyncVersion, cg.UpdatedByDevice, cg.UpdatedAt = c.EntityID, c.SyncVersion, c.UpdatedByDevice, c.UpdatedAt
		return store.PutTaskChangelogTx(tx, &cg)

	case models.EntityTaskTemplate:
		var tpl models.TaskTemplate
		if err := json.Unmarshal(c.Payload, &tpl); err != nil {
			return fmt.Errorf("unmarshal incoming task template: %w", err)
		}
		tpl.ID, tpl.SyncVersion, tpl.UpdatedByDevice, tpl.UpdatedAt = c.EntityID, c.SyncVersion, c.UpdatedByDevice, c.UpdatedAt
		return store.PutTaskTemplateTx(tx, &tpl)

	default:
		return fmt.Errorf("unrecognized entity type %q", c.EntityType)
	}
}
