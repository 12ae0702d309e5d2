// Package conflict implements C6: the conflict store and its per-conflict
// event log. Conflict records are created by internal/applier and
// transitioned by internal/resolution; this package owns their persistence
// and the §3 200-event retention policy.
package conflict

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/solostack/kernel/internal/kernelerr"
	"github.com/solostack/kernel/internal/models"
	"github.com/solostack/kernel/internal/store"
)

// Type is the four-class conflict taxonomy (§3, §4.4).
type Type string

const (
	TypeFieldConflict   Type = "field_conflict"
	TypeDeleteVsUpdate  Type = "delete_vs_update"
	TypeNotesCollision  Type = "notes_collision"
	TypeValidationError Type = "validation_error"
)

// Status is a ConflictRecord's lifecycle state.
type Status string

const (
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"
	StatusIgnored  Status = "ignored"
)

// Strategy is a resolution strategy (§4.5).
type Strategy string

const (
	StrategyKeepLocal   Strategy = "keep_local"
	StrategyKeepRemote  Strategy = "keep_remote"
	StrategyManualMerge Strategy = "manual_merge"
	StrategyRetry       Strategy = "retry"
	StrategyIgnore      Strategy = "ignore"
)

// EventType is a ConflictEvent's kind.
type EventType string

const (
	EventDetected EventType = "detected"
	EventResolved EventType = "resolved"
	EventIgnored  EventType = "ignored"
	EventRetried  EventType = "retried"
	EventExported EventType = "exported"
)

// maxEventsPerConflict is the §3 retention bound: oldest pruned first.
const maxEventsPerConflict = 200

// Record is a ConflictRecord.
type Record struct {
	ID                     string
	EntityType             models.EntityType
	EntityID               string
	ConflictType           Type
	ReasonCode             string
	Message                string
	LocalPayloadJSON       json.RawMessage
	RemotePayloadJSON      json.RawMessage
	IncomingIdempotencyKey string
	Status                 Status
	ResolutionStrategy     *Strategy
	ResolvedByDevice       *string
	DetectedAt             time.Time
	ResolvedAt             *time.Time
}

// Event is a ConflictEvent.
type Event struct {
	ID              int64
	ConflictID      string
	EventType       EventType
	EventPayloadJSON json.RawMessage
	CreatedAt       time.Time
}

// CreateTx inserts a new conflict record within tx. Callers (internal/applier)
// are responsible for the id (store.NewID).
func CreateTx(tx *sql.Tx, r Record) error {
	_, err := tx.Exec(`
		INSERT INTO conflicts (id, entity_type, entity_id, conflict_type, reason_code, message,
			local_payload_json, remote_payload_json, incoming_idempotency_key, status,
			resolution_strategy, resolved_by_device, detected_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, string(r.EntityType), r.EntityID, string(r.ConflictType), r.ReasonCode, r.Message,
		nullJSON(r.LocalPayloadJSON), nullJSON(r.RemotePayloadJSON), r.IncomingIdempotencyKey, string(r.Status),
		nullStrategy(r.ResolutionStrategy), nullableString(r.ResolvedByDevice), r.DetectedAt, nullTime(r.ResolvedAt))
	if err != nil {
		return fmt.Errorf("create conflict %s: %w", r.ID, err)
	}
	return nil
}

// GetTx reads a conflict record by id within tx. Returns (nil, nil) if absent.
func GetTx(tx *sql.Tx, id string) (*Record, error) {
	return scanOne(tx.QueryRow(`
		SELECT id, entity_type, entity_id, conflict_type, reason_code, message,
			local_payload_json, remote_payload_json, incoming_idempotency_key, status,
			resolution_strategy, resolved_by_device, detected_at, resolved_at
		FROM conflicts WHERE id = ?
	`, id))
}

// Get reads a conflict record by id outside of any transaction.
func Get(db *store.DB, id string) (*Record, error) {
	return scanOne(db.Conn().QueryRow(`
		SELECT id, entity_type, entity_id, conflict_type, reason_code, message,
			local_payload_json, remote_payload_json, incoming_idempotency_key, status,
			resolution_strategy, resolved_by_device, detected_at, resolved_at
		FROM conflicts WHERE id = ?
	`, id))
}

// GetByIdempotencyKeyTx finds the most recently detected conflict whose
// incoming_idempotency_key matches key — the replay guard's lookup (§4.4
// step 1). Returns (nil, nil) if none exists.
func GetByIdempotencyKeyTx(tx *sql.Tx, key string) (*Record, error) {
	return scanOne(tx.QueryRow(`
		SELECT id, entity_type, entity_id, conflict_type, reason_code, message,
			local_payload_json, remote_payload_json, incoming_idempotency_key, status,
			resolution_strategy, resolved_by_device, detected_at, resolved_at
		FROM conflicts WHERE incoming_idempotency_key = ? ORDER BY detected_at DESC LIMIT 1
	`, key))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOne(row rowScanner) (*Record, error) {
	var r Record
	var entityType, conflictType, status string
	var localPayload, remotePayload sql.NullString
	var resolutionStrategy, resolvedByDevice sql.NullString
	var resolvedAt sql.NullTime

	err := row.Scan(&r.ID, &entityType, &r.EntityID, &conflictType, &r.ReasonCode, &r.Message,
		&localPayload, &remotePayload, &r.IncomingIdempotencyKey, &status,
		&resolutionStrategy, &resolvedByDevice, &r.DetectedAt, &resolvedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan conflict row: %w", err)
	}

	r.EntityType = models.EntityType(entityType)
	r.ConflictType = Type(conflictType)
	r.Status = Status(status)
	if localPayload.Valid {
		r.LocalPayloadJSON = json.RawMessage(localPayload.String)
	}
	if remotePayload.Valid {
		r.RemotePayloadJSON = json.RawMessage(remotePayload.String)
	}
	if resolutionStrategy.Valid {
		s := Strategy(resolutionStrategy.String)
		r.ResolutionStrategy = &s
	}
	if resolvedByDevice.Valid {
		r.ResolvedByDevice = &resolvedByDevice.String
	}
	if resolvedAt.Valid {
		r.ResolvedAt = &resolvedAt.Time
	}
	return &r, nil
}

// UpdateTx applies a full update to an existing conflict row within tx (used
// by the Resolution Engine and by the applier's replay-then-clean-apply path).
func UpdateTx(tx *sql.Tx, r Record) error {
	_, err := tx.Exec(`
		UPDATE conflicts SET status = ?, resolution_strategy = ?, resolved_by_device = ?, resolved_at = ?
		WHERE id = ?
	`, string(r.Status), nullStrategy(r.ResolutionStrategy), nullableString(r.ResolvedByDevice), nullTime(r.ResolvedAt), r.ID)
	if err != nil {
		return fmt.Errorf("update conflict %s: %w", r.ID, err)
	}
	return nil
}

// AppendEventTx appends a conflict event and prunes the oldest events past
// the 200-event retention bound, all within tx — "pruned in the same
// transaction as insert" (§3).
func AppendEventTx(tx *sql.Tx, conflictID string, eventType EventType, payload json.RawMessage, createdAt time.Time) error {
	_, err := tx.Exec(`
		INSERT INTO conflict_events (conflict_id, event_type, event_payload_json, created_at)
		VALUES (?, ?, ?, ?)
	`, conflictID, string(eventType), nullJSON(payload), createdAt)
	if err != nil {
		return kernelerr.Storage("append conflict event", err)
	}

	_, err = tx.Exec(`
		DELETE FROM conflict_events WHERE conflict_id = ? AND id NOT IN (
			SELECT id FROM conflict_events WHERE conflict_id = ? ORDER BY id DESC LIMIT ?
		)
	`, conflictID, conflictID, maxEventsPerConflict)
	if err != nil {
		return kernelerr.Storage("prune conflict events", err)
	}
	return nil
}

// RestoreEventTx inserts a conflict event preserving its original id, for use
// by backup restore only. The export/restore round-trip law (§4.9) requires
// restored events to keep the ids they were exported with rather than being
// reassigned by autoincrement, since Event.ID is part of the exported payload.
func RestoreEventTx(tx *sql.Tx, e Event) error {
	_, err := tx.Exec(`
		INSERT INTO conflict_events (id, conflict_id, event_type, event_payload_json, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, e.ID, e.ConflictID, string(e.EventType), nullJSON(e.EventPayloadJSON), e.CreatedAt)
	if err != nil {
		return kernelerr.Storage("restore conflict event", err)
	}
	return nil
}

// ListEvents returns every event for conflictID, oldest first.
func ListEvents(db *store.DB, conflictID string) ([]Event, error) {
	rows, err := db.Conn().Query(`
		SELECT id, conflict_id, event_type, event_payload_json, created_at
		FROM conflict_events WHERE conflict_id = ? ORDER BY id ASC
	`, conflictID)
	if err != nil {
		return nil, fmt.Errorf("list conflict events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var eventType string
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.ConflictID, &eventType, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan conflict event: %w", err)
		}
		e.EventType = EventType(eventType)
		if payload.Valid {
			e.EventPayloadJSON = json.RawMessage(payload.String)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ListByStatus returns every conflict record with the given status, newest first.
func ListByStatus(db *store.DB, status Status) ([]Record, error) {
	rows, err := db.Conn().Query(`
		SELECT id, entity_type, entity_id, conflict_type, reason_code, message,
			local_payload_json, remote_payload_json, incoming_idempotency_key, status,
			resolution_strategy, resolved_by_device, detected_at, resolved_at
		FROM conflicts WHERE status = ? ORDER BY detected_at DESC
	`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list conflicts by status: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		r, err := scanOne(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

func nullJSON(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func nullStrategy(s *Strategy) any {
	if s == nil {
		return nil
	}
	return string(*s)
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
