// Package outbox implements C3: the append-only queue of pending local
// changes, the only channel through which local state propagates outward
// (§4.2).
package outbox

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/solostack/kernel/internal/models"
	"github.com/solostack/kernel/internal/store"
)

// Record is an OutboxRecord (§3).
type Record struct {
	LocalID           int64
	EntityType        models.EntityType
	EntityID          string
	Operation         models.Operation
	UpdatedAt         time.Time
	UpdatedByDevice   string
	SyncVersion       int64
	Payload           json.RawMessage
	IdempotencyKey    string
	AttemptCount      int
	LastFailureReason *string
}

// AppendTx inserts a new outbox record within an existing transaction, the
// same transaction the Mutation API (internal/mutation) uses to write the
// entity row. Uniqueness of idempotency keys is a hard constraint (§4.1):
// a collision here aborts the whole transaction.
func AppendTx(tx *sql.Tx, r Record) error {
	_, err := tx.Exec(`
		INSERT INTO outbox (entity_type, entity_id, operation, updated_at, updated_by_device, sync_version, payload, idempotency_key, attempt_count, last_failure_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, NULL)
	`, string(r.EntityType), r.EntityID, string(r.Operation), r.UpdatedAt, r.UpdatedByDevice, r.SyncVersion, string(r.Payload), r.IdempotencyKey)
	if err != nil {
		return fmt.Errorf("append outbox record: %w", err)
	}
	return nil
}

// List returns up to limit oldest pending records, ordered by insertion
// (§4.2).
func List(db *store.DB, limit int) ([]Record, error) {
	rows, err := db.Conn().Query(`
		SELECT local_id, entity_type, entity_id, operation, updated_at, updated_by_device, sync_version, payload, idempotency_key, attempt_count, last_failure_reason
		FROM outbox ORDER BY local_id ASC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list outbox: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var entityType, operation, payload string
		var lastFailure sql.NullString
		if err := rows.Scan(&r.LocalID, &entityType, &r.EntityID, &operation, &r.UpdatedAt, &r.UpdatedByDevice, &r.SyncVersion, &payload, &r.IdempotencyKey, &r.AttemptCount, &lastFailure); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		r.EntityType = models.EntityType(entityType)
		r.Operation = models.Operation(operation)
		r.Payload = json.RawMessage(payload)
		if lastFailure.Valid {
			r.LastFailureReason = &lastFailure.String
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Remove deletes outbox records whose idempotency keys are in keys (the
// server's accepted set, §4.2, §4.6 step 1).
func Remove(db *store.DB, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	return db.WithWriteLock(func() error {
		tx, err := db.Conn().Begin()
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback()

		stmt, err := tx.Prepare(`DELETE FROM outbox WHERE idempotency_key = ?`)
		if err != nil {
			return fmt.Errorf("prepare delete: %w", err)
		}
		defer stmt.Close()

		for _, k := range keys {
			if _, err := stmt.Exec(k); err != nil {
				return fmt.Errorf("delete outbox record %q: %w", k, err)
			}
		}
		return tx.Commit()
	})
}

// MarkFailed increments attempt_count and stores last_failure_reason
// without removing the row (§4.2).
func MarkFailed(db *store.DB, idempotencyKey, reason string) error {
	return db.WithWriteLock(func() error {
		_, err := db.Conn().Exec(`
			UPDATE outbox SET attempt_count = attempt_count + 1, last_failure_reason = ?
			WHERE idempotency_key = ?
		`, reason, idempotencyKey)
		if err != nil {
			return fmt.Errorf("mark outbox record failed: %w", err)
		}
		return nil
	})
}

// Count returns the number of pending outbox records (used by restore
// preflight, §4.9).
func Count(db *store.DB) (int64, error) {
	var n int64
	err := db.Conn().QueryRow(`SELECT COUNT(*) FROM outbox`).Scan(&n)
	return n, err
}
