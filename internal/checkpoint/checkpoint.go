// Package checkpoint implements C4: the per-device cursor + last-synced
// timestamp. Exactly one row exists; it is written only by the Sync Runner
// (§3, §4.6).
package checkpoint

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/solostack/kernel/internal/store"
)

// Checkpoint is the single sync-cursor row.
type Checkpoint struct {
	DeviceID      string
	ServerCursor  *string
	LastSyncedAt  *time.Time
}

// Get returns the current checkpoint for deviceID, or a zero-value
// Checkpoint (ServerCursor/LastSyncedAt nil) if none has been written yet.
func Get(db *store.DB, deviceID string) (Checkpoint, error) {
	var cp Checkpoint
	cp.DeviceID = deviceID

	var cursor sql.NullString
	var lastSynced sql.NullTime
	err := db.Conn().QueryRow(`SELECT server_cursor, last_synced_at FROM checkpoint WHERE device_id = ?`, deviceID).
		Scan(&cursor, &lastSynced)
	if err == sql.ErrNoRows {
		return cp, nil
	}
	if err != nil {
		return cp, fmt.Errorf("get checkpoint: %w", err)
	}
	if cursor.Valid {
		cp.ServerCursor = &cursor.String
	}
	if lastSynced.Valid {
		cp.LastSyncedAt = &lastSynced.Time
	}
	return cp, nil
}

// Set writes the checkpoint. Cursors are opaque (§9): the kernel never
// parses server_cursor, it only stores whatever the transport returned.
func Set(db *store.DB, deviceID string, serverCursor *string, lastSyncedAt time.Time) error {
	return db.WithWriteLock(func() error {
		_, err := db.Conn().Exec(`
			INSERT INTO checkpoint (device_id, server_cursor, last_synced_at) VALUES (?, ?, ?)
			ON CONFLICT(device_id) DO UPDATE SET server_cursor = excluded.server_cursor, last_synced_at = excluded.last_synced_at
		`, deviceID, nullableString(serverCursor), lastSyncedAt)
		if err != nil {
			return fmt.Errorf("set checkpoint: %w", err)
		}
		return nil
	})
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
