package store

import "database/sql"

// Recognized setting keys (§6 Configuration).
const (
	SettingSyncProvider            = "sync.provider"
	SettingSyncProviderConfig      = "sync.provider_config"
	SettingSyncPushURL             = "sync.push_url"
	SettingSyncPullURL             = "sync.pull_url"
	SettingSyncRuntimeProfile      = "sync.runtime_profile"
	SettingSyncConflictDefaults    = "sync.conflict_strategy_defaults"
	SettingAppLocale               = "app.locale"
	SettingDeviceID                = "device.id"
)

// GetSetting reads a single setting value. Returns ("", false, nil) if
// unset.
func (db *DB) GetSetting(key string) (string, bool, error) {
	var value string
	err := db.conn.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SetSetting writes (or overwrites) a single setting value.
func (db *DB) SetSetting(key, value string) error {
	return db.WithWriteLock(func() error {
		_, err := db.conn.Exec(`INSERT INTO settings (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
		return err
	})
}

// SetSettingTx writes a setting within an existing transaction (used by
// internal/backup's restore, whose setting writes must be atomic with the
// other table writes).
func SetSettingTx(tx *sql.Tx, key, value string) error {
	_, err := tx.Exec(`INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// GetSettingTx reads a setting within an existing transaction.
func GetSettingTx(tx *sql.Tx, key string) (string, bool, error) {
	var value string
	err := tx.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// AllSafeSettings returns every setting except ones that must never appear
// in an exported backup (currently none are secret, but device.id is kept
// local-only per §4.3 — never transmitted, including in backups, so callers
// that export settings for backup should use this rather than a raw scan).
func (db *DB) AllSafeSettings() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT key, value FROM settings WHERE key != ?`, SettingDeviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}
