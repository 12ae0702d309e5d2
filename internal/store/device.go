package store

import (
	"github.com/google/uuid"
	"github.com/solostack/kernel/internal/kernelerr"
)

// bootstrapDeviceID generates and persists device.id on first use (§4.3).
// It is process-wide but immutable after first write: once set, this never
// mutates it again.
func (db *DB) bootstrapDeviceID() error {
	_, ok, err := db.GetSetting(SettingDeviceID)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return db.SetSetting(SettingDeviceID, uuid.NewString())
}

// DeviceID returns this installation's persisted device id.
func (db *DB) DeviceID() (string, error) {
	id, ok, err := db.GetSetting(SettingDeviceID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", kernelerr.NotFound("device id")
	}
	return id, nil
}
