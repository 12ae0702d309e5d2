package store

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInitialize(t *testing.T) {
	dir := t.TempDir()

	db, err := Initialize(dir)
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer db.Close()

	dbPath := filepath.Join(dir, ".solostack", "solostack.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file not created")
	}
}

func TestDeviceIDBootstrapAndStability(t *testing.T) {
	dir := t.TempDir()

	db, err := Initialize(dir)
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	id1, err := db.DeviceID()
	if err != nil {
		t.Fatalf("DeviceID: %v", err)
	}
	if id1 == "" {
		t.Fatal("expected a generated device id")
	}
	db.Close()

	db2, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db2.Close()

	id2, err := db2.DeviceID()
	if err != nil {
		t.Fatalf("DeviceID: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("device id changed across reopen: %q != %q", id1, id2)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	db, err := Initialize(dir)
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer db.Close()

	if _, ok, err := db.GetSetting("app.locale"); err != nil || ok {
		t.Fatalf("expected unset setting, got ok=%v err=%v", ok, err)
	}

	if err := db.SetSetting("app.locale", "th"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	v, ok, err := db.GetSetting("app.locale")
	if err != nil || !ok || v != "th" {
		t.Fatalf("GetSetting: v=%q ok=%v err=%v", v, ok, err)
	}

	if err := db.SetSetting("app.locale", "en"); err != nil {
		t.Fatalf("SetSetting overwrite: %v", err)
	}
	v, _, _ = db.GetSetting("app.locale")
	if v != "en" {
		t.Fatalf("expected overwrite, got %q", v)
	}
}

func TestAllSafeSettingsExcludesDeviceID(t *testing.T) {
	dir := t.TempDir()
	db, err := Initialize(dir)
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer db.Close()

	db.SetSetting("app.locale", "en")

	safe, err := db.AllSafeSettings()
	if err != nil {
		t.Fatalf("AllSafeSettings: %v", err)
	}
	if _, ok := safe[SettingDeviceID]; ok {
		t.Fatal("device.id leaked into safe settings")
	}
	if safe["app.locale"] != "en" {
		t.Fatalf("expected app.locale=en, got %v", safe)
	}
}
