package profile

import (
	"testing"
	"time"
)

func TestDefaultIsAlreadyWithinBounds(t *testing.T) {
	out, clamped := Normalize(Default())
	if len(clamped) != 0 {
		t.Fatalf("expected the default profile to need no clamping, got %+v", clamped)
	}
	if out != Default() {
		t.Fatalf("expected Normalize(Default()) == Default(), got %+v", out)
	}
}

func TestNormalizeClampsBelowMinimum(t *testing.T) {
	p := Profile{
		AutoSyncInterval:       time.Second,
		BackgroundSyncInterval: time.Second,
		PushLimit:              0,
		PullLimit:              0,
		MaxPullPages:           0,
	}
	out, clamped := Normalize(p)
	if out.AutoSyncInterval != minAutoSyncInterval {
		t.Fatalf("expected auto_sync_interval clamped to %v, got %v", minAutoSyncInterval, out.AutoSyncInterval)
	}
	if out.PushLimit != minPushLimit || out.PullLimit != minPullLimit || out.MaxPullPages != minMaxPullPages {
		t.Fatalf("expected integer fields clamped to their minimums, got %+v", out)
	}
	if len(clamped) == 0 {
		t.Fatal("expected clamped fields to be reported")
	}
}

func TestNormalizeClampsAboveMaximum(t *testing.T) {
	p := Profile{
		AutoSyncInterval:       24 * time.Hour,
		BackgroundSyncInterval: 48 * time.Hour,
		PushLimit:              10000,
		PullLimit:              10000,
		MaxPullPages:           10000,
	}
	out, clamped := Normalize(p)
	if out.AutoSyncInterval != maxAutoSyncInterval {
		t.Fatalf("expected auto_sync_interval clamped to %v, got %v", maxAutoSyncInterval, out.AutoSyncInterval)
	}
	if out.PushLimit != maxPushLimit {
		t.Fatalf("expected push_limit clamped to %d, got %d", maxPushLimit, out.PushLimit)
	}
	if len(clamped) == 0 {
		t.Fatal("expected clamped fields to be reported")
	}
}

func TestNormalizeForcesBackgroundNotBelowAutoSync(t *testing.T) {
	p := Profile{
		AutoSyncInterval:       time.Minute,
		BackgroundSyncInterval: 45 * time.Second, // within bounds but < auto sync interval
		PushLimit:              DefaultPushLimit,
		PullLimit:              DefaultPullLimit,
		MaxPullPages:           DefaultMaxPullPages,
	}
	out, clamped := Normalize(p)
	if out.BackgroundSyncInterval < out.AutoSyncInterval {
		t.Fatalf("expected background_sync_interval >= auto_sync_interval, got background=%v auto=%v", out.BackgroundSyncInterval, out.AutoSyncInterval)
	}
	found := false
	for _, c := range clamped {
		if c.Field == "background_sync_interval" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected background_sync_interval to be reported as clamped, got %+v", clamped)
	}
}
