// Package profile implements §4.7: the Runtime Profile, a small immutable
// record governing sync cadence and batch sizes. Normalize clamps every
// field into a bounded range, unlike the teacher's internal/syncconfig
// getters (which read a raw value on every call) — §4.7 requires clamping
// once, at normalization time, with the rejection surfaced as a
// diagnostics event rather than re-checked on every read.
package profile

import (
	"strconv"
	"time"
)

// Bounds on each field. Not spec-mandated constants (§9 leaves the exact
// numbers open); chosen to keep a foreground sync responsive and a
// background sync unobtrusive, and to keep push/pull batch sizes away from
// both "one row per call" and "unbounded" transport payloads.
const (
	minAutoSyncInterval = 5 * time.Second
	maxAutoSyncInterval = 1 * time.Hour

	minBackgroundSyncInterval = 30 * time.Second
	maxBackgroundSyncInterval = 24 * time.Hour

	minPushLimit = 1
	maxPushLimit = 500

	minPullLimit = 1
	maxPullLimit = 500

	minMaxPullPages = 1
	maxMaxPullPages = 1000
)

// Defaults mirror the teacher's default auto-sync cadence (3s debounce /
// 5m interval), generalized to the spec's push/pull/pages tuple.
const (
	DefaultAutoSyncInterval       = 30 * time.Second
	DefaultBackgroundSyncInterval = 5 * time.Minute
	DefaultPushLimit              = 50
	DefaultPullLimit              = 50
	DefaultMaxPullPages           = 20
)

// Profile is the immutable runtime profile (§4.7).
type Profile struct {
	AutoSyncInterval       time.Duration
	BackgroundSyncInterval time.Duration
	PushLimit              int
	PullLimit              int
	MaxPullPages           int
}

// Default returns the built-in default profile, already within bounds.
func Default() Profile {
	return Profile{
		AutoSyncInterval:       DefaultAutoSyncInterval,
		BackgroundSyncInterval: DefaultBackgroundSyncInterval,
		PushLimit:              DefaultPushLimit,
		PullLimit:              DefaultPullLimit,
		MaxPullPages:           DefaultMaxPullPages,
	}
}

// ClampedField names a field that required clamping, for diagnostics
// reporting (`validation_rejected`, §4.8).
type ClampedField struct {
	Field    string
	Original string
	Clamped  string
}

// Normalize clamps every field of p into its bounded range and forces
// BackgroundSyncInterval >= AutoSyncInterval. It returns the normalized
// profile and the list of fields that required clamping, in field order.
func Normalize(p Profile) (Profile, []ClampedField) {
	var clamped []ClampedField

	out := p
	out.AutoSyncInterval, clamped = clampDuration(out.AutoSyncInterval, minAutoSyncInterval, maxAutoSyncInterval, "auto_sync_interval", clamped)
	out.BackgroundSyncInterval, clamped = clampDuration(out.BackgroundSyncInterval, minBackgroundSyncInterval, maxBackgroundSyncInterval, "background_sync_interval", clamped)
	out.PushLimit, clamped = clampInt(out.PushLimit, minPushLimit, maxPushLimit, "push_limit", clamped)
	out.PullLimit, clamped = clampInt(out.PullLimit, minPullLimit, maxPullLimit, "pull_limit", clamped)
	out.MaxPullPages, clamped = clampInt(out.MaxPullPages, minMaxPullPages, maxMaxPullPages, "max_pull_pages", clamped)

	if out.BackgroundSyncInterval < out.AutoSyncInterval {
		original := out.BackgroundSyncInterval
		out.BackgroundSyncInterval = out.AutoSyncInterval
		clamped = append(clamped, ClampedField{
			Field:    "background_sync_interval",
			Original: original.String(),
			Clamped:  out.BackgroundSyncInterval.String(),
		})
	}

	return out, clamped
}

func clampDuration(v, lo, hi time.Duration, field string, acc []ClampedField) (time.Duration, []ClampedField) {
	if v < lo {
		acc = append(acc, ClampedField{Field: field, Original: v.String(), Clamped: lo.String()})
		return lo, acc
	}
	if v > hi {
		acc = append(acc, ClampedField{Field: field, Original: v.String(), Clamped: hi.String()})
		return hi, acc
	}
	return v, acc
}

func clampInt(v, lo, hi int, field string, acc []ClampedField) (int, []ClampedField) {
	if v < lo {
		acc = append(acc, ClampedField{Field: field, Original: strconv.Itoa(v), Clamped: strconv.Itoa(lo)})
		return lo, acc
	}
	if v > hi {
		acc = append(acc, ClampedField{Field: field, Original: strconv.Itoa(v), Clamped: strconv.Itoa(hi)})
		return hi, acc
	}
	return v, acc
}
