// Package diagnostics implements C9: a session-scoped, in-memory aggregate
// of sync cycle outcomes, provider/profile change events, and validation
// rejections (§4.8). It is intentionally not persisted — diagnostics
// describe the current process's observations, not durable kernel state.
package diagnostics

import (
	"sort"
	"sync"
	"time"

	"github.com/solostack/kernel/internal/conflict"
	"github.com/solostack/kernel/internal/profile"
	"github.com/solostack/kernel/internal/store"
)

// CycleOutcome is the externally-observable status of one sync cycle
// (§4.6: OFFLINE/CONFLICT/SYNCED).
type CycleOutcome string

const (
	CycleSynced  CycleOutcome = "SYNCED"
	CycleOffline CycleOutcome = "OFFLINE"
	CycleConflict CycleOutcome = "CONFLICT"
)

// Snapshot is the §4.8 session-scoped aggregate, read by callers (e.g. a
// CLI `diagnostics` command) as a point-in-time copy.
type Snapshot struct {
	TotalCycles              int64
	SuccessfulCycles         int64
	FailedCycles             int64
	ConflictCycles           int64
	ConsecutiveFailures      int64
	SuccessRatePercent       float64
	LastCycleDurationMs      int64
	AverageCycleDurationMs   float64
	LastAttemptAt            *time.Time
	LastSuccessAt            *time.Time
	SelectedProvider         string
	RuntimeProfile           profile.Profile
	ProviderSelectedEvents   int64
	RuntimeProfileChanged    int64
	ValidationRejectedEvents int64
	LastWarning              string
}

// Collector accumulates cycle outcomes across the process's lifetime.
type Collector struct {
	mu sync.Mutex
	s  Snapshot

	totalDurationMs int64
}

// New returns an empty Collector seeded with the default runtime profile.
func New() *Collector {
	return &Collector{s: Snapshot{RuntimeProfile: profile.Default()}}
}

// RecordCycle updates the aggregate after one sync cycle completes.
func (c *Collector) RecordCycle(outcome CycleOutcome, durationMs int64, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.s.TotalCycles++
	c.s.LastAttemptAt = &at
	c.s.LastCycleDurationMs = durationMs
	c.totalDurationMs += durationMs
	c.s.AverageCycleDurationMs = float64(c.totalDurationMs) / float64(c.s.TotalCycles)

	switch outcome {
	case CycleSynced:
		c.s.SuccessfulCycles++
		c.s.ConsecutiveFailures = 0
		c.s.LastSuccessAt = &at
	case CycleConflict:
		c.s.SuccessfulCycles++
		c.s.ConflictCycles++
		c.s.ConsecutiveFailures = 0
		c.s.LastSuccessAt = &at
	case CycleOffline:
		c.s.FailedCycles++
		c.s.ConsecutiveFailures++
	}

	if c.s.TotalCycles > 0 {
		c.s.SuccessRatePercent = 100 * float64(c.s.SuccessfulCycles) / float64(c.s.TotalCycles)
	}
}

// RecordProviderSelected records a provider change (§4.8
// provider_selected_events).
func (c *Collector) RecordProviderSelected(provider string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.SelectedProvider = provider
	c.s.ProviderSelectedEvents++
}

// RecordRuntimeProfileChanged records a profile change (§4.8
// runtime_profile_changed_events).
func (c *Collector) RecordRuntimeProfileChanged(p profile.Profile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.RuntimeProfile = p
	c.s.RuntimeProfileChanged++
}

// RecordValidationRejected records one `validation_rejected` event
// (§4.7 clamp, §4.8 validation_rejected_events) as a warning, never a
// surfaced error.
func (c *Collector) RecordValidationRejected(warning string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.ValidationRejectedEvents++
	c.s.LastWarning = warning
}

// Snapshot returns a copy of the current aggregate.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s
}

// ConflictObservability is the parallel aggregate derived from the conflict
// tables (§4.8), computed on demand rather than accumulated in memory.
type ConflictObservability struct {
	Total                  int64
	Open                   int64
	Resolved               int64
	Ignored                int64
	RetriedEvents          int64
	ExportedEvents         int64
	MedianResolutionTimeMs int64
	LatestDetectedAt       *time.Time
	LatestResolvedAt       *time.Time
}

// ComputeConflictObservability derives the conflict-observability aggregate
// from the current store state.
func ComputeConflictObservability(db *store.DB) (ConflictObservability, error) {
	var obs ConflictObservability

	open, err := conflict.ListByStatus(db, conflict.StatusOpen)
	if err != nil {
		return obs, err
	}
	resolved, err := conflict.ListByStatus(db, conflict.StatusResolved)
	if err != nil {
		return obs, err
	}
	ignored, err := conflict.ListByStatus(db, conflict.StatusIgnored)
	if err != nil {
		return obs, err
	}

	obs.Open = int64(len(open))
	obs.Resolved = int64(len(resolved))
	obs.Ignored = int64(len(ignored))
	obs.Total = obs.Open + obs.Resolved + obs.Ignored

	var resolutionDurationsMs []int64
	for _, all := range [][]conflict.Record{open, resolved, ignored} {
		for _, rec := range all {
			if obs.LatestDetectedAt == nil || rec.DetectedAt.After(*obs.LatestDetectedAt) {
				d := rec.DetectedAt
				obs.LatestDetectedAt = &d
			}
			if rec.ResolvedAt != nil {
				if obs.LatestResolvedAt == nil || rec.ResolvedAt.After(*obs.LatestResolvedAt) {
					r := *rec.ResolvedAt
					obs.LatestResolvedAt = &r
				}
				resolutionDurationsMs = append(resolutionDurationsMs, rec.ResolvedAt.Sub(rec.DetectedAt).Milliseconds())
			}

			events, err := conflict.ListEvents(db, rec.ID)
			if err != nil {
				return obs, err
			}
			for _, ev := range events {
				switch ev.EventType {
				case conflict.EventRetried:
					obs.RetriedEvents++
				case conflict.EventExported:
					obs.ExportedEvents++
				}
			}
		}
	}

	obs.MedianResolutionTimeMs = median(resolutionDurationsMs)
	return obs, nil
}

func median(vs []int64) int64 {
	if len(vs) == 0 {
		return 0
	}
	sorted := append([]int64(nil), vs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
