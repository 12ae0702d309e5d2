// Package syncrunner implements C8: the Sync Runner. It orchestrates one
// full cycle — drain push, pull pages, apply incoming, update checkpoint —
// gated single-flight per device, with exponential backoff on consecutive
// failures (§4.6).
package syncrunner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/solostack/kernel/internal/applier"
	"github.com/solostack/kernel/internal/checkpoint"
	"github.com/solostack/kernel/internal/diagnostics"
	"github.com/solostack/kernel/internal/kernelerr"
	"github.com/solostack/kernel/internal/outbox"
	"github.com/solostack/kernel/internal/profile"
	"github.com/solostack/kernel/internal/store"
	"github.com/solostack/kernel/internal/transport"
)

// Status is the cycle's externally-observable outcome (§4.6).
type Status string

const (
	StatusSynced   Status = "SYNCED"
	StatusOffline  Status = "OFFLINE"
	StatusConflict Status = "CONFLICT"
)

// Summary is the cycle result returned to callers (§4.6 step 4).
type Summary struct {
	Status              Status
	Pushed              int
	Accepted            int
	Rejected            int
	Pulled              int
	Applied             int
	Skipped             int
	Conflicts           int
	FailedOutboxChanges int
}

// Runner orchestrates sync cycles for one device against one Transport.
type Runner struct {
	db         *store.DB
	deviceID   string
	transport  transport.Transport
	applier    *applier.Applier
	diagnostic *diagnostics.Collector

	mu                  sync.Mutex // guards current
	current             *cycleCall
	inFlight            int32 // atomic flag: 1 while a cycle runs
	consecutiveFailures int64
}

// cycleCall represents the one cycle currently executing; concurrent Run
// callers that arrive while it's in flight coalesce onto it instead of
// starting their own (§4.6: "overlapping triggers coalesce to the
// in-flight cycle").
type cycleCall struct {
	done    chan struct{}
	summary Summary
	err     error
}

// New returns a Runner bound to db/deviceID/t, recording outcomes in diag.
func New(db *store.DB, deviceID string, t transport.Transport, diag *diagnostics.Collector) *Runner {
	return &Runner{
		db:         db,
		deviceID:   deviceID,
		transport:  t,
		applier:    applier.New(db),
		diagnostic: diag,
	}
}

// Run executes one cycle using p as the runtime profile (already
// normalized, §4.7). At most one cycle per device runs at a time; a caller
// that arrives while a cycle is already in flight coalesces onto it and
// receives its result, rather than starting a second cycle (§4.6).
func (r *Runner) Run(ctx context.Context, p profile.Profile) (Summary, error) {
	r.mu.Lock()
	if r.current != nil {
		call := r.current
		r.mu.Unlock()
		<-call.done
		return call.summary, call.err
	}
	call := &cycleCall{done: make(chan struct{})}
	r.current = call
	r.mu.Unlock()

	atomic.StoreInt32(&r.inFlight, 1)
	summary, err := r.runAndRecord(ctx, p)

	r.mu.Lock()
	call.summary, call.err = summary, err
	r.current = nil
	atomic.StoreInt32(&r.inFlight, 0)
	r.mu.Unlock()
	close(call.done)

	return summary, err
}

func (r *Runner) runAndRecord(ctx context.Context, p profile.Profile) (Summary, error) {
	start := time.Now()
	summary, err := r.runCycle(ctx, p)
	duration := time.Since(start)

	outcome := diagnostics.CycleSynced
	switch {
	case err != nil && kernelerrIsTransport(err):
		outcome = diagnostics.CycleOffline
		atomic.AddInt64(&r.consecutiveFailures, 1)
	case err != nil:
		outcome = diagnostics.CycleConflict
		atomic.AddInt64(&r.consecutiveFailures, 1)
	case summary.Conflicts > 0 || summary.Rejected > 0:
		outcome = diagnostics.CycleConflict
		atomic.StoreInt64(&r.consecutiveFailures, 0)
	default:
		atomic.StoreInt64(&r.consecutiveFailures, 0)
	}
	if r.diagnostic != nil {
		r.diagnostic.RecordCycle(outcome, duration.Milliseconds(), time.Now())
	}

	switch outcome {
	case diagnostics.CycleOffline:
		summary.Status = StatusOffline
	case diagnostics.CycleConflict:
		summary.Status = StatusConflict
	default:
		summary.Status = StatusSynced
	}

	return summary, err
}

func kernelerrIsTransport(err error) bool {
	return errors.Is(err, kernelerr.ErrTransport)
}

// IsInFlight reports whether a cycle is currently executing.
func (r *Runner) IsInFlight() bool {
	return atomic.LoadInt32(&r.inFlight) == 1
}

// NextBackoff returns the §4.6 retry delay for the current consecutive
// failure count: min(300s, 5s*2^(n-1)) for n>=1, 0 if there have been no
// failures since the last success.
func (r *Runner) NextBackoff() time.Duration {
	n := atomic.LoadInt64(&r.consecutiveFailures)
	if n <= 0 {
		return 0
	}
	d := 5 * time.Second
	for i := int64(1); i < n; i++ {
		d *= 2
		if d >= 300*time.Second {
			return 300 * time.Second
		}
	}
	return d
}

func (r *Runner) runCycle(ctx context.Context, p profile.Profile) (Summary, error) {
	var summary Summary

	// 1. Drain push.
	pending, err := outbox.List(r.db, p.PushLimit)
	if err != nil {
		return summary, kernelerr.Storage("list outbox for push", err)
	}
	summary.Pushed = len(pending)

	var lastCursor *string
	if len(pending) > 0 {
		req := transport.PushRequest{DeviceID: r.deviceID, Changes: toWireChanges(pending)}
		resp, err := r.transport.Push(ctx, req)
		if err != nil {
			return summary, kernelerr.Transport("push", err)
		}

		summary.Accepted = len(resp.Accepted)
		summary.Rejected = len(resp.Rejected)
		if len(resp.Accepted) > 0 {
			if err := outbox.Remove(r.db, resp.Accepted); err != nil {
				return summary, kernelerr.Storage("remove accepted outbox rows", err)
			}
		}
		for _, rej := range resp.Rejected {
			if err := outbox.MarkFailed(r.db, rej.IdempotencyKey, rej.Reason); err != nil {
				return summary, kernelerr.Storage("mark outbox row failed", err)
			}
			summary.FailedOutboxChanges++
		}
		lastCursor = resp.ServerCursor
	}

	// 2. Pull pages.
	cp, err := checkpoint.Get(r.db, r.deviceID)
	if err != nil {
		return summary, kernelerr.Storage("get checkpoint", err)
	}
	cursor := cp.ServerCursor
	if lastCursor != nil {
		// Push returned a cursor/server_time: it supersedes whatever
		// checkpoint had on disk before this cycle started (§4.6 step 1).
		cursor = lastCursor
	}
	var lastServerTime time.Time
	haveServerTime := false

	for page := 0; page < p.MaxPullPages; page++ {
		select {
		case <-ctx.Done():
			// Cancelled pull: commit what's applied, don't advance past
			// unprocessed changes (§5).
			if err := r.persistCheckpoint(cursor, lastServerTime, haveServerTime); err != nil {
				return summary, err
			}
			return summary, kernelerr.Cancelled("pull cancelled")
		default:
		}

		resp, err := r.transport.Pull(ctx, transport.PullRequest{DeviceID: r.deviceID, Cursor: cursor, Limit: p.PullLimit})
		if err != nil {
			if cerr := r.persistCheckpoint(cursor, lastServerTime, haveServerTime); cerr != nil {
				return summary, cerr
			}
			return summary, kernelerr.Transport("pull", err)
		}

		for _, change := range resp.Changes {
			summary.Pulled++
			result, err := r.applier.Apply(change)
			if err != nil {
				summary.Conflicts++ // any exception converted to "failed", tallied alongside conflicts (§4.6)
				slog.Warn("apply incoming change failed", "entity_type", change.EntityType, "entity_id", change.EntityID, "err", err)
				continue
			}
			switch result {
			case applier.ResultApplied:
				summary.Applied++
			case applier.ResultSkipped:
				summary.Skipped++
			case applier.ResultConflict:
				summary.Conflicts++
			}
		}

		serverCursor := resp.ServerCursor
		cursor = &serverCursor
		lastServerTime = resp.ServerTime
		haveServerTime = true

		if !resp.HasMore {
			break
		}
	}

	// 3. Checkpoint.
	if err := r.persistCheckpoint(cursor, lastServerTime, haveServerTime); err != nil {
		return summary, err
	}

	return summary, nil
}

func (r *Runner) persistCheckpoint(cursor *string, serverTime time.Time, haveServerTime bool) error {
	at := time.Now()
	if haveServerTime {
		at = serverTime
	}
	if err := checkpoint.Set(r.db, r.deviceID, cursor, at); err != nil {
		return kernelerr.Storage("set checkpoint", err)
	}
	return nil
}

func toWireChanges(records []outbox.Record) []transport.OutboxChange {
	changes := make([]transport.OutboxChange, 0, len(records))
	for _, rec := range records {
		changes = append(changes, transport.OutboxChange{
			EntityType:      string(rec.EntityType),
			EntityID:        rec.EntityID,
			Operation:       string(rec.Operation),
			UpdatedAt:       rec.UpdatedAt,
			UpdatedByDevice: rec.UpdatedByDevice,
			SyncVersion:     rec.SyncVersion,
			Payload:         []byte(rec.Payload),
			IdempotencyKey:  rec.IdempotencyKey,
		})
	}
	return changes
}
