// Package resolution implements C7: the Conflict Resolution Engine.
// Resolve applies a user-selected strategy to an open conflict, updates the
// entity if the strategy calls for it, and emits a deterministic,
// idempotent SETTING outbox record as the durable cross-device record of
// the decision (§4.5).
package resolution

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/solostack/kernel/internal/conflict"
	"github.com/solostack/kernel/internal/kernelerr"
	"github.com/solostack/kernel/internal/models"
	"github.com/solostack/kernel/internal/outbox"
	"github.com/solostack/kernel/internal/store"
)

// Input carries a resolution request (§4.5).
type Input struct {
	ConflictID        string
	Strategy          conflict.Strategy
	ResolutionPayload map[string]any
	ResolvedByDevice  string
}

// Engine resolves conflicts.
type Engine struct {
	db *store.DB
}

// New returns an Engine bound to db.
func New(db *store.DB) *Engine {
	return &Engine{db: db}
}

// Resolve applies in.Strategy to the conflict in.ConflictID. Calling Resolve
// twice with the same (conflict_id, strategy, resolver) is a no-op the
// second time: no second outbox row, no second resolved event (§8).
func (e *Engine) Resolve(in Input) error {
	return e.db.WithWriteLock(func() error {
		tx, err := e.db.Conn().Begin()
		if err != nil {
			return kernelerr.Storage("begin resolve tx", err)
		}
		defer tx.Rollback()

		if err := e.resolveTx(tx, in); err != nil {
			return err
		}
		return tx.Commit()
	})
}

func (e *Engine) resolveTx(tx *sql.Tx, in Input) error {
	c, err := conflict.GetTx(tx, in.ConflictID)
	if err != nil {
		return kernelerr.Storage("load conflict", err)
	}
	if c == nil {
		return kernelerr.NotFound("conflict " + in.ConflictID)
	}

	// Idempotent replay: already resolved (or ignored) with this exact
	// (strategy, resolver).
	if (c.Status == conflict.StatusResolved || c.Status == conflict.StatusIgnored) &&
		c.ResolutionStrategy != nil && *c.ResolutionStrategy == in.Strategy &&
		c.ResolvedByDevice != nil && *c.ResolvedByDevice == in.ResolvedByDevice {
		return nil
	}

	now := time.Now()

	switch in.Strategy {
	case conflict.StrategyKeepLocal:
		// local row wins; nothing to write.

	case conflict.StrategyKeepRemote:
		if err := applyRemote(tx, c); err != nil {
			return err
		}

	case conflict.StrategyManualMerge:
		mergedText, _ := in.ResolutionPayload["merged_text"].(string)
		if mergedText == "" {
			return &models.ValidationError{Reason: "EMPTY_MANUAL_MERGE_TEXT", Message: "manual_merge requires a non-empty merged_text"}
		}
		if err := applyManualMerge(tx, c, mergedText, in.ResolvedByDevice, now); err != nil {
			return err
		}

	case conflict.StrategyRetry:
		// no entity write: the conflict is marked resolved so the next replay
		// with the same idempotency key is free to apply cleanly (§4.5 step 2).

	case conflict.StrategyIgnore:
		// no entity write: explicit ignore leaves local state as-is and closes
		// the conflict without endorsing either side (§4.5 step 5, "ignored
		// for explicit ignore").

	default:
		return &models.ValidationError{Reason: "UNKNOWN_RESOLUTION_STRATEGY", Message: string(in.Strategy)}
	}

	eventType := conflict.EventResolved
	status := conflict.StatusResolved
	switch in.Strategy {
	case conflict.StrategyRetry:
		eventType = conflict.EventRetried
	case conflict.StrategyIgnore:
		eventType = conflict.EventIgnored
		status = conflict.StatusIgnored
	}
	payload, _ := json.Marshal(map[string]any{"strategy": string(in.Strategy), "metadata": in.ResolutionPayload})
	if err := conflict.AppendEventTx(tx, c.ID, eventType, payload, now); err != nil {
		return err
	}

	strategy := in.Strategy
	resolver := in.ResolvedByDevice
	updated := *c
	updated.Status = status
	updated.ResolutionStrategy = &strategy
	updated.ResolvedByDevice = &resolver
	updated.ResolvedAt = &now
	if err := conflict.UpdateTx(tx, updated); err != nil {
		return err
	}

	return emitResolutionOutbox(tx, c.ID, in.Strategy, in.ResolvedByDevice, now)
}

// applyRemote writes the conflict's stored remote payload to the entity
// table using the conflict's remote sync_version/updated_by_device (§4.5
// keep_remote).
func applyRemote(tx *sql.Tx, c *conflict.Record) error {
	if len(c.RemotePayloadJSON) == 0 {
		return fmt.Errorf("conflict %s has no remote payload to apply", c.ID)
	}

	switch c.EntityType {
	case models.EntityTask:
		var t models.Task
		if err := json.Unmarshal(c.RemotePayloadJSON, &t); err != nil {
			return fmt.Errorf("unmarshal remote task payload: %w", err)
		}
		t.ID = c.EntityID
		return store.PutTaskTx(tx, &t)

	case models.EntityProject:
		var p models.Project
		if err := json.Unmarshal(c.RemotePayloadJSON, &p); err != nil {
			return fmt.Errorf("unmarshal remote project payload: %w", err)
		}
		p.ID = c.EntityID
		return store.PutProjectTx(tx, &p)

	case models.EntitySubtask:
		var s models.Subtask
		if err := json.Unmarshal(c.RemotePayloadJSON, &s); err != nil {
			return fmt.Errorf("unmarshal remote subtask payload: %w", err)
		}
		s.ID = c.EntityID
		return store.PutSubtaskTx(tx, &s)

	case models.EntityTaskChangelog:
		var cg models.TaskChangelog
		if err := json.Unmarshal(c.RemotePayloadJSON, &cg); err != nil {
			return fmt.Errorf("unmarshal remote task changelog payload: %w", err)
		}
		cg.ID = c.EntityID
		return store.PutTaskChangelogTx(tx, &cg)

	case models.EntityTaskTemplate:
		var tpl models.TaskTemplate
		if err := json.Unmarshal(c.RemotePayloadJSON, &tpl); err != nil {
			return fmt.Errorf("unmarshal remote task template payload: %w", err)
		}
		tpl.ID = c.EntityID
		return store.PutTaskTemplateTx(tx, &tpl)

	default:
		return fmt.Errorf("unrecognized entity type %q", c.EntityType)
	}
}

// applyManualMerge implements §4.5's manual_merge: merged_text replaces the
// notes body, everything else inherits from local, sync_version becomes
// max(local, remote)+1.
func applyManualMerge(tx *sql.Tx, c *conflict.Record, mergedText, resolvedByDevice string, now time.Time) error {
	if c.EntityType != models.EntityTask {
		return fmt.Errorf("manual_merge is only defined for tasks, got %q", c.EntityType)
	}

	local, err := store.GetTaskTx(tx, c.EntityID)
	if err != nil {
		return kernelerr.Storage("load local task for manual merge", err)
	}
	if local == nil {
		return fmt.Errorf("manual_merge: local task %s no longer exists", c.EntityID)
	}

	remoteSyncVersion := local.SyncVersion
	if len(c.RemotePayloadJSON) > 0 {
		var remote models.Task
		if err := json.Unmarshal(c.RemotePayloadJSON, &remote); err == nil && remote.SyncVersion > remoteSyncVersion {
			remoteSyncVersion = remote.SyncVersion
		}
	}

	merged := *local
	merged.Notes = mergedText
	merged.SyncVersion = max64(local.SyncVersion, remoteSyncVersion) + 1
	merged.UpdatedByDevice = resolvedByDevice
	merged.UpdatedAt = now

	return store.PutTaskTx(tx, &merged)
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// emitResolutionOutbox appends the deterministic SETTING outbox record that
// durably records the decision (§3, §4.5 step 4).
func emitResolutionOutbox(tx *sql.Tx, conflictID string, strategy conflict.Strategy, resolvedByDevice string, now time.Time) error {
	key := store.ResolutionIdempotencyKey(resolvedByDevice, conflictID, string(strategy))
	entityID := "local.sync.conflict_resolution." + conflictID

	payload, err := json.Marshal(map[string]string{
		"conflict_id": conflictID,
		"strategy":    string(strategy),
	})
	if err != nil {
		return fmt.Errorf("marshal resolution outbox payload: %w", err)
	}

	rec := outbox.Record{
		EntityType:      models.EntitySetting,
		EntityID:        entityID,
		Operation:       models.OperationUpsert,
		UpdatedAt:       now,
		UpdatedByDevice: resolvedByDevice,
		SyncVersion:     1,
		Payload:         payload,
		IdempotencyKey:  key,
	}
	if err := outbox.AppendTx(tx, rec); err != nil {
		// Deterministic key collision means this exact resolution was already
		// emitted — idempotent per §8, not an error.
		if isUniqueConstraintErr(err) {
			return nil
		}
		return err
	}
	return nil
}

func isUniqueConstraintErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}
