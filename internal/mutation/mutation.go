// Package mutation implements C2: the transactional Mutation API (§4.1).
// Every exported call opens one write transaction that validates invariants,
// writes the entity, bumps sync_version, stamps updated_by_device, and
// appends exactly one OutboxRecord — or rolls back entirely.
package mutation

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/solostack/kernel/internal/kernelerr"
	"github.com/solostack/kernel/internal/models"
	"github.com/solostack/kernel/internal/outbox"
	"github.com/solostack/kernel/internal/store"
)

// API is the Mutation API bound to one local device identity.
type API struct {
	db       *store.DB
	deviceID string
}

// New returns a mutation API reading the local device id from db.
func New(db *store.DB) (*API, error) {
	deviceID, err := db.DeviceID()
	if err != nil {
		return nil, fmt.Errorf("mutation api: %w", err)
	}
	return &API{db: db, deviceID: deviceID}, nil
}

// withMutation runs fn inside a write-locked transaction, committing on
// success and rolling back on any error (§4.1: "failure at any step rolls
// back both entity and outbox writes").
func (a *API) withMutation(fn func(tx *sql.Tx) error) error {
	return a.db.WithWriteLock(func() error {
		tx, err := a.db.Conn().Begin()
		if err != nil {
			return kernelerr.Storage("begin mutation tx", err)
		}
		defer tx.Rollback()

		if err := fn(tx); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return kernelerr.Storage("commit mutation tx", err)
		}
		return nil
	})
}

func (a *API) appendOutbox(tx *sql.Tx, entityType models.EntityType, entityID string, op models.Operation, syncVersion int64, updatedAt time.Time, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}
	rec := outbox.Record{
		EntityType:      entityType,
		EntityID:        entityID,
		Operation:       op,
		UpdatedAt:       updatedAt,
		UpdatedByDevice: a.deviceID,
		SyncVersion:     syncVersion,
		Payload:         body,
		IdempotencyKey:  store.IdempotencyKey(a.deviceID, string(entityType), entityID, syncVersion),
	}
	if err := outbox.AppendTx(tx, rec); err != nil {
		return kernelerr.Storage("append outbox record", err)
	}
	return nil
}

// UpsertTask validates t against §3 invariants, writes it, and enqueues an
// outbox record. t.ID must already be set by the caller (internal/store.NewID).
func (a *API) UpsertTask(t *models.Task) error {
	return a.withMutation(func(tx *sql.Tx) error {
		existing, err := store.GetTaskTx(tx, t.ID)
		if err != nil {
			return kernelerr.Storage("read existing task", err)
		}

		projectExists := func(id string) bool {
			ok, _ := store.ProjectExistsTx(tx, id)
			return ok
		}
		if err := models.ValidateTask(t, projectExists); err != nil {
			return err
		}

		now := time.Now()
		if existing == nil {
			t.CreatedAt = now
			t.SyncVersion = 1
		} else {
			t.CreatedAt = existing.CreatedAt
			t.SyncVersion = existing.SyncVersion + 1
		}
		t.UpdatedAt = now
		t.UpdatedByDevice = a.deviceID

		if err := store.PutTaskTx(tx, t); err != nil {
			return kernelerr.Storage("write task", err)
		}
		return a.appendOutbox(tx, models.EntityTask, t.ID, models.OperationUpsert, t.SyncVersion, now, t)
	})
}

// DeleteTask removes a task and enqueues a DELETE outbox record.
func (a *API) DeleteTask(id string) error {
	return a.withMutation(func(tx *sql.Tx) error {
		existing, err := store.GetTaskTx(tx, id)
		if err != nil {
			return kernelerr.Storage("read existing task", err)
		}
		if existing == nil {
			return kernelerr.NotFound("task " + id)
		}

		now := time.Now()
		syncVersion := existing.SyncVersion + 1
		if err := store.DeleteTaskTx(tx, id); err != nil {
			return kernelerr.Storage("delete task", err)
		}
		return a.appendOutbox(tx, models.EntityTask, id, models.OperationDelete, syncVersion, now, map[string]string{"id": id})
	})
}

// UpsertProject validates p and writes it.
func (a *API) UpsertProject(p *models.Project) error {
	return a.withMutation(func(tx *sql.Tx) error {
		if err := models.ValidateProject(p); err != nil {
			return err
		}

		existing, err := store.GetProjectTx(tx, p.ID)
		if err != nil {
			return kernelerr.Storage("read existing project", err)
		}

		now := time.Now()
		if existing == nil {
			p.CreatedAt = now
			p.SyncVersion = 1
		} else {
			p.CreatedAt = existing.CreatedAt
			p.SyncVersion = existing.SyncVersion + 1
		}
		p.UpdatedAt = now
		p.UpdatedByDevice = a.deviceID

		if err := store.PutProjectTx(tx, p); err != nil {
			return kernelerr.Storage("write project", err)
		}
		return a.appendOutbox(tx, models.EntityProject, p.ID, models.OperationUpsert, p.SyncVersion, now, p)
	})
}

// DeleteProject removes a project and enqueues a DELETE outbox record.
func (a *API) DeleteProject(id string) error {
	return a.withMutation(func(tx *sql.Tx) error {
		existing, err := store.GetProjectTx(tx, id)
		if err != nil {
			return kernelerr.Storage("read existing project", err)
		}
		if existing == nil {
			return kernelerr.NotFound("project " + id)
		}

		now := time.Now()
		syncVersion := existing.SyncVersion + 1
		if err := store.DeleteProjectTx(tx, id); err != nil {
			return kernelerr.Storage("delete project", err)
		}
		return a.appendOutbox(tx, models.EntityProject, id, models.OperationDelete, syncVersion, now, map[string]string{"id": id})
	})
}

// UpsertSubtask validates s and writes it.
func (a *API) UpsertSubtask(s *models.Subtask) error {
	return a.withMutation(func(tx *sql.Tx) error {
		if err := models.ValidateSubtask(s); err != nil {
			return err
		}

		existing, err := store.GetSubtaskTx(tx, s.ID)
		if err != nil {
			return kernelerr.Storage("read existing subtask", err)
		}

		now := time.Now()
		if existing == nil {
			s.CreatedAt = now
			s.SyncVersion = 1
		} else {
			s.CreatedAt = existing.CreatedAt
			s.SyncVersion = existing.SyncVersion + 1
		}
		s.UpdatedAt = now
		s.UpdatedByDevice = a.deviceID

		if err := store.PutSubtaskTx(tx, s); err != nil {
			return kernelerr.Storage("write subtask", err)
		}
		return a.appendOutbox(tx, models.EntitySubtask, s.ID, models.OperationUpsert, s.SyncVersion, now, s)
	})
}

// DeleteSubtask removes a subtask and enqueues a DELETE outbox record.
func (a *API) DeleteSubtask(id string) error {
	return a.withMutation(func(tx *sql.Tx) error {
		existing, err := store.GetSubtaskTx(tx, id)
		if err != nil {
			return kernelerr.Storage("read existing subtask", err)
		}
		if existing == nil {
			return kernelerr.NotFound("subtask " + id)
		}

		now := time.Now()
		syncVersion := existing.SyncVersion + 1
		if err := store.DeleteSubtaskTx(tx, id); err != nil {
			return kernelerr.Storage("delete subtask", err)
		}
		return a.appendOutbox(tx, models.EntitySubtask, id, models.OperationDelete, syncVersion, now, map[string]string{"id": id})
	})
}

// UpsertTaskChangelog writes a changelog entry.
func (a *API) UpsertTaskChangelog(c *models.TaskChangelog) error {
	return a.withMutation(func(tx *sql.Tx) error {
		existing, err := store.GetTaskChangelogTx(tx, c.ID)
		if err != nil {
			return kernelerr.Storage("read existing task changelog", err)
		}

		now := time.Now()
		if existing == nil {
			c.CreatedAt = now
			c.SyncVersion = 1
		} else {
			c.CreatedAt = existing.CreatedAt
			c.SyncVersion = existing.SyncVersion + 1
		}
		c.UpdatedAt = now
		c.UpdatedByDevice = a.deviceID

		if err := store.PutTaskChangelogTx(tx, c); err != nil {
			return kernelerr.Storage("write task changelog", err)
		}
		return a.appendOutbox(tx, models.EntityTaskChangelog, c.ID, models.OperationUpsert, c.SyncVersion, now, c)
	})
}

// DeleteTaskChangelog removes a changelog entry and enqueues a DELETE outbox record.
func (a *API) DeleteTaskChangelog(id string) error {
	return a.withMutation(func(tx *sql.Tx) error {
		existing, err := store.GetTaskChangelogTx(tx, id)
		if err != nil {
			return kernelerr.Storage("read existing task changelog", err)
		}
		if existing == nil {
			return kernelerr.NotFound("task changelog " + id)
		}

		now := time.Now()
		syncVersion := existing.SyncVersion + 1
		if err := store.DeleteTaskChangelogTx(tx, id); err != nil {
			return kernelerr.Storage("delete task changelog", err)
		}
		return a.appendOutbox(tx, models.EntityTaskChangelog, id, models.OperationDelete, syncVersion, now, map[string]string{"id": id})
	})
}

// UpsertTaskTemplate writes a task template.
func (a *API) UpsertTaskTemplate(t *models.TaskTemplate) error {
	return a.withMutation(func(tx *sql.Tx) error {
		existing, err := store.GetTaskTemplateTx(tx, t.ID)
		if err != nil {
			return kernelerr.Storage("read existing task template", err)
		}

		now := time.Now()
		if existing == nil {
			t.CreatedAt = now
			t.SyncVersion = 1
		} else {
			t.CreatedAt = existing.CreatedAt
			t.SyncVersion = existing.SyncVersion + 1
		}
		t.UpdatedAt = now
		t.UpdatedByDevice = a.deviceID

		if err := store.PutTaskTemplateTx(tx, t); err != nil {
			return kernelerr.Storage("write task template", err)
		}
		return a.appendOutbox(tx, models.EntityTaskTemplate, t.ID, models.OperationUpsert, t.SyncVersion, now, t)
	})
}

// DeleteTaskTemplate removes a task template and enqueues a DELETE outbox record.
func (a *API) DeleteTaskTemplate(id string) error {
	return a.withMutation(func(tx *sql.Tx) error {
		existing, err := store.GetTaskTemplateTx(tx, id)
		if err != nil {
			return kernelerr.Storage("read existing task template", err)
		}
		if existing == nil {
			return kernelerr.NotFound("task template " + id)
		}

		now := time.Now()
		syncVersion := existing.SyncVersion + 1
		if err := store.DeleteTaskTemplateTx(tx, id); err != nil {
			return kernelerr.Storage("delete task template", err)
		}
		return a.appendOutbox(tx, models.EntityTaskTemplate, id, models.OperationDelete, syncVersion, now, map[string]string{"id": id})
	})
}

// GetSetting reads a settings key (pass-through to the store; settings are
// not synchronized via the outbox, §3).
func (a *API) GetSetting(key string) (string, bool, error) {
	return a.db.GetSetting(key)
}

// SetSetting writes a settings key.
func (a *API) SetSetting(key, value string) error {
	return a.db.SetSetting(key, value)
}
