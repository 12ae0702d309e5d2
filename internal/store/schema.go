package store

// SchemaVersion is the current database schema version.
const SchemaVersion = 1

const schema = `
-- Tasks table
CREATE TABLE IF NOT EXISTS tasks (
    id                TEXT PRIMARY KEY,
    title             TEXT NOT NULL,
    description       TEXT DEFAULT '',
    notes             TEXT DEFAULT '',
    project_id        TEXT DEFAULT '',
    priority          TEXT NOT NULL DEFAULT 'NORMAL',
    is_important      INTEGER NOT NULL DEFAULT 0,
    status            TEXT NOT NULL DEFAULT 'TODO',
    due_at            DATETIME,
    remind_at         DATETIME,
    recurrence        TEXT NOT NULL DEFAULT 'NONE',
    created_at        DATETIME NOT NULL,
    updated_at        DATETIME NOT NULL,
    updated_by_device TEXT NOT NULL DEFAULT '',
    sync_version      INTEGER NOT NULL DEFAULT 0,
    deleted_at        DATETIME,
    FOREIGN KEY (project_id) REFERENCES projects(id)
);
CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id);

-- Projects table
CREATE TABLE IF NOT EXISTS projects (
    id                TEXT PRIMARY KEY,
    name              TEXT NOT NULL,
    archived          INTEGER NOT NULL DEFAULT 0,
    created_at        DATETIME NOT NULL,
    updated_at        DATETIME NOT NULL,
    updated_by_device TEXT NOT NULL DEFAULT '',
    sync_version      INTEGER NOT NULL DEFAULT 0,
    deleted_at        DATETIME
);

-- Subtasks table
CREATE TABLE IF NOT EXISTS subtasks (
    id                TEXT PRIMARY KEY,
    task_id           TEXT NOT NULL,
    title             TEXT NOT NULL,
    done              INTEGER NOT NULL DEFAULT 0,
    created_at        DATETIME NOT NULL,
    updated_at        DATETIME NOT NULL,
    updated_by_device TEXT NOT NULL DEFAULT '',
    sync_version      INTEGER NOT NULL DEFAULT 0,
    deleted_at        DATETIME,
    FOREIGN KEY (task_id) REFERENCES tasks(id)
);
CREATE INDEX IF NOT EXISTS idx_subtasks_task ON subtasks(task_id);

-- Task changelogs table
CREATE TABLE IF NOT EXISTS task_changelogs (
    id                TEXT PRIMARY KEY,
    task_id           TEXT NOT NULL,
    message           TEXT NOT NULL DEFAULT '',
    created_at        DATETIME NOT NULL,
    updated_at        DATETIME NOT NULL,
    updated_by_device TEXT NOT NULL DEFAULT '',
    sync_version      INTEGER NOT NULL DEFAULT 0,
    deleted_at        DATETIME,
    FOREIGN KEY (task_id) REFERENCES tasks(id)
);
CREATE INDEX IF NOT EXISTS idx_changelogs_task ON task_changelogs(task_id);

-- Task templates table
CREATE TABLE IF NOT EXISTS task_templates (
    id                TEXT PRIMARY KEY,
    name              TEXT NOT NULL,
    title_template    TEXT NOT NULL DEFAULT '',
    priority          TEXT NOT NULL DEFAULT 'NORMAL',
    recurrence        TEXT NOT NULL DEFAULT 'NONE',
    created_at        DATETIME NOT NULL,
    updated_at        DATETIME NOT NULL,
    updated_by_device TEXT NOT NULL DEFAULT '',
    sync_version      INTEGER NOT NULL DEFAULT 0,
    deleted_at        DATETIME
);

-- Outbox: append-only queue of pending local changes (C3)
CREATE TABLE IF NOT EXISTS outbox (
    local_id            INTEGER PRIMARY KEY AUTOINCREMENT,
    entity_type         TEXT NOT NULL,
    entity_id           TEXT NOT NULL,
    operation           TEXT NOT NULL,
    updated_at          DATETIME NOT NULL,
    updated_by_device   TEXT NOT NULL,
    sync_version        INTEGER NOT NULL,
    payload             TEXT NOT NULL,
    idempotency_key     TEXT NOT NULL UNIQUE,
    attempt_count       INTEGER NOT NULL DEFAULT 0,
    last_failure_reason TEXT
);
CREATE INDEX IF NOT EXISTS idx_outbox_entity ON outbox(entity_type, entity_id);

-- Checkpoint: exactly one row (C4)
CREATE TABLE IF NOT EXISTS checkpoint (
    device_id       TEXT PRIMARY KEY,
    server_cursor   TEXT,
    last_synced_at  DATETIME
);

-- Conflicts (C6)
CREATE TABLE IF NOT EXISTS conflicts (
    id                      TEXT PRIMARY KEY,
    entity_type             TEXT NOT NULL,
    entity_id               TEXT NOT NULL,
    conflict_type           TEXT NOT NULL,
    reason_code             TEXT NOT NULL,
    message                 TEXT NOT NULL DEFAULT '',
    local_payload_json      TEXT,
    remote_payload_json     TEXT,
    incoming_idempotency_key TEXT NOT NULL,
    status                  TEXT NOT NULL DEFAULT 'open',
    resolution_strategy     TEXT,
    resolved_by_device      TEXT,
    detected_at             DATETIME NOT NULL,
    resolved_at             DATETIME
);
CREATE INDEX IF NOT EXISTS idx_conflicts_idempotency ON conflicts(incoming_idempotency_key);
CREATE INDEX IF NOT EXISTS idx_conflicts_status ON conflicts(status);

-- Conflict events (C6), retention: at most 200 per conflict
CREATE TABLE IF NOT EXISTS conflict_events (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    conflict_id     TEXT NOT NULL,
    event_type      TEXT NOT NULL,
    event_payload_json TEXT,
    created_at      DATETIME NOT NULL,
    FOREIGN KEY (conflict_id) REFERENCES conflicts(id)
);
CREATE INDEX IF NOT EXISTS idx_conflict_events_conflict ON conflict_events(conflict_id, id);

-- Settings key/value store
CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`
