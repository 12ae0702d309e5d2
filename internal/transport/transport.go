// Package transport defines §6's Transport contract — the abstract
// push/pull boundary the Sync Runner drives. The kernel is specified
// against this interface only; concrete HTTP bindings are an external
// collaborator (spec.md §1) and deliberately not provided here. An
// in-memory reference implementation lives in memory.go for tests.
package transport

import (
	"context"
	"time"

	"github.com/solostack/kernel/internal/applier"
)

// Rejection is one rejected outbox record and the server's reason (§6).
type Rejection struct {
	IdempotencyKey string
	Reason         string
}

// PushRequest is the push request shape (§6).
type PushRequest struct {
	DeviceID string
	Changes  []OutboxChange
}

// OutboxChange is the wire shape of an OutboxRecord as pushed (§3, §6).
type OutboxChange struct {
	EntityType      string
	EntityID        string
	Operation       string
	UpdatedAt       time.Time
	UpdatedByDevice string
	SyncVersion     int64
	Payload         []byte
	IdempotencyKey  string
}

// PushResponse is the push response shape (§6).
type PushResponse struct {
	Accepted     []string
	Rejected     []Rejection
	ServerCursor *string
	ServerTime   *time.Time
}

// PullRequest is the pull request shape (§6).
type PullRequest struct {
	DeviceID string
	Cursor   *string
	Limit    int
}

// PullResponse is the pull response shape (§6).
type PullResponse struct {
	ServerCursor string
	ServerTime   time.Time
	HasMore      bool
	Changes      []applier.IncomingChange
}

// Transport is the abstract push/pull boundary (§6). Implementations must
// treat idempotency keys as globally unique deduplication tokens.
type Transport interface {
	Push(ctx context.Context, req PushRequest) (PushResponse, error)
	Pull(ctx context.Context, req PullRequest) (PullResponse, error)
}
