package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/solostack/kernel/internal/applier"
	"github.com/solostack/kernel/internal/models"
)

// Memory is an in-process reference Transport, grounded on the teacher's
// in-process dual-store test harness (test/syncharness/harness.go):
// a single server-side log shared by every simulated device, a monotonic
// cursor, and idempotency-key dedup on push. It exists for tests and demos,
// not as a production transport — the kernel is specified against the
// abstract Transport interface, not this implementation (§1).
type Memory struct {
	mu    sync.Mutex
	log   []loggedChange
	seen  map[string]bool
	clock func() time.Time
}

type loggedChange struct {
	seq   int64
	entry applier.IncomingChange
}

// NewMemory returns an empty in-memory transport.
func NewMemory() *Memory {
	return &Memory{seen: make(map[string]bool), clock: time.Now}
}

// Push appends req.Changes to the shared log, deduplicating by idempotency
// key (§6: "the server must treat idempotency keys as globally unique
// deduplication tokens").
func (m *Memory) Push(_ context.Context, req PushRequest) (PushResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var resp PushResponse
	for _, c := range req.Changes {
		if m.seen[c.IdempotencyKey] {
			resp.Rejected = append(resp.Rejected, Rejection{IdempotencyKey: c.IdempotencyKey, Reason: "duplicate idempotency key"})
			continue
		}
		if c.EntityType == "" || c.EntityID == "" {
			resp.Rejected = append(resp.Rejected, Rejection{IdempotencyKey: c.IdempotencyKey, Reason: "missing entity_type or entity_id"})
			continue
		}

		m.seen[c.IdempotencyKey] = true
		seq := int64(len(m.log)) + 1
		m.log = append(m.log, loggedChange{
			seq: seq,
			entry: applier.IncomingChange{
				EntityType:      models.EntityType(c.EntityType),
				EntityID:        c.EntityID,
				Operation:       models.Operation(c.Operation),
				UpdatedAt:       c.UpdatedAt,
				UpdatedByDevice: c.UpdatedByDevice,
				SyncVersion:     c.SyncVersion,
				Payload:         json.RawMessage(c.Payload),
				IdempotencyKey:  c.IdempotencyKey,
			},
		})
		resp.Accepted = append(resp.Accepted, c.IdempotencyKey)
	}

	now := m.clock()
	cursor := fmt.Sprintf("%020d", len(m.log))
	resp.ServerCursor = &cursor
	resp.ServerTime = &now
	return resp, nil
}

// Pull returns changes strictly after req.Cursor, up to req.Limit, in log
// order (§5: "remote changes are applied in pull order within a page").
func (m *Memory) Pull(_ context.Context, req PullRequest) (PullResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var after int64
	if req.Cursor != nil && *req.Cursor != "" {
		fmt.Sscanf(*req.Cursor, "%d", &after)
	}

	limit := req.Limit
	if limit <= 0 {
		limit = len(m.log)
	}

	var changes []applier.IncomingChange
	lastSeq := after
	for _, lc := range m.log {
		if lc.seq <= after {
			continue
		}
		if len(changes) >= limit {
			break
		}
		changes = append(changes, lc.entry)
		lastSeq = lc.seq
	}

	hasMore := lastSeq < int64(len(m.log))
	return PullResponse{
		ServerCursor: fmt.Sprintf("%020d", lastSeq),
		ServerTime:   m.clock(),
		HasMore:      hasMore,
		Changes:      changes,
	}, nil
}
