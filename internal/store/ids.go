package store

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// solostackNamespace scopes deterministic (SHA1-based) ids generated within
// this module, following uuid.NewSHA1's namespace convention.
var solostackNamespace = uuid.MustParse("2f9c9a9e-6b7a-4b0a-9b2e-4f6d7c9a0e11")

// NewID generates a random v4 UUID for a new entity row.
func NewID() string {
	return uuid.NewString()
}

// DeterministicID returns a stable v5 UUID derived from input, for rows
// whose identity must be reproducible across replays. The SETTING outbox
// record a conflict resolution emits does not use it: its entity id is the
// plain string "local.sync.conflict_resolution." + conflict id.
func DeterministicID(input string) string {
	return uuid.NewSHA1(solostackNamespace, []byte(input)).String()
}

// IdempotencyKey returns the deterministic key for an entity mutation's
// outbox record (§3): {device_id}:{entity_type}:{entity_id}:{sync_version}.
func IdempotencyKey(deviceID, entityType, entityID string, syncVersion int64) string {
	return strings.Join([]string{deviceID, entityType, entityID, strconv.FormatInt(syncVersion, 10)}, ":")
}

// ResolutionIdempotencyKey returns the deterministic key for a conflict
// resolution's SETTING outbox record (§3, §4.5 step 4):
// {device_id}:conflict-resolution:{conflict_id}:{strategy}.
func ResolutionIdempotencyKey(deviceID, conflictID, strategy string) string {
	return strings.Join([]string{deviceID, "conflict-resolution", conflictID, strategy}, ":")
}
