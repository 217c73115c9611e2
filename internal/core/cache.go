package core

import (
	"context"
	"time"
)

// SnapshotCache holds serialized snapshots of finished analysis jobs.
// Implementations namespace keys themselves; callers pass bare keys.
type SnapshotCache interface {
	// Lookup reports ok=false on a miss or an expired entry.
	Lookup(ctx context.Context, key string) (value []byte, ok bool, err error)
	// Store writes value for ttl. A zero ttl keeps the entry until evicted.
	Store(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
