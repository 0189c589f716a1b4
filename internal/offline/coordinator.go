package offline

import "context"

// Coordinator owns one entity's remote-first writes and its replay queue.
type Coordinator interface {
	Entity() string
	SyncPending(ctx context.Context, opts SyncOptions) (Result, error)
	PendingCount(ctx context.Context) (int64, error)
}
