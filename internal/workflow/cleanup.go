package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/widip/mcp-gateway/internal/safeguard"
	"github.com/widip/mcp-gateway/internal/state"
)

// SafeguardCleanup expires overdue pending approvals and deletes their
// secret envelopes. The distributed lock keeps the sweep at-most-once
// across replicas.
type SafeguardCleanup struct {
	Base

	Queue *safeguard.Queue
	Store state.Store
}

// CleanupInterval is how often the sweep runs.
const CleanupInterval = 5 * time.Minute

const cleanupLock = "safeguard_cleanup"

func (w *SafeguardCleanup) Name() string        { return "safeguard_cleanup" }
func (w *SafeguardCleanup) Description() string { return "Expire stale approvals and orphaned secrets" }
func (w *SafeguardCleanup) Timeout() time.Duration {
	return 60 * time.Second
}
func (w *SafeguardCleanup) SafeguardLevel() string { return safeguard.L0.String() }

func (w *SafeguardCleanup) Execute(ctx context.Context, wc *Context) (map[string]any, error) {
	held, err := w.Store.AcquireLock(ctx, cleanupLock, CleanupInterval-time.Minute)
	if err != nil {
		return nil, fmt.Errorf("acquire cleanup lock: %w", err)
	}
	if !held {
		return map[string]any{"skipped": true, "reason": "another replica holds the lock"}, nil
	}
	defer func() {
		_ = w.Store.ReleaseLock(ctx, cleanupLock)
	}()

	expired, err := w.Queue.ExpireOld(ctx)
	if err != nil {
		return nil, fmt.Errorf("expire approvals: %w", err)
	}
	return map[string]any{"skipped": false, "expired_count": len(expired), "expired_ids": expired}, nil
}
