package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"recordpipe/internal/storage"
)

// ErrRejected is returned when a pending action is rejected or expires.
var ErrRejected = errors.New("action rejected")

// ApprovalQueue gates destructive MCP tool calls behind a human decision.
// With no store every request is approved. With a store the request is
// written to the mcp_approvals table and polled until another process
// (`recordpipe approvals approve|reject`) resolves it.
type ApprovalQueue struct {
	ctx     context.Context
	store   *storage.ApprovalStore
	log     *slog.Logger
	timeout time.Duration
	poll    time.Duration
}

func NewApprovalQueue(ctx context.Context, store *storage.ApprovalStore, log *slog.Logger) *ApprovalQueue {
	return &ApprovalQueue{
		ctx:     ctx,
		store:   store,
		log:     log,
		timeout: 120 * time.Second,
		poll:    500 * time.Millisecond,
	}
}

// Enabled reports whether requests wait for a human decision.
func (q *ApprovalQueue) Enabled() bool { return q.store != nil }

// Request records an approval request and blocks until it is approved,
// rejected, timed out or ctx is cancelled.
// metadata is optional JSON with extra context (e.g. the job ID).
func (q *ApprovalQueue) Request(ctx context.Context, tool, description string, metadata ...string) error {
	if q.store == nil {
		return nil
	}
	meta := "{}"
	if len(metadata) > 0 && metadata[0] != "" {
		meta = metadata[0]
	}

	pa := &storage.PendingApproval{Tool: tool, Description: description, Metadata: meta}
	if err := q.store.Create(pa); err != nil {
		return fmt.Errorf("insert approval: %w", err)
	}
	q.log.Info("mcp: approval required", "id", pa.ID, "tool", tool, "description", description)
	defer func() {
		if err := q.store.Delete(pa.ID); err != nil {
			q.log.Warn("mcp: delete approval", "id", pa.ID, "error", err)
		}
	}()

	deadline := time.NewTimer(q.timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(q.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			status, err := q.store.Status(pa.ID)
			if err != nil {
				continue
			}
			switch status {
			case storage.ApprovalApproved:
				return nil
			case storage.ApprovalRejected:
				return fmt.Errorf("%w by user: %s", ErrRejected, tool)
			}
		case <-deadline.C:
			return fmt.Errorf("%w: timed out after %s: %s", ErrRejected, q.timeout, tool)
		case <-ctx.Done():
			return ctx.Err()
		case <-q.ctx.Done():
			return q.ctx.Err()
		}
	}
}
