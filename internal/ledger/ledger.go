package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/brokermate/messaging/internal/model"
)

var ErrNotFound = errors.New("ledger: message not found")

// Ledger is the single source of truth for a message's delivery state.
// Writes are synchronous: once a call returns, any reader sees the new
// state, so callers can render "pending" without waiting on the remote.
type Ledger interface {
	// InsertOptimistic records a freshly created message as pending and
	// optimistic.
	InsertOptimistic(ctx context.Context, msg *model.Message) error

	// MarkSent finalizes a message as sent, clears the optimistic flag
	// and attaches the remote id. The note is optional (bridge sends use
	// it for "awaiting manual confirmation").
	MarkSent(ctx context.Context, id, externalID, note string) error

	// MarkFailed finalizes a message as error with a human-readable
	// reason and clears the optimistic flag.
	MarkFailed(ctx context.Context, id, reason string) error

	// Annotate updates the human-readable note on a still-pending
	// message without changing its status ("queued, retrying in 30s").
	Annotate(ctx context.Context, id, note string) error

	// Requeue moves a failed message back to pending/optimistic for a
	// manual resend, clearing the previous error annotation.
	Requeue(ctx context.Context, id string) error

	Get(ctx context.Context, id string) (*model.Message, error)

	// ListRecent returns the newest messages for one conversation,
	// newest first.
	ListRecent(ctx context.Context, conversation string, limit int) ([]model.Message, error)
}

// BroadcastStore persists broadcast runs and their counter snapshots.
type BroadcastStore interface {
	CreateBroadcast(ctx context.Context, b *model.Broadcast) error
	// MarkInProgress transitions a pending job to in_progress once its
	// audience is resolved, fixing the recipient total for the run.
	MarkInProgress(ctx context.Context, id string, startedAt time.Time, total int) error
	UpdateProgress(ctx context.Context, id string, sent, failed int) error
	FinalizeBroadcast(ctx context.Context, id string, status model.BroadcastStatus, completedAt time.Time) error
	GetBroadcast(ctx context.Context, id string) (*model.Broadcast, error)
}
