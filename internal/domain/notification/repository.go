// internal/domain/notification/repository.go
package notification

import (
	"context"
	"iter"
	"time"
)

// Ledger is the durable store of notification events.
type Ledger interface {
	// UpsertPending returns the pending event for (object, type), creating it
	// when none exists. created reports whether a new row was written.
	UpsertPending(ctx context.Context, object ObjectRef, t TypeName, createdAt time.Time) (event *Event, created bool, err error)
	// MarkSent stamps sentAt on the given events. Events already sent are
	// left untouched and not counted.
	MarkSent(ctx context.Context, ids []int64, sentAt time.Time) (int64, error)
	// Pending streams unsent events ordered by creation time, then id.
	// The sequence can be iterated more than once.
	Pending(ctx context.Context, filter PendingFilter) iter.Seq2[*Event, error]
	// DeletePending removes unsent events of the given types for an object.
	DeletePending(ctx context.Context, object ObjectRef, types ...TypeName) (int64, error)
	// Reset removes every ledger row together with transition marks and the
	// run checkpoint.
	Reset(ctx context.Context) error
}

// MarkStore persists transition marks for edge-triggered types.
type MarkStore interface {
	HasMark(ctx context.Context, mark TransitionMark) (bool, error)
	// RecordTransition writes the mark and the pending event it announces as
	// one atomic step. fired is false when the mark already existed, in which
	// case nothing is written. created reports whether a new pending row was
	// written rather than folded into an existing one.
	RecordTransition(ctx context.Context, mark TransitionMark, createdAt time.Time) (fired, created bool, err error)
	ClearMarks(ctx context.Context, object ObjectRef, types ...TypeName) (int64, error)
}

// CheckpointStore persists the classification checkpoint. Saving an older
// checkpoint than the stored one is a no-op.
type CheckpointStore interface {
	LoadCheckpoint(ctx context.Context) (RunCheckpoint, error)
	SaveCheckpoint(ctx context.Context, cp RunCheckpoint) error
}

// DispatchLock serializes dispatch of one day across processes.
type DispatchLock interface {
	AcquireDispatch(ctx context.Context, lease DispatchLease) (bool, error)
	ReleaseDispatch(ctx context.Context, lease DispatchLease, releasedAt time.Time) error
}

// RecipientResolver looks up the addresses holding each role on an object.
type RecipientResolver interface {
	ResolveRecipients(ctx context.Context, object ObjectRef) (Recipients, error)
}

// Renderer turns a digest into a deliverable message.
type Renderer interface {
	Render(d *Digest) (*RenderedDigest, error)
}

// Sender delivers one rendered digest to one address.
type Sender interface {
	Send(ctx context.Context, address string, d *RenderedDigest) error
}
