package workflow

import (
	"context"

	"workflow_digest/internal/domain/notification"
)

// Source exposes the workflow objects the digest engine reads.
type Source interface {
	// ListActiveCycles returns current cycles with their tasks populated.
	ListActiveCycles(ctx context.Context) ([]*Cycle, error)
	// FindObject loads a cycle or task by reference. Missing objects yield
	// notification.ErrObjectNotFound.
	FindObject(ctx context.Context, ref notification.ObjectRef) (Object, error)
}
