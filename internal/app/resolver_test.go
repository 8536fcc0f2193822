package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workflow_digest/internal/domain/notification"
	"workflow_digest/internal/infra/memstore"
)

type blockingResolver struct{}

func (blockingResolver) ResolveRecipients(ctx context.Context, _ notification.ObjectRef) (notification.Recipients, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestResolverAdapter(t *testing.T) {
	ctx := context.Background()
	ref := notification.TaskRef(1)

	t.Run("normalizes addresses", func(t *testing.T) {
		dir := memstore.NewDirectory()
		dir.Set(ref, notification.Recipients{notification.RoleTaskAssignees: {"B@x.io", "a@x.io", "b@x.io"}})

		got, err := NewResolverAdapter(dir, time.Second, testLogger()).ResolveRecipients(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, notification.Recipients{notification.RoleTaskAssignees: {"a@x.io", "b@x.io"}}, got)
	})

	t.Run("lookup failure is resolution unavailable", func(t *testing.T) {
		dir := memstore.NewDirectory()
		cause := errors.New("connection reset")
		dir.Fail(ref, cause)

		_, err := NewResolverAdapter(dir, time.Second, testLogger()).ResolveRecipients(ctx, ref)
		assert.ErrorIs(t, err, notification.ErrResolutionUnavailable)
		assert.ErrorIs(t, err, cause)
	})

	t.Run("timeout is resolution unavailable", func(t *testing.T) {
		_, err := NewResolverAdapter(blockingResolver{}, 5*time.Millisecond, testLogger()).ResolveRecipients(ctx, ref)
		assert.ErrorIs(t, err, notification.ErrResolutionUnavailable)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
