package app

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workflow_digest/internal/domain/notification"
	"workflow_digest/internal/domain/workflow"
)

// addCarolTask adds a second task addressed only to carol.
func addCarolTask(f *fixture) *workflow.Task {
	roles := notification.NewRoleSet(notification.RoleTaskAssignees)
	task := &workflow.Task{
		ID:         11,
		CycleID:    f.cycle.ID,
		Title:      "Review controls",
		State:      workflow.StatusAssigned,
		EndDate:    sql.NullTime{Time: taskDueOn, Valid: true},
		Recipients: notification.RecipientConfig{Recipients: roles, DigestRoles: roles},
		CreatedAt:  taskCreatedAt,
	}
	f.wf.Update(func() { f.cycle.Tasks = append(f.cycle.Tasks, task) })
	f.dir.Set(task.Ref(), notification.Recipients{notification.RoleTaskAssignees: {"carol@example.com"}})
	return task
}

func TestSendAll_PartialFailureRetriesOnlyPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	carolTask := addCarolTask(f)
	f.classify(t, day(6))
	f.sender.failFor("carol@example.com", errors.New("mailbox unavailable"))

	digests, err := f.aggregator.BuildDigests(ctx, f.now)
	require.NoError(t, err)
	outcomes, err := f.dispatcher.SendAll(ctx, digests)
	require.NoError(t, err)
	require.Len(t, outcomes, len(digests))

	for _, o := range outcomes {
		if o.Address == "carol@example.com" {
			var se *notification.SendError
			require.ErrorAs(t, o.Err, &se)
			assert.Equal(t, "carol@example.com", se.Address)
			continue
		}
		assert.True(t, o.Sent(), o.Address)
		assert.NoError(t, o.MarkErr)
	}

	assert.Empty(t, f.pendingTypes(t, f.task.Ref()))
	assert.Empty(t, f.pendingTypes(t, f.cycle.Ref()))
	assert.Equal(t,
		[]notification.TypeName{notification.TypeManualCycleCreated, notification.TypeCycleTaskDueIn},
		f.pendingTypes(t, carolTask.Ref()))

	f.sender.failFor("carol@example.com", nil)
	f.sender.reset()
	digests, err = f.aggregator.BuildDigests(ctx, f.now)
	require.NoError(t, err)
	_, err = f.dispatcher.SendAll(ctx, digests)
	require.NoError(t, err)

	assert.Equal(t, []string{"carol@example.com"}, f.sender.addresses(), "retry only carries what is still pending")
	assert.Empty(t, f.pendingTypes(t, carolTask.Ref()))
}

func TestSendAll_SharedEventStaysPendingUntilEveryRecipientSucceeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.classify(t, day(6))
	f.sender.failFor("bob@example.com", errors.New("550 rejected"))

	digests, err := f.aggregator.BuildDigests(ctx, f.now)
	require.NoError(t, err)
	_, err = f.dispatcher.SendAll(ctx, digests)
	require.NoError(t, err)

	assert.Contains(t, f.sender.addresses(), "alice@example.com")
	assert.Equal(t,
		[]notification.TypeName{notification.TypeManualCycleCreated, notification.TypeCycleTaskDueIn},
		f.pendingTypes(t, f.task.Ref()),
		"bob shares the task events with alice, so they stay pending")
	assert.Empty(t, f.pendingTypes(t, f.cycle.Ref()))
}

func TestSendAll_MarkSentIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.classify(t, day(6))

	digests, err := f.aggregator.BuildDigests(ctx, f.now)
	require.NoError(t, err)
	_, err = f.dispatcher.SendAll(ctx, digests)
	require.NoError(t, err)
	sentAt := f.store.Events()[0].SentAt.Time

	f.now = f.now.Add(time.Hour)
	n, err := f.store.MarkSent(ctx, digests[0].EventIDs(), f.now)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
	assert.Equal(t, sentAt, f.store.Events()[0].SentAt.Time)
}

type slowSender struct{}

func (slowSender) Send(ctx context.Context, address string, d *notification.RenderedDigest) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestSendAll_TimeoutIsASendError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.classify(t, day(6))
	d := NewDispatcher(f.store, TextRenderer{}, slowSender{}, DispatcherConfig{Workers: 4, SendTimeout: 10 * time.Millisecond},
		func() time.Time { return f.now }, testLogger())

	digests, err := f.aggregator.BuildDigests(ctx, f.now)
	require.NoError(t, err)
	outcomes, err := d.SendAll(ctx, digests)
	require.NoError(t, err)

	for _, o := range outcomes {
		var se *notification.SendError
		require.ErrorAs(t, o.Err, &se)
		assert.Equal(t, "send timed out", se.Reason)
		assert.ErrorIs(t, o.Err, context.DeadlineExceeded)
	}
	assert.Len(t, f.pendingTypes(t, f.task.Ref()), 2)
}

type failingRenderer struct{}

func (failingRenderer) Render(*notification.Digest) (*notification.RenderedDigest, error) {
	return nil, errors.New("template missing")
}

func TestSendAll_RenderFailureKeepsEventsPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.classify(t, day(6))
	d := NewDispatcher(f.store, failingRenderer{}, f.sender, DispatcherConfig{}, func() time.Time { return f.now }, testLogger())

	digests, err := f.aggregator.BuildDigests(ctx, f.now)
	require.NoError(t, err)
	outcomes, err := d.SendAll(ctx, digests)
	require.NoError(t, err)

	for _, o := range outcomes {
		assert.False(t, o.Sent())
	}
	assert.Empty(t, f.sender.addresses())
	assert.Len(t, f.store.Events(), 3)
	for _, ev := range f.store.Events() {
		assert.True(t, ev.Pending())
	}
}

func TestSendAll_RateLimited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.classify(t, day(6))
	d := NewDispatcher(f.store, TextRenderer{}, f.sender, DispatcherConfig{Workers: 2, RatePerSecond: 1000},
		func() time.Time { return f.now }, testLogger())

	digests, err := f.aggregator.BuildDigests(ctx, f.now)
	require.NoError(t, err)
	outcomes, err := d.SendAll(ctx, digests)
	require.NoError(t, err)
	for _, o := range outcomes {
		assert.True(t, o.Sent())
	}
	assert.Len(t, f.sender.addresses(), 4)
}

func TestSendAll_Empty(t *testing.T) {
	f := newFixture(t)
	outcomes, err := f.dispatcher.SendAll(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, outcomes)
}

type panickySender struct {
	*fakeSender
	address string
}

func (s panickySender) Send(ctx context.Context, address string, d *notification.RenderedDigest) error {
	if address == s.address {
		panic("smtp client exploded")
	}
	return s.fakeSender.Send(ctx, address, d)
}

func TestSendAll_PanicIsContained(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.classify(t, day(6))
	d := NewDispatcher(f.store, TextRenderer{}, panickySender{fakeSender: f.sender, address: "bob@example.com"},
		DispatcherConfig{Workers: 2}, func() time.Time { return f.now }, testLogger())

	digests, err := f.aggregator.BuildDigests(ctx, f.now)
	require.NoError(t, err)
	outcomes, err := d.SendAll(ctx, digests)
	require.NoError(t, err)

	for _, o := range outcomes {
		if o.Address != "bob@example.com" {
			assert.True(t, o.Sent(), o.Address)
			continue
		}
		var se *notification.SendError
		require.ErrorAs(t, o.Err, &se)
		assert.Contains(t, se.Reason, "panic: smtp client exploded")
	}
	assert.Empty(t, f.pendingTypes(t, f.cycle.Ref()))
	assert.Len(t, f.pendingTypes(t, f.task.Ref()), 2, "bob shares the task events with alice")
}
