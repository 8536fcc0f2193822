package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workflow_digest/internal/domain/notification"
	"workflow_digest/internal/domain/workflow"
)

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		constraint string
		want       bool
	}{
		{"pending index", &pq.Error{Code: "23505", Constraint: pendingUniqueIndex}, pendingUniqueIndex, true},
		{"wrapped", fmt.Errorf("insert: %w", &pq.Error{Code: "23505", Constraint: pendingUniqueIndex}), pendingUniqueIndex, true},
		{"other constraint", &pq.Error{Code: "23505", Constraint: "notifications_pkey"}, pendingUniqueIndex, false},
		{"any constraint", &pq.Error{Code: "23505", Constraint: "notifications_pkey"}, "", true},
		{"foreign key", &pq.Error{Code: "23503"}, "", false},
		{"not a pq error", errors.New("boom"), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isUniqueViolation(tt.err, tt.constraint))
		})
	}
}

func TestPendingQuery(t *testing.T) {
	asOf := time.Date(2015, 5, 6, 0, 0, 0, 0, time.UTC)
	ref := notification.TaskRef(7)

	q, args := pendingQuery(notification.PendingFilter{})
	assert.Contains(t, q, "WHERE sent_at IS NULL ORDER BY created_at, id")
	assert.Empty(t, args)

	q, args = pendingQuery(notification.PendingFilter{AsOf: asOf, Object: &ref})
	assert.Contains(t, q, "created_at <= $1 AND object_kind = $2 AND object_id = $3")
	assert.Equal(t, []any{asOf, notification.ObjectKindTask, int64(7)}, args)
}

// Integration tests below need a disposable database.

const workflowFixtureSchema = `
CREATE TABLE IF NOT EXISTS cycles (
	id BIGINT PRIMARY KEY, workflow_id BIGINT NOT NULL, title TEXT NOT NULL, status TEXT NOT NULL,
	is_current BOOLEAN NOT NULL, is_verification_needed BOOLEAN NOT NULL,
	recipients TEXT NOT NULL DEFAULT '', digest_roles TEXT NOT NULL DEFAULT '', created_at TIMESTAMPTZ NOT NULL);
CREATE TABLE IF NOT EXISTS cycle_task_group_object_tasks (
	id BIGINT PRIMARY KEY, cycle_id BIGINT NOT NULL REFERENCES cycles (id), title TEXT NOT NULL, status TEXT NOT NULL,
	end_date DATE NULL, recipients TEXT NOT NULL DEFAULT '', digest_roles TEXT NOT NULL DEFAULT '', created_at TIMESTAMPTZ NOT NULL);
CREATE TABLE IF NOT EXISTS people (id BIGINT PRIMARY KEY, email TEXT NOT NULL);
CREATE TABLE IF NOT EXISTS access_control_roles (id BIGINT PRIMARY KEY, name TEXT NOT NULL);
CREATE TABLE IF NOT EXISTS access_control_list (
	id BIGSERIAL PRIMARY KEY, ac_role_id BIGINT NOT NULL, person_id BIGINT NOT NULL, object_type TEXT NOT NULL, object_id BIGINT NOT NULL);
TRUNCATE access_control_list, access_control_roles, people, cycle_task_group_object_tasks, cycles;
`

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("Requires PostgreSQL - set TEST_DATABASE_URL to run")
	}
	ctx := context.Background()
	db, err := NewPostgresConnection(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, EnsureSchema(ctx, db))
	require.NoError(t, NewPostgresNotificationRepository(db).Reset(ctx))
	_, err = db.ExecContext(ctx, workflowFixtureSchema)
	require.NoError(t, err)
	return db
}

func TestPostgresLedger_UpsertAndMarkSent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	repo := NewPostgresNotificationRepository(db)
	ref := notification.TaskRef(10)
	now := time.Date(2015, 5, 6, 15, 0, 0, 0, time.UTC)

	first, created, err := repo.UpsertPending(ctx, ref, notification.TypeCycleTaskDueIn, now)
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := repo.UpsertPending(ctx, ref, notification.TypeCycleTaskDueIn, now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	n, err := repo.MarkSent(ctx, []int64{first.ID}, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	n, err = repo.MarkSent(ctx, []int64{first.ID}, now.Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	_, created, err = repo.UpsertPending(ctx, ref, notification.TypeCycleTaskDueIn, now)
	require.NoError(t, err)
	assert.True(t, created, "sent rows do not block a new pending row")
}

func TestPostgresLedger_ConcurrentUpsertCreatesOneRow(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	repo := NewPostgresNotificationRepository(db)
	ref := notification.CycleRef(1)
	now := time.Now().UTC()

	var wg sync.WaitGroup
	ids := make([]int64, 8)
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ev, _, err := repo.UpsertPending(ctx, ref, notification.TypeManualCycleCreated, now)
			if assert.NoError(t, err) {
				ids[i] = ev.ID
			}
		}()
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestPostgresLedger_PendingAndDelete(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	repo := NewPostgresNotificationRepository(db)
	now := time.Date(2015, 5, 8, 15, 0, 0, 0, time.UTC)
	ref := notification.TaskRef(10)

	_, _, err := repo.UpsertPending(ctx, ref, notification.TypeCycleTaskDueIn, now.Add(-48*time.Hour))
	require.NoError(t, err)
	_, _, err = repo.UpsertPending(ctx, ref, notification.TypeCycleTaskDueToday, now)
	require.NoError(t, err)

	var types []notification.TypeName
	for ev, err := range repo.Pending(ctx, notification.PendingFilter{Object: &ref}) {
		require.NoError(t, err)
		types = append(types, ev.Type)
	}
	assert.Equal(t, []notification.TypeName{notification.TypeCycleTaskDueIn, notification.TypeCycleTaskDueToday}, types)

	n, err := repo.DeletePending(ctx, ref, notification.TypeCycleTaskDueIn)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	count := 0
	for _, err := range repo.Pending(ctx, notification.PendingFilter{AsOf: now.Add(-time.Hour)}) {
		require.NoError(t, err)
		count++
	}
	assert.Equal(t, 0, count)
}

func TestPostgresLedger_RecordTransition(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	repo := NewPostgresNotificationRepository(db)
	at := time.Date(2015, 5, 9, 6, 0, 0, 0, time.UTC)
	mark := notification.TransitionMark{Object: notification.TaskRef(3), Type: notification.TypeCycleTaskOverdue, Key: "2015-05-08"}

	fired, created, err := repo.RecordTransition(ctx, mark, at)
	require.NoError(t, err)
	assert.True(t, fired)
	assert.True(t, created)

	fired, _, err = repo.RecordTransition(ctx, mark, at)
	require.NoError(t, err)
	assert.False(t, fired)

	has, err := repo.HasMark(ctx, mark)
	require.NoError(t, err)
	assert.True(t, has)

	var ids []int64
	for ev, err := range repo.Pending(ctx, notification.PendingFilter{Object: &mark.Object}) {
		require.NoError(t, err)
		ids = append(ids, ev.ID)
	}
	require.Len(t, ids, 1)

	// Re-armed while the first event is still pending: no second row.
	n, err := repo.ClearMarks(ctx, mark.Object, notification.DueTypes...)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	fired, created, err = repo.RecordTransition(ctx, mark, at.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, fired)
	assert.False(t, created)

	// After delivery a re-armed transition creates a fresh row.
	_, err = repo.MarkSent(ctx, ids, at.Add(2*time.Hour))
	require.NoError(t, err)
	_, err = repo.ClearMarks(ctx, mark.Object, notification.DueTypes...)
	require.NoError(t, err)
	fired, created, err = repo.RecordTransition(ctx, mark, at.Add(3*time.Hour))
	require.NoError(t, err)
	assert.True(t, fired)
	assert.True(t, created)
}

func TestPostgresRunRepository(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	repo := NewPostgresRunRepository(db)
	may9 := time.Date(2015, 5, 9, 0, 0, 0, 0, time.UTC)

	cp, err := repo.LoadCheckpoint(ctx)
	require.NoError(t, err)
	assert.True(t, cp.IsEmpty())

	require.NoError(t, repo.SaveCheckpoint(ctx, notification.RunCheckpoint{LastDate: may9}))
	require.NoError(t, repo.SaveCheckpoint(ctx, notification.RunCheckpoint{LastDate: may9.AddDate(0, 0, -3)}))
	cp, err = repo.LoadCheckpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, may9, cp.LastDate)

	now := time.Now().UTC()
	a := notification.DispatchLease{Day: may9, Holder: "a", AcquiredAt: now, ExpiresAt: now.Add(time.Minute)}
	b := notification.DispatchLease{Day: may9, Holder: "b", AcquiredAt: now, ExpiresAt: now.Add(time.Minute)}

	ok, err := repo.AcquireDispatch(ctx, a)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.AcquireDispatch(ctx, b)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.ReleaseDispatch(ctx, a, now))
	ok, err = repo.AcquireDispatch(ctx, b)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPostgresWorkflowRepository(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	created := time.Date(2015, 5, 1, 14, 29, 0, 0, time.UTC)

	for _, stmt := range []string{
		`INSERT INTO cycles VALUES (1, 100, 'Quarterly review', 'Assigned', TRUE, TRUE, 'Admin,Workflow Member', 'Admin', $1)`,
		`INSERT INTO cycles VALUES (2, 100, 'Old review', 'Verified', FALSE, FALSE, '', '', $1)`,
		`INSERT INTO cycle_task_group_object_tasks VALUES
			(10, 1, 'Collect evidence', 'In Progress', '2015-05-08', 'Task Assignees,Task Secondary Assignees,Auditor', 'Task Assignees', $1)`,
	} {
		_, err := db.ExecContext(ctx, stmt, created)
		require.NoError(t, err)
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO people VALUES (1, 'Alice@Example.com'), (2, 'bob@example.com');
		INSERT INTO access_control_roles VALUES (1, 'Task Assignees'), (2, 'Task Secondary Assignees'), (3, 'Auditor');
		INSERT INTO access_control_list (ac_role_id, person_id, object_type, object_id) VALUES
			(1, 1, 'CycleTaskGroupObjectTask', 10), (2, 2, 'CycleTaskGroupObjectTask', 10), (3, 2, 'CycleTaskGroupObjectTask', 10);
	`)
	require.NoError(t, err)

	log := logrus.New()
	log.SetOutput(io.Discard)
	roles := notification.DefaultRoleRegistry()
	repo := NewPostgresWorkflowRepository(db, roles, logrus.NewEntry(log))

	cycles, err := repo.ListActiveCycles(ctx)
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	require.Len(t, cycles[0].Tasks, 1)
	task := cycles[0].Tasks[0]
	assert.Equal(t, workflow.StatusInProgress, task.State)
	assert.True(t, task.VerificationRequired)
	due, ok := task.DueDate()
	require.True(t, ok)
	assert.Equal(t, time.Date(2015, 5, 8, 0, 0, 0, 0, time.UTC), due)
	assert.Equal(t, notification.NewRoleSet(notification.RoleTaskAssignees, notification.RoleTaskSecondaryAssignees), task.Recipients.Recipients)
	assert.Equal(t, notification.NewRoleSet(notification.RoleAdmin), cycles[0].Recipients.DigestRoles)

	obj, err := repo.FindObject(ctx, notification.TaskRef(10))
	require.NoError(t, err)
	assert.Equal(t, notification.TaskRef(10), obj.Ref())
	_, err = repo.FindObject(ctx, notification.TaskRef(404))
	assert.ErrorIs(t, err, notification.ErrObjectNotFound)

	recipients, err := NewPostgresRoleResolver(db, roles).ResolveRecipients(ctx, notification.TaskRef(10))
	require.NoError(t, err)
	assert.Equal(t, notification.Recipients{
		notification.RoleTaskAssignees:          {"Alice@Example.com"},
		notification.RoleTaskSecondaryAssignees: {"bob@example.com"},
	}, recipients)
}
