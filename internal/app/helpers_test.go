package app

import (
	"context"
	"database/sql"
	"io"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"workflow_digest/internal/domain/notification"
	"workflow_digest/internal/domain/workflow"
	"workflow_digest/internal/infra/memstore"
)

var (
	taskCreatedAt = time.Date(2015, 5, 1, 14, 29, 0, 0, time.UTC)
	taskDueOn     = time.Date(2015, 5, 8, 0, 0, 0, 0, time.UTC)
)

func day(d int) time.Time {
	return time.Date(2015, 5, d, 0, 0, 0, 0, time.UTC)
}

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

type sentDigest struct {
	address string
	digest  *notification.RenderedDigest
}

type fakeSender struct {
	mu   sync.Mutex
	fail map[string]error
	sent []sentDigest
}

func newFakeSender() *fakeSender {
	return &fakeSender{fail: make(map[string]error)}
}

func (s *fakeSender) Send(ctx context.Context, address string, d *notification.RenderedDigest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[address]; err != nil {
		return err
	}
	s.sent = append(s.sent, sentDigest{address: address, digest: d})
	return nil
}

func (s *fakeSender) failFor(address string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, address)
		return
	}
	s.fail[address] = err
}

func (s *fakeSender) addresses() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, d := range s.sent {
		out = append(out, d.address)
	}
	slices.Sort(out)
	return out
}

func (s *fakeSender) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = nil
}

type fakeAlerter struct {
	mu     sync.Mutex
	alerts []string
}

func (a *fakeAlerter) Alert(ctx context.Context, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, text)
	return nil
}

// fixture is one cycle with one task due on 2015-05-08. The cycle addresses
// its admin and workflow member, the task its assignee and secondary assignee.
type fixture struct {
	now        time.Time
	store      *memstore.Store
	wf         *memstore.Workflow
	dir        *memstore.Directory
	sender     *fakeSender
	alerter    *fakeAlerter
	cycle      *workflow.Cycle
	task       *workflow.Task
	classifier *Classifier
	aggregator *Aggregator
	dispatcher *Dispatcher
	service    *DigestServiceImpl
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	assignees := notification.NewRoleSet(notification.RoleTaskAssignees, notification.RoleTaskSecondaryAssignees)
	members := notification.NewRoleSet(notification.RoleAdmin, notification.RoleWorkflowMember)

	f := &fixture{
		now:     taskCreatedAt,
		store:   memstore.New(),
		dir:     memstore.NewDirectory(),
		sender:  newFakeSender(),
		alerter: &fakeAlerter{},
	}
	f.task = &workflow.Task{
		ID:                   10,
		CycleID:              1,
		Title:                "Collect evidence",
		State:                workflow.StatusAssigned,
		EndDate:              sql.NullTime{Time: taskDueOn, Valid: true},
		VerificationRequired: true,
		Recipients:           notification.RecipientConfig{Recipients: assignees, DigestRoles: assignees},
		CreatedAt:            taskCreatedAt,
	}
	f.cycle = &workflow.Cycle{
		ID:                   1,
		WorkflowID:           100,
		Title:                "Quarterly review",
		State:                workflow.StatusAssigned,
		IsCurrent:            true,
		VerificationRequired: true,
		Recipients:           notification.RecipientConfig{Recipients: members, DigestRoles: members},
		CreatedAt:            taskCreatedAt,
		Tasks:                []*workflow.Task{f.task},
	}
	f.wf = memstore.NewWorkflow(f.cycle)
	f.dir.Set(f.cycle.Ref(), notification.Recipients{
		notification.RoleAdmin:          {"admin@example.com"},
		notification.RoleWorkflowMember: {"member@example.com"},
	})
	f.dir.Set(f.task.Ref(), notification.Recipients{
		notification.RoleTaskAssignees:          {"alice@example.com"},
		notification.RoleTaskSecondaryAssignees: {"bob@example.com"},
	})

	clock := func() time.Time { return f.now }
	logger := testLogger()
	resolver := NewResolverAdapter(f.dir, time.Second, logger)
	f.classifier = NewClassifier(f.wf, f.store, f.store, resolver, ClassifierConfig{DueInWindowDays: 3}, clock, logger)
	f.aggregator = NewAggregator(f.store, f.wf, resolver, logger)
	f.dispatcher = NewDispatcher(f.store, TextRenderer{}, f.sender, DispatcherConfig{Workers: 2, SendTimeout: time.Second}, clock, logger)
	f.service = NewDigestServiceImpl(f.classifier, f.aggregator, f.dispatcher, f.wf, f.store, f.store, f.store, f.alerter, time.Minute, clock, logger)
	return f
}

// on moves the clock to the given day and returns it as a reference date.
func (f *fixture) on(d time.Time) *time.Time {
	f.now = d.Add(15 * time.Hour)
	return &d
}

func (f *fixture) classify(t *testing.T, d time.Time) *ClassifyResult {
	t.Helper()
	res, err := f.service.ClassifyOnly(context.Background(), f.on(d))
	require.NoError(t, err)
	return res
}

func (f *fixture) pendingTypes(t *testing.T, ref notification.ObjectRef) []notification.TypeName {
	t.Helper()
	var out []notification.TypeName
	for ev, err := range f.store.Pending(context.Background(), notification.PendingFilter{Object: &ref}) {
		require.NoError(t, err)
		out = append(out, ev.Type)
	}
	return out
}

func (f *fixture) setTaskState(s workflow.Status) {
	f.wf.Update(func() { f.task.State = s })
}
