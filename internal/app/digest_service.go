// internal/app/digest_service.go
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"workflow_digest/internal/domain/notification"
	"workflow_digest/internal/domain/workflow"
	"workflow_digest/internal/infra/metrics"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DigestService is the trigger surface of the digest engine.
type DigestService interface {
	// RunDailyDigest classifies workflow state as of ref (today when nil)
	// and dispatches everything pending.
	RunDailyDigest(ctx context.Context, ref *time.Time) (*RunReport, error)
	ClassifyOnly(ctx context.Context, ref *time.Time) (*ClassifyResult, error)
	DispatchPending(ctx context.Context) (*DispatchReport, error)
	// RecordComment queues a comment_created notification when the author
	// asked for one.
	RecordComment(ctx context.Context, object notification.ObjectRef, sendNotification bool) error
	UnsentCounts(ctx context.Context) (map[string]map[notification.TypeName]int, error)
	PendingFor(ctx context.Context, address string) (*notification.Digest, error)
	Reset(ctx context.Context) error
}

// Alerter notifies operators about failed deliveries.
type Alerter interface {
	Alert(ctx context.Context, text string) error
}

// RunReport describes one RunDailyDigest call.
type RunReport struct {
	RunID    string
	Classify *ClassifyResult
	Dispatch *DispatchReport
}

// DispatchReport describes one dispatch of pending events.
type DispatchReport struct {
	Day      time.Time
	Outcomes []Outcome
	Sent     int
	Failed   int
	Skipped  bool // another dispatch held the day's lease
}

// FailedAddresses lists the recipients whose digest was not delivered.
func (r *DispatchReport) FailedAddresses() []string {
	var out []string
	for _, o := range r.Outcomes {
		if !o.Sent() {
			out = append(out, o.Address)
		}
	}
	return out
}

// DigestServiceImpl implements the DigestService interface.
type DigestServiceImpl struct {
	classifier  *Classifier
	aggregator  *Aggregator
	dispatcher  *Dispatcher
	source      workflow.Source
	ledger      notification.Ledger
	checkpoints notification.CheckpointStore
	lock        notification.DispatchLock
	alerter     Alerter
	lease       time.Duration
	clock       func() time.Time
	logger      *logrus.Entry
}

func NewDigestServiceImpl(
	classifier *Classifier,
	aggregator *Aggregator,
	dispatcher *Dispatcher,
	source workflow.Source,
	ledger notification.Ledger,
	checkpoints notification.CheckpointStore,
	lock notification.DispatchLock,
	alerter Alerter, // optional
	lease time.Duration,
	clock func() time.Time,
	logger *logrus.Entry,
) *DigestServiceImpl {
	if clock == nil {
		clock = utcNow
	}
	if lease <= 0 {
		lease = 10 * time.Minute
	}
	return &DigestServiceImpl{
		classifier:  classifier,
		aggregator:  aggregator,
		dispatcher:  dispatcher,
		source:      source,
		ledger:      ledger,
		checkpoints: checkpoints,
		lock:        lock,
		alerter:     alerter,
		lease:       lease,
		clock:       clock,
		logger:      logger.WithField("component", "digest_service"),
	}
}

func (s *DigestServiceImpl) RunDailyDigest(ctx context.Context, ref *time.Time) (*RunReport, error) {
	report := &RunReport{RunID: uuid.NewString()}
	log := s.logger.WithField("run_id", report.RunID)
	log.Info("Starting daily digest run")

	// 1. Classify
	res, err := s.ClassifyOnly(ctx, ref)
	report.Classify = res
	if err != nil {
		log.WithError(err).Error("Classification failed, dispatch not attempted")
		return report, err
	}

	// 2. Dispatch
	dispatch, err := s.DispatchPending(ctx)
	report.Dispatch = dispatch
	if errors.Is(err, notification.ErrDispatchInProgress) {
		log.Warn("Another run is dispatching today's digests, classification only")
		return report, nil
	}
	if err != nil {
		log.WithError(err).Error("Dispatch failed")
		return report, err
	}

	log.WithFields(logrus.Fields{
		"created": res.Created,
		"skipped": res.Skipped,
		"sent":    dispatch.Sent,
		"failed":  dispatch.Failed,
	}).Info("Daily digest run finished")
	return report, nil
}

func (s *DigestServiceImpl) ClassifyOnly(ctx context.Context, ref *time.Time) (*ClassifyResult, error) {
	start := time.Now()
	defer func() { metrics.RunDuration.WithLabelValues("classify").Observe(time.Since(start).Seconds()) }()

	cp, err := s.checkpoints.LoadCheckpoint(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load run checkpoint: %w", err)
	}

	res, err := s.classifier.Classify(ctx, cp, ref)
	if err != nil {
		return res, err
	}

	if err := s.checkpoints.SaveCheckpoint(ctx, res.Checkpoint); err != nil {
		return res, fmt.Errorf("failed to save run checkpoint: %w", err)
	}
	return res, nil
}

// DispatchPending sends every pending event under the day's dispatch lease.
// A lease held elsewhere yields a skipped report and notification.ErrDispatchInProgress.
func (s *DigestServiceImpl) DispatchPending(ctx context.Context) (*DispatchReport, error) {
	start := time.Now()
	defer func() { metrics.RunDuration.WithLabelValues("dispatch").Observe(time.Since(start).Seconds()) }()

	now := s.clock()
	report := &DispatchReport{Day: notification.Day(now)}
	lease := notification.DispatchLease{
		Day:        report.Day,
		Holder:     uuid.NewString(),
		AcquiredAt: now,
		ExpiresAt:  now.Add(s.lease),
	}

	acquired, err := s.lock.AcquireDispatch(ctx, lease)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire dispatch lease: %w", err)
	}
	if !acquired {
		s.logger.WithField("day", report.Day.Format(time.DateOnly)).Warn("Dispatch already in progress, skipping")
		report.Skipped = true
		return report, notification.ErrDispatchInProgress
	}
	defer func() {
		// Released on a fresh context so a cancelled run does not hold the day until expiry.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.lock.ReleaseDispatch(releaseCtx, lease, s.clock()); err != nil {
			s.logger.WithError(err).Error("Failed to release dispatch lease")
		}
	}()

	digests, err := s.aggregator.BuildDigests(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to build digests: %w", err)
	}
	if len(digests) == 0 {
		s.logger.Info("No digests to dispatch")
		s.refreshPendingGauge(ctx)
		return report, nil
	}

	outcomes, err := s.dispatcher.SendAll(ctx, digests)
	if err != nil {
		return nil, err
	}
	report.Outcomes = outcomes
	for _, o := range outcomes {
		if o.Sent() {
			report.Sent++
		} else {
			report.Failed++
		}
	}
	s.refreshPendingGauge(ctx)

	if report.Failed > 0 {
		s.alertFailures(ctx, report)
	}
	return report, nil
}

// refreshPendingGauge counts every row the ledger still holds as pending,
// including rows no digest could carry.
func (s *DigestServiceImpl) refreshPendingGauge(ctx context.Context) {
	n := 0
	for _, err := range s.ledger.Pending(ctx, notification.PendingFilter{}) {
		if err != nil {
			s.logger.WithError(err).Warn("Failed to count pending notifications")
			return
		}
		n++
	}
	metrics.PendingEvents.Set(float64(n))
}

func (s *DigestServiceImpl) RecordComment(ctx context.Context, object notification.ObjectRef, sendNotification bool) error {
	if !sendNotification {
		return nil
	}
	if _, err := s.source.FindObject(ctx, object); err != nil {
		return fmt.Errorf("failed to look up commented object: %w", err)
	}
	ev, created, err := s.ledger.UpsertPending(ctx, object, notification.TypeCommentCreated, s.clock())
	if err != nil {
		return fmt.Errorf("failed to record comment notification: %w", err)
	}
	if created {
		metrics.EventsCreated.WithLabelValues(string(notification.TypeCommentCreated)).Inc()
	}
	s.logger.WithFields(logrus.Fields{"object": object.String(), "event_id": ev.ID, "created": created}).Info("Comment notification queued")
	return nil
}

func (s *DigestServiceImpl) UnsentCounts(ctx context.Context) (map[string]map[notification.TypeName]int, error) {
	return s.aggregator.UnsentCounts(ctx, s.clock())
}

func (s *DigestServiceImpl) PendingFor(ctx context.Context, address string) (*notification.Digest, error) {
	return s.aggregator.PendingFor(ctx, s.clock(), strings.ToLower(strings.TrimSpace(address)))
}

func (s *DigestServiceImpl) Reset(ctx context.Context) error {
	if err := s.ledger.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset notification ledger: %w", err)
	}
	s.logger.Warn("Notification ledger reset")
	return nil
}

func (s *DigestServiceImpl) alertFailures(ctx context.Context, report *DispatchReport) {
	if s.alerter == nil {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Workflow digest %s: %d of %d digests failed\n", report.Day.Format(time.DateOnly), report.Failed, report.Failed+report.Sent)
	for _, o := range report.Outcomes {
		if o.Sent() {
			continue
		}
		var se *notification.SendError
		reason := o.Err.Error()
		if errors.As(o.Err, &se) {
			reason = se.Reason
		}
		fmt.Fprintf(&b, "- %s: %s\n", o.Address, reason)
	}
	if err := s.alerter.Alert(ctx, b.String()); err != nil {
		s.logger.WithError(err).Warn("Failed to send dispatch alert")
	}
}
