package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"workflow_digest/internal/app"
	"workflow_digest/internal/domain/notification"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// DigestScheduler runs classification and dispatch on cron schedules.
type DigestScheduler struct {
	cronEngine       *cron.Cron
	digestService    app.DigestService
	logger           *logrus.Entry
	cronSpecClassify string
	cronSpecDispatch string
	jobTimeout       time.Duration
}

func NewDigestScheduler(
	digestService app.DigestService,
	logger *logrus.Entry,
	cronSpecClassify string, // e.g. "0 6 * * *" (06:00 daily)
	cronSpecDispatch string, // e.g. "30 6 * * *" (06:30 daily)
	jobTimeout time.Duration,
) *DigestScheduler {
	logger = logger.WithField("component", "scheduler")
	cronLogger := cron.VerbosePrintfLogger(logger)
	return &DigestScheduler{
		cronEngine: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		digestService:    digestService,
		logger:           logger,
		cronSpecClassify: cronSpecClassify,
		cronSpecDispatch: cronSpecDispatch,
		jobTimeout:       jobTimeout,
	}
}

// Start registers the jobs and starts the cron engine. An empty spec
// disables its job.
func (s *DigestScheduler) Start() error {
	s.logger.Info("Starting digest scheduler...")

	if s.cronSpecClassify != "" {
		if _, err := s.cronEngine.AddFunc(s.cronSpecClassify, s.runClassify); err != nil {
			return fmt.Errorf("could not add classification cron job: %w", err)
		}
	}
	if s.cronSpecDispatch != "" {
		if _, err := s.cronEngine.AddFunc(s.cronSpecDispatch, s.runDispatch); err != nil {
			return fmt.Errorf("could not add dispatch cron job: %w", err)
		}
	}

	s.cronEngine.Start()
	s.logger.WithField("jobs", len(s.cronEngine.Entries())).Info("Digest scheduler started")
	return nil
}

func (s *DigestScheduler) runClassify() {
	s.logger.Info("Cron job triggered for classification")
	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()

	res, err := s.digestService.ClassifyOnly(ctx, nil)
	if err != nil {
		s.logger.WithError(err).Error("Error during classification")
		return
	}
	s.logger.WithFields(logrus.Fields{"created": res.Created, "skipped": res.Skipped}).Info("Classification job finished")
}

func (s *DigestScheduler) runDispatch() {
	s.logger.Info("Cron job triggered for digest dispatch")
	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()

	report, err := s.digestService.DispatchPending(ctx)
	if errors.Is(err, notification.ErrDispatchInProgress) {
		s.logger.Warn("Dispatch already running elsewhere, skipping")
		return
	}
	if err != nil {
		s.logger.WithError(err).Error("Error during digest dispatch")
		return
	}
	s.logger.WithFields(logrus.Fields{"sent": report.Sent, "failed": report.Failed}).Info("Dispatch job finished")
}

func (s *DigestScheduler) Stop() {
	s.logger.Info("Stopping digest scheduler...")
	ctx := s.cronEngine.Stop() // Stops the scheduler from adding new jobs, waits for running jobs.
	<-ctx.Done()
	s.logger.Info("Digest scheduler gracefully stopped")
}
