package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"workflow_digest/internal/app"
	"workflow_digest/internal/domain/notification"
	"workflow_digest/internal/infra/config"
	idb "workflow_digest/internal/infra/database"
	"workflow_digest/internal/infra/logger"
	"workflow_digest/internal/infra/mail"
	"workflow_digest/internal/infra/telegram"

	"github.com/sirupsen/logrus"
)

// application is the fully wired digest engine shared by every command.
type application struct {
	cfg     *config.AppConfig
	log     *logrus.Entry
	db      *sql.DB
	digests *app.DigestServiceImpl
	admin   *app.AdminService
	closers []func() error
}

func newApplication(ctx context.Context) (*application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("could not load application configuration: %w", err)
	}
	log := logger.Service(logger.New(cfg), cfg.Environment)
	log.WithFields(logrus.Fields{"log_level": cfg.LogLevel, "sender": cfg.Sender}).Info("Configuration loaded")

	a := &application{cfg: cfg, log: log}

	// Database
	db, err := idb.NewPostgresConnection(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}
	a.db = db
	a.closers = append(a.closers, db.Close)
	if err := idb.EnsureSchema(ctx, db); err != nil {
		a.Close()
		return nil, err
	}

	roles, err := config.LoadRoleRegistry(cfg.RolesFile)
	if err != nil {
		a.Close()
		return nil, err
	}

	// Repositories
	ledger := idb.NewPostgresNotificationRepository(db)
	runs := idb.NewPostgresRunRepository(db)
	source := idb.NewPostgresWorkflowRepository(db, roles, log)
	resolver := app.NewResolverAdapter(idb.NewPostgresRoleResolver(db, roles), cfg.ResolveTimeout, log)

	sender, err := a.newSender()
	if err != nil {
		a.Close()
		return nil, err
	}
	alerter, err := a.newAlerter()
	if err != nil {
		a.Close()
		return nil, err
	}

	// Services
	classifier := app.NewClassifier(source, ledger, ledger, resolver, app.ClassifierConfig{
		DueInWindowDays:    cfg.DueInWindowDays,
		ReferenceTolerance: cfg.ReferenceDateTolerance,
	}, nil, log)
	aggregator := app.NewAggregator(ledger, source, resolver, log)
	dispatcher := app.NewDispatcher(ledger, app.TextRenderer{}, sender, app.DispatcherConfig{
		Workers:       cfg.DispatchWorkers,
		SendTimeout:   cfg.SendTimeout,
		RatePerSecond: cfg.SendRatePerSecond,
	}, nil, log)

	a.digests = app.NewDigestServiceImpl(classifier, aggregator, dispatcher, source, ledger, runs, runs, alerter, cfg.DispatchLease, nil, log)
	a.admin = app.NewAdminService(a.digests, cfg.AdminToken)
	log.Info("Application setup complete")
	return a, nil
}

func (a *application) newSender() (notification.Sender, error) {
	switch a.cfg.Sender {
	case config.SenderSMTP:
		return mail.NewSMTPSender(a.cfg.SMTP), nil
	case config.SenderAMQP:
		s, err := mail.NewAMQPSender(a.cfg.AMQP.URL, a.cfg.AMQP.Exchange, a.cfg.AMQP.RoutingKey)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	default:
		return mail.NewLogSender(a.log), nil
	}
}

// newAlerter returns a nil Alerter when alerting is not configured.
func (a *application) newAlerter() (app.Alerter, error) {
	if a.cfg.AlertTelegramToken == "" {
		return nil, nil
	}
	bot, err := telegram.NewOfflineBot(a.cfg.AlertTelegramToken)
	if err != nil {
		return nil, err
	}
	return telegram.NewAlerter(telegram.NewTelebotAdapter(bot), a.cfg.AlertTelegramChatID, a.log), nil
}

// Close releases resources in reverse order of acquisition.
func (a *application) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
