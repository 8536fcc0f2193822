package mail

import (
	"context"

	"workflow_digest/internal/domain/notification"

	"github.com/sirupsen/logrus"
)

// LogSender writes digests to the log instead of delivering them. Used in
// development and dry runs.
type LogSender struct {
	logger *logrus.Entry
}

func NewLogSender(logger *logrus.Entry) *LogSender {
	return &LogSender{logger: logger.WithField("component", "log_sender")}
}

func (s *LogSender) Send(ctx context.Context, address string, d *notification.RenderedDigest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{
		"to":      address,
		"subject": d.Subject,
	}).Info("Digest (not delivered):\n" + d.Body)
	return nil
}
