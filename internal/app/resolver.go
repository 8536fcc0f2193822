// internal/app/resolver.go
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"workflow_digest/internal/domain/notification"

	"github.com/sirupsen/logrus"
)

// ResolverAdapter bounds the external recipient lookup with a timeout and
// reports every failure as notification.ErrResolutionUnavailable.
type ResolverAdapter struct {
	lookup  notification.RecipientResolver
	timeout time.Duration
	logger  *logrus.Entry
}

func NewResolverAdapter(lookup notification.RecipientResolver, timeout time.Duration, logger *logrus.Entry) *ResolverAdapter {
	return &ResolverAdapter{
		lookup:  lookup,
		timeout: timeout,
		logger:  logger.WithField("component", "resolver"),
	}
}

func (a *ResolverAdapter) ResolveRecipients(ctx context.Context, object notification.ObjectRef) (notification.Recipients, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	recipients, err := a.lookup.ResolveRecipients(ctx, object)
	if err != nil {
		a.logger.WithFields(logrus.Fields{"object": object.String(), "error": err}).Warn("Recipient lookup failed")
		if errors.Is(err, notification.ErrResolutionUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %w", notification.ErrResolutionUnavailable, object, err)
	}
	return recipients.Normalize(), nil
}
