package app

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"workflow_digest/internal/domain/notification"
)

// Custom application-level errors for admin service
var ErrAdminNotAuthorized = fmt.Errorf("caller is not authorized as an admin")
var ErrInvalidObject = fmt.Errorf("invalid workflow object reference")

// AdminService guards operator actions behind a shared admin token.
type AdminService struct {
	digests    DigestService
	adminToken string
}

func NewAdminService(ds DigestService, adminToken string) *AdminService {
	return &AdminService{
		digests:    ds,
		adminToken: adminToken,
	}
}

// Authorize reports whether token grants admin access. An unset admin token
// disables every admin action.
func (s *AdminService) Authorize(token string) error {
	if s.adminToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
		return ErrAdminNotAuthorized
	}
	return nil
}

// TriggerRun runs the daily digest on behalf of an operator.
func (s *AdminService) TriggerRun(ctx context.Context, token string, ref *time.Time) (*RunReport, error) {
	if err := s.Authorize(token); err != nil {
		return nil, err
	}
	return s.digests.RunDailyDigest(ctx, ref)
}

func (s *AdminService) TriggerDispatch(ctx context.Context, token string) (*DispatchReport, error) {
	if err := s.Authorize(token); err != nil {
		return nil, err
	}
	return s.digests.DispatchPending(ctx)
}

func (s *AdminService) PendingSummary(ctx context.Context, token string) (map[string]map[notification.TypeName]int, error) {
	if err := s.Authorize(token); err != nil {
		return nil, err
	}
	return s.digests.UnsentCounts(ctx)
}

// RecordComment validates the object reference before queueing a comment notification.
func (s *AdminService) RecordComment(ctx context.Context, token string, object notification.ObjectRef, sendNotification bool) error {
	if err := s.Authorize(token); err != nil {
		return err
	}
	if object.ID <= 0 || (object.Kind != notification.ObjectKindCycle && object.Kind != notification.ObjectKindTask) {
		return fmt.Errorf("%w: %s", ErrInvalidObject, object)
	}
	return s.digests.RecordComment(ctx, object, sendNotification)
}

// ResetLedger wipes every notification, mark and checkpoint.
func (s *AdminService) ResetLedger(ctx context.Context, token string) error {
	if err := s.Authorize(token); err != nil {
		return err
	}
	return s.digests.Reset(ctx)
}

// PendingDigest previews the digest address would receive if dispatch ran now.
// A nil digest means nothing is pending for the address.
func (s *AdminService) PendingDigest(ctx context.Context, token, address string) (*notification.Digest, error) {
	if err := s.Authorize(token); err != nil {
		return nil, err
	}
	return s.digests.PendingFor(ctx, address)
}
