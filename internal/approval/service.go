package approval

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"facility_portal_backend/internal/events"
	"facility_portal_backend/internal/notification"
	"facility_portal_backend/platform/apperr"
	"facility_portal_backend/platform/config"
	"facility_portal_backend/platform/logger"

	"github.com/google/uuid"
)

const (
	opGenerate = "approval.generate"
	opVerify   = "approval.verify"
	opStatus   = "approval.status"

	// statusCompleted is the only request lifecycle status a code can be
	// issued in. A code attests that finished work is acceptable.
	statusCompleted = "completed"
)

// Challenge states reported by Status.
const (
	StateNone     = "none"
	StateIssued   = "issued"
	StateExpired  = "expired"
	StateVerified = "verified"
)

// RequestStore is the persistence surface the workflow needs.
type RequestStore interface {
	GetRequest(ctx context.Context, id uuid.UUID) (Request, error)
	StoreCode(ctx context.Context, requestID uuid.UUID, code string, issuedAt, expiresAt time.Time) error
	ConsumeCode(ctx context.Context, requestID uuid.UUID, code string) (bool, error)
}

// Dispatcher delivers the code and the confirmation notification.
type Dispatcher interface {
	Dispatch(ctx context.Context, p notification.DispatchParams) (notification.Notification, error)
}

// ChallengeStatus is the answer to a status query.
type ChallengeStatus struct {
	State     string     `json:"state"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// Service runs the approval code workflow.
type Service struct {
	store      RequestStore
	dispatcher Dispatcher
	bus        events.Bus
	ttl        time.Duration
	log        *logger.Logger

	// now is swappable in tests.
	now func() time.Time
}

func NewService(store RequestStore, dispatcher Dispatcher, bus events.Bus, cfg config.ApprovalConfig, log *logger.Logger) *Service {
	ttl := cfg.GetApprovalCodeTTL()
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	return &Service{
		store:      store,
		dispatcher: dispatcher,
		bus:        bus,
		ttl:        ttl,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Generate issues a fresh six-digit code for a completed request and delivers
// it to the bound tenant over sms, whatsapp and email at once. A short-lived
// secret should reach the tenant on every channel they can possibly see.
// Any previously issued code stops working the moment the new one is stored.
func (s *Service) Generate(ctx context.Context, requestID, technicianID uuid.UUID) error {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}

	if req.TenantApproved {
		return apperr.Conflict("request is already approved").WithOp(opGenerate)
	}
	if req.Status != statusCompleted {
		return apperr.Conflict("approval codes can only be issued for completed work").WithOp(opGenerate)
	}
	if req.TechnicianID == nil || *req.TechnicianID != technicianID {
		return apperr.Forbidden("only the assigned technician can issue an approval code").WithOp(opGenerate)
	}
	if req.TenantID == uuid.Nil {
		return apperr.Conflict("no tenant is bound to the request's property").WithOp(opGenerate)
	}

	code, err := generateCode()
	if err != nil {
		return apperr.Internal(fmt.Sprintf("generate approval code: %v", err)).WithOp(opGenerate)
	}

	issuedAt := s.now()
	if err := s.store.StoreCode(ctx, requestID, code, issuedAt, issuedAt.Add(s.ttl)); err != nil {
		return err
	}

	_, err = s.dispatcher.Dispatch(ctx, notification.DispatchParams{
		UserID:  req.TenantID,
		Title:   "Approval code for completed work",
		Message: fmt.Sprintf("Work on %q has been reported complete. Use code %s to approve it. The code expires in %d minutes.", req.Title, code, int(s.ttl.Minutes())),
		Type:    notification.TypeInfo,
		Data: map[string]string{
			notification.DataKeyRequestID: requestID.String(),
			notification.DataKeyAction:    "approval_code",
		},
		Channels: []notification.Channel{
			notification.ChannelSMS,
			notification.ChannelWhatsApp,
			notification.ChannelEmail,
		},
	})
	if err != nil {
		// The code is stored and valid; delivery trouble is visible in the
		// delivery log. Only persistence failures reach this branch.
		s.log.Error("approval code dispatch failed",
			"request_id", requestID.String(), "error", err.Error())
	}

	s.log.Info("approval code issued",
		"request_id", requestID.String(), "tenant_id", req.TenantID.String())
	return nil
}

// Resend issues a new code, invalidating the previous one.
func (s *Service) Resend(ctx context.Context, requestID, technicianID uuid.UUID) error {
	return s.Generate(ctx, requestID, technicianID)
}

// Verify checks a submitted code. A plain mismatch returns (false, nil) so
// the caller can show "incorrect code" without leaking whether a code exists.
// All other failures are typed. On success the consume and the lifecycle
// close are one atomic statement in the store.
func (s *Service) Verify(ctx context.Context, requestID uuid.UUID, code string, requesterID uuid.UUID) (bool, error) {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return false, err
	}

	if req.TenantApproved {
		return false, apperr.Conflict("request is already approved").WithOp(opVerify)
	}
	if req.Code == nil {
		return false, apperr.NotFound("no approval code has been issued").WithOp(opVerify)
	}
	if requesterID != req.TenantID {
		return false, apperr.Forbidden("only the bound tenant can approve this work").WithOp(opVerify)
	}
	if req.CodeExpiresAt == nil || s.now().After(*req.CodeExpiresAt) {
		return false, apperr.Gone("approval code has expired").WithOp(opVerify)
	}

	consumed, err := s.store.ConsumeCode(ctx, requestID, code)
	if err != nil {
		return false, err
	}
	if !consumed {
		// Either the code did not match, or someone else consumed or rotated
		// it between our read and the update. Re-read to tell the two apart.
		current, readErr := s.store.GetRequest(ctx, requestID)
		if readErr == nil && current.TenantApproved {
			return false, apperr.Conflict("request is already approved").WithOp(opVerify)
		}
		return false, nil
	}

	technicianID := uuid.Nil
	if req.TechnicianID != nil {
		technicianID = *req.TechnicianID
	}
	s.bus.Publish(ctx, events.WorkApproved{
		BaseEvent:    events.NewBaseEvent(),
		RequestID:    requestID,
		TenantID:     req.TenantID,
		TechnicianID: technicianID,
		ApprovedAt:   s.now(),
	})

	if _, dispatchErr := s.dispatcher.Dispatch(ctx, notification.DispatchParams{
		UserID:  requesterID,
		Title:   "Work approved",
		Message: fmt.Sprintf("You approved the completed work on %q. The request is now closed.", req.Title),
		Type:    notification.TypeSuccess,
		Data: map[string]string{
			notification.DataKeyRequestID: requestID.String(),
			notification.DataKeyAction:    "approved",
		},
	}); dispatchErr != nil {
		s.log.Error("approval confirmation dispatch failed",
			"request_id", requestID.String(), "error", dispatchErr.Error())
	}

	s.log.Info("work approved",
		"request_id", requestID.String(), "tenant_id", requesterID.String())
	return true, nil
}

// Status reports the challenge state for a request.
func (s *Service) Status(ctx context.Context, requestID uuid.UUID) (ChallengeStatus, error) {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return ChallengeStatus{}, err
	}

	switch {
	case req.TenantApproved:
		return ChallengeStatus{State: StateVerified}, nil
	case req.Code == nil:
		return ChallengeStatus{State: StateNone}, nil
	case req.CodeExpiresAt == nil || s.now().After(*req.CodeExpiresAt):
		return ChallengeStatus{State: StateExpired, ExpiresAt: req.CodeExpiresAt}, nil
	default:
		return ChallengeStatus{State: StateIssued, ExpiresAt: req.CodeExpiresAt}, nil
	}
}

// generateCode draws a uniformly random six-digit code.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
