package tracker

import (
	"context"
	"fmt"
	"time"

	"facility_portal_backend/internal/notification"
	"facility_portal_backend/platform/apperr"
	"facility_portal_backend/platform/logger"

	"github.com/google/uuid"
)

const opCallback = "notification.tracker.callback"

// Store is the persistence surface the tracker needs.
type Store interface {
	AdvanceDeliveryStatus(ctx context.Context, notificationID uuid.UUID, ch notification.Channel, to notification.Status, at time.Time) (bool, error)
}

// CallbackParams is one normalized provider delivery report.
type CallbackParams struct {
	NotificationID uuid.UUID
	Channel        notification.Channel
	RawStatus      string
	MessageID      string
	OccurredAt     time.Time
}

// Service applies provider callbacks and open beacons to the delivery log.
type Service struct {
	store Store
	dedup Deduper
	log   *logger.Logger
}

func NewService(store Store, dedup Deduper, log *logger.Logger) *Service {
	return &Service{store: store, dedup: dedup, log: log}
}

// ProcessCallback maps one provider report onto the canonical state machine.
// Duplicates, unknown notification ids and out-of-order statuses are all
// swallowed: the provider already delivered or failed the message, so there
// is nothing useful to signal back except a malformed request.
func (s *Service) ProcessCallback(ctx context.Context, p CallbackParams) error {
	if p.NotificationID == uuid.Nil {
		return apperr.Validation("notificationId is required").WithOp(opCallback)
	}
	if !p.Channel.Valid() {
		return apperr.Validation("unknown channel: " + string(p.Channel)).WithOp(opCallback)
	}

	status := MapProviderStatus(p.RawStatus)
	if status == notification.StatusPending {
		s.log.Debug("ignoring non-advancing provider status",
			"notification_id", p.NotificationID.String(),
			"channel", string(p.Channel),
			"raw_status", p.RawStatus)
		return nil
	}

	fingerprint := fmt.Sprintf("%s:%s:%s:%s", p.NotificationID, p.Channel, status, p.MessageID)
	if s.dedup != nil && !s.dedup.FirstSeen(ctx, fingerprint) {
		s.log.Debug("duplicate callback ignored",
			"notification_id", p.NotificationID.String(),
			"channel", string(p.Channel))
		return nil
	}

	occurredAt := p.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	applied, err := s.store.AdvanceDeliveryStatus(ctx, p.NotificationID, p.Channel, status, occurredAt)
	if err != nil {
		return err
	}
	if !applied {
		s.log.Debug("callback did not advance delivery status",
			"notification_id", p.NotificationID.String(),
			"channel", string(p.Channel),
			"status", string(status))
		return nil
	}

	s.log.DeliveryEvent(p.NotificationID.String(), string(p.Channel), string(status), nil)
	return nil
}

// ProcessOpenBeacon marks the email channel read when the tracking pixel is
// fetched. Errors are logged and swallowed; the beacon endpoint must always
// serve the image.
func (s *Service) ProcessOpenBeacon(ctx context.Context, notificationID uuid.UUID) {
	if notificationID == uuid.Nil {
		return
	}

	applied, err := s.store.AdvanceDeliveryStatus(ctx, notificationID, notification.ChannelEmail, notification.StatusRead, time.Now().UTC())
	if err != nil {
		s.log.Error("open beacon processing failed",
			"notification_id", notificationID.String(), "error", err.Error())
		return
	}
	if applied {
		s.log.DeliveryEvent(notificationID.String(), string(notification.ChannelEmail), string(notification.StatusRead), nil)
	}
}
