package handler

import (
	"context"
	"fmt"
	"time"

	"facility_portal_backend/internal/events"
	apphttp "facility_portal_backend/internal/http"
	"facility_portal_backend/internal/notification"
	"facility_portal_backend/internal/notification/channel"
	"facility_portal_backend/internal/notification/outbox"
	"facility_portal_backend/internal/notification/store"
	"facility_portal_backend/internal/notification/tracker"
	"facility_portal_backend/platform/config"
	"facility_portal_backend/platform/httpkit"
	"facility_portal_backend/platform/logger"
	"facility_portal_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// ModuleConfig combines the config interfaces the notification module needs.
type ModuleConfig interface {
	config.EmailConfig
	config.MessagingConfig
	config.PushConfig
	config.NotificationConfig
}

// Module owns the whole notification engine: store, senders, dispatcher,
// tracker and the HTTP surface. It also subscribes to domain events so other
// modules never talk to channels directly.
type Module struct {
	store      *store.Repository
	outbox     *outbox.Repository
	dispatcher *notification.Dispatcher
	tracker    *tracker.Service
	handler    *HTTPHandler
	log        *logger.Logger
}

// NewModule wires the notification engine. redisClient may be nil; callback
// deduplication is then skipped and the monotonic store guard carries the
// idempotency load alone.
func NewModule(pool *pgxpool.Pool, cfg ModuleConfig, redisClient *redis.Client, log *logger.Logger) *Module {
	repo := store.NewRepository(pool)

	var senders []notification.Sender
	if email := channel.NewEmailSender(cfg, cfg); email != nil {
		senders = append(senders, email)
	}
	if gateway := channel.NewMessagingClient(cfg, cfg, log); gateway != nil {
		senders = append(senders, channel.NewSMSSender(gateway), channel.NewWhatsAppSender(gateway))
	}
	if push := channel.NewPushSender(cfg, repo, log); push != nil {
		senders = append(senders, push)
	}

	dispatcher := notification.NewDispatcher(repo, cfg, log, senders...)
	trackerSvc := tracker.NewService(repo, tracker.NewRedisDeduper(redisClient, log), log)

	return &Module{
		store:      repo,
		outbox:     outbox.New(pool),
		dispatcher: dispatcher,
		tracker:    trackerSvc,
		handler:    NewHTTPHandler(repo, repo, trackerSvc, dispatcher, validator.New(), log),
		log:        log,
	}
}

func (m *Module) Name() string { return "notifications" }

// RegisterRoutes mounts the inbox under auth, the dispatch route under admin,
// and the tracking routes publicly. Providers cannot authenticate, so the
// tracking routes rely on unguessable notification ids plus idempotent,
// monotonic processing.
func (m *Module) RegisterRoutes(rc *apphttp.RouterContext) {
	inbox := rc.Protected.Group("/notifications")
	m.handler.RegisterRoutes(inbox)

	dispatch := rc.Protected.Group("/notifications")
	dispatch.Use(httpkit.RequireRole("admin"))
	m.handler.RegisterDispatchRoute(dispatch)

	m.handler.RegisterTrackingRoutes(rc.V1.Group("/notifications"))
}

// Dispatcher exposes the dispatch entry point to other modules (approval
// workflow, scheduler).
func (m *Module) Dispatcher() *notification.Dispatcher { return m.dispatcher }

// Outbox exposes the deferred-dispatch store to the scheduler.
func (m *Module) Outbox() *outbox.Repository { return m.outbox }

// RegisterHandlers subscribes the module to domain events. Handlers run on
// the bus goroutine; dispatch failures are logged, never propagated.
func (m *Module) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.RequestAssigned{}.EventName(), events.HandlerFunc(m.onRequestAssigned))
	bus.Subscribe(events.RequestStatusChanged{}.EventName(), events.HandlerFunc(m.onRequestStatusChanged))
	bus.Subscribe(events.VisitReminderDue{}.EventName(), events.HandlerFunc(m.onVisitReminderDue))
	bus.Subscribe(events.NotificationOutboxDue{}.EventName(), events.HandlerFunc(m.onOutboxDue))
}

func (m *Module) onRequestAssigned(ctx context.Context, e events.Event) error {
	evt, ok := e.(events.RequestAssigned)
	if !ok {
		return fmt.Errorf("unexpected event type %T", e)
	}

	_, err := m.dispatcher.Dispatch(ctx, notification.DispatchParams{
		UserID:  evt.TenantID,
		Title:   "Maintenance request assigned",
		Message: fmt.Sprintf("Your request %q has been assigned to a technician.", evt.Title),
		Type:    notification.TypeInfo,
		Data: map[string]string{
			notification.DataKeyRequestID: evt.RequestID.String(),
			notification.DataKeyAction:    "assigned",
		},
	})
	return err
}

func (m *Module) onRequestStatusChanged(ctx context.Context, e events.Event) error {
	evt, ok := e.(events.RequestStatusChanged)
	if !ok {
		return fmt.Errorf("unexpected event type %T", e)
	}

	kind := notification.TypeInfo
	if evt.NewStatus == "cancelled" {
		kind = notification.TypeWarning
	}

	_, err := m.dispatcher.Dispatch(ctx, notification.DispatchParams{
		UserID:  evt.TenantID,
		Title:   "Maintenance request updated",
		Message: fmt.Sprintf("Request %q moved from %s to %s.", evt.Title, evt.OldStatus, evt.NewStatus),
		Type:    kind,
		Data: map[string]string{
			notification.DataKeyRequestID: evt.RequestID.String(),
			notification.DataKeyAction:    "status_changed",
		},
	})
	return err
}

// onVisitReminderDue stages the reminder in the outbox rather than sending
// right away; the scheduler delivers it at RemindAt.
func (m *Module) onVisitReminderDue(ctx context.Context, e events.Event) error {
	evt, ok := e.(events.VisitReminderDue)
	if !ok {
		return fmt.Errorf("unexpected event type %T", e)
	}

	_, err := m.outbox.Insert(ctx, outbox.InsertParams{
		UserID:  evt.TenantID,
		Title:   "Upcoming maintenance visit",
		Message: fmt.Sprintf("A technician visit for %q is planned at %s.", evt.Title, evt.VisitAt.Format("Mon 2 Jan 15:04")),
		Type:    notification.TypeInfo,
		Data: map[string]string{
			notification.DataKeyRequestID: evt.RequestID.String(),
			notification.DataKeyAction:    "visit_reminder",
		},
		RunAt: evt.RemindAt,
	})
	return err
}

const (
	maxOutboxAttempts = 5
	outboxBackoffUnit = time.Minute
)

// onOutboxDue executes one staged dispatch. Failures go back to pending with
// a quadratic backoff until the attempt cap, then the row is parked as
// failed for operator attention.
func (m *Module) onOutboxDue(ctx context.Context, e events.Event) error {
	evt, ok := e.(events.NotificationOutboxDue)
	if !ok {
		return fmt.Errorf("unexpected event type %T", e)
	}

	rec, err := m.outbox.GetByID(ctx, evt.OutboxID)
	if err != nil {
		return err
	}
	if rec.Status == outbox.StatusSucceeded || rec.Status == outbox.StatusFailed {
		return nil
	}

	if err := m.outbox.MarkProcessing(ctx, rec.ID); err != nil {
		return err
	}

	_, dispatchErr := m.dispatcher.Dispatch(ctx, notification.DispatchParams{
		UserID:   rec.UserID,
		Title:    rec.Title,
		Message:  rec.Message,
		Type:     rec.Type,
		Data:     rec.Data,
		Channels: rec.Channels,
	})
	if dispatchErr != nil {
		attempts := rec.Attempts + 1
		if attempts >= maxOutboxAttempts {
			m.log.Error("outbox dispatch failed permanently",
				"outbox_id", rec.ID.String(), "attempts", attempts, "error", dispatchErr.Error())
			return m.outbox.MarkFailed(ctx, rec.ID, dispatchErr.Error())
		}

		backoff := time.Duration(attempts*attempts) * outboxBackoffUnit
		m.log.Warn("outbox dispatch failed, rescheduling",
			"outbox_id", rec.ID.String(), "attempts", attempts, "error", dispatchErr.Error())
		return m.outbox.Reschedule(ctx, rec.ID, time.Now().UTC().Add(backoff), dispatchErr.Error())
	}

	return m.outbox.MarkSucceeded(ctx, rec.ID)
}
