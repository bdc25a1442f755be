package approval

import (
	"context"
	"fmt"

	"facility_portal_backend/internal/events"
	apphttp "facility_portal_backend/internal/http"
	"facility_portal_backend/platform/config"
	"facility_portal_backend/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module wires the approval workflow and exposes it over HTTP.
type Module struct {
	service *Service
	handler *HTTPHandler
	log     *logger.Logger
}

func NewModule(pool *pgxpool.Pool, dispatcher Dispatcher, bus events.Bus, cfg config.ApprovalConfig, log *logger.Logger) *Module {
	svc := NewService(NewRepository(pool), dispatcher, bus, cfg, log)
	return &Module{
		service: svc,
		handler: NewHTTPHandler(svc),
		log:     log,
	}
}

func (m *Module) Name() string { return "approval" }

func (m *Module) RegisterRoutes(rc *apphttp.RouterContext) {
	m.handler.RegisterRoutes(rc.Protected.Group("/requests"), rc.VerifyRateLimiter)
}

// Service exposes the workflow to other composition points (scheduler).
func (m *Module) Service() *Service { return m.service }

// RegisterHandlers auto-issues an approval code the moment a technician
// reports work completed.
func (m *Module) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.WorkCompleted{}.EventName(), events.HandlerFunc(m.onWorkCompleted))
}

func (m *Module) onWorkCompleted(ctx context.Context, e events.Event) error {
	evt, ok := e.(events.WorkCompleted)
	if !ok {
		return fmt.Errorf("unexpected event type %T", e)
	}
	return m.service.Generate(ctx, evt.RequestID, evt.TechnicianID)
}
