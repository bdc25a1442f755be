// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"time"

	"facility_portal_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// Maintenance Request Domain Events
// =============================================================================

// RequestCreated is published when a tenant files a maintenance request.
type RequestCreated struct {
	BaseEvent
	RequestID  uuid.UUID `json:"requestId"`
	PropertyID uuid.UUID `json:"propertyId"`
	TenantID   uuid.UUID `json:"tenantId"`
	Title      string    `json:"title"`
	Priority   string    `json:"priority"`
}

func (e RequestCreated) EventName() string { return "requests.created" }

// RequestAssigned is published when a request is assigned to a technician.
type RequestAssigned struct {
	BaseEvent
	RequestID    uuid.UUID `json:"requestId"`
	TenantID     uuid.UUID `json:"tenantId"`
	TechnicianID uuid.UUID `json:"technicianId"`
	Title        string    `json:"title"`
}

func (e RequestAssigned) EventName() string { return "requests.assigned" }

// RequestStatusChanged is published on every request status transition.
type RequestStatusChanged struct {
	BaseEvent
	RequestID uuid.UUID `json:"requestId"`
	TenantID  uuid.UUID `json:"tenantId"`
	OldStatus string    `json:"oldStatus"`
	NewStatus string    `json:"newStatus"`
	Title     string    `json:"title"`
}

func (e RequestStatusChanged) EventName() string { return "requests.status.changed" }

// WorkCompleted is published when the technician reports the work done.
// The approval workflow picks this up to issue the tenant's approval code.
type WorkCompleted struct {
	BaseEvent
	RequestID    uuid.UUID `json:"requestId"`
	TenantID     uuid.UUID `json:"tenantId"`
	TechnicianID uuid.UUID `json:"technicianId"`
	Title        string    `json:"title"`
}

func (e WorkCompleted) EventName() string { return "requests.work.completed" }

// WorkApproved is published when the tenant confirms completed work with a
// valid approval code.
type WorkApproved struct {
	BaseEvent
	RequestID    uuid.UUID `json:"requestId"`
	TenantID     uuid.UUID `json:"tenantId"`
	TechnicianID uuid.UUID `json:"technicianId"`
	ApprovedAt   time.Time `json:"approvedAt"`
}

func (e WorkApproved) EventName() string { return "requests.work.approved" }

// VisitReminderDue is published by the scheduler sweep when a planned visit
// is close enough to warrant staging a reminder. RemindAt is when the
// reminder should actually reach the tenant.
type VisitReminderDue struct {
	BaseEvent
	RequestID uuid.UUID `json:"requestId"`
	TenantID  uuid.UUID `json:"tenantId"`
	Title     string    `json:"title"`
	VisitAt   time.Time `json:"visitAt"`
	RemindAt  time.Time `json:"remindAt"`
}

func (e VisitReminderDue) EventName() string { return "requests.visit.reminder_due" }

// NotificationOutboxDue is published by the scheduler worker when a staged
// outbox record reaches its run-at time. The notification module owns the
// actual dispatch.
type NotificationOutboxDue struct {
	BaseEvent
	OutboxID uuid.UUID `json:"outboxId"`
	UserID   uuid.UUID `json:"userId"`
}

func (e NotificationOutboxDue) EventName() string { return "notifications.outbox.due" }
