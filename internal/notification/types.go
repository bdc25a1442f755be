// Package notification implements the dispatch and delivery-tracking engine:
// one logical event is fanned out to a user across independent channels
// (email, SMS, WhatsApp, push), every attempt is recorded, and asynchronous
// provider callbacks are reconciled against the stored delivery state.
package notification

import (
	"time"

	"github.com/google/uuid"
)

// Channel is one delivery medium.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelPush     Channel = "push"
)

// AllChannels lists every supported channel.
var AllChannels = []Channel{ChannelEmail, ChannelSMS, ChannelWhatsApp, ChannelPush}

// DefaultChannels is the requested channel set when the caller supplies none.
var DefaultChannels = []Channel{ChannelEmail, ChannelPush}

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelWhatsApp, ChannelPush:
		return true
	}
	return false
}

// Type categorizes a notification for display purposes.
type Type string

const (
	TypeInfo    Type = "info"
	TypeWarning Type = "warning"
	TypeSuccess Type = "success"
	TypeError   Type = "error"
)

// Status is the engine's own delivery-state vocabulary, independent of any
// provider's status strings.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

// statusTransitions whitelists every legal status advance. "failed" is
// terminal and only reachable before the provider confirmed delivery; "read"
// is reachable from "sent" because some channels report read without a
// distinct delivered signal.
var statusTransitions = map[Status]map[Status]bool{
	StatusPending:   {StatusSent: true, StatusDelivered: true, StatusRead: true, StatusFailed: true},
	StatusSent:      {StatusDelivered: true, StatusRead: true, StatusFailed: true},
	StatusDelivered: {StatusRead: true},
	StatusRead:      {},
	StatusFailed:    {},
}

// CanTransition reports whether moving from one status to another is a legal
// advance. Out-of-order provider callbacks that would regress the stored
// status (e.g. "sent" arriving after "delivered") come back false and must be
// ignored by the caller.
func CanTransition(from, to Status) bool {
	if from == to {
		return false
	}
	allowed, ok := statusTransitions[from]
	if !ok {
		return false
	}
	return allowed[to]
}

// Notification is one logical event delivered to one user. The notification
// ID doubles as the correlation id embedded in outbound messages and
// provider callback URLs.
type Notification struct {
	ID                 uuid.UUID          `json:"id"`
	UserID             uuid.UUID          `json:"userId"`
	Title              string             `json:"title"`
	Message            string             `json:"message"`
	Type               Type               `json:"type"`
	Data               map[string]string  `json:"data,omitempty"`
	IsRead             bool               `json:"isRead"`
	ReadAt             *time.Time         `json:"readAt,omitempty"`
	ChannelsSent       []Channel          `json:"channelsSent"`
	DeliveryStatus     map[Channel]Status `json:"deliveryStatus"`
	ExternalMessageIDs map[Channel]string `json:"externalMessageIds,omitempty"`
	DeliveryAttempts   int                `json:"deliveryAttempts"`
	CreatedAt          time.Time          `json:"createdAt"`
}

// DeliveryLogEntry is one row per (notification, channel) attempt. A resend
// updates the existing row rather than inserting a duplicate.
type DeliveryLogEntry struct {
	NotificationID    uuid.UUID  `json:"notificationId"`
	Channel           Channel    `json:"channel"`
	Provider          *string    `json:"provider,omitempty"`
	ExternalMessageID *string    `json:"externalMessageId,omitempty"`
	Status            Status     `json:"status"`
	ErrorMessage      *string    `json:"errorMessage,omitempty"`
	DeliveredAt       *time.Time `json:"deliveredAt,omitempty"`
	ReadAt            *time.Time `json:"readAt,omitempty"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// Well-known keys of the Data payload. Each dispatch site documents which
// keys it sets; consumers must tolerate absent keys.
const (
	DataKeyRequestID = "requestId"
	DataKeyAction    = "action"
	DataKeyPriority  = "priority"
)

// ChannelBinding is one user's address on one channel. A missing row for a
// channel means the channel is enabled but has no explicit address on file.
type ChannelBinding struct {
	Channel Channel `json:"channel"`
	Address string  `json:"address"`
	Enabled bool    `json:"enabled"`
}

// Contact is the resolved delivery profile for one user.
type Contact struct {
	UserID   uuid.UUID
	Email    string
	Phone    string
	Bindings map[Channel]ChannelBinding
}

// Destination returns the address to deliver on the given channel, falling
// back to the user's profile email or phone when no explicit binding exists.
func (c Contact) Destination(ch Channel) string {
	if b, ok := c.Bindings[ch]; ok && b.Address != "" {
		return b.Address
	}
	switch ch {
	case ChannelEmail:
		return c.Email
	case ChannelSMS, ChannelWhatsApp:
		return c.Phone
	}
	return ""
}

// ChannelEnabled reports whether the user accepts delivery on the given
// channel. Absence of a binding row counts as enabled.
func (c Contact) ChannelEnabled(ch Channel) bool {
	if b, ok := c.Bindings[ch]; ok {
		return b.Enabled
	}
	return true
}

// CreateParams describes a new notification row. Delivery fields start empty
// and are filled in per channel attempt.
type CreateParams struct {
	UserID  uuid.UUID
	Title   string
	Message string
	Type    Type
	Data    map[string]string
}

// AttemptRecord describes the outcome of one channel send attempt.
type AttemptRecord struct {
	NotificationID    uuid.UUID
	Channel           Channel
	Provider          string
	ExternalMessageID *string
	Status            Status // sent or failed
	ErrorMessage      *string
}
