// Package handler exposes the notification module over HTTP: the
// authenticated inbox and channel preferences, plus the public tracking
// endpoints providers call back into.
package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"facility_portal_backend/internal/notification"
	"facility_portal_backend/internal/notification/tracker"
	"facility_portal_backend/platform/httpkit"
	"facility_portal_backend/platform/logger"
	"facility_portal_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Inbox is the consumer-facing read surface.
type Inbox interface {
	List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]notification.Notification, int, error)
	CountUnread(ctx context.Context, userID uuid.UUID) (int, error)
	MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error
	MarkAllRead(ctx context.Context, userID uuid.UUID) error
}

// Directory manages the user's channel bindings.
type Directory interface {
	ResolveContact(ctx context.Context, userID uuid.UUID) (notification.Contact, error)
	UpsertChannelBinding(ctx context.Context, userID uuid.UUID, ch notification.Channel, address string) error
	SetChannelEnabled(ctx context.Context, userID uuid.UUID, ch notification.Channel, enabled bool) error
	RemoveChannelBinding(ctx context.Context, userID uuid.UUID, ch notification.Channel) error
}

// Tracker processes provider callbacks and open beacons.
type Tracker interface {
	ProcessCallback(ctx context.Context, p tracker.CallbackParams) error
	ProcessOpenBeacon(ctx context.Context, notificationID uuid.UUID)
}

// Dispatcher sends one notification; exposed to admins for announcements.
type Dispatcher interface {
	Dispatch(ctx context.Context, p notification.DispatchParams) (notification.Notification, error)
}

type HTTPHandler struct {
	inbox      Inbox
	directory  Directory
	tracker    Tracker
	dispatcher Dispatcher
	val        *validator.Validator
	log        *logger.Logger
}

func NewHTTPHandler(inbox Inbox, directory Directory, trk Tracker, dispatcher Dispatcher, val *validator.Validator, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{inbox: inbox, directory: directory, tracker: trk, dispatcher: dispatcher, val: val, log: log}
}

// RegisterRoutes mounts the authenticated inbox and preference routes.
func (h *HTTPHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.List)
	rg.GET("/unread", h.CountUnread)
	rg.PATCH("/:id/read", h.MarkRead)
	rg.PATCH("/read-all", h.MarkAllRead)
	rg.GET("/channels", h.ListChannels)
	rg.PUT("/channels/:channel", h.UpsertChannel)
	rg.DELETE("/channels/:channel", h.RemoveChannel)
}

// RegisterDispatchRoute mounts the manual dispatch route; the caller attaches
// the role middleware.
func (h *HTTPHandler) RegisterDispatchRoute(rg *gin.RouterGroup) {
	rg.POST("/dispatch", h.Dispatch)
}

// RegisterTrackingRoutes mounts the unauthenticated provider-facing routes.
func (h *HTTPHandler) RegisterTrackingRoutes(rg *gin.RouterGroup) {
	rg.POST("/track/callback", h.Callback)
	rg.GET("/track/:id/open.gif", h.OpenBeacon)
}

func (h *HTTPHandler) List(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 50 {
		limit = 50
	}

	items, total, err := h.inbox.List(c.Request.Context(), identity.UserID(), limit, (page-1)*limit)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, gin.H{
		"items": items,
		"total": total,
		"page":  page,
	})
}

func (h *HTTPHandler) CountUnread(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	count, err := h.inbox.CountUnread(c.Request.Context(), identity.UserID())
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, gin.H{"count": count})
}

func (h *HTTPHandler) MarkRead(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}

	if err := h.inbox.MarkRead(c.Request.Context(), identity.UserID(), id); httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, gin.H{"status": "ok"})
}

func (h *HTTPHandler) MarkAllRead(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	if err := h.inbox.MarkAllRead(c.Request.Context(), identity.UserID()); httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, gin.H{"status": "ok"})
}

func (h *HTTPHandler) ListChannels(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	contact, err := h.directory.ResolveContact(c.Request.Context(), identity.UserID())
	if httpkit.HandleError(c, err) {
		return
	}

	bindings := make([]notification.ChannelBinding, 0, len(notification.AllChannels))
	for _, ch := range notification.AllChannels {
		bindings = append(bindings, notification.ChannelBinding{
			Channel: ch,
			Address: contact.Destination(ch),
			Enabled: contact.ChannelEnabled(ch),
		})
	}

	httpkit.OK(c, gin.H{"channels": bindings})
}

type upsertChannelRequest struct {
	Address string `json:"address"`
	Enabled *bool  `json:"enabled"`
}

func (h *HTTPHandler) UpsertChannel(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	ch := notification.Channel(c.Param("channel"))
	if !ch.Valid() {
		httpkit.Error(c, http.StatusBadRequest, "unknown channel", nil)
		return
	}

	var req upsertChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	ctx := c.Request.Context()
	if req.Address != "" {
		if err := h.directory.UpsertChannelBinding(ctx, identity.UserID(), ch, req.Address); httpkit.HandleError(c, err) {
			return
		}
	}
	if req.Enabled != nil {
		if err := h.directory.SetChannelEnabled(ctx, identity.UserID(), ch, *req.Enabled); httpkit.HandleError(c, err) {
			return
		}
	}

	httpkit.OK(c, gin.H{"status": "ok"})
}

func (h *HTTPHandler) RemoveChannel(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	ch := notification.Channel(c.Param("channel"))
	if !ch.Valid() {
		httpkit.Error(c, http.StatusBadRequest, "unknown channel", nil)
		return
	}

	if err := h.directory.RemoveChannelBinding(c.Request.Context(), identity.UserID(), ch); httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, gin.H{"status": "ok"})
}

type dispatchRequest struct {
	UserID   string            `json:"userId" validate:"required,uuid"`
	Title    string            `json:"title" validate:"required,max=200"`
	Message  string            `json:"message" validate:"required,max=2000"`
	Type     string            `json:"type" validate:"omitempty,oneof=info warning success error"`
	Data     map[string]string `json:"data"`
	Channels []string          `json:"channels" validate:"dive,oneof=email sms whatsapp push"`
}

func (h *HTTPHandler) Dispatch(c *gin.Context) {
	var req dispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid userId", nil)
		return
	}

	channels := make([]notification.Channel, 0, len(req.Channels))
	for _, raw := range req.Channels {
		channels = append(channels, notification.Channel(raw))
	}

	n, err := h.dispatcher.Dispatch(c.Request.Context(), notification.DispatchParams{
		UserID:   userID,
		Title:    req.Title,
		Message:  req.Message,
		Type:     notification.Type(req.Type),
		Data:     req.Data,
		Channels: channels,
	})
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.JSON(c, http.StatusCreated, n)
}

// callbackRequest tolerates both body fields and query parameters because
// gateways differ in how they post receipts. Query parameters win; they come
// from the statusCallback URL this service generated itself.
type callbackRequest struct {
	NotificationID string `json:"notificationId" form:"notificationId"`
	Channel        string `json:"channel" form:"channel"`
	Status         string `json:"status" form:"status"`
	MessageID      string `json:"messageId" form:"messageId"`
	Timestamp      string `json:"timestamp" form:"timestamp"`
}

// Callback always acknowledges with 200. Providers retry anything else, and a
// retry storm cannot fix a payload we could not correlate; the failure is
// logged for operators instead.
func (h *HTTPHandler) Callback(c *gin.Context) {
	var req callbackRequest
	_ = c.ShouldBindJSON(&req)
	if v := c.Query("notificationId"); v != "" {
		req.NotificationID = v
	}
	if v := c.Query("channel"); v != "" {
		req.Channel = v
	}
	if v := c.Query("status"); v != "" {
		req.Status = v
	}

	notificationID, err := uuid.Parse(req.NotificationID)
	if err != nil {
		h.log.Warn("callback with unusable notificationId, acknowledged",
			"notification_id", req.NotificationID, "channel", req.Channel)
		httpkit.OK(c, gin.H{"status": "ok"})
		return
	}

	var occurredAt time.Time
	if req.Timestamp != "" {
		occurredAt, _ = time.Parse(time.RFC3339, req.Timestamp)
	}

	err = h.tracker.ProcessCallback(c.Request.Context(), tracker.CallbackParams{
		NotificationID: notificationID,
		Channel:        notification.Channel(req.Channel),
		RawStatus:      req.Status,
		MessageID:      req.MessageID,
		OccurredAt:     occurredAt,
	})
	if err != nil {
		h.log.Warn("callback processing failed, acknowledged",
			"notification_id", notificationID.String(), "channel", req.Channel, "error", err.Error())
	}

	httpkit.OK(c, gin.H{"status": "ok"})
}

// openBeaconGIF is a 1x1 transparent GIF. The beacon always serves it, no
// matter what happened while recording the open, so broken tracking never
// renders a broken image in the recipient's mail client.
var openBeaconGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

func (h *HTTPHandler) OpenBeacon(c *gin.Context) {
	if id, err := uuid.Parse(c.Param("id")); err == nil {
		h.tracker.ProcessOpenBeacon(c.Request.Context(), id)
	}

	c.Header("Cache-Control", "no-store, no-cache, must-revalidate")
	c.Header("Pragma", "no-cache")
	c.Data(http.StatusOK, "image/gif", openBeaconGIF)
}
