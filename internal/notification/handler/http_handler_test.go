package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"facility_portal_backend/internal/notification"
	"facility_portal_backend/internal/notification/tracker"
	"facility_portal_backend/platform/apperr"
	"facility_portal_backend/platform/httpkit"
	"facility_portal_backend/platform/logger"
	"facility_portal_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type fakeInbox struct {
	items    []notification.Notification
	unread   int
	markRead []uuid.UUID
	allRead  bool
}

func (f *fakeInbox) List(_ context.Context, _ uuid.UUID, limit, offset int) ([]notification.Notification, int, error) {
	if offset >= len(f.items) {
		return nil, len(f.items), nil
	}
	end := offset + limit
	if end > len(f.items) {
		end = len(f.items)
	}
	return f.items[offset:end], len(f.items), nil
}

func (f *fakeInbox) CountUnread(context.Context, uuid.UUID) (int, error) {
	return f.unread, nil
}

func (f *fakeInbox) MarkRead(_ context.Context, _ uuid.UUID, id uuid.UUID) error {
	for _, n := range f.items {
		if n.ID == id {
			f.markRead = append(f.markRead, id)
			return nil
		}
	}
	return apperr.NotFound("notification not found")
}

func (f *fakeInbox) MarkAllRead(context.Context, uuid.UUID) error {
	f.allRead = true
	return nil
}

type fakeDirectory struct {
	contact  notification.Contact
	upserts  map[notification.Channel]string
	enabled  map[notification.Channel]bool
	removals []notification.Channel
}

func (f *fakeDirectory) ResolveContact(context.Context, uuid.UUID) (notification.Contact, error) {
	return f.contact, nil
}

func (f *fakeDirectory) UpsertChannelBinding(_ context.Context, _ uuid.UUID, ch notification.Channel, address string) error {
	if f.upserts == nil {
		f.upserts = map[notification.Channel]string{}
	}
	f.upserts[ch] = address
	return nil
}

func (f *fakeDirectory) SetChannelEnabled(_ context.Context, _ uuid.UUID, ch notification.Channel, enabled bool) error {
	if f.enabled == nil {
		f.enabled = map[notification.Channel]bool{}
	}
	f.enabled[ch] = enabled
	return nil
}

func (f *fakeDirectory) RemoveChannelBinding(_ context.Context, _ uuid.UUID, ch notification.Channel) error {
	f.removals = append(f.removals, ch)
	return nil
}

type fakeTracker struct {
	callbacks []tracker.CallbackParams
	beacons   []uuid.UUID
	err       error
}

func (f *fakeTracker) ProcessCallback(_ context.Context, p tracker.CallbackParams) error {
	if f.err != nil {
		return f.err
	}
	if p.NotificationID == uuid.Nil {
		return apperr.Validation("notificationId is required")
	}
	if !p.Channel.Valid() {
		return apperr.Validation("unknown channel: " + string(p.Channel))
	}
	f.callbacks = append(f.callbacks, p)
	return nil
}

func (f *fakeTracker) ProcessOpenBeacon(_ context.Context, id uuid.UUID) {
	f.beacons = append(f.beacons, id)
}

type fakeDispatcher struct {
	calls []notification.DispatchParams
}

func (f *fakeDispatcher) Dispatch(_ context.Context, p notification.DispatchParams) (notification.Notification, error) {
	f.calls = append(f.calls, p)
	return notification.Notification{ID: uuid.New(), UserID: p.UserID, Title: p.Title}, nil
}

type testHarness struct {
	engine     *gin.Engine
	inbox      *fakeInbox
	directory  *fakeDirectory
	tracker    *fakeTracker
	dispatcher *fakeDispatcher
	userID     uuid.UUID
}

func newHarness() *testHarness {
	gin.SetMode(gin.TestMode)
	h := &testHarness{
		inbox:      &fakeInbox{},
		directory:  &fakeDirectory{contact: notification.Contact{Bindings: map[notification.Channel]notification.ChannelBinding{}}},
		tracker:    &fakeTracker{},
		dispatcher: &fakeDispatcher{},
		userID:     uuid.New(),
	}

	handler := NewHTTPHandler(h.inbox, h.directory, h.tracker, h.dispatcher, validator.New(), logger.New("development"))

	engine := gin.New()
	authed := engine.Group("/notifications", func(c *gin.Context) {
		c.Set(httpkit.ContextUserIDKey, h.userID)
		c.Set(httpkit.ContextRolesKey, []string{"admin"})
		c.Next()
	})
	handler.RegisterRoutes(authed)
	handler.RegisterDispatchRoute(authed)
	handler.RegisterTrackingRoutes(engine.Group("/notifications"))

	h.engine = engine
	return h
}

func (h *testHarness) do(method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)
	return w
}

func TestListPagination(t *testing.T) {
	h := newHarness()
	for i := 0; i < 25; i++ {
		h.inbox.items = append(h.inbox.items, notification.Notification{ID: uuid.New(), UserID: h.userID})
	}

	w := h.do(http.MethodGet, "/notifications?page=2&limit=10", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Items []notification.Notification `json:"items"`
		Total int                         `json:"total"`
		Page  int                         `json:"page"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if resp.Total != 25 || resp.Page != 2 || len(resp.Items) != 10 {
		t.Errorf("total=%d page=%d items=%d", resp.Total, resp.Page, len(resp.Items))
	}
}

func TestMarkReadUnknownNotification(t *testing.T) {
	h := newHarness()

	w := h.do(http.MethodPatch, "/notifications/"+uuid.NewString()+"/read", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestMarkAllRead(t *testing.T) {
	h := newHarness()

	w := h.do(http.MethodPatch, "/notifications/read-all", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !h.inbox.allRead {
		t.Error("MarkAllRead was not invoked")
	}
}

func TestDispatchEndpoint(t *testing.T) {
	h := newHarness()
	target := uuid.New()

	w := h.do(http.MethodPost, "/notifications/dispatch", gin.H{
		"userId":   target.String(),
		"title":    "Planned maintenance",
		"message":  "Water will be shut off tomorrow morning.",
		"type":     "warning",
		"channels": []string{"email", "sms"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if len(h.dispatcher.calls) != 1 {
		t.Fatalf("expected 1 dispatch, got %d", len(h.dispatcher.calls))
	}
	call := h.dispatcher.calls[0]
	if call.UserID != target || call.Type != notification.TypeWarning || len(call.Channels) != 2 {
		t.Errorf("unexpected dispatch params: %+v", call)
	}
}

func TestDispatchEndpointValidation(t *testing.T) {
	h := newHarness()

	cases := []gin.H{
		{},
		{"title": "t", "message": "m"},
		{"userId": "not-a-uuid", "title": "t", "message": "m"},
		{"userId": uuid.NewString(), "message": "m"},
		{"userId": uuid.NewString(), "title": "t", "message": "m", "type": "shouting"},
		{"userId": uuid.NewString(), "title": "t", "message": "m", "channels": []string{"fax"}},
	}
	for i, body := range cases {
		w := h.do(http.MethodPost, "/notifications/dispatch", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("case %d: status = %d, want 400", i, w.Code)
		}
	}
	if len(h.dispatcher.calls) != 0 {
		t.Errorf("invalid payloads reached the dispatcher: %d", len(h.dispatcher.calls))
	}
}

func TestUpsertChannel(t *testing.T) {
	h := newHarness()
	enabled := false

	w := h.do(http.MethodPut, "/notifications/channels/sms", gin.H{
		"address": "+31612345678",
		"enabled": enabled,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if h.directory.upserts[notification.ChannelSMS] != "+31612345678" {
		t.Error("address was not upserted")
	}
	if got, ok := h.directory.enabled[notification.ChannelSMS]; !ok || got {
		t.Error("channel was not disabled")
	}

	w = h.do(http.MethodPut, "/notifications/channels/fax", gin.H{"address": "x"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown channel: status = %d, want 400", w.Code)
	}
}

func TestRemoveChannel(t *testing.T) {
	h := newHarness()

	w := h.do(http.MethodDelete, "/notifications/channels/push", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if len(h.directory.removals) != 1 || h.directory.removals[0] != notification.ChannelPush {
		t.Errorf("removals = %v", h.directory.removals)
	}
}

func TestCallbackEndpointMergesQueryAndBody(t *testing.T) {
	h := newHarness()
	id := uuid.New()

	// body carries the provider payload, the query carries our own routing
	w := h.do(http.MethodPost,
		"/notifications/track/callback?notificationId="+id.String()+"&channel=sms",
		gin.H{"status": "delivered", "messageId": "SM42", "timestamp": "2026-08-30T10:00:00Z"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if len(h.tracker.callbacks) != 1 {
		t.Fatalf("expected 1 callback, got %d", len(h.tracker.callbacks))
	}
	cb := h.tracker.callbacks[0]
	if cb.NotificationID != id || cb.Channel != notification.ChannelSMS || cb.RawStatus != "delivered" || cb.MessageID != "SM42" {
		t.Errorf("unexpected callback params: %+v", cb)
	}
	want := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	if !cb.OccurredAt.Equal(want) {
		t.Errorf("occurredAt = %v, want %v", cb.OccurredAt, want)
	}
}

func TestCallbackEndpointAcknowledgesBadID(t *testing.T) {
	h := newHarness()

	// Providers retry non-2xx responses; an uncorrelatable payload gets
	// logged and acknowledged, never rejected.
	w := h.do(http.MethodPost, "/notifications/track/callback?notificationId=nope&channel=sms", gin.H{"status": "delivered"})
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if len(h.tracker.callbacks) != 0 {
		t.Errorf("uncorrelated callback must not reach the tracker, got %d", len(h.tracker.callbacks))
	}
}

func TestCallbackEndpointAcknowledgesUnknownChannel(t *testing.T) {
	h := newHarness()

	w := h.do(http.MethodPost,
		"/notifications/track/callback?notificationId="+uuid.NewString()+"&channel=fax",
		gin.H{"status": "delivered"})
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if len(h.tracker.callbacks) != 0 {
		t.Errorf("rejected callback must not be recorded, got %d", len(h.tracker.callbacks))
	}
}

func TestCallbackEndpointAcknowledgesTrackerFailure(t *testing.T) {
	h := newHarness()
	h.tracker.err = apperr.Internal("store unavailable")

	w := h.do(http.MethodPost,
		"/notifications/track/callback?notificationId="+uuid.NewString()+"&channel=sms",
		gin.H{"status": "delivered"})
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestOpenBeaconAlwaysServesImage(t *testing.T) {
	h := newHarness()
	id := uuid.New()

	w := h.do(http.MethodGet, "/notifications/track/"+id.String()+"/open.gif", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/gif" {
		t.Errorf("content type = %q", ct)
	}
	if !bytes.Equal(w.Body.Bytes(), openBeaconGIF) {
		t.Error("body is not the tracking pixel")
	}
	if len(h.tracker.beacons) != 1 || h.tracker.beacons[0] != id {
		t.Errorf("beacons = %v", h.tracker.beacons)
	}

	// a mangled id still gets the image, just without processing
	w = h.do(http.MethodGet, "/notifications/track/not-a-uuid/open.gif", nil)
	if w.Code != http.StatusOK || !bytes.Equal(w.Body.Bytes(), openBeaconGIF) {
		t.Error("beacon must serve the image for any id")
	}
	if len(h.tracker.beacons) != 1 {
		t.Error("mangled id must not reach the tracker")
	}
}
