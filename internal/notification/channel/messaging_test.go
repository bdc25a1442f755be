package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"facility_portal_backend/internal/notification"
	"facility_portal_backend/platform/logger"

	"github.com/google/uuid"
)

type messagingConfig struct {
	url string
	key string
}

func (c messagingConfig) GetMessagingURL() string { return c.url }
func (c messagingConfig) GetMessagingKey() string { return c.key }

type notifConfig struct{}

func (notifConfig) GetAPIBaseURL() string         { return "https://portal.example.com" }
func (notifConfig) GetSendTimeout() time.Duration { return 0 }

func TestMessagingClientNilWhenUnconfigured(t *testing.T) {
	if NewMessagingClient(messagingConfig{}, notifConfig{}, logger.New("development")) != nil {
		t.Fatal("expected nil client without a gateway url")
	}
	if NewSMSSender(nil) != nil {
		t.Fatal("expected nil sms sender for nil client")
	}
	if NewWhatsAppSender(nil) != nil {
		t.Fatal("expected nil whatsapp sender for nil client")
	}
}

func TestSMSSenderPostsToGateway(t *testing.T) {
	var got gatewayRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("bad payload: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"messageId": "SM123", "status": "queued"})
	}))
	defer srv.Close()

	client := NewMessagingClient(messagingConfig{url: srv.URL, key: "secret"}, notifConfig{}, logger.New("development"))
	sender := NewSMSSender(client)

	n := notification.Notification{ID: uuid.New(), Title: "Visit planned", Message: "Tomorrow at 09:00."}
	result, err := sender.Send(context.Background(), n, "+31 6 12 34 56 78")
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}

	if auth != "Bearer secret" {
		t.Errorf("authorization = %q", auth)
	}
	if got.Medium != "sms" {
		t.Errorf("medium = %q", got.Medium)
	}
	if got.Phone != "+31612345678" {
		t.Errorf("phone = %q, want normalized E.164", got.Phone)
	}
	if !strings.Contains(got.Message, "Visit planned") {
		t.Errorf("message = %q", got.Message)
	}
	if result.Provider != "gateway-sms" {
		t.Errorf("provider = %q", result.Provider)
	}
	if result.ExternalMessageID == nil || *result.ExternalMessageID != "SM123" {
		t.Errorf("external id = %v", result.ExternalMessageID)
	}

	cb, err := url.Parse(got.StatusCallback)
	if err != nil {
		t.Fatalf("bad callback url: %v", err)
	}
	if cb.Path != "/api/v1/notifications/track/callback" {
		t.Errorf("callback path = %s", cb.Path)
	}
	if cb.Query().Get("notificationId") != n.ID.String() || cb.Query().Get("channel") != "sms" {
		t.Errorf("callback query = %s", cb.RawQuery)
	}
}

func TestWhatsAppSenderUsesWhatsAppMedium(t *testing.T) {
	var got gatewayRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(map[string]string{"messageId": "WA9"})
	}))
	defer srv.Close()

	client := NewMessagingClient(messagingConfig{url: srv.URL}, notifConfig{}, logger.New("development"))
	sender := NewWhatsAppSender(client)

	_, err := sender.Send(context.Background(), notification.Notification{ID: uuid.New(), Title: "t", Message: "m"}, "+31612345678")
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if got.Medium != "whatsapp" {
		t.Errorf("medium = %q", got.Medium)
	}
}

func TestMessagingSendRejectsUndialableNumber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("the gateway must not be called")
	}))
	defer srv.Close()

	client := NewMessagingClient(messagingConfig{url: srv.URL}, notifConfig{}, logger.New("development"))
	sender := NewSMSSender(client)

	_, err := sender.Send(context.Background(), notification.Notification{ID: uuid.New()}, "not-a-number")
	if err == nil {
		t.Fatal("expected an error for an undialable destination")
	}
}

func TestMessagingSendGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewMessagingClient(messagingConfig{url: srv.URL}, notifConfig{}, logger.New("development"))
	sender := NewSMSSender(client)

	_, err := sender.Send(context.Background(), notification.Notification{ID: uuid.New()}, "+31612345678")
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected a gateway status error, got %v", err)
	}
}
