package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"facility_portal_backend/internal/notification"
	"facility_portal_backend/platform/config"
	"facility_portal_backend/platform/logger"
	"facility_portal_backend/platform/phone"
)

// MessagingClient talks to the SMS/WhatsApp gateway. Both channels share the
// gateway; the medium travels in the request payload.
type MessagingClient struct {
	baseURL string
	apiKey  string
	appURL  string
	http    *http.Client
	log     *logger.Logger
}

type gatewayRequest struct {
	Medium         string `json:"medium"`
	Phone          string `json:"phone"`
	Message        string `json:"message"`
	StatusCallback string `json:"statusCallback,omitempty"`
}

type gatewayResponse struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

// NewMessagingClient returns nil when the gateway is not configured, which
// disables both the sms and whatsapp channels.
func NewMessagingClient(cfg config.MessagingConfig, notifCfg config.NotificationConfig, log *logger.Logger) *MessagingClient {
	if cfg.GetMessagingURL() == "" {
		return nil
	}

	return &MessagingClient{
		baseURL: strings.TrimRight(cfg.GetMessagingURL(), "/"),
		apiKey:  cfg.GetMessagingKey(),
		appURL:  notifCfg.GetAPIBaseURL(),
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

func (c *MessagingClient) send(ctx context.Context, medium string, n notification.Notification, destination string) (notification.SendResult, error) {
	result := notification.SendResult{Provider: "gateway-" + medium}
	if c == nil {
		return result, fmt.Errorf("%s channel not configured", medium)
	}
	if !phone.IsDialable(destination) {
		return result, fmt.Errorf("no dialable phone number on file")
	}

	payload := gatewayRequest{
		Medium:         medium,
		Phone:          phone.NormalizeE164(destination),
		Message:        fmt.Sprintf("%s\n%s", n.Title, n.Message),
		StatusCallback: c.callbackURL(n, medium),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return result, fmt.Errorf("marshal gateway payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewBuffer(body))
	if err != nil {
		return result, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return result, fmt.Errorf("gateway request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return result, fmt.Errorf("gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var parsed gatewayResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err == nil && parsed.MessageID != "" {
		result.ExternalMessageID = &parsed.MessageID
	}

	c.log.Info("message handed to gateway", "medium", medium, "notification_id", n.ID)
	return result, nil
}

// callbackURL is where the gateway posts delivery receipts. It carries the
// notification id and channel so the tracker never has to look messages up by
// provider id.
func (c *MessagingClient) callbackURL(n notification.Notification, medium string) string {
	q := url.Values{}
	q.Set("notificationId", n.ID.String())
	q.Set("channel", medium)
	return fmt.Sprintf("%s/api/v1/notifications/track/callback?%s", c.appURL, q.Encode())
}

// SMSSender delivers over the gateway's sms medium.
type SMSSender struct {
	client *MessagingClient
}

func NewSMSSender(client *MessagingClient) *SMSSender {
	if client == nil {
		return nil
	}
	return &SMSSender{client: client}
}

func (s *SMSSender) Channel() notification.Channel {
	return notification.ChannelSMS
}

func (s *SMSSender) Send(ctx context.Context, n notification.Notification, destination string) (notification.SendResult, error) {
	if s == nil {
		return notification.SendResult{Provider: "gateway-sms"}, fmt.Errorf("sms channel not configured")
	}
	return s.client.send(ctx, "sms", n, destination)
}

// WhatsAppSender delivers over the gateway's whatsapp medium.
type WhatsAppSender struct {
	client *MessagingClient
}

func NewWhatsAppSender(client *MessagingClient) *WhatsAppSender {
	if client == nil {
		return nil
	}
	return &WhatsAppSender{client: client}
}

func (s *WhatsAppSender) Channel() notification.Channel {
	return notification.ChannelWhatsApp
}

func (s *WhatsAppSender) Send(ctx context.Context, n notification.Notification, destination string) (notification.SendResult, error) {
	if s == nil {
		return notification.SendResult{Provider: "gateway-whatsapp"}, fmt.Errorf("whatsapp channel not configured")
	}
	return s.client.send(ctx, "whatsapp", n, destination)
}
