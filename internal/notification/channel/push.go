package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"facility_portal_backend/internal/notification"
	"facility_portal_backend/platform/config"
	"facility_portal_backend/platform/logger"
)

// PushSender delivers to a device token through the push gateway. When the
// gateway reports the token as dead it is removed from the channel directory
// so the next dispatch skips the channel instead of failing again.
type PushSender struct {
	baseURL string
	apiKey  string
	http    *http.Client
	tokens  TokenRemover
	log     *logger.Logger
}

type pushRequest struct {
	Token string            `json:"token"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

type pushResponse struct {
	MessageID    string `json:"messageId"`
	InvalidToken bool   `json:"invalidToken"`
}

// NewPushSender returns nil when the push gateway is not configured.
func NewPushSender(cfg config.PushConfig, tokens TokenRemover, log *logger.Logger) *PushSender {
	if cfg.GetPushURL() == "" {
		return nil
	}

	return &PushSender{
		baseURL: strings.TrimRight(cfg.GetPushURL(), "/"),
		apiKey:  cfg.GetPushKey(),
		http:    &http.Client{Timeout: 10 * time.Second},
		tokens:  tokens,
		log:     log,
	}
}

func (s *PushSender) Channel() notification.Channel {
	return notification.ChannelPush
}

func (s *PushSender) Send(ctx context.Context, n notification.Notification, destination string) (notification.SendResult, error) {
	result := notification.SendResult{Provider: "push-gateway"}
	if s == nil {
		return result, fmt.Errorf("push channel not configured")
	}
	if destination == "" {
		return result, fmt.Errorf("no device token on file")
	}

	data := map[string]string{"notificationId": n.ID.String()}
	for k, v := range n.Data {
		data[k] = v
	}

	body, err := json.Marshal(pushRequest{
		Token: destination,
		Title: n.Title,
		Body:  n.Message,
		Data:  data,
	})
	if err != nil {
		return result, fmt.Errorf("marshal push payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/push", bytes.NewBuffer(body))
	if err != nil {
		return result, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return result, fmt.Errorf("push request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var parsed pushResponse
	_ = json.Unmarshal(raw, &parsed)

	if parsed.InvalidToken || resp.StatusCode == http.StatusGone {
		s.dropToken(ctx, destination)
		return result, fmt.Errorf("push token no longer valid")
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return result, fmt.Errorf("push gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if parsed.MessageID != "" {
		result.ExternalMessageID = &parsed.MessageID
	}
	return result, nil
}

func (s *PushSender) dropToken(ctx context.Context, token string) {
	if s.tokens == nil {
		return
	}
	if err := s.tokens.RemovePushToken(ctx, token); err != nil {
		s.log.Error("failed to drop dead push token", "error", err.Error())
		return
	}
	s.log.Info("dropped dead push token")
}
