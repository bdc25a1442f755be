package channel

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"net"
	"time"

	"facility_portal_backend/internal/notification"
	"facility_portal_backend/platform/config"

	gomail "github.com/wneessen/go-mail"
)

//go:embed templates/*.html
var templateFS embed.FS

var notificationTemplate = template.Must(template.ParseFS(templateFS, "templates/notification.html"))

type notificationEmailData struct {
	Title     string
	Message   string
	Type      string
	BeaconURL string
}

// EmailSender delivers notifications over SMTP via go-mail. Each message
// embeds a 1x1 open beacon whose URL carries the notification id, which is how
// email reaches the read status without any provider callback.
type EmailSender struct {
	host      string
	port      int
	username  string
	password  string
	fromName  string
	fromEmail string
	baseURL   string
}

// NewEmailSender returns nil when SMTP is not configured, which disables the
// email channel entirely.
func NewEmailSender(cfg config.EmailConfig, notifCfg config.NotificationConfig) *EmailSender {
	if !cfg.GetEmailEnabled() {
		return nil
	}

	return &EmailSender{
		host:      cfg.GetSMTPHost(),
		port:      cfg.GetSMTPPort(),
		username:  cfg.GetSMTPUsername(),
		password:  cfg.GetSMTPPassword(),
		fromName:  cfg.GetEmailFromName(),
		fromEmail: cfg.GetEmailFromAddress(),
		baseURL:   notifCfg.GetAPIBaseURL(),
	}
}

func (s *EmailSender) Channel() notification.Channel {
	return notification.ChannelEmail
}

func (s *EmailSender) Send(ctx context.Context, n notification.Notification, destination string) (notification.SendResult, error) {
	result := notification.SendResult{Provider: "smtp"}
	if s == nil {
		return result, fmt.Errorf("email channel not configured")
	}
	if destination == "" {
		return result, fmt.Errorf("no email address on file")
	}

	var content bytes.Buffer
	err := notificationTemplate.Execute(&content, notificationEmailData{
		Title:     n.Title,
		Message:   n.Message,
		Type:      string(n.Type),
		BeaconURL: fmt.Sprintf("%s/api/v1/notifications/track/%s/open.gif", s.baseURL, n.ID),
	})
	if err != nil {
		return result, fmt.Errorf("render notification email: %w", err)
	}

	msg := gomail.NewMsg()
	if err := msg.FromFormat(s.fromName, s.fromEmail); err != nil {
		return result, fmt.Errorf("smtp from: %w", err)
	}
	if err := msg.To(destination); err != nil {
		return result, fmt.Errorf("smtp to: %w", err)
	}
	msg.Subject(n.Title)
	msg.SetMessageID()
	msg.SetBodyString(gomail.TypeTextHTML, content.String())

	client, err := gomail.NewClient(s.host,
		gomail.WithPort(s.port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(s.username),
		gomail.WithPassword(s.password),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(15*time.Second),
		gomail.WithDialContextFunc(func(dctx context.Context, _ string, addr string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(dctx, "tcp4", addr)
		}),
	)
	if err != nil {
		return result, fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return result, fmt.Errorf("smtp send: %w", err)
	}

	messageID := msg.GetMessageID()
	if messageID != "" {
		result.ExternalMessageID = &messageID
	}
	return result, nil
}
