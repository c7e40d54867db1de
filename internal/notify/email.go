package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/smtp"
	"text/template"
)

// EmailConfig holds the SMTP relay settings for EmailNotifier.
type EmailConfig struct {
	Host     string
	Port     string
	From     string
	Username string
	Password string
}

var emailTemplate = template.Must(template.New("notify-email").Parse(
	"Subject: fastlane job {{.JobID}}: {{.Status}}\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n" +
		"\r\n" +
		"Job {{.JobID}} (task {{.TaskID}}) reached status {{.Status}}.\r\n" +
		"{{if .Message}}{{.Message}}\r\n{{end}}",
))

// EmailNotifier sends a plain-text summary over SMTP. No ecosystem email
// library appears anywhere in the example pack, so this is built directly on
// net/smtp, the same way the pack leans on net/http directly for outbound
// webhook delivery rather than pulling in a client wrapper.
type EmailNotifier struct {
	cfg  EmailConfig
	auth smtp.Auth
}

// NewEmailNotifier builds an EmailNotifier from cfg.
func NewEmailNotifier(cfg EmailConfig) *EmailNotifier {
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &EmailNotifier{cfg: cfg, auth: auth}
}

func (n *EmailNotifier) Notify(ctx context.Context, event Event) error {
	if len(event.Targets.Emails) == 0 {
		return nil
	}

	var body bytes.Buffer
	if err := emailTemplate.Execute(&body, event); err != nil {
		return fmt.Errorf("notify: render email: %w", err)
	}

	addr := n.cfg.Host + ":" + n.cfg.Port
	if err := smtp.SendMail(addr, n.auth, n.cfg.From, event.Targets.Emails, body.Bytes()); err != nil {
		return fmt.Errorf("notify: send email: %w", err)
	}
	return nil
}
