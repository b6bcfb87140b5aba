package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// EmailSender delivers alerts over SMTP. Required settings: host, port,
// from, to (comma separated). Optional: username, password for plain auth.
type EmailSender struct{}

func (s *EmailSender) Send(ctx context.Context, alert Alert, cfg ChannelConfig) error {
	host := cfg.Settings["host"]
	port := cfg.Settings["port"]
	from := cfg.Settings["from"]
	to := splitRecipients(cfg.Settings["to"])
	if host == "" || port == "" || from == "" || len(to) == 0 {
		return fmt.Errorf("email channel requires host, port, from and to")
	}
	var auth smtp.Auth
	if user := cfg.Settings["username"]; user != "" {
		auth = smtp.PlainAuth("", user, cfg.Settings["password"], host)
	}
	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(alert.Severity), alert.RuleName)
	body := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\nAlert: %s\r\nCorrelation: %s\r\n",
		from, strings.Join(to, ", "), subject, alert.Message, alert.ID, alert.CorrelationID)

	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(host+":"+port, auth, from, to, []byte(body))
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func splitRecipients(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
