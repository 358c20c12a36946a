package notify

import (
	"fmt"
	"log/slog"
	"net/smtp"
	"strconv"

	"github.com/yourusername/sip2-server/pkg/config"
)

// EmailService delivers overdue notices over SMTP.
type EmailService struct {
	host     string
	port     string
	username string
	password string
	from     string
}

// NewEmailService builds a mailer from the smtp section of the
// configuration.
func NewEmailService(cfg config.SMTP) *EmailService {
	port := cfg.Port
	if port == 0 {
		port = 25
	}
	return &EmailService{
		host:     cfg.Host,
		port:     strconv.Itoa(port),
		username: cfg.Username,
		password: cfg.Password,
		from:     cfg.From,
	}
}

func (s *EmailService) SendOverdueNotice(to, patronName, title, dueDate string) error {
	if s.host == "" {
		slog.Warn("smtp not configured, skipping overdue notice", "to", to)
		return nil
	}

	subject := "Subject: Overdue item: " + title + "\r\n"
	mime := "MIME-version: 1.0;\r\nContent-Type: text/html; charset=\"UTF-8\";\r\n\r\n"
	body := fmt.Sprintf(`
		<h3>Dear %s,</h3>
		<p>The item <strong>%s</strong> you borrowed was due on <strong>%s</strong>.</p>
		<p>Please return it to the library to avoid further fines.</p>
		<hr>
		<p>This notice was sent automatically.</p>
	`, patronName, title, dueDate)

	msg := []byte(subject + mime + body)
	var auth smtp.Auth
	if s.username != "" {
		auth = smtp.PlainAuth("", s.username, s.password, s.host)
	}

	if err := smtp.SendMail(s.host+":"+s.port, auth, s.from, []string{to}, msg); err != nil {
		slog.Error("failed to send overdue notice", "to", to, "error", err)
		return err
	}
	slog.Info("overdue notice sent", "to", to, "title", title)
	return nil
}
