// Package email sends optional SMTP notifications. When no SMTP host is
// configured every send is skipped, so the rest of the service never has to
// care whether mail is wired up.
package email

import (
	"fmt"
	"log"
	"net/smtp"
	"strings"
)

type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

type Service struct {
	config Config
	server string
	auth   smtp.Auth
}

func NewService(config Config) *Service {
	auth := smtp.PlainAuth("", config.Username, config.Password, config.Host)
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
	}
}

// IsConfigured returns true if email is configured.
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendEmail sends a plain text email.
func (s *Service) SendEmail(to []string, subject, body string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	msg := []byte(fmt.Sprintf(
		"To: %s\r\n"+
			"From: %s\r\n"+
			"Subject: %s\r\n"+
			"Content-Type: text/plain; charset=UTF-8\r\n"+
			"\r\n"+
			"%s",
		strings.Join(to, ", "),
		from,
		subject,
		body,
	))

	return smtp.SendMail(s.server, s.auth, s.config.From, to, msg)
}

var statusLines = map[string]string{
	"noted":      "Your concern has been noted and is awaiting a handler.",
	"in_process": "Your concern has been picked up and is being worked on.",
	"fixed":      "Your concern has been resolved.",
	"cancelled":  "Your concern has been closed without a fix.",
	"rejected":   "Your concern has been reviewed and rejected.",
}

// NotifyStatusChange mails the submitting student about a lifecycle change.
// Fire-and-forget: delivery failures are logged, never surfaced to the caller.
func (s *Service) NotifyStatusChange(to, concernTitle, status string) {
	if !s.IsConfigured() || to == "" {
		return
	}
	line, ok := statusLines[status]
	if !ok {
		return
	}
	go func() {
		subject := fmt.Sprintf("Update on your concern: %s", concernTitle)
		body := fmt.Sprintf("%s\n\nConcern: %s\nNew status: %s\n", line, concernTitle, status)
		if err := s.SendEmail([]string{to}, subject, body); err != nil {
			log.Printf("email: notify status change: %v", err)
		}
	}()
}
