package mail

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/flowhook/flowhook-api/internal/capability"
	"github.com/flowhook/flowhook-api/internal/config"
	"github.com/flowhook/flowhook-api/internal/engine"
)

// Mailer delivers plain-text email over SMTP.
type Mailer interface {
	Send(to, subject, body string) error
}

// SMTPMailer sends email using an SMTP server.
type SMTPMailer struct {
	host     string
	port     int
	username string
	password string
	from     string
}

// NewSMTPMailer constructs a new SMTPMailer from config.
func NewSMTPMailer(cfg config.EmailConfig) (*SMTPMailer, error) {
	if strings.TrimSpace(cfg.SMTPHost) == "" {
		return nil, fmt.Errorf("smtp_host is required")
	}
	if cfg.SMTPPort == 0 {
		cfg.SMTPPort = 587
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, fmt.Errorf("email from address is required")
	}

	return &SMTPMailer{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		username: cfg.Username,
		password: cfg.Password,
		from:     cfg.From,
	}, nil
}

func (m *SMTPMailer) Send(to, subject, body string) error {
	headers := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=\"UTF-8\"\r\n\r\n",
		m.from, to, subject)

	message := []byte(headers + body)
	addr := fmt.Sprintf("%s:%d", m.host, m.port)

	var auth smtp.Auth
	if strings.TrimSpace(m.username) != "" {
		auth = smtp.PlainAuth("", m.username, m.password, m.host)
	}

	return smtp.SendMail(addr, auth, m.from, []string{to}, message)
}

// SendEmail is the mail.send_email reaction. The subject and body support a
// {{name}} placeholder syntax filled from the trigger's output.
type SendEmail struct {
	mailer Mailer
}

func NewSendEmail(mailer Mailer) *SendEmail {
	return &SendEmail{mailer: mailer}
}

func (r *SendEmail) Key() capability.Key {
	return capability.Key{Provider: "mail", Name: "send_email"}
}

func (r *SendEmail) Params() []capability.ParamSpec {
	return []capability.ParamSpec{
		{Name: "to", Type: capability.ParamString, Required: true},
		{Name: "subject", Type: capability.ParamString, Required: true},
		{Name: "body", Type: capability.ParamString, Required: true},
	}
}

func (r *SendEmail) Run(ctx context.Context, inv *capability.Invocation) (capability.ReactionResult, error) {
	to, err := capability.StringParam(inv.Params, "to")
	if err != nil {
		return capability.ReactionResult{}, err
	}
	subject, err := capability.StringParam(inv.Params, "subject")
	if err != nil {
		return capability.ReactionResult{}, err
	}
	body, err := capability.StringParam(inv.Params, "body")
	if err != nil {
		return capability.ReactionResult{}, err
	}
	if r.mailer == nil {
		return capability.ReactionResult{}, engine.Ef(engine.KindValidation, "smtp is not configured")
	}

	subject = capability.Expand(subject, inv.Input)
	body = capability.Expand(body, inv.Input)

	if err := r.mailer.Send(to, subject, body); err != nil {
		return capability.ReactionResult{}, engine.Wrap(engine.KindTransientProvider, err, "send email")
	}

	return capability.ReactionResult{OK: true, Output: map[string]any{"to": to}}, nil
}
