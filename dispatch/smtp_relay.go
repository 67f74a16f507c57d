package dispatch

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"
)

// SMTPRelay sends messages through an SMTP submission endpoint. The host is
// configuration, so it works with Gmail, Outlook, Brevo and the like.
type SMTPRelay struct {
	host     string
	port     int
	username string
	password string
	from     string
}

func NewSMTPRelay(host string, port int, username, password, from string) *SMTPRelay {
	if from == "" {
		from = username
	}
	return &SMTPRelay{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
	}
}

func (r *SMTPRelay) Ready() error {
	if r.username == "" || r.password == "" {
		return ErrMissingCredentials
	}
	return nil
}

func (r *SMTPRelay) Send(ctx context.Context, msg Message) error {
	if err := r.Ready(); err != nil {
		return err
	}

	m := mail.NewMsg()
	if err := m.From(r.from); err != nil {
		return fmt.Errorf("invalid from address %q: %w", r.from, err)
	}
	if err := m.To(msg.To); err != nil {
		return fmt.Errorf("invalid recipient address %q: %w", msg.To, err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextHTML, msg.HTML)
	for _, a := range msg.Attachments {
		m.AttachFile(a.Path, mail.WithFileName(a.Filename))
	}

	client, err := mail.NewClient(r.host,
		mail.WithPort(r.port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(r.username),
		mail.WithPassword(r.password),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client for %s: %w", r.host, err)
	}

	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("SMTP send to %s failed: %w", msg.To, err)
	}
	return nil
}
