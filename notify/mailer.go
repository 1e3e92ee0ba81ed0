package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/wneessen/go-mail"

	"channel_sync/config"
	"channel_sync/models"
)

// Mailer sends a plain-text email per new booking to the configured host
// address.
type Mailer struct {
	cfg config.SMTPConfig
}

// NewMailer returns nil when SMTP is not configured.
func NewMailer(cfg config.SMTPConfig) *Mailer {
	if !cfg.Enabled() {
		return nil
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &Mailer{cfg: cfg}
}

func (m *Mailer) Name() string { return "smtp" }

func (m *Mailer) Notify(ctx context.Context, event models.BookingEvent) error {
	msg, err := m.message(event)
	if err != nil {
		return err
	}

	opts := []mail.Option{
		mail.WithPort(m.cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithTLSConfig(&tls.Config{ServerName: m.cfg.Host}),
	}
	if m.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.cfg.Username),
			mail.WithPassword(m.cfg.Password.Reveal()),
		)
	}

	client, err := mail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("create smtp client (host=%s port=%d): %w", m.cfg.Host, m.cfg.Port, err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send mail (host=%s port=%d): %w", m.cfg.Host, m.cfg.Port, err)
	}
	return nil
}

func (m *Mailer) message(event models.BookingEvent) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(m.cfg.From); err != nil {
		return nil, fmt.Errorf("set sender: %w", err)
	}
	if err := msg.To(splitRecipients(m.cfg.To)...); err != nil {
		return nil, fmt.Errorf("set recipients: %w", err)
	}

	guest := event.GuestName
	if guest == "" {
		guest = "Guest"
	}
	msg.Subject(fmt.Sprintf("New %s booking: %s (%s)", event.Channel, guest, event.ExternalID))
	msg.SetBodyString(mail.TypeTextPlain, bookingText(event, guest))
	return msg, nil
}

func bookingText(e models.BookingEvent, guest string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A new booking was synced from %s.\n\n", e.Channel)
	fmt.Fprintf(&b, "Guest:        %s\n", guest)
	fmt.Fprintf(&b, "Confirmation: %s\n", e.ExternalID)
	fmt.Fprintf(&b, "Check-in:     %s\n", e.CheckIn.Format("Mon, Jan 2 2006"))
	fmt.Fprintf(&b, "Check-out:    %s\n", e.CheckOut.Format("Mon, Jan 2 2006"))
	fmt.Fprintf(&b, "Total:        %s\n", e.TotalPrice.StringFixed(2))
	fmt.Fprintf(&b, "Status:       %s\n", e.Status)
	fmt.Fprintf(&b, "Synced via:   %s\n", e.SourceMethod)
	return b.String()
}

func splitRecipients(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
