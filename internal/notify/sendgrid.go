package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/hackgods/geo-appointment-scheduling/internal/apperr"
	"github.com/hackgods/geo-appointment-scheduling/internal/directory"
)

// ContactLookup resolves a recipient to an email address.
type ContactLookup interface {
	LookupContact(ctx context.Context, id uuid.UUID) (*directory.Contact, error)
}

type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
	// Host overrides https://api.sendgrid.com.
	Host string
}

// SendGridNotifier emails the recipient through SendGrid.
type SendGridNotifier struct {
	client   *sendgrid.Client
	contacts ContactLookup
	from     *mail.Email
	logger   zerolog.Logger
}

func NewSendGridNotifier(cfg SendGridConfig, contacts ContactLookup, logger zerolog.Logger) (*SendGridNotifier, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("notify: sendgrid api key required")
	}
	if cfg.FromName == "" {
		cfg.FromName = "E-Sante"
	}

	req := sendgrid.GetRequest(cfg.APIKey, "/v3/mail/send", cfg.Host)
	req.Method = "POST"

	return &SendGridNotifier{
		client:   &sendgrid.Client{Request: req},
		contacts: contacts,
		from:     mail.NewEmail(cfg.FromName, cfg.FromEmail),
		logger:   logger,
	}, nil
}

func (n *SendGridNotifier) Send(ctx context.Context, recipientID uuid.UUID, kind string, p Payload) error {
	contact, err := n.contacts.LookupContact(ctx, recipientID)
	if err != nil {
		return fmt.Errorf("notify: resolve recipient %s: %w", recipientID, err)
	}

	subject, body := render(kind, p)
	message := mail.NewSingleEmail(n.from, subject, mail.NewEmail(contact.Name, contact.Email), body, "")

	resp, err := n.client.SendWithContext(ctx, message)
	if err != nil {
		return apperr.Transient(fmt.Errorf("notify: sendgrid send: %w", err))
	}
	if err := classifyStatus("notify: sendgrid", resp.StatusCode, []byte(resp.Body)); err != nil {
		return err
	}

	n.logger.Debug().
		Str("recipient_id", recipientID.String()).
		Str("kind", kind).
		Int("status", resp.StatusCode).
		Msg("email sent via sendgrid")
	return nil
}

func render(kind string, p Payload) (subject, body string) {
	when := fmt.Sprintf("%s at %s", p.Date, p.Start.Format("15:04"))
	switch kind {
	case "Requested":
		subject = "New appointment request"
		body = fmt.Sprintf("A patient requested an appointment on %s. Please confirm or reject it.", when)
	case "Confirmed":
		subject = "Appointment confirmed"
		body = fmt.Sprintf("Your appointment on %s is confirmed.", when)
	case "Rejected":
		subject = "Appointment request declined"
		body = fmt.Sprintf("Your appointment request for %s was declined.", when)
	case "Expired":
		subject = "Appointment request expired"
		body = fmt.Sprintf("Your appointment request for %s expired before the doctor answered.", when)
	case "Rescheduled":
		subject = "Appointment rescheduled"
		body = fmt.Sprintf("Your appointment has been moved to %s.", when)
	case "Cancelled":
		subject = "Appointment cancelled"
		body = fmt.Sprintf("The appointment on %s was cancelled.", when)
	default:
		subject = "Appointment update"
		body = fmt.Sprintf("Your appointment on %s is now %s.", when, p.Status)
	}
	if p.StatusReason != "" {
		body += "\n\nReason: " + p.StatusReason
	}
	return subject, body
}
