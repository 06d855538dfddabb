package channels

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/Cyvadra/tv-alert-relay/internal/formatter"
)

// EmailOptions configures the transactional mail adapter
type EmailOptions struct {
	APIURL     string
	APIKey     string
	From       string
	FromName   string
	TemplateID string
	Timeout    time.Duration
}

// Email sends alerts through a SendGrid-compatible mail API
type Email struct {
	client *resty.Client
	opts   EmailOptions
	logger zerolog.Logger
}

var _ Channel = (*Email)(nil)

type emailAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type emailPersonalization struct {
	To                  []emailAddress    `json:"to"`
	Subject             string            `json:"subject,omitempty"`
	DynamicTemplateData map[string]string `json:"dynamic_template_data,omitempty"`
}

type emailContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type emailRequest struct {
	Personalizations []emailPersonalization `json:"personalizations"`
	From             emailAddress           `json:"from"`
	Subject          string                 `json:"subject,omitempty"`
	TemplateID       string                 `json:"template_id,omitempty"`
	Content          []emailContent         `json:"content,omitempty"`
}

// NewEmail creates a new e-mail adapter
func NewEmail(opts EmailOptions, logger zerolog.Logger) *Email {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Email{
		client: resty.New().
			SetTimeout(opts.Timeout).
			SetAuthToken(opts.APIKey),
		opts:   opts,
		logger: logger.With().Str("component", "channel_email").Logger(),
	}
}

// Kind implements Channel
func (e *Email) Kind() string { return formatter.KindEmail }

// Deliver sends msg to the address in destination
func (e *Email) Deliver(ctx context.Context, destination string, msg formatter.Message) error {
	addr, err := mail.ParseAddress(strings.TrimSpace(destination))
	if err != nil {
		return NewDeliveryError(e.Kind(), CodeInvalidDestination, "not a valid e-mail address", ErrInvalidDestination)
	}
	if e.opts.APIURL == "" || e.opts.APIKey == "" {
		return NewDeliveryError(e.Kind(), CodeRejected, "mail API is not configured", ErrNotConfigured)
	}

	subject := msg.Subject
	if subject == "" {
		subject = "TradingView Alert"
	}

	req := emailRequest{
		From: emailAddress{Email: e.opts.From, Name: e.opts.FromName},
		Personalizations: []emailPersonalization{{
			To: []emailAddress{{Email: addr.Address, Name: addr.Name}},
		}},
	}
	if e.opts.TemplateID != "" {
		req.TemplateID = e.opts.TemplateID
		req.Personalizations[0].DynamicTemplateData = map[string]string{
			"subject": subject,
			"body":    msg.Text,
		}
	} else {
		req.Subject = subject
		req.Personalizations[0].Subject = subject
		req.Content = []emailContent{{Type: "text/plain", Value: msg.Text}}
	}

	resp, err := e.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		Post(e.opts.APIURL)
	if err != nil {
		return transportError(e.Kind(), err)
	}

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return statusError(e.Kind(), resp.StatusCode(), resp.String())
	}

	e.logger.Debug().Int("status", resp.StatusCode()).Msg("email accepted")
	return nil
}
