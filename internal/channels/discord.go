package channels

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/Cyvadra/tv-alert-relay/internal/formatter"
)

const (
	defaultDiscordUsername = "TradingView Alerts"
	defaultDiscordAvatar   = "https://s3.tradingview.com/userpics/6171439-HGYm_big.png"
)

// DiscordOptions configures the Discord webhook adapter
type DiscordOptions struct {
	Username  string
	AvatarURL string
	Timeout   time.Duration
}

// Discord posts messages to Discord channel webhooks
type Discord struct {
	client *resty.Client
	opts   DiscordOptions
	logger zerolog.Logger
}

var _ Channel = (*Discord)(nil)

type discordPayload struct {
	Username  string             `json:"username,omitempty"`
	AvatarURL string             `json:"avatar_url,omitempty"`
	Content   string             `json:"content"`
	Embeds    []*formatter.Embed `json:"embeds"`
}

// NewDiscord creates a new Discord adapter
func NewDiscord(opts DiscordOptions, logger zerolog.Logger) *Discord {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Username == "" {
		opts.Username = defaultDiscordUsername
	}
	if opts.AvatarURL == "" {
		opts.AvatarURL = defaultDiscordAvatar
	}
	return &Discord{
		client: resty.New().SetTimeout(opts.Timeout),
		opts:   opts,
		logger: logger.With().Str("component", "channel_discord").Logger(),
	}
}

// Kind implements Channel
func (d *Discord) Kind() string { return formatter.KindDiscord }

// Deliver posts msg to the webhook URL in destination
func (d *Discord) Deliver(ctx context.Context, destination string, msg formatter.Message) error {
	u, err := url.Parse(strings.TrimSpace(destination))
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return NewDeliveryError(d.Kind(), CodeInvalidDestination, "webhook URL is not an http(s) URL", ErrInvalidDestination)
	}

	payload := discordPayload{
		Username:  d.opts.Username,
		AvatarURL: d.opts.AvatarURL,
		Content:   msg.Text,
		Embeds:    []*formatter.Embed{},
	}
	if msg.Embed != nil {
		if msg.Embed.Footer != nil && msg.Embed.Footer.IconURL == "" {
			footer := *msg.Embed.Footer
			footer.IconURL = d.opts.AvatarURL
			embed := *msg.Embed
			embed.Footer = &footer
			payload.Embeds = append(payload.Embeds, &embed)
		} else {
			payload.Embeds = append(payload.Embeds, msg.Embed)
		}
	}

	resp, err := d.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(u.String())
	if err != nil {
		return transportError(d.Kind(), err)
	}

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return statusError(d.Kind(), resp.StatusCode(), resp.String())
	}

	d.logger.Debug().Int("status", resp.StatusCode()).Msg("discord message delivered")
	return nil
}
