package models

import (
	"strings"
	"time"
)

// Channel names used for preferences, destinations and delivery results
const (
	ChannelTelegram = "telegram"
	ChannelDiscord  = "discord"
	ChannelEmail    = "email"
)

// ChannelOrder is the canonical order channels are attempted and reported in
var ChannelOrder = []string{ChannelTelegram, ChannelDiscord, ChannelEmail}

// Account represents a registered user of the relay
type Account struct {
	ID                string    `json:"id" gorm:"primaryKey"`
	Email             string    `json:"email" gorm:"uniqueIndex;not null"`
	Name              string    `json:"name"`
	PasswordHash      string    `json:"-"`
	Plan              string    `json:"plan" gorm:"not null"`
	PlanActivatedAt   time.Time `json:"plan_activated_at"`
	DailyAlertLimit   int       `json:"daily_alert_limit"`
	WebhookToken      string    `json:"-" gorm:"not null"`
	TelegramChatID    string    `json:"telegram_chat_id" gorm:"index"`
	DiscordWebhookURL string    `json:"discord_webhook_url"`
	NotifyEmail       bool      `json:"notify_email"`
	NotifyTelegram    bool      `json:"notify_telegram"`
	NotifyDiscord     bool      `json:"notify_discord"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Destination returns the configured address for a channel, or "" if none
func (a *Account) Destination(channel string) string {
	switch channel {
	case ChannelTelegram:
		return strings.TrimSpace(a.TelegramChatID)
	case ChannelDiscord:
		return strings.TrimSpace(a.DiscordWebhookURL)
	case ChannelEmail:
		return strings.TrimSpace(a.Email)
	default:
		return ""
	}
}

// Enabled reports the notification preference for a channel
func (a *Account) Enabled(channel string) bool {
	switch channel {
	case ChannelTelegram:
		return a.NotifyTelegram
	case ChannelDiscord:
		return a.NotifyDiscord
	case ChannelEmail:
		return a.NotifyEmail
	default:
		return false
	}
}

// Deliverable reports whether the channel is both enabled and configured
func (a *Account) Deliverable(channel string) bool {
	return a.Enabled(channel) && a.Destination(channel) != ""
}

// DeliverableChannels returns deliverable channels in canonical order
func (a *Account) DeliverableChannels() []string {
	out := make([]string, 0, len(ChannelOrder))
	for _, ch := range ChannelOrder {
		if a.Deliverable(ch) {
			out = append(out, ch)
		}
	}
	return out
}
