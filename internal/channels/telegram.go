package channels

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"github.com/Cyvadra/tv-alert-relay/internal/formatter"
)

// Sender is the part of *tele.Bot the adapter needs
type Sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Telegram sends plain-text alerts to Telegram chats through a shared bot
type Telegram struct {
	bot     Sender
	limiter *rate.Limiter
	logger  zerolog.Logger
}

var _ Channel = (*Telegram)(nil)

// NewTelegram creates a Telegram adapter. perSecond bounds outbound sends across
// all chats; zero or less disables the throttle.
func NewTelegram(bot Sender, perSecond int, logger zerolog.Logger) *Telegram {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if perSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(perSecond), perSecond)
	}
	return &Telegram{
		bot:     bot,
		limiter: limiter,
		logger:  logger.With().Str("component", "channel_telegram").Logger(),
	}
}

// Kind implements Channel
func (t *Telegram) Kind() string { return formatter.KindTelegram }

// Deliver sends msg.Text to the chat id in destination
func (t *Telegram) Deliver(ctx context.Context, destination string, msg formatter.Message) error {
	if t.bot == nil {
		return NewDeliveryError(t.Kind(), CodeRejected, "bot is not configured", ErrNotConfigured)
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(destination), 10, 64)
	if err != nil {
		return NewDeliveryError(t.Kind(), CodeInvalidDestination, "chat id must be an integer", ErrInvalidDestination)
	}
	if msg.Text == "" {
		return NewDeliveryError(t.Kind(), CodeRejected, "message is empty", ErrRejected)
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return NewDeliveryError(t.Kind(), CodeTimeout, "send throttle wait aborted", err)
	}

	// Send takes no context, so bound the wait by ctx instead.
	done := make(chan error, 1)
	go func() {
		_, err := t.bot.Send(tele.ChatID(chatID), msg.Text)
		done <- err
	}()

	select {
	case <-ctx.Done():
		return transportError(t.Kind(), ctx.Err())
	case err := <-done:
		if err != nil {
			return classifyTelegram(err)
		}
	}

	t.logger.Debug().Int64("chat_id", chatID).Msg("telegram message delivered")
	return nil
}

func classifyTelegram(err error) *DeliveryError {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return NewDeliveryError(formatter.KindTelegram, CodeRateLimit, "flood control", err)
	}
	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code >= 500 {
			return NewDeliveryError(formatter.KindTelegram, CodeServer, apiErr.Description, err)
		}
		return NewDeliveryError(formatter.KindTelegram, CodeRejected, apiErr.Description, err)
	}
	return NewDeliveryError(formatter.KindTelegram, CodeNetwork, "send failed", err)
}
