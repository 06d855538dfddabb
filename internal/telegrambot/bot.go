// Package telegrambot runs the Telegram commands that link chats to accounts.
package telegrambot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	tele "gopkg.in/telebot.v4"

	"github.com/Cyvadra/tv-alert-relay/internal/config"
	"github.com/Cyvadra/tv-alert-relay/internal/linking"
	"github.com/Cyvadra/tv-alert-relay/internal/models"
	"github.com/Cyvadra/tv-alert-relay/internal/services"
)

const (
	helpText = "TradingView Alerts Bot commands:\n\n" +
		"/start - Get a new connection code\n" +
		"/test - Send a test notification\n" +
		"/help - Show this message\n\n" +
		"1. Connect your account using /start\n" +
		"2. Enter the code on the dashboard\n" +
		"3. Point your TradingView alerts at your webhook URL"

	notLinkedText = "Your Telegram account is not connected to any TradingView Alert Forwarder account. " +
		"Please connect your account first."
)

// NewBot builds the bot shared by the command handlers and the Telegram channel.
// Without polling the bot is created offline and only sends.
func NewBot(cfg config.TelegramConfig) (*tele.Bot, error) {
	settings := tele.Settings{
		URL:     cfg.APIURL,
		Token:   cfg.Token,
		Offline: !cfg.Polling,
		Client:  &http.Client{Timeout: cfg.PollTimeout + cfg.SendTimeout},
	}
	if cfg.Polling {
		settings.Poller = &tele.LongPoller{Timeout: cfg.PollTimeout}
	}

	bot, err := tele.NewBot(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return bot, nil
}

// AccountFinder resolves the account linked to a chat
type AccountFinder interface {
	FindByTelegramChat(ctx context.Context, chatID int64) (*models.Account, error)
}

// Tester sends a test notification through an account's channels
type Tester interface {
	Test(ctx context.Context, accountID string) (*services.DeliverySummary, error)
}

// Commands answers /start, /test and /help
type Commands struct {
	codes    *linking.Store
	accounts AccountFinder
	tester   Tester
	timeout  time.Duration
	logger   zerolog.Logger
}

// NewCommands creates the command handlers
func NewCommands(codes *linking.Store, accounts AccountFinder, tester Tester, logger zerolog.Logger) *Commands {
	return &Commands{
		codes:    codes,
		accounts: accounts,
		tester:   tester,
		timeout:  30 * time.Second,
		logger:   logger.With().Str("component", "telegram_bot").Logger(),
	}
}

// Register attaches the handlers to bot
func (c *Commands) Register(bot *tele.Bot) {
	bot.Handle("/start", c.Start)
	bot.Handle("/test", c.Test)
	bot.Handle("/help", c.Help)
}

// Start issues a connection code for the chat
func (c *Commands) Start(ctx tele.Context) error {
	chat := ctx.Chat()
	if chat == nil {
		return nil
	}
	code, err := c.codes.Issue(chat.ID)
	if err != nil {
		c.logger.Error().Err(err).Int64("chat_id", chat.ID).Msg("failed to issue connection code")
		return ctx.Send("Sorry, something went wrong. Please try /start again.")
	}

	c.logger.Info().Int64("chat_id", chat.ID).Msg("connection code issued")
	return ctx.Send(fmt.Sprintf(
		"Welcome to TradingView Alerts Bot! 🤖\n\nYour connection code is: %s\n\n"+
			"This code will expire in %s. Enter it in the dashboard to connect your account.",
		code, humanDuration(c.codes.TTL()),
	))
}

// Test sends a test notification to every channel of the linked account
func (c *Commands) Test(ctx tele.Context) error {
	chat := ctx.Chat()
	if chat == nil {
		return nil
	}

	reqCtx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	account, err := c.accounts.FindByTelegramChat(reqCtx, chat.ID)
	if errors.Is(err, services.ErrAccountNotFound) {
		return ctx.Send(notLinkedText)
	}
	if err != nil {
		c.logger.Error().Err(err).Int64("chat_id", chat.ID).Msg("failed to look up account")
		return ctx.Send("Sorry, something went wrong. Please try again later.")
	}

	summary, err := c.tester.Test(reqCtx, account.ID)
	if err != nil {
		c.logger.Error().Err(err).Str("account_id", account.ID).Msg("test notification failed")
		return ctx.Send("Sorry, the test notification could not be sent.")
	}

	// The telegram channel already delivered the test message to this chat.
	if r, ok := summary.Results[models.ChannelTelegram]; ok && r.Delivered {
		return nil
	}
	return ctx.Send(fmt.Sprintf("Test sent. %d alerts remaining today.", summary.RemainingAlerts))
}

// Help lists the commands
func (c *Commands) Help(ctx tele.Context) error {
	return ctx.Send(helpText)
}

// Run polls for updates until ctx is done
func Run(ctx context.Context, bot *tele.Bot, logger zerolog.Logger) {
	go bot.Start()
	if bot.Me != nil {
		logger.Info().Str("bot", bot.Me.Username).Msg("telegram bot polling")
	}
	<-ctx.Done()
	bot.Stop()
}

func humanDuration(d time.Duration) string {
	if d%time.Minute == 0 {
		m := int(d / time.Minute)
		if m == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", m)
	}
	return d.String()
}
