package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	tele "gopkg.in/telebot.v4"
	"gorm.io/gorm"

	"github.com/Cyvadra/tv-alert-relay/internal/channels"
	"github.com/Cyvadra/tv-alert-relay/internal/config"
	"github.com/Cyvadra/tv-alert-relay/internal/database"
	"github.com/Cyvadra/tv-alert-relay/internal/formatter"
	"github.com/Cyvadra/tv-alert-relay/internal/linking"
	"github.com/Cyvadra/tv-alert-relay/internal/metrics"
	"github.com/Cyvadra/tv-alert-relay/internal/quotes"
	"github.com/Cyvadra/tv-alert-relay/internal/ratecounter"
	"github.com/Cyvadra/tv-alert-relay/internal/services"
	"github.com/Cyvadra/tv-alert-relay/internal/telegrambot"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// runtime holds the wired components of one process.
type runtime struct {
	db         *gorm.DB
	accounts   *services.AccountService
	alerts     *services.AlertService
	counter    ratecounter.Counter
	metrics    *metrics.Metrics
	registry   *channels.Registry
	dispatcher *services.Dispatcher
	codes      *linking.Store
	bot        *tele.Bot

	closers []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// openStore opens the database and the account services, enough for the maintenance commands.
func (a *App) openStore() (*runtime, error) {
	db, err := database.Open(a.Config.Database, a.Logger)
	if err != nil {
		return nil, err
	}
	rt := &runtime{
		db:       db,
		accounts: services.NewAccountService(db, a.Config.Billing, a.Logger),
		alerts:   services.NewAlertService(db),
	}
	rt.closers = append(rt.closers, func() {
		if err := database.Close(db); err != nil {
			a.Logger.Warn().Err(err).Msg("failed to close database")
		}
	})
	return rt, nil
}

// build wires every component the server needs.
func (a *App) build(ctx context.Context) (*runtime, error) {
	rt, err := a.openStore()
	if err != nil {
		return nil, err
	}

	loc, err := a.Config.Location()
	if err != nil {
		rt.Close()
		return nil, err
	}
	cal := newCalendar(loc)

	if err := a.openCounter(ctx, rt, cal); err != nil {
		rt.Close()
		return nil, err
	}

	rt.metrics = metrics.New()
	rt.codes = linking.NewStore(a.Config.Telegram.CodeTTL, nil)

	if err := a.buildChannels(rt); err != nil {
		rt.Close()
		return nil, err
	}

	var enricher *quotes.Enricher
	if a.Config.Quotes.Enabled {
		enricher = quotes.NewEnricher(
			quotes.NewBinanceQuoter(a.Config.Quotes.BaseURL),
			a.Config.Quotes.Exchanges,
			a.Config.Quotes.Timeout,
			a.Logger,
		)
	}

	rt.dispatcher = services.NewDispatcher(
		rt.accounts,
		rt.counter,
		rt.alerts,
		rt.registry,
		formatter.New(loc),
		rt.metrics,
		services.DispatcherOptions{
			ChannelTimeout: a.Config.Dispatch.ChannelTimeout,
			Enricher:       enricher,
			Location:       loc,
		},
		a.Logger,
	)
	return rt, nil
}

func (a *App) openCounter(ctx context.Context, rt *runtime, cal ratecounter.Calendar) error {
	switch a.Config.RateLimit.Backend {
	case "memory":
		rt.counter = ratecounter.NewMemoryCounter(cal)
	case "postgres":
		pg, err := ratecounter.NewPostgresCounter(ctx, a.Config.RateLimit.PostgresDSN, cal)
		if err != nil {
			return err
		}
		rt.counter = pg
		rt.closers = append(rt.closers, pg.Close)
	default:
		rt.counter = ratecounter.NewGormCounter(rt.db, cal)
	}
	a.Logger.Info().Str("backend", a.Config.RateLimit.Backend).Msg("rate counter ready")
	return nil
}

func (a *App) buildChannels(rt *runtime) error {
	rt.registry = channels.NewRegistry()

	if a.Config.Telegram.Enabled {
		bot, err := telegrambot.NewBot(a.Config.Telegram)
		if err != nil {
			return err
		}
		rt.bot = bot
		rt.registry.Register(channels.NewTelegram(bot, a.Config.Telegram.SendRate, a.Logger))
	}

	if a.Config.Discord.Enabled {
		rt.registry.Register(channels.NewDiscord(channels.DiscordOptions{
			Username:  a.Config.Discord.Username,
			AvatarURL: a.Config.Discord.AvatarURL,
			Timeout:   a.Config.Discord.Timeout,
		}, a.Logger))
	}

	if a.Config.Email.Enabled {
		rt.registry.Register(channels.NewEmail(channels.EmailOptions{
			APIURL:     a.Config.Email.APIURL,
			APIKey:     a.Config.Email.APIKey,
			From:       a.Config.Email.From,
			FromName:   a.Config.Email.FromName,
			TemplateID: a.Config.Email.TemplateID,
			Timeout:    a.Config.Email.Timeout,
		}, a.Logger))
	}

	if len(rt.registry.Kinds()) == 0 {
		a.Logger.Warn().Msg("no delivery channels enabled; alerts will only be recorded")
	} else {
		a.Logger.Info().Strs("channels", rt.registry.Kinds()).Msg("delivery channels ready")
	}
	return nil
}

func newCalendar(loc *time.Location) ratecounter.Calendar {
	return ratecounter.NewCalendar(loc, nil)
}

// importAccountsFile upserts the configured accounts file, if any.
func (a *App) importAccountsFile(ctx context.Context, accounts *services.AccountService, path string) (int, error) {
	file, err := config.LoadAccountsFile(path)
	if err != nil {
		return 0, err
	}
	n, err := accounts.ImportAccounts(ctx, file)
	if err != nil {
		return 0, fmt.Errorf("failed to import %s: %w", path, err)
	}
	return n, nil
}
