package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Cyvadra/tv-alert-relay/internal/channels"
	"github.com/Cyvadra/tv-alert-relay/internal/formatter"
	"github.com/Cyvadra/tv-alert-relay/internal/metrics"
	"github.com/Cyvadra/tv-alert-relay/internal/models"
	"github.com/Cyvadra/tv-alert-relay/internal/quotes"
	"github.com/Cyvadra/tv-alert-relay/internal/ratecounter"
)

// TestMessage is sent instead of an alert for dry-run requests
const TestMessage = "✅ Webhook Test Successful!\n\nYour TradingView alerts are properly configured and will be delivered to this chat."

const defaultChannelTimeout = 10 * time.Second

// AccountLookup resolves the account an alert belongs to
type AccountLookup interface {
	GetAccount(ctx context.Context, id string) (*models.Account, error)
}

// DispatcherOptions tunes the dispatcher
type DispatcherOptions struct {
	// ChannelTimeout bounds each channel delivery.
	ChannelTimeout time.Duration
	Enricher       *quotes.Enricher
	// Location defines the calendar day for usage reports; nil means UTC.
	Location *time.Location
	Now      func() time.Time
}

// Notification is one channel's outcome in canonical order
type Notification struct {
	Channel   string `json:"channel"`
	Delivered bool   `json:"delivered"`
	Error     string `json:"error,omitempty"`
}

// DeliverySummary is the outcome of processing one alert
type DeliverySummary struct {
	Accepted        bool                             `json:"accepted"`
	RateLimited     bool                             `json:"rate_limited"`
	Test            bool                             `json:"test"`
	RemainingAlerts int                              `json:"remaining_alerts"`
	Results         map[string]models.DeliveryResult `json:"results"`
	AlertID         string                           `json:"alert_id,omitempty"`
	TriggeredAt     time.Time                        `json:"triggered_at"`
}

// Notifications returns the per-channel results ordered telegram, discord, email
func (s *DeliverySummary) Notifications() []Notification {
	out := make([]Notification, 0, len(s.Results))
	for _, ch := range models.ChannelOrder {
		if r, ok := s.Results[ch]; ok {
			out = append(out, Notification{Channel: ch, Delivered: r.Delivered, Error: r.Error})
		}
	}
	return out
}

// Usage is an account's quota for the current day
type Usage struct {
	Plan            string `json:"plan"`
	DailyAlertLimit int    `json:"dailyAlertLimit"`
	AlertsUsedToday int    `json:"alertsUsedToday"`
	RemainingAlerts int    `json:"remainingAlerts"`
	// DayStart is midnight of the reported day in the configured location.
	DayStart time.Time `json:"dayStart"`
}

// Dispatcher turns inbound alerts into channel deliveries and alert records
type Dispatcher struct {
	accounts  AccountLookup
	counter   ratecounter.Counter
	recorder  Recorder
	channels  *channels.Registry
	formatter *formatter.Formatter
	metrics   *metrics.Metrics
	enricher  *quotes.Enricher
	timeout   time.Duration
	location  *time.Location
	now       func() time.Time
	logger    zerolog.Logger
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(
	accounts AccountLookup,
	counter ratecounter.Counter,
	recorder Recorder,
	registry *channels.Registry,
	fmtr *formatter.Formatter,
	m *metrics.Metrics,
	opts DispatcherOptions,
	logger zerolog.Logger,
) *Dispatcher {
	if opts.ChannelTimeout <= 0 {
		opts.ChannelTimeout = defaultChannelTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Dispatcher{
		accounts:  accounts,
		counter:   counter,
		recorder:  recorder,
		channels:  registry,
		formatter: fmtr,
		metrics:   m,
		enricher:  opts.Enricher,
		timeout:   opts.ChannelTimeout,
		location:  opts.Location,
		now:       opts.Now,
		logger:    logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Process handles a raw webhook body for accountID
func (d *Dispatcher) Process(ctx context.Context, accountID string, raw []byte) (*DeliverySummary, error) {
	return d.Dispatch(ctx, accountID, formatter.Parse(raw))
}

// Dispatch rate-checks, delivers and records one alert. When the daily limit is
// exhausted it records a rate_limited alert and returns the summary together
// with ErrRateLimitExceeded.
func (d *Dispatcher) Dispatch(ctx context.Context, accountID string, payload formatter.Payload) (*DeliverySummary, error) {
	start := time.Now()
	defer func() { d.metrics.ObserveDispatch(time.Since(start)) }()

	account, err := d.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	triggeredAt := d.now()
	log := d.logger.With().Str("account_id", account.ID).Str("symbol", payload.Symbol).Logger()

	quota, err := d.counter.TryConsume(ctx, account.ID, account.DailyAlertLimit)
	if err != nil {
		alert := newAlert(account.ID, payload, models.AlertStatusFailed, triggeredAt)
		alert.Error = err.Error()
		d.record(ctx, alert, log)
		return nil, fmt.Errorf("failed to check rate limit: %w", err)
	}

	if !quota.Allowed {
		alert := newAlert(account.ID, payload, models.AlertStatusRateLimited, triggeredAt)
		d.record(ctx, alert, log)
		log.Info().Int("used_today", quota.UsedToday).Int("limit", account.DailyAlertLimit).Msg("alert rate limited")
		return &DeliverySummary{
			RateLimited:     true,
			RemainingAlerts: 0,
			Results:         map[string]models.DeliveryResult{},
			AlertID:         alert.PublicID,
			TriggeredAt:     triggeredAt,
		}, ErrRateLimitExceeded
	}

	payload = d.enricher.Enrich(ctx, payload)

	destinations, results := d.fanOut(ctx, account, func(kind string) formatter.Message {
		return d.formatter.Format(payload, kind, triggeredAt)
	})

	alert := newAlert(account.ID, payload, models.AlertStatusTriggered, triggeredAt)
	alert.SetDestinations(destinations)
	alert.SetDeliveryResults(results)
	d.record(ctx, alert, log)

	log.Info().
		Strs("destinations", destinations).
		Int("used_today", quota.UsedToday).
		Int("remaining", quota.Remaining).
		Msg("alert dispatched")

	return &DeliverySummary{
		Accepted:        true,
		RemainingAlerts: quota.Remaining,
		Results:         results,
		AlertID:         alert.PublicID,
		TriggeredAt:     triggeredAt,
	}, nil
}

// Test sends a canned message through the account's channels without touching
// the rate counter or the alert log
func (d *Dispatcher) Test(ctx context.Context, accountID string) (*DeliverySummary, error) {
	account, err := d.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	at := d.now()
	_, results := d.fanOut(ctx, account, func(kind string) formatter.Message {
		return d.formatter.Plain(TestMessage, kind, at)
	})

	used, err := d.counter.Usage(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read usage: %w", err)
	}

	return &DeliverySummary{
		Accepted:        true,
		Test:            true,
		RemainingAlerts: remaining(account.DailyAlertLimit, used),
		Results:         results,
		TriggeredAt:     at,
	}, nil
}

// Usage reports an account's quota for the current day
func (d *Dispatcher) Usage(ctx context.Context, account *models.Account) (*Usage, error) {
	used, err := d.counter.Usage(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read usage: %w", err)
	}
	return &Usage{
		Plan:            account.Plan,
		DailyAlertLimit: account.DailyAlertLimit,
		AlertsUsedToday: used,
		RemainingAlerts: remaining(account.DailyAlertLimit, used),
		DayStart:        d.dayStart(),
	}, nil
}

func (d *Dispatcher) dayStart() time.Time {
	y, m, day := d.now().In(d.location).Date()
	return time.Date(y, m, day, 0, 0, 0, 0, d.location)
}

// fanOut delivers to every deliverable channel concurrently and waits for all of them.
func (d *Dispatcher) fanOut(ctx context.Context, account *models.Account, render func(kind string) formatter.Message) ([]string, map[string]models.DeliveryResult) {
	destinations := make([]string, 0, len(models.ChannelOrder))
	results := make(map[string]models.DeliveryResult)

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, kind := range account.DeliverableChannels() {
		ch, err := d.channels.Get(kind)
		if err != nil {
			d.logger.Debug().Str("account_id", account.ID).Str("channel", kind).Msg("channel skipped, no adapter")
			continue
		}
		destinations = append(destinations, kind)

		wg.Add(1)
		go func(kind string, ch channels.Channel, dest string) {
			defer wg.Done()
			res := d.deliver(ctx, ch, dest, render)
			d.metrics.ChannelDelivery(kind, res.Delivered)

			mu.Lock()
			results[kind] = res
			mu.Unlock()
		}(kind, ch, account.Destination(kind))
	}
	wg.Wait()

	return destinations, results
}

// deliver runs one adapter call. Errors and panics become a failed result.
func (d *Dispatcher) deliver(parent context.Context, ch channels.Channel, dest string, render func(kind string) formatter.Message) (res models.DeliveryResult) {
	// Deliveries outlive the inbound request; only the per-channel timeout applies.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), d.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Str("channel", ch.Kind()).Interface("panic", r).Msg("channel adapter panicked")
			res = models.DeliveryResult{Delivered: false, Error: fmt.Sprintf("panic: %v", r)}
		}
	}()

	if err := ch.Deliver(ctx, dest, render(ch.Kind())); err != nil {
		d.logger.Warn().Err(err).Str("channel", ch.Kind()).Bool("temporary", channels.IsTemporary(err)).Msg("delivery failed")
		return models.DeliveryResult{Delivered: false, Error: err.Error()}
	}
	return models.DeliveryResult{Delivered: true}
}

// record stores alert. A failure is logged and counted, never returned.
func (d *Dispatcher) record(ctx context.Context, alert *models.Alert, log zerolog.Logger) {
	d.metrics.AlertProcessed(string(alert.Status))
	if err := d.recorder.Record(context.WithoutCancel(ctx), alert); err != nil {
		d.metrics.RecorderFailed()
		log.Error().Err(err).Str("alert_id", alert.PublicID).Str("status", string(alert.Status)).Msg("failed to record alert")
		alert.PublicID = ""
	}
}

func newAlert(accountID string, p formatter.Payload, status models.AlertStatus, at time.Time) *models.Alert {
	alert := &models.Alert{
		PublicID:    uuid.New().String(),
		AccountID:   accountID,
		Symbol:      p.Symbol,
		Exchange:    p.Exchange,
		Message:     p.Summary(),
		Payload:     p.Record(),
		Status:      status,
		TriggeredAt: at,
	}
	alert.SetDestinations(nil)
	alert.SetDeliveryResults(nil)
	return alert
}

func remaining(limit, used int) int {
	if used >= limit {
		return 0
	}
	return limit - used
}
