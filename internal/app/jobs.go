package app

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

// newScheduler registers the housekeeping jobs. The caller starts and stops it.
func (a *App) newScheduler(ctx context.Context, rt *runtime) (*cron.Cron, error) {
	loc, err := a.Config.Location()
	if err != nil {
		return nil, err
	}
	logger := cronLogger{log: a.Logger.With().Str("component", "scheduler").Logger()}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	schedule := a.Config.RateLimit.SweepSchedule
	if schedule == "" {
		schedule = "@hourly"
	}
	if _, err := c.AddFunc(schedule, func() {
		if _, err := a.sweep(ctx, rt); err != nil {
			a.Logger.Error().Err(err).Msg("sweep failed")
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid rate_limit.sweep_schedule %q: %w", schedule, err)
	}
	return c, nil
}

// sweep drops counter entries of past days and expired connection codes.
func (a *App) sweep(ctx context.Context, rt *runtime) (int64, error) {
	n, err := rt.counter.PurgeStale(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to purge counters: %w", err)
	}
	if rt.metrics != nil {
		rt.metrics.CounterSwept(n)
	}

	codes := 0
	if rt.codes != nil {
		codes = rt.codes.Purge()
	}
	a.Logger.Info().Int64("counters", n).Int("codes", codes).Msg("sweep finished")
	return n, nil
}

// Sweep runs one sweep against the configured counter backend.
func (a *App) Sweep(ctx context.Context) (int64, error) {
	rt, err := a.openStore()
	if err != nil {
		return 0, err
	}
	defer rt.Close()

	loc, err := a.Config.Location()
	if err != nil {
		return 0, err
	}
	if err := a.openCounter(ctx, rt, newCalendar(loc)); err != nil {
		return 0, err
	}
	return a.sweep(ctx, rt)
}
