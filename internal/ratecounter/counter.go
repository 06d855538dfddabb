// Package ratecounter tracks how many alerts each account has used per calendar day.
package ratecounter

import (
	"context"
	"time"
)

// DayLayout is the format of the per-day counter key
const DayLayout = "2006-01-02"

// Result is the outcome of a TryConsume call
type Result struct {
	Allowed   bool `json:"allowed"`
	Remaining int  `json:"remaining"`
	UsedToday int  `json:"used_today"`
}

// Counter is a per-account daily quota. TryConsume must be atomic per account:
// concurrent callers never both take the last slot.
type Counter interface {
	TryConsume(ctx context.Context, accountID string, limit int) (Result, error)
	Usage(ctx context.Context, accountID string) (int, error)
	PurgeStale(ctx context.Context) (int64, error)
}

// Clock returns the current time
type Clock func() time.Time

// Calendar turns instants into day keys in a fixed location
type Calendar struct {
	loc *time.Location
	now Clock
}

// NewCalendar returns a calendar for loc; a nil loc means UTC and a nil clock means time.Now
func NewCalendar(loc *time.Location, now Clock) Calendar {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return Calendar{loc: loc, now: now}
}

// Today returns the current day key
func (c Calendar) Today() string {
	return c.now().In(c.loc).Format(DayLayout)
}

// Now returns the current instant
func (c Calendar) Now() time.Time {
	return c.now()
}

func result(allowed bool, used, limit int) Result {
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: allowed, Remaining: remaining, UsedToday: used}
}
