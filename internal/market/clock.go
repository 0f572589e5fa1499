package market

import (
	"time"

	"github.com/VigneshwaranJheyaraman/charts-helper/internal/domain/models"
)

// DefaultMaxLookbackDays bounds every backward day walk.
const DefaultMaxLookbackDays = 3660

// Clock answers session questions for a rule set. Wall-clock fields are read
// in the clock's location.
type Clock struct {
	loc         *time.Location
	maxLookback int
}

// ClockOption configures Clock.
type ClockOption func(*Clock)

// WithLocation sets the market location.
func WithLocation(loc *time.Location) ClockOption {
	return func(c *Clock) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// WithMaxLookback sets how many calendar days a backward walk may visit.
func WithMaxLookback(days int) ClockOption {
	return func(c *Clock) {
		if days > 0 {
			c.maxLookback = days
		}
	}
}

// NewClock creates a session clock.
func NewClock(opts ...ClockOption) *Clock {
	c := &Clock{loc: time.Local, maxLookback: DefaultMaxLookbackDays}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Location returns the market location.
func (c *Clock) Location() *time.Location { return c.loc }

func (c *Clock) in(t time.Time) time.Time { return t.In(c.loc) }

// IsMarketDay reports whether t falls on a weekday session that is not a
// full closure.
func (c *Clock) IsMarketDay(t time.Time, rules RuleSet) bool {
	d := c.in(t)
	if _, ok := rules.IsWeekday(d); !ok {
		return false
	}
	_, closed := rules.IsHoliday(d, false)
	return !closed
}

// IsSessionOpen reports whether t lies in [open, close) of the rule governing
// its day. Malformed sessions are never open.
func (c *Clock) IsSessionOpen(t time.Time, rules RuleSet) bool {
	d := c.in(t)
	if !c.IsMarketDay(d, rules) {
		return false
	}
	open, close, err := rules.ResolveRule(d).Session()
	if err != nil {
		return false
	}
	m := minuteOfDay(d)
	return m >= open.Minutes() && m < close.Minutes()
}

// SnapToSessionBoundary returns t unchanged when the session is open. At or
// after the close of a market day it returns that day's close. Otherwise it
// walks back to the closest earlier market day and returns its close. Without
// any usable session the input is returned.
func (c *Clock) SnapToSessionBoundary(t time.Time, rules RuleSet) time.Time {
	d := c.in(t)
	if c.IsSessionOpen(d, rules) {
		return t
	}
	if _, close, ok := c.sessionFor(d, rules); ok && c.IsMarketDay(d, rules) && minuteOfDay(d) >= close.Minutes() {
		return close.On(d)
	}

	// days without a usable session are skipped; only an exhausted
	// lookback returns t
	day := startOfDay(d)
	for i := 0; i < c.maxLookback; i++ {
		day = day.AddDate(0, 0, -1)
		_, close, ok := c.sessionFor(day, rules)
		if !ok {
			continue
		}
		// last minute inside the session, corrected back to the close
		last := close.On(day).Add(-time.Minute)
		if c.IsSessionOpen(last, rules) {
			return close.On(day)
		}
	}
	return t
}

// PreviousMarketDay steps back one calendar day at a time until a market day
// is found. Time of day is preserved.
func (c *Clock) PreviousMarketDay(t time.Time, rules RuleSet) time.Time {
	d := c.in(t)
	for i := 0; i < c.maxLookback; i++ {
		d = d.AddDate(0, 0, -1)
		if c.IsMarketDay(d, rules) {
			return d
		}
	}
	return c.in(t).AddDate(0, 0, -1)
}

// SessionOpenOn returns the session open of t's day, or t when no rule has a
// usable session.
func (c *Clock) SessionOpenOn(t time.Time, rules RuleSet) time.Time {
	d := c.in(t)
	open, _, ok := c.sessionFor(d, rules)
	if !ok {
		return t
	}
	return open.On(d)
}

// sessionFor parses the session of the rule governing d, falling back to the
// default rule when that rule has none.
func (c *Clock) sessionFor(d time.Time, rules RuleSet) (open, close models.SessionTime, ok bool) {
	if open, close, err := rules.ResolveRule(d).Session(); err == nil {
		return open, close, true
	}
	if open, close, err := rules.Default().Session(); err == nil {
		return open, close, true
	}
	return models.SessionTime{}, models.SessionTime{}, false
}

func minuteOfDay(t time.Time) int { return t.Hour()*60 + t.Minute() }

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
