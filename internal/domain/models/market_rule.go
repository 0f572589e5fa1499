package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the calendar date format used by holiday rules.
const DateLayout = "2006-01-02"

var ErrInvalidSessionTime = errors.New("invalid session time")

// MarketRule is either a recurring weekday session (DayOfWeek, Open, Close)
// or a date override (Date, Name) that may carry its own Open/Close.
type MarketRule struct {
	DayOfWeek *int   `yaml:"day_of_week,omitempty" json:"dayOfWeek,omitempty" validate:"omitempty,min=0,max=6"`
	Open      string `yaml:"open,omitempty" json:"open,omitempty"`
	Close     string `yaml:"close,omitempty" json:"close,omitempty"`
	Date      string `yaml:"date,omitempty" json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Name      string `yaml:"name,omitempty" json:"name,omitempty"`
}

// WeekdayRule builds a recurring session rule.
func WeekdayRule(day time.Weekday, open, close string) MarketRule {
	d := int(day)
	return MarketRule{DayOfWeek: &d, Open: open, Close: close}
}

// HolidayRule builds a date override. Empty open/close marks a full closure.
func HolidayRule(date, name, open, close string) MarketRule {
	return MarketRule{Date: date, Name: name, Open: open, Close: close}
}

// HasSession reports whether both session boundaries are set.
func (r MarketRule) HasSession() bool { return r.Open != "" && r.Close != "" }

// IsWeekdayRule reports whether r describes a recurring weekday session.
func (r MarketRule) IsWeekdayRule() bool { return r.DayOfWeek != nil && r.HasSession() }

// IsHolidayRule reports whether r is a date override.
func (r MarketRule) IsHolidayRule() bool { return r.Date != "" && r.Name != "" }

// IsClosure reports whether r is a holiday without any session.
func (r MarketRule) IsClosure() bool { return r.IsHolidayRule() && r.Open == "" && r.Close == "" }

// Session parses both boundaries.
func (r MarketRule) Session() (open, close SessionTime, err error) {
	if !r.HasSession() {
		return SessionTime{}, SessionTime{}, fmt.Errorf("%w: rule has no session", ErrInvalidSessionTime)
	}
	if open, err = ParseSessionTime(r.Open); err != nil {
		return SessionTime{}, SessionTime{}, err
	}
	if close, err = ParseSessionTime(r.Close); err != nil {
		return SessionTime{}, SessionTime{}, err
	}
	return open, close, nil
}

// SessionTime is a wall-clock hour and minute.
type SessionTime struct {
	Hr  int `json:"hr"`
	Min int `json:"min"`
}

// ParseSessionTime parses "HH:MM".
func ParseSessionTime(s string) (SessionTime, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return SessionTime{}, fmt.Errorf("%w: %q", ErrInvalidSessionTime, s)
	}
	hr, err := strconv.Atoi(hh)
	if err != nil || hr < 0 || hr > 23 {
		return SessionTime{}, fmt.Errorf("%w: %q", ErrInvalidSessionTime, s)
	}
	min, err := strconv.Atoi(mm)
	if err != nil || min < 0 || min > 59 {
		return SessionTime{}, fmt.Errorf("%w: %q", ErrInvalidSessionTime, s)
	}
	return SessionTime{Hr: hr, Min: min}, nil
}

// Minutes returns the minute of day.
func (s SessionTime) Minutes() int { return s.Hr*60 + s.Min }

// On returns the instant at s on t's calendar day in t's location.
func (s SessionTime) On(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), s.Hr, s.Min, 0, 0, t.Location())
}

// Compact renders s as "HHMM".
func (s SessionTime) Compact() string { return fmt.Sprintf("%02d%02d", s.Hr, s.Min) }

func (s SessionTime) String() string { return fmt.Sprintf("%02d:%02d", s.Hr, s.Min) }
