package market

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/VigneshwaranJheyaraman/charts-helper/internal/domain/models"
	applogger "github.com/VigneshwaranJheyaraman/charts-helper/pkg/logger"
)

var ErrEmptyRuleSet = errors.New("market: rule set is empty")

// RuleSet is an ordered list of market rules. The first rule is the default
// session used when a date has no rule of its own.
type RuleSet struct {
	rules []models.MarketRule
}

// NewRuleSet validates rules. Malformed session strings are logged and left
// in place; such rules never report an open session.
func NewRuleSet(rules []models.MarketRule, l *applogger.Logger) (RuleSet, error) {
	if len(rules) == 0 {
		return RuleSet{}, ErrEmptyRuleSet
	}
	for i, r := range rules {
		if r.HasSession() {
			if _, _, err := r.Session(); err != nil && l != nil {
				l.Warn("market rule has malformed session",
					applogger.Int("index", i),
					applogger.String("open", r.Open),
					applogger.String("close", r.Close),
					applogger.Error(err),
				)
			}
		}
		if r.Date != "" {
			if _, err := time.Parse(models.DateLayout, r.Date); err != nil && l != nil {
				l.Warn("market rule has malformed date",
					applogger.Int("index", i),
					applogger.String("date", r.Date),
					applogger.Error(err),
				)
			}
		}
	}
	out := make([]models.MarketRule, len(rules))
	copy(out, rules)
	return RuleSet{rules: out}, nil
}

// MustRuleSet is NewRuleSet without a logger that panics on an empty list.
func MustRuleSet(rules ...models.MarketRule) RuleSet {
	rs, err := NewRuleSet(rules, nil)
	if err != nil {
		panic(err)
	}
	return rs
}

// Rules returns a copy of the underlying list.
func (rs RuleSet) Rules() []models.MarketRule {
	out := make([]models.MarketRule, len(rs.rules))
	copy(out, rs.rules)
	return out
}

// Len returns the number of rules.
func (rs RuleSet) Len() int { return len(rs.rules) }

// Default returns the first rule.
func (rs RuleSet) Default() models.MarketRule {
	if len(rs.rules) == 0 {
		return models.MarketRule{}
	}
	return rs.rules[0]
}

// With returns a new set with extra appended after the existing rules.
func (rs RuleSet) With(extra ...models.MarketRule) RuleSet {
	out := make([]models.MarketRule, 0, len(rs.rules)+len(extra))
	out = append(out, rs.rules...)
	out = append(out, extra...)
	return RuleSet{rules: out}
}

// IsWeekday returns the first weekday rule for date's day of week.
// Sunday (0) is matchable.
func (rs RuleSet) IsWeekday(date time.Time) (models.MarketRule, bool) {
	day := int(date.Weekday())
	for _, r := range rs.rules {
		if r.IsWeekdayRule() && *r.DayOfWeek == day {
			return r, true
		}
	}
	return models.MarketRule{}, false
}

// IsHoliday returns the first date override for date's calendar day. Unless
// includeSessionHolidays is set only full closures match.
func (rs RuleSet) IsHoliday(date time.Time, includeSessionHolidays bool) (models.MarketRule, bool) {
	key := date.Format(models.DateLayout)
	for _, r := range rs.rules {
		if !r.IsHolidayRule() || r.Date != key {
			continue
		}
		if !includeSessionHolidays && (r.Open != "" || r.Close != "") {
			continue
		}
		return r, true
	}
	return models.MarketRule{}, false
}

// ResolveRule picks the rule governing date: a full closure, then a holiday
// with its own session, then the weekday rule, then the default.
func (rs RuleSet) ResolveRule(date time.Time) models.MarketRule {
	if r, ok := rs.IsHoliday(date, false); ok {
		return r
	}
	if r, ok := rs.IsHoliday(date, true); ok {
		return r
	}
	if r, ok := rs.IsWeekday(date); ok {
		return r
	}
	return rs.Default()
}

// SessionString renders a rule's session as "HHMM-HHMM", or "" without one.
func SessionString(r models.MarketRule) string {
	open, close, err := r.Session()
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%s-%s", open.Compact(), close.Compact())
}

// HolidaysString lists full closures as "YYYYMMDD,YYYYMMDD".
func (rs RuleSet) HolidaysString() string {
	days := make([]string, 0)
	for _, r := range rs.rules {
		if r.IsClosure() {
			days = append(days, strings.ReplaceAll(r.Date, "-", ""))
		}
	}
	return strings.Join(days, ",")
}

// HolidaySessionsString lists special sessions as "HHMM-HHMM:YYYYMMDD;...".
func (rs RuleSet) HolidaySessionsString() string {
	out := make([]string, 0)
	for _, r := range rs.rules {
		if r.DayOfWeek != nil || r.Date == "" {
			continue
		}
		s := SessionString(r)
		if s == "" {
			continue
		}
		out = append(out, s+":"+strings.ReplaceAll(r.Date, "-", ""))
	}
	return strings.Join(out, ";")
}
