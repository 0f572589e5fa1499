package market

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/VigneshwaranJheyaraman/charts-helper/internal/domain/models"
	applogger "github.com/VigneshwaranJheyaraman/charts-helper/pkg/logger"

	"github.com/scmhub/calendar"
)

// CalendarRules appends full-closure rules taken from an exchange calendar
// (ISO 10383 MIC) to the rules of a base source. Only weekdays that the base
// rules trade on are checked.
type CalendarRules struct {
	base       RuleSource
	defaultMIC string
	fromYear   int
	toYear     int
	l          *applogger.Logger

	// lookup resolves a MIC to its business-day test and location.
	lookup func(mic string) (businessDay func(time.Time) bool, loc *time.Location, ok bool)

	mu sync.Mutex
	// closed caches weekday closures per MIC. They do not depend on the
	// base rules, so exchanges sharing a MIC share the entry.
	closed map[string][]time.Time
}

func scmhubLookup(mic string) (func(time.Time) bool, *time.Location, bool) {
	cal := calendar.GetCalendar(mic)
	if cal == nil {
		return nil, nil, false
	}
	loc := cal.Loc
	if loc == nil {
		loc = time.UTC
	}
	return cal.IsBusinessDay, loc, true
}

// NewCalendarRules wraps base. The symbol's MIC wins over defaultMIC.
func NewCalendarRules(base RuleSource, defaultMIC string, fromYear, toYear int, l *applogger.Logger) *CalendarRules {
	if toYear < fromYear {
		fromYear, toYear = toYear, fromYear
	}
	return &CalendarRules{
		base:       base,
		defaultMIC: strings.ToLower(defaultMIC),
		fromYear:   fromYear,
		toYear:     toYear,
		l:          l,
		lookup:     scmhubLookup,
		closed:     make(map[string][]time.Time),
	}
}

func (c *CalendarRules) RulesFor(sym models.Symbol) ([]models.MarketRule, error) {
	rules, err := c.base.RulesFor(sym)
	if err != nil {
		return nil, err
	}
	mic := strings.ToLower(sym.MIC)
	if mic == "" {
		mic = c.defaultMIC
	}
	if mic == "" || len(rules) == 0 {
		return rules, nil
	}
	return append(rules, c.holidays(mic, rules)...), nil
}

// holidays turns the MIC closures into holiday rules for the weekdays base
// trades on, skipping dates base already lists.
func (c *CalendarRules) holidays(mic string, base []models.MarketRule) []models.MarketRule {
	days := c.closedDays(mic)
	if len(days) == 0 {
		return nil
	}
	rs := RuleSet{rules: base}
	name := fmt.Sprintf("%s holiday", strings.ToUpper(mic))
	out := make([]models.MarketRule, 0, len(days))
	for _, day := range days {
		if _, trades := rs.IsWeekday(day); !trades {
			continue
		}
		if _, listed := rs.IsHoliday(day, true); listed {
			continue
		}
		out = append(out, models.HolidayRule(day.Format(models.DateLayout), name, "", ""))
	}
	return out
}

func (c *CalendarRules) closedDays(mic string) []time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	if days, ok := c.closed[mic]; ok {
		return days
	}
	businessDay, loc, ok := c.lookup(mic)
	if !ok {
		if c.l != nil {
			c.l.Warn("exchange calendar not found", applogger.String("mic", mic))
		}
		c.closed[mic] = nil
		return nil
	}

	var days []time.Time
	day := time.Date(c.fromYear, time.January, 1, 12, 0, 0, 0, loc)
	end := time.Date(c.toYear, time.December, 31, 12, 0, 0, 0, loc)
	for ; !day.After(end); day = day.AddDate(0, 0, 1) {
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		if !businessDay(day) {
			days = append(days, day)
		}
	}
	if c.l != nil {
		c.l.Info("exchange calendar loaded",
			applogger.String("mic", mic),
			applogger.Int("closures", len(days)),
		)
	}
	c.closed[mic] = days
	return days
}
