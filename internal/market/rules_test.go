package market

import (
	"testing"
	"time"

	"github.com/VigneshwaranJheyaraman/charts-helper/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// weekRules is Mon–Fri 09:15–15:30 with a closure on Wed 2024-01-17 and a
// half day on Fri 2024-01-19.
func weekRules() []models.MarketRule {
	rules := make([]models.MarketRule, 0, 7)
	for d := time.Monday; d <= time.Friday; d++ {
		rules = append(rules, models.WeekdayRule(d, "09:15", "15:30"))
	}
	return append(rules,
		models.HolidayRule("2024-01-17", "Republic Day", "", ""),
		models.HolidayRule("2024-01-19", "Half Day", "09:15", "12:00"),
	)
}

func at(day, hr, min, sec int) time.Time {
	return time.Date(2024, time.January, day, hr, min, sec, 0, time.UTC)
}

func TestNewRuleSetRejectsEmptyList(t *testing.T) {
	t.Parallel()

	_, err := NewRuleSet(nil, nil)
	require.ErrorIs(t, err, ErrEmptyRuleSet)
}

func TestIsWeekday(t *testing.T) {
	t.Parallel()

	rs := MustRuleSet(weekRules()...)

	r, ok := rs.IsWeekday(at(15, 10, 0, 0))
	require.True(t, ok)
	require.NotNil(t, r.DayOfWeek)
	assert.Equal(t, int(time.Monday), *r.DayOfWeek)

	_, ok = rs.IsWeekday(at(20, 10, 0, 0))
	assert.False(t, ok, "saturday has no rule")
}

func TestIsWeekdayMatchesSunday(t *testing.T) {
	t.Parallel()

	rs := MustRuleSet(models.WeekdayRule(time.Sunday, "10:00", "14:00"))
	r, ok := rs.IsWeekday(at(21, 11, 0, 0))
	require.True(t, ok)
	assert.Equal(t, 0, *r.DayOfWeek)
}

func TestIsWeekdayIgnoresRulesWithoutSession(t *testing.T) {
	t.Parallel()

	mon := int(time.Monday)
	rs := MustRuleSet(models.MarketRule{DayOfWeek: &mon, Open: "09:15"})
	_, ok := rs.IsWeekday(at(15, 10, 0, 0))
	assert.False(t, ok)
}

func TestIsHoliday(t *testing.T) {
	t.Parallel()

	rs := MustRuleSet(weekRules()...)

	tests := []struct {
		name           string
		date           time.Time
		includeSession bool
		want           bool
		wantName       string
	}{
		{"closure ignores time of day", at(17, 23, 59, 0), false, true, "Republic Day"},
		{"half day excluded by default", at(19, 10, 0, 0), false, false, ""},
		{"half day included on request", at(19, 10, 0, 0), true, true, "Half Day"},
		{"regular day", at(18, 10, 0, 0), true, false, ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r, ok := rs.IsHoliday(tt.date, tt.includeSession)
			assert.Equal(t, tt.want, ok)
			assert.Equal(t, tt.wantName, r.Name)
		})
	}
}

func TestResolveRule(t *testing.T) {
	t.Parallel()

	rs := MustRuleSet(weekRules()...)

	assert.True(t, rs.ResolveRule(at(17, 10, 0, 0)).IsClosure())
	assert.Equal(t, "12:00", rs.ResolveRule(at(19, 10, 0, 0)).Close)

	thu := rs.ResolveRule(at(18, 10, 0, 0))
	require.NotNil(t, thu.DayOfWeek)
	assert.Equal(t, int(time.Thursday), *thu.DayOfWeek)

	sat := rs.ResolveRule(at(20, 10, 0, 0))
	assert.Equal(t, rs.Default(), sat)
}

func TestResolveRuleClosureBeatsSpecialSession(t *testing.T) {
	t.Parallel()

	rs := MustRuleSet(
		models.WeekdayRule(time.Monday, "09:15", "15:30"),
		models.HolidayRule("2024-01-15", "Muhurat", "18:00", "19:00"),
		models.HolidayRule("2024-01-15", "Closed", "", ""),
	)
	assert.Equal(t, "Closed", rs.ResolveRule(at(15, 18, 30, 0)).Name)
}

func TestSessionStrings(t *testing.T) {
	t.Parallel()

	rs := MustRuleSet(weekRules()...)
	assert.Equal(t, "0915-1530", SessionString(rs.Default()))
	assert.Equal(t, "", SessionString(models.HolidayRule("2024-01-17", "x", "", "")))
	assert.Equal(t, "20240117", rs.HolidaysString())
	assert.Equal(t, "0915-1200:20240119", rs.HolidaySessionsString())
}

func TestRuleSetCopiesInput(t *testing.T) {
	t.Parallel()

	raw := weekRules()
	rs := MustRuleSet(raw...)
	raw[0].Open = "00:00"
	assert.Equal(t, "09:15", rs.Default().Open)

	out := rs.Rules()
	out[0].Close = "23:59"
	assert.Equal(t, "15:30", rs.Default().Close)
}
