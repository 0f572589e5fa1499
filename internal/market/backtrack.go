package market

import (
	"time"

	"github.com/VigneshwaranJheyaraman/charts-helper/internal/domain/models"
)

// DefaultRangeSize is the number of candles requested per page.
const DefaultRangeSize = 500

// GoBack walks ticks candles back from `from`. Daily-class resolutions step
// over market days and land on the session open. Intraday resolutions
// subtract the bucket width while the session is open and snap to the
// previous session boundary otherwise; a snap does not consume a tick.
func (c *Clock) GoBack(from time.Time, ticks int, res models.Resolution, rules RuleSet) time.Time {
	if ticks <= 0 {
		return from
	}
	d := c.in(from)

	if res.IsDailyClass() {
		for i := 0; i < ticks; i++ {
			d = c.PreviousMarketDay(d, rules)
			d = c.SessionOpenOn(d, rules)
		}
		return d
	}

	step := res.Duration()
	for consumed := 0; consumed < ticks; {
		if c.IsSessionOpen(d, rules) {
			d = d.Add(-step)
			consumed++
			continue
		}
		snapped := c.SnapToSessionBoundary(d, rules)
		if snapped.Equal(d) {
			// close boundary or no usable session: count the step so the walk ends
			d = d.Add(-step)
			consumed++
			continue
		}
		d = c.in(snapped)
	}
	return d
}
