package feed

import (
	"sync"
	"time"

	"github.com/VigneshwaranJheyaraman/charts-helper/internal/domain/models"
)

// Backtracker walks a number of candles back from a timestamp.
type Backtracker interface {
	GoBack(from time.Time, ticks int, res models.Resolution) time.Time
}

type RangeCacheOption func(*RangeCache)

// WithNow overrides the wall clock used for the first page.
func WithNow(now func() time.Time) RangeCacheOption {
	return func(c *RangeCache) {
		if now != nil {
			c.now = now
		}
	}
}

// RangeCache remembers the last requested window per resolution so that
// successive requests page further back in time. Values are copied on the
// way in and out.
type RangeCache struct {
	bt        Backtracker
	rangeSize int
	now       func() time.Time

	mu     sync.Mutex
	ranges map[string]models.Range
}

func NewRangeCache(bt Backtracker, rangeSize int, opts ...RangeCacheOption) *RangeCache {
	if rangeSize <= 0 {
		rangeSize = 500
	}
	c := &RangeCache{
		bt:        bt,
		rangeSize: rangeSize,
		now:       time.Now,
		ranges:    make(map[string]models.Range),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetRange returns the next page for res. The first page ends now; each
// later page ends where the previous one started.
func (c *RangeCache) GetRange(res models.Resolution) models.Range {
	c.mu.Lock()
	defer c.mu.Unlock()

	var to time.Time
	if cached, ok := c.ranges[res.Token]; ok && cached.From != nil {
		to = *cached.From
	} else {
		to = c.now()
	}
	from := c.bt.GoBack(to, c.rangeSize, res)

	r := models.Range{From: &from, To: &to}
	c.ranges[res.Token] = r.Clone()
	return r
}

// Peek returns the last page handed out for res without advancing.
func (c *RangeCache) Peek(res models.Resolution) (models.Range, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.ranges[res.Token]
	if !ok {
		return models.Range{}, false
	}
	return r.Clone(), true
}

// InitRange forgets res so the next GetRange starts from now.
func (c *RangeCache) InitRange(res models.Resolution) {
	c.mu.Lock()
	delete(c.ranges, res.Token)
	c.mu.Unlock()
}

// ClearAll forgets every resolution.
func (c *RangeCache) ClearAll() {
	c.mu.Lock()
	c.ranges = make(map[string]models.Range)
	c.mu.Unlock()
}

// RangeSize is the number of candles per page.
func (c *RangeCache) RangeSize() int { return c.rangeSize }
