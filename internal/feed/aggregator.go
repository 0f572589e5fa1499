package feed

import (
	"math"
	"sync"
	"time"

	"github.com/VigneshwaranJheyaraman/charts-helper/internal/domain/models"
)

// SessionClock is the part of the market session view the aggregator needs.
type SessionClock interface {
	IsSessionOpen(t time.Time) bool
	SnapToSessionBoundary(t time.Time) time.Time
}

// FinalizeFunc receives a candle whose bucket has just been closed.
type FinalizeFunc func(c models.Candle, res models.Resolution)

type AggregatorOption func(*Aggregator)

// WithFinalizeHook registers fn for every closed bucket.
func WithFinalizeHook(fn FinalizeFunc) AggregatorOption {
	return func(a *Aggregator) { a.onFinalize = fn }
}

// Aggregator folds ticks into the open candle. Ticks must arrive in order.
type Aggregator struct {
	buckets    *Bucketizer
	clock      SessionClock
	onFinalize FinalizeFunc

	mu        sync.Mutex
	cur       models.Candle
	seeded    bool
	oldVolume float64
	// baseline is false until oldVolume holds a real cumulative reading.
	baseline bool
}

func NewAggregator(buckets *Bucketizer, clock SessionClock, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{buckets: buckets, clock: clock}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Initialize seeds the open candle and the cumulative volume baseline.
func (a *Aggregator) Initialize(last models.Candle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cur = last.Clone()
	a.seeded = last.HasDate()
	a.oldVolume = last.Volume
	a.baseline = true
}

// InitializeEmpty opens an empty bucket at bucket when there is no history.
// The first tick sets the OHLC values and the volume baseline.
func (a *Aggregator) InitializeEmpty(bucket time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cur = models.Candle{Date: &bucket}
	a.seeded = false
	a.oldVolume = 0
	a.baseline = false
}

// Reset drops all state. Ingest is a no-op until the next Initialize.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cur = models.Candle{}
	a.seeded = false
	a.oldVolume = 0
	a.baseline = false
}

// Current returns a copy of the open candle, or nil when there is none.
func (a *Aggregator) Current() *models.Candle {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.cur.HasDate() {
		return nil
	}
	out := a.cur.Clone()
	return &out
}

// Ingest applies tick and returns a copy of the updated candle. It returns
// nil while no bucket is active.
func (a *Aggregator) Ingest(tick models.Tick, res models.Resolution) *models.Candle {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.cur.HasDate() {
		return nil
	}

	vol := a.oldVolume
	if tick.Volume != nil {
		vol = *tick.Volume
		if !a.baseline {
			a.oldVolume = vol
			a.baseline = true
		}
	}
	delta := math.Max(0, vol-a.oldVolume)

	at, crossed := a.candleTime(*a.cur.Date, tick.Date, res)
	if crossed {
		a.finalize(res)
		a.cur = models.Candle{Date: &at}
		a.seeded = false
	}

	if res.IsDailyClass() {
		a.cur.Volume = vol
	} else {
		a.cur.Volume += delta
	}
	a.cur.Close = tick.Close
	if !a.seeded {
		a.cur.Open = tick.OpenOrClose()
		a.cur.High = tick.HighOrClose()
		a.cur.Low = tick.LowOrClose()
		a.seeded = true
	} else {
		a.cur.High = math.Max(a.cur.High, tick.HighOrClose())
		a.cur.Low = math.Min(a.cur.Low, tick.LowOrClose())
	}
	a.oldVolume = vol

	out := a.cur.Clone()
	return &out
}

// finalize hands the closed candle to the hook. A bucket opened by
// InitializeEmpty that never saw a tick has no prices and is skipped.
func (a *Aggregator) finalize(res models.Resolution) {
	if a.onFinalize == nil || !a.cur.HasDate() || !a.seeded {
		return
	}
	a.onFinalize(a.cur.Clone(), res)
}

// candleTime returns the bucket for a tick at t given the active bucket cur,
// and whether that bucket differs from cur.
func (a *Aggregator) candleTime(cur, t time.Time, res models.Resolution) (time.Time, bool) {
	if res.IsDailyClass() {
		if a.buckets.SameDay(cur, t) {
			return cur, false
		}
		return a.buckets.BucketStart(t, res), true
	}

	if !a.buckets.SameDay(cur, t) {
		next := a.buckets.BucketStart(t, res)
		return next, !next.Equal(cur)
	}

	step := res.Duration()
	next := cur
	if !t.Before(cur) {
		next = cur.Add(t.Sub(cur) / step * step)
	}
	if a.clock != nil && !a.clock.IsSessionOpen(next) {
		s := a.clock.SnapToSessionBoundary(next)
		if !a.clock.IsSessionOpen(s) {
			// close boundary: last minute of the session
			s = s.Add(-time.Minute)
		}
		if s.Before(cur) {
			next = cur
		} else {
			next = cur.Add(s.Sub(cur) / step * step)
		}
	}
	return next, !next.Equal(cur)
}
