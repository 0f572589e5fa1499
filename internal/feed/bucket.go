package feed

import (
	"time"

	"github.com/VigneshwaranJheyaraman/charts-helper/internal/domain/models"
)

// DefaultDailyAnchor is the time of day daily-class candles are stamped with.
const DefaultDailyAnchor = "05:30"

// Bucketizer maps timestamps to candle bucket starts in one location.
type Bucketizer struct {
	anchor models.SessionTime
	loc    *time.Location
}

// NewBucketizer creates a bucketizer. A nil location means time.Local.
func NewBucketizer(anchor models.SessionTime, loc *time.Location) *Bucketizer {
	if loc == nil {
		loc = time.Local
	}
	return &Bucketizer{anchor: anchor, loc: loc}
}

// NewBucketizerFromString parses an "HH:MM" anchor.
func NewBucketizerFromString(anchor string, loc *time.Location) (*Bucketizer, error) {
	if anchor == "" {
		anchor = DefaultDailyAnchor
	}
	st, err := models.ParseSessionTime(anchor)
	if err != nil {
		return nil, err
	}
	return NewBucketizer(st, loc), nil
}

func (b *Bucketizer) Location() *time.Location { return b.loc }

// BucketStart returns the canonical timestamp of the bucket holding t.
// Daily-class buckets are the calendar day at the anchor. Intraday buckets
// truncate the minute of day to a multiple of the resolution.
func (b *Bucketizer) BucketStart(t time.Time, res models.Resolution) time.Time {
	d := t.In(b.loc)
	if res.IsDailyClass() {
		return b.anchor.On(d)
	}
	width := res.Minutes()
	if width <= 0 {
		width = 1
	}
	mod := d.Hour()*60 + d.Minute()
	mod -= mod % width
	return time.Date(d.Year(), d.Month(), d.Day(), mod/60, mod%60, 0, 0, b.loc)
}

// SameDay reports whether a and b share a calendar day in the bucketizer's location.
func (b *Bucketizer) SameDay(x, y time.Time) bool {
	x, y = x.In(b.loc), y.In(b.loc)
	return x.Year() == y.Year() && x.YearDay() == y.YearDay()
}

// IsDailyClass reports whether res aggregates whole trading days.
func IsDailyClass(res models.Resolution) bool { return res.IsDailyClass() }
