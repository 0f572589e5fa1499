package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidResolution = errors.New("invalid resolution")

// ResolutionKind is the candle period family.
type ResolutionKind int

const (
	KindMinute ResolutionKind = iota
	KindDay
	KindWeek
	KindMonth
)

func (k ResolutionKind) String() string {
	switch k {
	case KindMinute:
		return "minute"
	case KindDay:
		return "day"
	case KindWeek:
		return "week"
	case KindMonth:
		return "month"
	default:
		return "unknown"
	}
}

// Resolution is a parsed candle period such as "5", "60", "1D" or "W".
type Resolution struct {
	Token string
	Kind  ResolutionKind
	Count int
}

// DefaultResolution is used when a request carries no resolution.
const DefaultResolution = "1D"

// ParseResolution accepts a positive minute count or a D/W/M family code
// with an optional numeric multiplier ("D", "1D", "2W", "m").
func ParseResolution(token string) (Resolution, error) {
	s := strings.ToUpper(strings.TrimSpace(token))
	if s == "" {
		return Resolution{}, fmt.Errorf("%w: empty", ErrInvalidResolution)
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 {
			return Resolution{}, fmt.Errorf("%w: %q", ErrInvalidResolution, token)
		}
		return Resolution{Token: s, Kind: KindMinute, Count: n}, nil
	}

	var kind ResolutionKind
	switch s[len(s)-1] {
	case 'D':
		kind = KindDay
	case 'W':
		kind = KindWeek
	case 'M':
		kind = KindMonth
	default:
		return Resolution{}, fmt.Errorf("%w: %q", ErrInvalidResolution, token)
	}
	count := 1
	if prefix := s[:len(s)-1]; prefix != "" {
		n, err := strconv.Atoi(prefix)
		if err != nil || n <= 0 {
			return Resolution{}, fmt.Errorf("%w: %q", ErrInvalidResolution, token)
		}
		count = n
	}
	return Resolution{Token: s, Kind: kind, Count: count}, nil
}

// MustResolution parses token and panics on error. Intended for constants and tests.
func MustResolution(token string) Resolution {
	r, err := ParseResolution(token)
	if err != nil {
		panic(err)
	}
	return r
}

// NormalizeResolution parses s, falling back to DefaultResolution.
func NormalizeResolution(s string) Resolution {
	if r, err := ParseResolution(s); err == nil {
		return r
	}
	return MustResolution(DefaultResolution)
}

// IsDailyClass reports whether candle boundaries are whole trading days.
func (r Resolution) IsDailyClass() bool { return r.Kind != KindMinute }

// Minutes returns the bucket width of an intraday resolution, zero otherwise.
func (r Resolution) Minutes() int {
	if r.Kind != KindMinute {
		return 0
	}
	return r.Count
}

// Duration returns the bucket width of an intraday resolution.
func (r Resolution) Duration() time.Duration { return time.Duration(r.Minutes()) * time.Minute }

func (r Resolution) String() string { return r.Token }
