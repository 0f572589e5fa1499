package repository

import (
	"context"
	"errors"
	"time"

	"github.com/VigneshwaranJheyaraman/charts-helper/internal/domain/models"
	"github.com/VigneshwaranJheyaraman/charts-helper/internal/domain/repository"
	"github.com/VigneshwaranJheyaraman/charts-helper/pkg/cache"
	applogger "github.com/VigneshwaranJheyaraman/charts-helper/pkg/logger"
)

// CachingTransport memoizes history pages by ticker, resolution and window.
type CachingTransport struct {
	next  repository.HistoricalTransport
	cache cache.Service
	ttl   time.Duration
	log   *applogger.Logger
}

// NewCachingTransport wraps next with c.
func NewCachingTransport(next repository.HistoricalTransport, c cache.Service, ttl time.Duration, l *applogger.Logger) *CachingTransport {
	if l == nil {
		l = applogger.NewNop()
	}
	return &CachingTransport{next: next, cache: c, ttl: ttl, log: l}
}

func historyKey(req repository.FetchRequest) string {
	return cache.GenerateKeyWithParams("history",
		req.Symbol.TickerName(),
		req.Resolution.Token,
		req.From.Unix(),
		req.To.Unix(),
	)
}

func (t *CachingTransport) FetchCandles(ctx context.Context, req repository.FetchRequest) ([]models.Candle, error) {
	key := historyKey(req)

	var cached []models.Candle
	err := t.cache.Get(ctx, key, &cached)
	switch {
	case err == nil:
		return cached, nil
	case errors.Is(err, cache.ErrCacheMiss):
	default:
		// unreadable entry or backend failure; fall through to the source
		t.log.Warn("history cache read", applogger.String("key", key), applogger.Error(err))
		_ = t.cache.Delete(ctx, key)
	}

	candles, err := t.next.FetchCandles(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return candles, nil
	}
	if err := t.cache.Set(ctx, key, candles, t.ttl); err != nil {
		t.log.Warn("history cache write", applogger.String("key", key), applogger.Error(err))
	}
	return candles, nil
}

var _ repository.HistoricalTransport = (*CachingTransport)(nil)
