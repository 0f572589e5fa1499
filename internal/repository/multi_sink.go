package repository

import (
	"context"
	"errors"

	"github.com/VigneshwaranJheyaraman/charts-helper/internal/domain/models"
	"github.com/VigneshwaranJheyaraman/charts-helper/internal/domain/repository"
)

// MultiSink writes every candle to each sink and joins their errors.
type MultiSink []repository.CandleSink

// NewMultiSink drops nil sinks.
func NewMultiSink(sinks ...repository.CandleSink) MultiSink {
	out := make(MultiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m MultiSink) SaveCandle(ctx context.Context, ticker string, res models.Resolution, c models.Candle) error {
	var errs []error
	for _, s := range m {
		if err := s.SaveCandle(ctx, ticker, res, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ repository.CandleSink = MultiSink(nil)
