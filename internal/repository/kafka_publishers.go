package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/VigneshwaranJheyaraman/charts-helper/internal/domain/models"
	"github.com/VigneshwaranJheyaraman/charts-helper/internal/domain/repository"
)

// Publisher is satisfied by *pkg/kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	Close() error
}

// CandleEvent is the Kafka payload for a finalized candle.
type CandleEvent struct {
	Ticker     string        `json:"ticker"`
	Resolution string        `json:"resolution"`
	Candle     models.Candle `json:"candle"`
	EmittedAt  time.Time     `json:"emittedAt"`
}

// KafkaCandlePublisher publishes finalized candles keyed by ticker.
type KafkaCandlePublisher struct {
	pub   Publisher
	topic string
}

func NewKafkaCandlePublisher(pub Publisher, topic string) *KafkaCandlePublisher {
	return &KafkaCandlePublisher{pub: pub, topic: topic}
}

func (p *KafkaCandlePublisher) SaveCandle(ctx context.Context, ticker string, res models.Resolution, c models.Candle) error {
	ev := CandleEvent{Ticker: ticker, Resolution: res.Token, Candle: c, EmittedAt: time.Now().UTC()}
	if err := p.pub.Publish(ctx, p.topic, []byte(ticker), ev); err != nil {
		return fmt.Errorf("publish candle %s: %w", ticker, err)
	}
	return nil
}

// Close leaves the shared producer open.
func (p *KafkaCandlePublisher) Close() error { return nil }

// KafkaTickPublisher forwards live ticks keyed by ticker so one partition
// keeps a ticker's ticks in order.
type KafkaTickPublisher struct {
	pub   Publisher
	topic string
}

func NewKafkaTickPublisher(pub Publisher, topic string) *KafkaTickPublisher {
	return &KafkaTickPublisher{pub: pub, topic: topic}
}

func (p *KafkaTickPublisher) PublishTick(ctx context.Context, t *models.Tick) error {
	if t == nil {
		return fmt.Errorf("tick is nil")
	}
	return p.pub.Publish(ctx, p.topic, []byte(t.Ticker), t)
}

// Close leaves the shared producer open.
func (p *KafkaTickPublisher) Close() error { return nil }

var (
	_ repository.CandleSink    = (*KafkaCandlePublisher)(nil)
	_ repository.TickPublisher = (*KafkaTickPublisher)(nil)
)
