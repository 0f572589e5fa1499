package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/VigneshwaranJheyaraman/charts-helper/internal/domain/models"
	drepo "github.com/VigneshwaranJheyaraman/charts-helper/internal/domain/repository"
)

// Tick backends.
const (
	BackendDirect = "direct"
	BackendKafka  = "kafka"
)

// TickTarget consumes a live tick.
type TickTarget interface {
	Process(ctx context.Context, t *models.Tick) error
}

// TickProcessor routes live ticks to the configured backend: direct hands
// them to the chart manager, kafka publishes them for a consumer to apply.
type TickProcessor struct {
	direct  TickTarget
	pub     drepo.TickPublisher
	metrics drepo.Metrics
	backend string
}

// NewTickProcessor validates that backend has what it needs.
func NewTickProcessor(direct TickTarget, pub drepo.TickPublisher, metrics drepo.Metrics, backend string) (*TickProcessor, error) {
	switch backend {
	case BackendDirect:
		if direct == nil {
			return nil, fmt.Errorf("direct backend needs a tick target")
		}
	case BackendKafka:
		if pub == nil {
			return nil, fmt.Errorf("kafka backend needs a tick publisher")
		}
	default:
		return nil, fmt.Errorf("unknown backend: %s", backend)
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &TickProcessor{direct: direct, pub: pub, metrics: metrics, backend: backend}, nil
}

// Process routes one tick.
func (p *TickProcessor) Process(ctx context.Context, t *models.Tick) error {
	if t == nil {
		return fmt.Errorf("tick is nil")
	}

	start := time.Now()
	var err error

	switch p.backend {
	case BackendKafka:
		err = p.pub.PublishTick(ctx, t)
	default:
		err = p.direct.Process(ctx, t)
	}

	if err != nil {
		p.metrics.RecordError("process")
		return fmt.Errorf("process tick: %w", err)
	}

	p.metrics.RecordMessageSent(p.backend, t.Ticker)
	p.metrics.RecordLatency("process", time.Since(start).Seconds())
	return nil
}

// ProcessBatch routes ticks in order and stops at the first failure.
func (p *TickProcessor) ProcessBatch(ctx context.Context, ticks []*models.Tick) error {
	for i, t := range ticks {
		if err := p.Process(ctx, t); err != nil {
			return fmt.Errorf("batch item %d: %w", i, err)
		}
	}
	return nil
}

func (p *TickProcessor) Backend() string { return p.backend }

// Close releases the publisher.
func (p *TickProcessor) Close() {
	if p.pub != nil {
		_ = p.pub.Close()
	}
}
