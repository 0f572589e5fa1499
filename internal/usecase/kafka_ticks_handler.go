package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/VigneshwaranJheyaraman/charts-helper/internal/domain/models"
	domrepo "github.com/VigneshwaranJheyaraman/charts-helper/internal/domain/repository"
	pkgkafka "github.com/VigneshwaranJheyaraman/charts-helper/pkg/kafka"
)

// KafkaTicksHandler applies ticks published by the kafka backend.
type KafkaTicksHandler struct {
	topic   string
	target  TickTarget
	metrics domrepo.Metrics
}

func NewKafkaTicksHandler(topic string, target TickTarget, metrics domrepo.Metrics) *KafkaTicksHandler {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &KafkaTicksHandler{topic: topic, target: target, metrics: metrics}
}

func (h *KafkaTicksHandler) Topic() string { return h.topic }

// Handle decodes a JSON tick. Malformed messages are returned as errors so
// the consumer can route them to its DLQ.
func (h *KafkaTicksHandler) Handle(ctx context.Context, b []byte) error {
	var t models.Tick
	if err := json.Unmarshal(b, &t); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return fmt.Errorf("decode tick: %w", err)
	}
	if t.Ticker == "" || t.Date.IsZero() {
		h.metrics.RecordError("consumer_invalid")
		return fmt.Errorf("decode tick: ticker and date are required")
	}

	h.metrics.RecordLatency("ingest_e2e_seconds", time.Since(t.Date).Seconds())

	start := time.Now()
	err := h.target.Process(ctx, &t)
	h.metrics.RecordLatency("consumer_apply_seconds", time.Since(start).Seconds())
	if err != nil {
		h.metrics.RecordError("consumer_apply")
		return err
	}
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaTicksHandler)(nil)
