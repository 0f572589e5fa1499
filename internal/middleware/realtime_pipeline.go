package middleware

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/VigneshwaranJheyaraman/charts-helper/internal/domain/models"
	domrepo "github.com/VigneshwaranJheyaraman/charts-helper/internal/domain/repository"
)

// Proc is the minimal processor interface the pipeline needs.
type Proc interface {
	Process(ctx context.Context, t *models.Tick) error
}

// RealtimePipeline sits between the tick source and the tick router. It
// validates, throttles per ticker and buffers ticks the router rejected.
// Throttled ticks are coalesced, not dropped: their extremes ride on the
// next forwarded tick of the same minute, and a pending tick whose minute
// has passed is forwarded on its own.
type RealtimePipeline struct {
	proc      Proc
	metrics   domrepo.Metrics
	maxRPS    int
	bufSize   int
	bufCh     chan *models.Tick
	transform func(*models.Tick) *models.Tick
	now       func() time.Time

	mu       sync.Mutex
	started  bool
	stopCh   chan struct{}
	done     chan struct{}
	lastSeen map[string]time.Time
	pending  map[string]*coalesced
}

// coalesced is the latest throttled tick of a ticker with the extremes of
// every tick folded into it since the last forward.
type coalesced struct {
	tick      models.Tick
	open      float64
	high, low float64
}

func newCoalesced(t *models.Tick) *coalesced {
	return &coalesced{tick: *t, open: t.OpenOrClose(), high: t.HighOrClose(), low: t.LowOrClose()}
}

func (c *coalesced) fold(t *models.Tick) {
	c.tick = *t
	c.high = math.Max(c.high, t.HighOrClose())
	c.low = math.Min(c.low, t.LowOrClose())
}

func (c *coalesced) emit() *models.Tick {
	out := c.tick
	out.Open = models.Float(c.open)
	out.High = models.Float(c.high)
	out.Low = models.Float(c.low)
	return &out
}

// sameMinute holds for ticks that always fall in one candle bucket.
func sameMinute(a, b time.Time) bool {
	return a.Truncate(time.Minute).Equal(b.Truncate(time.Minute))
}

type PipelineOption func(*RealtimePipeline)

// WithMaxRPS sets the max ticks per second per ticker. Zero disables throttling.
func WithMaxRPS(n int) PipelineOption {
	return func(p *RealtimePipeline) {
		if n >= 0 {
			p.maxRPS = n
		}
	}
}

// WithBufferSize sets the retry buffer size.
func WithBufferSize(n int) PipelineOption {
	return func(p *RealtimePipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithTransform rewrites ticks before they are throttled and forwarded.
func WithTransform(fn func(*models.Tick) *models.Tick) PipelineOption {
	return func(p *RealtimePipeline) { p.transform = fn }
}

// WithClock replaces time.Now for throttling.
func WithClock(now func() time.Time) PipelineOption {
	return func(p *RealtimePipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// NewRealtimePipeline creates a new pipeline.
func NewRealtimePipeline(proc Proc, metrics domrepo.Metrics, opts ...PipelineOption) *RealtimePipeline {
	p := &RealtimePipeline{
		proc:     proc,
		metrics:  metrics,
		maxRPS:   20,
		bufSize:  1000,
		now:      time.Now,
		lastSeen: make(map[string]time.Time),
		pending:  make(map[string]*coalesced),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan *models.Tick, p.bufSize)
	return p
}

// Start launches background flushing of buffered ticks.
func (p *RealtimePipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.stopCh = make(chan struct{})
	p.done = make(chan struct{})
	stop, done := p.stopCh, p.done
	p.mu.Unlock()

	go p.flush(ctx, stop, done)
}

func (p *RealtimePipeline) flush(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	var release <-chan time.Time
	if p.maxRPS > 0 {
		rt := time.NewTicker(p.interval())
		defer rt.Stop()
		release = rt.C
	}

	backoff := 50 * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-release:
			p.release(ctx)
		case t := <-p.bufCh:
			if err := p.proc.Process(ctx, t); err != nil {
				p.metrics.RecordError("pipeline_flush")
				if backoff < 2*time.Second {
					backoff *= 2
				}
				select {
				case <-time.After(backoff):
				case <-stop:
					return
				case <-ctx.Done():
					return
				}
				p.buffer(t)
				continue
			}
			backoff = 50 * time.Millisecond
		}
	}
}

// Stop stops the background flushing and waits for it to exit.
func (p *RealtimePipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	close(p.stopCh)
	done := p.done
	p.mu.Unlock()
	<-done
}

// Buffered reports how many ticks wait for a retry.
func (p *RealtimePipeline) Buffered() int { return len(p.bufCh) }

// Process validates, throttles and forwards t, buffering it when the
// downstream fails.
func (p *RealtimePipeline) Process(ctx context.Context, t *models.Tick) error {
	start := p.now()
	if err := validateTick(t); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	if p.transform != nil {
		t = p.transform(t)
		if err := validateTick(t); err != nil {
			p.metrics.RecordError("pipeline_transform_invalid")
			return err
		}
	}
	out := p.admit(t, start)
	if len(out) == 0 {
		p.metrics.RecordTick(t.Ticker, domrepo.TickCoalesced)
		return nil
	}

	var errs []error
	for _, tk := range out {
		if err := p.proc.Process(ctx, tk); err != nil {
			p.metrics.RecordError("pipeline_process")
			p.buffer(tk)
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("pipeline downstream: %w", errors.Join(errs...))
	}
	p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
	return nil
}

// release forwards pending ticks whose throttle window has passed.
func (p *RealtimePipeline) release(ctx context.Context) {
	now := p.now()
	interval := p.interval()

	p.mu.Lock()
	var out []*models.Tick
	for ticker, c := range p.pending {
		if now.Sub(p.lastSeen[ticker]) < interval {
			continue
		}
		out = append(out, c.emit())
		delete(p.pending, ticker)
		p.lastSeen[ticker] = now
	}
	p.mu.Unlock()

	for _, tk := range out {
		if err := p.proc.Process(ctx, tk); err != nil {
			p.metrics.RecordError("pipeline_release")
			p.buffer(tk)
		}
	}
}

func (p *RealtimePipeline) buffer(t *models.Tick) {
	select {
	case p.bufCh <- t:
	default:
		p.metrics.RecordError("pipeline_buffer_full")
	}
}

var errInvalidTick = errors.New("invalid tick")

func validateTick(t *models.Tick) error {
	switch {
	case t == nil:
		return fmt.Errorf("%w: nil", errInvalidTick)
	case t.Ticker == "":
		return fmt.Errorf("%w: ticker empty", errInvalidTick)
	case t.Date.IsZero():
		return fmt.Errorf("%w: date missing", errInvalidTick)
	case t.Close < 0 || math.IsNaN(t.Close) || math.IsInf(t.Close, 0):
		return fmt.Errorf("%w: close %v", errInvalidTick, t.Close)
	case t.Volume != nil && *t.Volume < 0:
		return fmt.Errorf("%w: negative volume", errInvalidTick)
	}
	return nil
}

func (p *RealtimePipeline) interval() time.Duration {
	return time.Second / time.Duration(p.maxRPS)
}

// admit returns the ticks to forward for t, oldest first. It returns none
// when t was folded into the pending tick of its ticker.
func (p *RealtimePipeline) admit(t *models.Tick, now time.Time) []*models.Tick {
	if p.maxRPS <= 0 {
		return []*models.Tick{t}
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	pend := p.pending[t.Ticker]
	last, seen := p.lastSeen[t.Ticker]
	if seen && now.Sub(last) < p.interval() {
		if pend == nil {
			p.pending[t.Ticker] = newCoalesced(t)
			return nil
		}
		if sameMinute(pend.tick.Date, t.Date) {
			pend.fold(t)
			return nil
		}
		// the pending minute is over; its candle must see it before t's
		p.pending[t.Ticker] = newCoalesced(t)
		return []*models.Tick{pend.emit()}
	}

	p.lastSeen[t.Ticker] = now
	if pend == nil {
		return []*models.Tick{t}
	}
	delete(p.pending, t.Ticker)
	if !sameMinute(pend.tick.Date, t.Date) {
		return []*models.Tick{pend.emit(), t}
	}
	merged := *t
	merged.Open = models.Float(pend.open)
	merged.High = models.Float(math.Max(pend.high, t.HighOrClose()))
	merged.Low = models.Float(math.Min(pend.low, t.LowOrClose()))
	return []*models.Tick{&merged}
}
